package detector

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Result is the scored output for one row.
type Result struct {
	Score       float64
	Probability float64
	Prediction  bool
}

// Ensemble combines the isolation forest and the autoencoder by
// arithmetic mean of their decision scores.
type Ensemble struct {
	Forest *IsolationForest `json:"isolationForest"`
	Auto   *AutoEncoder     `json:"autoencoder"`
}

// NewEnsemble returns an unfitted ensemble with both detectors
// configured identically.
func NewEnsemble(cfg Config) *Ensemble {
	return &Ensemble{
		Forest: NewIsolationForest(cfg),
		Auto:   NewAutoEncoder(cfg),
	}
}

// Fit trains both detectors on the same scaled matrix.
func (e *Ensemble) Fit(m [][]float64) error {
	if err := e.Forest.Fit(m); err != nil {
		return fmt.Errorf("fit %s: %w", e.Forest.Name(), err)
	}
	if err := e.Auto.Fit(m); err != nil {
		return fmt.Errorf("fit %s: %w", e.Auto.Name(), err)
	}
	return nil
}

// DecisionFunction returns the mean of both detectors' decision scores.
func (e *Ensemble) DecisionFunction(m [][]float64) ([]float64, error) {
	fs, err := e.Forest.DecisionFunction(m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Forest.Name(), err)
	}
	as, err := e.Auto.DecisionFunction(m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Auto.Name(), err)
	}
	out := make([]float64, len(fs))
	for i := range fs {
		out[i] = (fs[i] + as[i]) / 2
	}
	return out, nil
}

// Score maps ensemble decision values to results. The probability is a
// logistic squash of the score, a monotonic risk indicator rather than a
// calibrated likelihood; the prediction flips at score zero.
func (e *Ensemble) Score(m [][]float64) ([]Result, error) {
	scores, err := e.DecisionFunction(m)
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(scores))
	for i, s := range scores {
		out[i] = Result{
			Score:       s,
			Probability: 1 / (1 + math.Exp(-s)),
			Prediction:  s > 0,
		}
	}
	return out, nil
}

// Fitted reports whether both detectors have been trained.
func (e *Ensemble) Fitted() bool {
	return e.Forest != nil && e.Forest.Trees != nil &&
		e.Auto != nil && e.Auto.Weights != nil
}

// Columns returns the feature width the ensemble was fitted on.
func (e *Ensemble) Columns() (int, error) {
	if !e.Fitted() {
		return 0, fmt.Errorf("ensemble: %w", domain.ErrNotFitted)
	}
	return e.Forest.Columns, nil
}
