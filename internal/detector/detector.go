// Package detector implements the two unsupervised anomaly detectors and
// their ensemble. Both detectors are trained without labels on the scaled
// feature matrix; decision scores are centered so that positive values
// mark a row as anomalous relative to the fitted contamination prior.
package detector

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Detector is the common contract for both anomaly models.
type Detector interface {
	// Fit trains the detector on a scaled feature matrix.
	Fit(m [][]float64) error

	// DecisionFunction scores rows of a matrix with the same column
	// layout the detector was fitted on. Positive means anomalous.
	DecisionFunction(m [][]float64) ([]float64, error)

	// Name identifies the detector in evaluation reports.
	Name() string
}

// Config holds the shared detector parameters.
type Config struct {
	// Contamination is the assumed anomaly fraction. It only positions
	// each detector's decision threshold, never supervises training.
	Contamination float64

	// Trees is the isolation forest size.
	Trees int

	// SampleSize is the per-tree subsample size.
	SampleSize int

	// FeatureRatio is the fraction of columns each tree may split on.
	FeatureRatio float64

	// Seed makes training deterministic.
	Seed int64
}

func (c Config) validate() error {
	if c.Contamination <= 0 || c.Contamination >= 0.5 {
		return fmt.Errorf("%w: contamination %v out of range", domain.ErrInputData, c.Contamination)
	}
	return nil
}

// quantile returns the q-th quantile of xs with linear interpolation,
// matching the common "linear" convention.
func quantile(xs []float64, q float64) float64 {
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func validateMatrix(m [][]float64, cols int) error {
	if len(m) == 0 {
		return fmt.Errorf("%w: empty matrix", domain.ErrInputData)
	}
	for i, row := range m {
		if len(row) != cols {
			return fmt.Errorf("%w: row %d has %d columns, expected %d",
				domain.ErrInputData, i, len(row), cols)
		}
	}
	return nil
}
