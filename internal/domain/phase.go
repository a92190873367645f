package domain

import "fmt"

// Pipeline phases, in execution order. Every error escaping the pipeline is
// wrapped in a PhaseError so operators can tell at a glance where a run died.
const (
	PhaseLoadData         = "load_data"
	PhaseEngineerFeatures = "engineer_features"
	PhaseFitTransform     = "fit_transform"
	PhaseTrainDetectors   = "train_detectors"
	PhaseScoreAll         = "score_all"
	PhaseEvaluate         = "evaluate"
	PhasePersist          = "persist"
)

// PhaseError tags an underlying failure with the pipeline phase it occurred in.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }
