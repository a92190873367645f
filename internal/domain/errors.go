package domain

import (
	"errors"
)

// Error taxonomy shared across the pipeline. Components wrap these with
// fmt.Errorf("...: %w", err) so callers can classify failures with errors.Is.
var (
	// ErrInputData covers missing required fields, non-positive amounts and
	// empty datasets. Raised before any model fitting starts.
	ErrInputData = errors.New("invalid input data")

	// ErrOutOfVocabulary is returned by an encoder asked for a value it was
	// never fitted on, when the reject policy is active.
	ErrOutOfVocabulary = errors.New("value not in fitted vocabulary")

	// ErrDegenerateLabels means evaluation was requested on a label set that
	// contains only one class; ROC-AUC is undefined there.
	ErrDegenerateLabels = errors.New("label set contains a single class")

	// ErrIncompatibleModel means a persisted artifact's feature columns do
	// not match the live feature schema. Scoring must refuse to proceed.
	ErrIncompatibleModel = errors.New("model artifact incompatible with feature schema")

	// ErrAlreadyFitted guards write-once fit state (scaler, detectors).
	ErrAlreadyFitted = errors.New("already fitted")

	// ErrNotFitted is returned when transform/score is called before fit.
	ErrNotFitted = errors.New("not fitted")
)
