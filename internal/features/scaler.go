package features

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// stdFloor replaces zero standard deviations wherever one becomes a divisor.
const stdFloor = 1e-5

// Scaler standardizes a feature matrix to zero mean and unit variance per
// column. Fit state is write-once: a fitted scaler only transforms.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Fit computes per-column mean and standard deviation over the training
// matrix. Columns with zero variance get the floor so Transform never
// divides by zero. Refitting a fitted scaler is an error.
func (s *Scaler) Fit(m [][]float64) error {
	if s.Fitted() {
		return fmt.Errorf("scaler: %w", domain.ErrAlreadyFitted)
	}
	if len(m) == 0 {
		return fmt.Errorf("scaler: %w: empty matrix", domain.ErrInputData)
	}
	cols := len(m[0])
	n := float64(len(m))
	mean := make([]float64, cols)
	std := make([]float64, cols)

	for _, row := range m {
		for j, x := range row {
			mean[j] += x
		}
	}
	for j := range mean {
		mean[j] /= n
	}
	for _, row := range m {
		for j, x := range row {
			d := x - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
		if std[j] < stdFloor {
			std[j] = stdFloor
		}
	}
	s.Mean, s.Std = mean, std
	return nil
}

// Transform applies (x - mean) / std per column, returning a new matrix.
func (s *Scaler) Transform(m [][]float64) ([][]float64, error) {
	if !s.Fitted() {
		return nil, fmt.Errorf("scaler: %w", domain.ErrNotFitted)
	}
	out := make([][]float64, len(m))
	for i, row := range m {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("scaler: %w: row has %d columns, fitted on %d",
				domain.ErrInputData, len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		for j, x := range row {
			scaled[j] = (x - s.Mean[j]) / s.Std[j]
		}
		out[i] = scaled
	}
	return out, nil
}

// Fitted reports whether Fit has run.
func (s *Scaler) Fitted() bool { return len(s.Mean) > 0 }
