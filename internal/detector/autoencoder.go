package detector

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// AutoEncoder learns a compressed encoding of normal feature vectors and
// scores rows by reconstruction error. A tanh bottleneck network trained
// by stochastic gradient descent; small on purpose, the feature space is
// a couple dozen columns.
type AutoEncoder struct {
	Sizes   []int         `json:"sizes"`
	Weights [][][]float64 `json:"weights"` // per layer, [out][in]
	Biases  [][]float64   `json:"biases"`

	// Threshold is the (1 - contamination) quantile of training
	// reconstruction errors; DecisionFunction subtracts it.
	Threshold float64 `json:"threshold"`

	cfg    Config
	epochs int
	lr     float64
}

// NewAutoEncoder returns an unfitted reconstruction detector.
func NewAutoEncoder(cfg Config) *AutoEncoder {
	return &AutoEncoder{cfg: cfg, epochs: 30, lr: 0.01}
}

func (a *AutoEncoder) Name() string { return "autoencoder" }

// Fit trains the network to reproduce its input, then fixes the decision
// threshold from the training error distribution. Weight initialization
// and sample order come from the seeded source, so training is
// deterministic.
func (a *AutoEncoder) Fit(m [][]float64) error {
	if a.Weights != nil {
		return fmt.Errorf("autoencoder: %w", domain.ErrAlreadyFitted)
	}
	if err := a.cfg.validate(); err != nil {
		return err
	}
	if len(m) == 0 {
		return fmt.Errorf("autoencoder: %w: empty matrix", domain.ErrInputData)
	}
	d := len(m[0])
	if err := validateMatrix(m, d); err != nil {
		return err
	}

	a.Sizes = []int{d, 16, 8, 16, d}
	rng := rand.New(rand.NewSource(a.cfg.Seed))
	a.initWeights(rng)

	for epoch := 0; epoch < a.epochs; epoch++ {
		for _, i := range rng.Perm(len(m)) {
			a.step(m[i])
		}
	}

	errs := make([]float64, len(m))
	for i, row := range m {
		errs[i] = a.reconstructionError(row)
	}
	a.Threshold = quantile(errs, 1-a.cfg.Contamination)
	return nil
}

// DecisionFunction returns the centered reconstruction error per row.
func (a *AutoEncoder) DecisionFunction(m [][]float64) ([]float64, error) {
	if a.Weights == nil {
		return nil, fmt.Errorf("autoencoder: %w", domain.ErrNotFitted)
	}
	if err := validateMatrix(m, a.Sizes[0]); err != nil {
		return nil, err
	}
	out := make([]float64, len(m))
	for i, row := range m {
		out[i] = a.reconstructionError(row) - a.Threshold
	}
	return out, nil
}

func (a *AutoEncoder) initWeights(rng *rand.Rand) {
	layers := len(a.Sizes) - 1
	a.Weights = make([][][]float64, layers)
	a.Biases = make([][]float64, layers)
	for l := 0; l < layers; l++ {
		in, out := a.Sizes[l], a.Sizes[l+1]
		// Xavier scaling keeps tanh activations out of saturation.
		scale := math.Sqrt(2.0 / float64(in+out))
		w := make([][]float64, out)
		for o := range w {
			w[o] = make([]float64, in)
			for i := range w[o] {
				w[o][i] = rng.NormFloat64() * scale
			}
		}
		a.Weights[l] = w
		a.Biases[l] = make([]float64, out)
	}
}

// forward returns the activations of every layer, input included. The
// final layer is linear; hidden layers use tanh.
func (a *AutoEncoder) forward(x []float64) [][]float64 {
	acts := make([][]float64, len(a.Sizes))
	acts[0] = x
	for l := 0; l < len(a.Weights); l++ {
		in := acts[l]
		out := make([]float64, a.Sizes[l+1])
		for o := range out {
			z := a.Biases[l][o]
			for i, v := range in {
				z += a.Weights[l][o][i] * v
			}
			if l == len(a.Weights)-1 {
				out[o] = z
			} else {
				out[o] = math.Tanh(z)
			}
		}
		acts[l+1] = out
	}
	return acts
}

// step runs one stochastic gradient update against the sample itself.
func (a *AutoEncoder) step(x []float64) {
	acts := a.forward(x)
	last := len(a.Weights) - 1

	// Output delta for squared error with a linear output layer.
	delta := make([]float64, len(x))
	for o := range delta {
		delta[o] = acts[last+1][o] - x[o]
	}

	for l := last; l >= 0; l-- {
		in := acts[l]
		var next []float64
		if l > 0 {
			next = make([]float64, len(in))
			for i := range in {
				var s float64
				for o := range delta {
					s += a.Weights[l][o][i] * delta[o]
				}
				next[i] = s * (1 - in[i]*in[i]) // tanh'
			}
		}
		for o := range delta {
			a.Biases[l][o] -= a.lr * delta[o]
			for i, v := range in {
				a.Weights[l][o][i] -= a.lr * delta[o] * v
			}
		}
		delta = next
	}
}

func (a *AutoEncoder) reconstructionError(x []float64) float64 {
	acts := a.forward(x)
	recon := acts[len(acts)-1]
	var sum float64
	for i := range x {
		d := recon[i] - x[i]
		sum += d * d
	}
	return sum / float64(len(x))
}
