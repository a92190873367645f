package detector

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// eulerGamma is the Euler-Mascheroni constant used in the average
// unsuccessful-search path length of a binary search tree.
const eulerGamma = 0.5772156649015329

// IsolationForest isolates anomalies by average path length across a
// forest of randomized recursive binary partitions. Rows that isolate
// in few splits score high.
type IsolationForest struct {
	Trees      []*isoNode `json:"trees"`
	SampleSize int        `json:"sampleSize"`
	Columns    int        `json:"columns"`

	// Threshold is the (1 - contamination) quantile of the training
	// anomaly scores. DecisionFunction subtracts it so training scores
	// straddle zero.
	Threshold float64 `json:"threshold"`

	cfg Config
}

// isoNode is one node of an isolation tree. Leaves carry the size of the
// subsample that reached them.
type isoNode struct {
	SplitCol int      `json:"col,omitempty"`
	SplitVal float64  `json:"val,omitempty"`
	Left     *isoNode `json:"left,omitempty"`
	Right    *isoNode `json:"right,omitempty"`
	Size     int      `json:"size,omitempty"`
}

// NewIsolationForest returns an unfitted forest with the given parameters.
func NewIsolationForest(cfg Config) *IsolationForest {
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 256
	}
	if cfg.FeatureRatio <= 0 || cfg.FeatureRatio > 1 {
		cfg.FeatureRatio = 1.0
	}
	return &IsolationForest{cfg: cfg}
}

func (f *IsolationForest) Name() string { return "isolation_forest" }

// Fit builds the forest over the scaled matrix. Trees are built in
// parallel; each tree draws from its own seeded source so results are
// reproducible regardless of scheduling.
func (f *IsolationForest) Fit(m [][]float64) error {
	if f.Trees != nil {
		return fmt.Errorf("isolation forest: %w", domain.ErrAlreadyFitted)
	}
	if err := f.cfg.validate(); err != nil {
		return err
	}
	if len(m) == 0 {
		return fmt.Errorf("isolation forest: %w: empty matrix", domain.ErrInputData)
	}
	f.Columns = len(m[0])
	if err := validateMatrix(m, f.Columns); err != nil {
		return err
	}

	psi := f.cfg.SampleSize
	if psi > len(m) {
		psi = len(m)
	}
	f.SampleSize = psi
	heightLimit := int(math.Ceil(math.Log2(float64(psi))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	nCols := int(math.Ceil(f.cfg.FeatureRatio * float64(f.Columns)))
	if nCols < 1 {
		nCols = 1
	}

	trees := make([]*isoNode, f.cfg.Trees)
	var wg sync.WaitGroup
	sem := make(chan struct{}, runtime.NumCPU())

	for t := 0; t < f.cfg.Trees; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			rng := rand.New(rand.NewSource(f.cfg.Seed + int64(t)))
			sample := sampleRows(m, psi, rng)
			cols := sampleCols(f.Columns, nCols, rng)
			trees[t] = buildIsoTree(sample, cols, 0, heightLimit, rng)
		}(t)
	}
	wg.Wait()
	f.Trees = trees

	// Center scores: the top contamination fraction of training rows
	// lands above zero.
	raw := make([]float64, len(m))
	for i, row := range m {
		raw[i] = f.anomalyScore(row)
	}
	f.Threshold = quantile(raw, 1-f.cfg.Contamination)
	return nil
}

// DecisionFunction returns the centered anomaly score for each row.
func (f *IsolationForest) DecisionFunction(m [][]float64) ([]float64, error) {
	if f.Trees == nil {
		return nil, fmt.Errorf("isolation forest: %w", domain.ErrNotFitted)
	}
	if err := validateMatrix(m, f.Columns); err != nil {
		return nil, err
	}
	out := make([]float64, len(m))
	for i, row := range m {
		out[i] = f.anomalyScore(row) - f.Threshold
	}
	return out, nil
}

// anomalyScore is the standard 2^(-E[h(x)]/c(psi)) score in (0, 1).
func (f *IsolationForest) anomalyScore(row []float64) float64 {
	var total float64
	for _, tree := range f.Trees {
		total += pathLength(tree, row, 0)
	}
	avg := total / float64(len(f.Trees))
	return math.Pow(2, -avg/avgPathLength(f.SampleSize))
}

func buildIsoTree(rows [][]float64, cols []int, depth, limit int, rng *rand.Rand) *isoNode {
	if depth >= limit || len(rows) <= 1 {
		return &isoNode{Size: len(rows)}
	}

	// Pick a split column with spread; a fully constant subsample
	// becomes a leaf.
	col, lo, hi, ok := pickSplit(rows, cols, rng)
	if !ok {
		return &isoNode{Size: len(rows)}
	}
	val := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, r := range rows {
		if r[col] < val {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return &isoNode{
		SplitCol: col,
		SplitVal: val,
		Left:     buildIsoTree(left, cols, depth+1, limit, rng),
		Right:    buildIsoTree(right, cols, depth+1, limit, rng),
	}
}

// pickSplit chooses a random candidate column that still has spread.
func pickSplit(rows [][]float64, cols []int, rng *rand.Rand) (int, float64, float64, bool) {
	perm := rng.Perm(len(cols))
	for _, p := range perm {
		col := cols[p]
		lo, hi := rows[0][col], rows[0][col]
		for _, r := range rows[1:] {
			if r[col] < lo {
				lo = r[col]
			}
			if r[col] > hi {
				hi = r[col]
			}
		}
		if hi > lo {
			return col, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

func pathLength(n *isoNode, row []float64, depth int) float64 {
	if n.Left == nil {
		return float64(depth) + avgPathLength(n.Size)
	}
	if row[n.SplitCol] < n.SplitVal {
		return pathLength(n.Left, row, depth+1)
	}
	return pathLength(n.Right, row, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful
// search in a binary search tree of n nodes.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + eulerGamma
	return 2*h - 2*float64(n-1)/float64(n)
}

func sampleRows(m [][]float64, k int, rng *rand.Rand) [][]float64 {
	idx := rng.Perm(len(m))[:k]
	out := make([][]float64, k)
	for i, j := range idx {
		out[i] = m[j]
	}
	return out
}

func sampleCols(total, k int, rng *rand.Rand) []int {
	if k >= total {
		cols := make([]int, total)
		for i := range cols {
			cols[i] = i
		}
		return cols
	}
	return rng.Perm(total)[:k]
}
