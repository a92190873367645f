package detector

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func testConfig() Config {
	return Config{
		Contamination: 0.05,
		Trees:         50,
		SampleSize:    128,
		FeatureRatio:  1.0,
		Seed:          42,
	}
}

// clusteredMatrix builds rows around the origin with a few far outliers
// appended at the end.
func clusteredMatrix(n, d, outliers int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	m := make([][]float64, 0, n+outliers)
	for i := 0; i < n; i++ {
		row := make([]float64, d)
		for j := range row {
			row[j] = rng.NormFloat64() * 0.5
		}
		m = append(m, row)
	}
	for i := 0; i < outliers; i++ {
		row := make([]float64, d)
		for j := range row {
			row[j] = 8 + rng.NormFloat64()
		}
		m = append(m, row)
	}
	return m
}

func TestIsolationForest(t *testing.T) {
	m := clusteredMatrix(400, 6, 5, 1)

	f := NewIsolationForest(testConfig())
	if err := f.Fit(m); err != nil {
		t.Fatalf("fit: %v", err)
	}

	t.Run("OutliersScoreHigher", func(t *testing.T) {
		scores, err := f.DecisionFunction(m)
		if err != nil {
			t.Fatalf("decision function: %v", err)
		}
		var inlierMax float64 = math.Inf(-1)
		for _, s := range scores[:400] {
			if s > inlierMax {
				inlierMax = s
			}
		}
		for i, s := range scores[400:] {
			if s <= 0 {
				t.Errorf("outlier %d scored %v, expected positive", i, s)
			}
		}
		var outlierMin float64 = math.Inf(1)
		for _, s := range scores[400:] {
			if s < outlierMin {
				outlierMin = s
			}
		}
		var inlierMean float64
		for _, s := range scores[:400] {
			inlierMean += s
		}
		inlierMean /= 400
		if outlierMin <= inlierMean {
			t.Errorf("outlier min %v should exceed inlier mean %v", outlierMin, inlierMean)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		f2 := NewIsolationForest(testConfig())
		if err := f2.Fit(m); err != nil {
			t.Fatalf("fit: %v", err)
		}
		s1, _ := f.DecisionFunction(m)
		s2, _ := f2.DecisionFunction(m)
		for i := range s1 {
			if s1[i] != s2[i] {
				t.Fatalf("row %d: %v vs %v across identical fits", i, s1[i], s2[i])
			}
		}
	})

	t.Run("WriteOnceFit", func(t *testing.T) {
		if err := f.Fit(m); !errors.Is(err, domain.ErrAlreadyFitted) {
			t.Errorf("expected ErrAlreadyFitted, got %v", err)
		}
	})

	t.Run("ColumnMismatch", func(t *testing.T) {
		if _, err := f.DecisionFunction([][]float64{{1, 2}}); !errors.Is(err, domain.ErrInputData) {
			t.Errorf("expected ErrInputData, got %v", err)
		}
	})

	t.Run("ScoreBeforeFit", func(t *testing.T) {
		fresh := NewIsolationForest(testConfig())
		if _, err := fresh.DecisionFunction(m); !errors.Is(err, domain.ErrNotFitted) {
			t.Errorf("expected ErrNotFitted, got %v", err)
		}
	})
}

func TestAutoEncoder(t *testing.T) {
	m := clusteredMatrix(300, 6, 4, 2)

	a := NewAutoEncoder(testConfig())
	if err := a.Fit(m); err != nil {
		t.Fatalf("fit: %v", err)
	}

	t.Run("OutliersReconstructWorse", func(t *testing.T) {
		scores, err := a.DecisionFunction(m)
		if err != nil {
			t.Fatalf("decision function: %v", err)
		}
		var inlierMean float64
		for _, s := range scores[:300] {
			inlierMean += s
		}
		inlierMean /= 300
		for i, s := range scores[300:] {
			if s <= inlierMean {
				t.Errorf("outlier %d scored %v, not above inlier mean %v", i, s, inlierMean)
			}
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		a2 := NewAutoEncoder(testConfig())
		if err := a2.Fit(m); err != nil {
			t.Fatalf("fit: %v", err)
		}
		s1, _ := a.DecisionFunction(m)
		s2, _ := a2.DecisionFunction(m)
		for i := range s1 {
			if s1[i] != s2[i] {
				t.Fatalf("row %d: %v vs %v across identical fits", i, s1[i], s2[i])
			}
		}
	})

	t.Run("WriteOnceFit", func(t *testing.T) {
		if err := a.Fit(m); !errors.Is(err, domain.ErrAlreadyFitted) {
			t.Errorf("expected ErrAlreadyFitted, got %v", err)
		}
	})
}

func TestEnsemble(t *testing.T) {
	m := clusteredMatrix(300, 6, 5, 3)

	e := NewEnsemble(testConfig())
	if err := e.Fit(m); err != nil {
		t.Fatalf("fit: %v", err)
	}
	results, err := e.Score(m)
	if err != nil {
		t.Fatalf("score: %v", err)
	}

	t.Run("ProbabilityBounds", func(t *testing.T) {
		for i, r := range results {
			if r.Probability < 0 || r.Probability > 1 {
				t.Errorf("row %d probability %v out of [0, 1]", i, r.Probability)
			}
		}
	})

	t.Run("PredictionMatchesScoreSign", func(t *testing.T) {
		for i, r := range results {
			if r.Prediction != (r.Score > 0) {
				t.Errorf("row %d: prediction %v does not match score %v", i, r.Prediction, r.Score)
			}
		}
	})

	t.Run("MeanOfDetectors", func(t *testing.T) {
		fs, _ := e.Forest.DecisionFunction(m)
		as, _ := e.Auto.DecisionFunction(m)
		for i, r := range results {
			want := (fs[i] + as[i]) / 2
			if r.Score != want {
				t.Errorf("row %d: score %v, want mean %v", i, r.Score, want)
			}
		}
	})

	t.Run("OutliersFlagged", func(t *testing.T) {
		for i, r := range results[300:] {
			if !r.Prediction {
				t.Errorf("outlier %d not flagged (score %v)", i, r.Score)
			}
		}
	})
}

func TestStratifiedSplit(t *testing.T) {
	labels := make([]bool, 200)
	for i := 0; i < 20; i++ {
		labels[i] = true
	}

	train, test, err := StratifiedSplit(labels, 0.2, 42)
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	t.Run("Disjoint", func(t *testing.T) {
		seen := make(map[int]bool)
		for _, i := range train {
			seen[i] = true
		}
		for _, i := range test {
			if seen[i] {
				t.Errorf("index %d in both train and test", i)
			}
		}
		if len(train)+len(test) != len(labels) {
			t.Errorf("split covers %d rows, want %d", len(train)+len(test), len(labels))
		}
	})

	t.Run("PreservesRatio", func(t *testing.T) {
		countPos := func(idx []int) int {
			var n int
			for _, i := range idx {
				if labels[i] {
					n++
				}
			}
			return n
		}
		if got := countPos(test); got != 4 {
			t.Errorf("test set has %d positives, want 4", got)
		}
		if got := countPos(train); got != 16 {
			t.Errorf("train set has %d positives, want 16", got)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		train2, test2, err := StratifiedSplit(labels, 0.2, 42)
		if err != nil {
			t.Fatalf("split: %v", err)
		}
		for i := range train {
			if train[i] != train2[i] {
				t.Fatalf("train index %d differs across identical splits", i)
			}
		}
		for i := range test {
			if test[i] != test2[i] {
				t.Fatalf("test index %d differs across identical splits", i)
			}
		}
	})
}
