package features

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// UserStats aggregates reference-currency amounts per user.
type UserStats struct {
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// CategoryStats aggregates reference-currency amounts per category.
type CategoryStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// GroupStats holds the grouped aggregates consumed by feature engineering.
// They describe one specific transaction set and must be rebuilt whenever
// that set changes.
type GroupStats struct {
	Users      map[string]UserStats     `json:"users"`
	Categories map[string]CategoryStats `json:"categories"`
}

// BuildGroupStats computes per-user and per-category aggregates over the
// full transaction set. Groups with a single member get a standard
// deviation of zero; alignment with a divisor floor happens at use.
func BuildGroupStats(txs []*domain.Transaction) *GroupStats {
	userAmounts := make(map[string][]float64)
	catAmounts := make(map[string][]float64)
	for _, tx := range txs {
		userAmounts[tx.UserID] = append(userAmounts[tx.UserID], tx.AmountUSD)
		catAmounts[tx.Category] = append(catAmounts[tx.Category], tx.AmountUSD)
	}

	gs := &GroupStats{
		Users:      make(map[string]UserStats, len(userAmounts)),
		Categories: make(map[string]CategoryStats, len(catAmounts)),
	}
	for user, amts := range userAmounts {
		mean, std := meanSampleStd(amts)
		max := amts[0]
		for _, a := range amts[1:] {
			if a > max {
				max = a
			}
		}
		gs.Users[user] = UserStats{Mean: mean, Std: std, Max: max, Count: len(amts)}
	}
	for cat, amts := range catAmounts {
		mean, std := meanSampleStd(amts)
		gs.Categories[cat] = CategoryStats{Mean: mean, Std: std}
	}
	return gs
}

// meanSampleStd returns the mean and the sample standard deviation
// (n-1 denominator). A single-element slice yields std 0.
func meanSampleStd(xs []float64) (float64, float64) {
	n := float64(len(xs))
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / n
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / (n - 1))
}
