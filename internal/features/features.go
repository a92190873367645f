// Package features turns raw transactions into the fixed-order numeric
// matrix the detectors consume: amount transforms, calendar fields,
// per-user deviation statistics, encoded categoricals and velocity gaps.
package features

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Columns is the ordered feature schema. Detectors, scaler and persisted
// artifacts are all bound to this exact order; reordering it invalidates
// every previously trained model.
var Columns = []string{
	"amount_usd",
	"amount_log",
	"amount_squared",
	"hour",
	"day_of_week",
	"day_of_month",
	"month",
	"is_weekend",
	"is_night",
	"user_mean_amount",
	"user_std_amount",
	"user_max_amount",
	"user_transaction_count",
	"amount_deviation",
	"amount_zscore",
	"category_mean_amount",
	"category_std_amount",
	"category_encoded",
	"payment_method_encoded",
	"currency_encoded",
	"time_diff_seconds",
	"is_rapid_transaction",
	"is_round_amount",
}

const (
	// defaultGapSeconds is assigned to each user's first transaction.
	defaultGapSeconds = 86400
	// rapidGapSeconds is the velocity threshold for flagging bursts.
	rapidGapSeconds = 300
)

// Validate fails fast on rows the feature stage cannot process.
func Validate(txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return fmt.Errorf("%w: empty transaction set", domain.ErrInputData)
	}
	for i, tx := range txs {
		switch {
		case tx.ID == "":
			return fmt.Errorf("%w: row %d has no transaction id", domain.ErrInputData, i)
		case tx.UserID == "":
			return fmt.Errorf("%w: transaction %s has no user id", domain.ErrInputData, tx.ID)
		case tx.AmountUSD <= 0:
			return fmt.Errorf("%w: transaction %s has non-positive reference amount %v",
				domain.ErrInputData, tx.ID, tx.AmountUSD)
		case tx.Date.IsZero():
			return fmt.Errorf("%w: transaction %s has no date", domain.ErrInputData, tx.ID)
		}
	}
	return nil
}

// Engineer produces one feature vector per transaction, in input order.
// Velocity features need each user's history in chronological order;
// timestamp ties are broken by input position so reruns on the same set
// are bit-identical.
func Engineer(txs []*domain.Transaction, stats *GroupStats, enc *Encoders) ([][]float64, error) {
	gaps := timeGaps(txs)

	before := enc.UnknownCount()
	out := make([][]float64, len(txs))
	for i, tx := range txs {
		catCode, err := enc.Category.Encode(tx.Category)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: category: %w", tx.ID, err)
		}
		pmCode, err := enc.PaymentMethod.Encode(tx.PaymentMethod)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: payment method: %w", tx.ID, err)
		}
		curCode, err := enc.Currency.Encode(tx.Currency)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: currency: %w", tx.ID, err)
		}

		us := stats.Users[tx.UserID]
		cs := stats.Categories[tx.Category]
		amt := tx.AmountUSD
		hour := tx.Date.Hour()
		gap := gaps[i]

		out[i] = []float64{
			amt,
			math.Log1p(amt),
			amt * amt,
			float64(hour),
			float64(mondayWeekday(tx.Date)),
			float64(tx.Date.Day()),
			float64(int(tx.Date.Month())),
			boolFeature(isWeekend(tx.Date)),
			boolFeature(hour >= 22 || hour <= 5),
			us.Mean,
			us.Std,
			us.Max,
			float64(us.Count),
			math.Abs(amt - us.Mean),
			(amt - us.Mean) / (us.Std + stdFloor),
			cs.Mean,
			cs.Std,
			float64(catCode),
			float64(pmCode),
			float64(curCode),
			gap,
			boolFeature(gap < rapidGapSeconds),
			boolFeature(amt > 0 && math.Mod(amt, 100) == 0),
		}
	}

	if subs := enc.UnknownCount() - before; subs > 0 {
		slog.Warn("unseen categorical values mapped to reserved bucket",
			"substitutions", subs)
	}
	return out, nil
}

// timeGaps returns, per input row, the seconds since the same user's
// previous transaction, with the default gap for each user's first.
func timeGaps(txs []*domain.Transaction) []float64 {
	byUser := make(map[string][]int)
	for i, tx := range txs {
		byUser[tx.UserID] = append(byUser[tx.UserID], i)
	}

	gaps := make([]float64, len(txs))
	for _, idxs := range byUser {
		// Stable on input order: equal timestamps keep ingestion order.
		sort.SliceStable(idxs, func(a, b int) bool {
			return txs[idxs[a]].Date.Before(txs[idxs[b]].Date)
		})
		for pos, i := range idxs {
			if pos == 0 {
				gaps[i] = defaultGapSeconds
				continue
			}
			prev := txs[idxs[pos-1]]
			gaps[i] = txs[i].Date.Sub(prev.Date).Seconds()
		}
	}
	return gaps
}

// mondayWeekday maps Go's Sunday-based weekday to Monday=0 .. Sunday=6.
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
