package features

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func makeTx(id, user string, amount float64, date time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:            id,
		UserID:        user,
		Amount:        amount,
		AmountUSD:     amount,
		Currency:      "USD",
		Category:      "groceries",
		Merchant:      "Acme",
		PaymentMethod: "credit_card",
		Date:          date,
	}
}

func colIndex(t *testing.T, name string) int {
	t.Helper()
	for i, c := range Columns {
		if c == name {
			return i
		}
	}
	t.Fatalf("no column %q", name)
	return -1
}

func engineerAll(t *testing.T, txs []*domain.Transaction) [][]float64 {
	t.Helper()
	stats := BuildGroupStats(txs)
	enc := FitEncoders(txs, domain.UnknownReserve)
	m, err := Engineer(txs, stats, enc)
	if err != nil {
		t.Fatalf("engineer: %v", err)
	}
	return m
}

func TestEngineerRoundAmount(t *testing.T) {
	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	txs := []*domain.Transaction{
		makeTx("tx-1", "user-001", 300, base),
		makeTx("tx-2", "user-001", 301, base.Add(time.Hour)),
	}
	m := engineerAll(t, txs)
	round := colIndex(t, "is_round_amount")
	if m[0][round] != 1 {
		t.Errorf("amount 300 should be round, got %v", m[0][round])
	}
	if m[1][round] != 0 {
		t.Errorf("amount 301 should not be round, got %v", m[1][round])
	}
}

func TestEngineerVelocity(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	gap := colIndex(t, "time_diff_seconds")
	rapid := colIndex(t, "is_rapid_transaction")

	t.Run("FirstTransactionDefaultGap", func(t *testing.T) {
		m := engineerAll(t, []*domain.Transaction{makeTx("tx-1", "user-001", 50, base)})
		if m[0][gap] != 86400 {
			t.Errorf("expected default gap 86400, got %v", m[0][gap])
		}
		if m[0][rapid] != 0 {
			t.Errorf("first transaction must not be rapid")
		}
	})

	t.Run("RapidWithin300Seconds", func(t *testing.T) {
		txs := []*domain.Transaction{
			makeTx("tx-1", "user-001", 50, base),
			makeTx("tx-2", "user-001", 60, base.Add(120*time.Second)),
		}
		m := engineerAll(t, txs)
		if m[1][gap] != 120 {
			t.Errorf("expected gap 120, got %v", m[1][gap])
		}
		if m[1][rapid] != 1 {
			t.Errorf("120s gap should be rapid")
		}
	})

	t.Run("NotRapidAt400Seconds", func(t *testing.T) {
		txs := []*domain.Transaction{
			makeTx("tx-1", "user-001", 50, base),
			makeTx("tx-2", "user-001", 60, base.Add(400*time.Second)),
		}
		m := engineerAll(t, txs)
		if m[1][rapid] != 0 {
			t.Errorf("400s gap should not be rapid")
		}
	})

	t.Run("UnsortedInput", func(t *testing.T) {
		// Later transaction appears first; gaps must follow chronology.
		txs := []*domain.Transaction{
			makeTx("tx-2", "user-001", 60, base.Add(200*time.Second)),
			makeTx("tx-1", "user-001", 50, base),
		}
		m := engineerAll(t, txs)
		if m[0][gap] != 200 {
			t.Errorf("expected gap 200 for chronologically second row, got %v", m[0][gap])
		}
		if m[1][gap] != 86400 {
			t.Errorf("expected default gap for chronologically first row, got %v", m[1][gap])
		}
	})
}

func TestEngineerSingleTransactionUserFinite(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m := engineerAll(t, []*domain.Transaction{makeTx("tx-1", "user-001", 50, base)})
	z := m[0][colIndex(t, "amount_zscore")]
	if math.IsNaN(z) || math.IsInf(z, 0) {
		t.Errorf("z-score must stay finite for single-transaction users, got %v", z)
	}
}

func TestEngineerUserDeviation(t *testing.T) {
	// One user averaging 100 with a 5000 outlier; another user whose
	// transactions all sit around 5000.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var txs []*domain.Transaction
	for i := 0; i < 20; i++ {
		txs = append(txs, makeTx(idf("a", i), "user-low", 100, base.Add(time.Duration(i)*time.Hour)))
		txs = append(txs, makeTx(idf("b", i), "user-high", 5000, base.Add(time.Duration(i)*time.Hour)))
	}
	outlier := makeTx("tx-outlier", "user-low", 5000, base.Add(30*24*time.Hour))
	normal := makeTx("tx-normal", "user-high", 5000, base.Add(30*24*time.Hour))
	txs = append(txs, outlier, normal)

	m := engineerAll(t, txs)
	dev := colIndex(t, "amount_deviation")
	z := colIndex(t, "amount_zscore")
	oi, ni := len(m)-2, len(m)-1

	if m[oi][dev] <= m[ni][dev] {
		t.Errorf("outlier deviation %v should exceed in-pattern deviation %v", m[oi][dev], m[ni][dev])
	}
	// The outlier inflates its own user statistics, so its z-score is
	// bounded well below (5000-100)/std-of-100s; it still lands far
	// above the in-pattern transaction's.
	if m[oi][z] <= 3 {
		t.Errorf("outlier z-score should be large positive, got %v", m[oi][z])
	}
	if m[ni][z] >= 1 {
		t.Errorf("in-pattern z-score should stay small, got %v", m[ni][z])
	}
	if m[oi][z]-m[ni][z] <= 3 {
		t.Errorf("outlier z-score %v should clear in-pattern z-score %v by a wide margin", m[oi][z], m[ni][z])
	}
}

func TestEngineerIdempotent(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	var txs []*domain.Transaction
	for i := 0; i < 10; i++ {
		txs = append(txs, makeTx(idf("tx", i), "user-001", float64(10+i*7), base.Add(time.Duration(i)*time.Minute)))
	}
	stats := BuildGroupStats(txs)
	enc := FitEncoders(txs, domain.UnknownReserve)

	m1, err := Engineer(txs, stats, enc)
	if err != nil {
		t.Fatalf("engineer: %v", err)
	}
	m2, err := Engineer(txs, stats, enc)
	if err != nil {
		t.Fatalf("engineer: %v", err)
	}
	for i := range m1 {
		for j := range m1[i] {
			if m1[i][j] != m2[i][j] {
				t.Fatalf("row %d col %s differs across reruns: %v vs %v", i, Columns[j], m1[i][j], m2[i][j])
			}
		}
	}
}

func TestEncoderPolicies(t *testing.T) {
	t.Run("StableSortedCodes", func(t *testing.T) {
		enc := FitEncoder([]string{"travel", "groceries", "travel", "dining"}, domain.UnknownReserve)
		want := map[string]int{"dining": 0, "groceries": 1, "travel": 2}
		for v, code := range want {
			got, err := enc.Encode(v)
			if err != nil {
				t.Fatalf("encode %q: %v", v, err)
			}
			if got != code {
				t.Errorf("encode %q: got %d, want %d", v, got, code)
			}
		}
	})

	t.Run("ReservePolicy", func(t *testing.T) {
		enc := FitEncoder([]string{"a", "b"}, domain.UnknownReserve)
		code, err := enc.Encode("zzz")
		if err != nil {
			t.Fatalf("reserve policy should not fail: %v", err)
		}
		if code != 2 {
			t.Errorf("reserved bucket should be vocabulary size 2, got %d", code)
		}
		if enc.UnknownCount() != 1 {
			t.Errorf("substitution should be counted, got %d", enc.UnknownCount())
		}
	})

	t.Run("RejectPolicy", func(t *testing.T) {
		enc := FitEncoder([]string{"a", "b"}, domain.UnknownReject)
		if _, err := enc.Encode("zzz"); !errors.Is(err, domain.ErrOutOfVocabulary) {
			t.Errorf("expected ErrOutOfVocabulary, got %v", err)
		}
	})
}

func TestScaler(t *testing.T) {
	m := [][]float64{
		{1, 10, 5},
		{3, 10, 7},
		{5, 10, 9},
	}
	var s Scaler
	if err := s.Fit(m); err != nil {
		t.Fatalf("fit: %v", err)
	}

	t.Run("ZeroMeanUnitVariance", func(t *testing.T) {
		out, err := s.Transform(m)
		if err != nil {
			t.Fatalf("transform: %v", err)
		}
		for j := 0; j < 3; j++ {
			var sum float64
			for i := range out {
				sum += out[i][j]
			}
			if math.Abs(sum) > 1e-9 {
				t.Errorf("column %d not centered, sum %v", j, sum)
			}
		}
	})

	t.Run("ConstantColumnFinite", func(t *testing.T) {
		out, err := s.Transform(m)
		if err != nil {
			t.Fatalf("transform: %v", err)
		}
		for i := range out {
			if math.IsNaN(out[i][1]) || math.IsInf(out[i][1], 0) {
				t.Errorf("constant column produced %v", out[i][1])
			}
		}
	})

	t.Run("WriteOnceFit", func(t *testing.T) {
		if err := s.Fit(m); !errors.Is(err, domain.ErrAlreadyFitted) {
			t.Errorf("expected ErrAlreadyFitted, got %v", err)
		}
	})

	t.Run("TransformBeforeFit", func(t *testing.T) {
		var fresh Scaler
		if _, err := fresh.Transform(m); !errors.Is(err, domain.ErrNotFitted) {
			t.Errorf("expected ErrNotFitted, got %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("EmptySet", func(t *testing.T) {
		if err := Validate(nil); !errors.Is(err, domain.ErrInputData) {
			t.Errorf("expected ErrInputData, got %v", err)
		}
	})

	t.Run("NonPositiveAmount", func(t *testing.T) {
		tx := makeTx("tx-1", "user-001", 50, base)
		tx.AmountUSD = 0
		if err := Validate([]*domain.Transaction{tx}); !errors.Is(err, domain.ErrInputData) {
			t.Errorf("expected ErrInputData, got %v", err)
		}
	})

	t.Run("Valid", func(t *testing.T) {
		if err := Validate([]*domain.Transaction{makeTx("tx-1", "user-001", 50, base)}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func idf(prefix string, i int) string {
	return fmt.Sprintf("%s-%03d", prefix, i)
}
