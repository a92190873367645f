package alerts

import (
	"context"
	"testing"
)

func TestEngine(t *testing.T) {
	ctx := context.Background()

	newEngine := func(t *testing.T, rules []Rule) *Engine {
		t.Helper()
		e, err := NewEngine()
		if err != nil {
			t.Fatalf("new engine: %v", err)
		}
		if err := e.LoadRules(rules); err != nil {
			t.Fatalf("load rules: %v", err)
		}
		return e
	}

	t.Run("DefaultRulesFire", func(t *testing.T) {
		e := newEngine(t, DefaultRules())

		matches := e.Evaluate(ctx, &Input{
			TxID:             "tx-001",
			UserID:           "user-001",
			AmountUSD:        5000,
			FraudScore:       1.2,
			FraudProbability: 0.85,
			FraudPrediction:  true,
		})
		if len(matches) != 2 {
			t.Fatalf("expected both default rules to fire, got %d: %+v", len(matches), matches)
		}
	})

	t.Run("CleanTransactionNoMatch", func(t *testing.T) {
		e := newEngine(t, DefaultRules())

		matches := e.Evaluate(ctx, &Input{
			TxID:             "tx-002",
			AmountUSD:        40,
			FraudScore:       -0.8,
			FraudProbability: 0.3,
			FraudPrediction:  false,
		})
		if len(matches) != 0 {
			t.Errorf("expected no matches, got %+v", matches)
		}
	})

	t.Run("CustomRule", func(t *testing.T) {
		e := newEngine(t, []Rule{{
			ID:         "night-travel",
			Name:       "Travel category over threshold",
			Expression: `category == "travel" && amount_usd > 200.0`,
			Enabled:    true,
		}})

		matches := e.Evaluate(ctx, &Input{TxID: "tx-003", Category: "travel", AmountUSD: 300})
		if len(matches) != 1 || matches[0].RuleID != "night-travel" {
			t.Errorf("unexpected matches %+v", matches)
		}
	})

	t.Run("DisabledRuleSkipped", func(t *testing.T) {
		e := newEngine(t, []Rule{{
			ID:         "never",
			Expression: "true",
			Enabled:    false,
		}})
		if e.RulesCount() != 0 {
			t.Errorf("disabled rule was loaded")
		}
	})

	t.Run("NonBooleanRejected", func(t *testing.T) {
		e, err := NewEngine()
		if err != nil {
			t.Fatalf("new engine: %v", err)
		}
		if err := e.LoadRule(Rule{ID: "bad", Expression: "amount_usd + 1.0", Enabled: true}); err == nil {
			t.Errorf("non-boolean expression should fail to load")
		}
	})

	t.Run("InvalidExpressionRejected", func(t *testing.T) {
		e, err := NewEngine()
		if err != nil {
			t.Fatalf("new engine: %v", err)
		}
		if err := e.LoadRule(Rule{ID: "bad", Expression: "no_such_var > 1", Enabled: true}); err == nil {
			t.Errorf("unknown variable should fail to compile")
		}
	})
}
