// Package alerts provides the CEL-Go based alert rule engine. Rules run
// over freshly scored transactions and decide which ones deserve a
// human-review alert on top of the model's own prediction.
package alerts

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Rule is one alert condition as a CEL boolean expression.
type Rule struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Enabled    bool   `json:"enabled"`
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    Rule
	Program cel.Program
}

// Match is an alert rule that fired for one scored transaction.
type Match struct {
	RuleID   string
	RuleName string
}

// Engine compiles and evaluates alert rules.
type Engine struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules map[string]*CompiledRule
}

// Input exposes one scored transaction to the rule expressions.
type Input struct {
	TxID             string
	UserID           string
	AmountUSD        float64
	Category         string
	Currency         string
	PaymentMethod    string
	FraudScore       float64
	FraudProbability float64
	FraudPrediction  bool
}

// NewEngine creates the CEL environment with the scored-transaction
// variables rules may reference.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx_id", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("amount_usd", cel.DoubleType),
		cel.Variable("category", cel.StringType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("fraud_score", cel.DoubleType),
		cel.Variable("fraud_probability", cel.DoubleType),
		cel.Variable("fraud_prediction", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:   env,
		rules: make(map[string]*CompiledRule),
	}, nil
}

// DefaultRules are the built-in alert conditions loaded when no custom
// rule set is configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:         "model-flagged",
			Name:       "Model flagged transaction",
			Expression: "fraud_prediction && fraud_probability > 0.7",
			Enabled:    true,
		},
		{
			ID:         "high-value-flagged",
			Name:       "High value flagged transaction",
			Expression: "fraud_prediction && amount_usd > 1000.0",
			Enabled:    true,
		},
	}
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(r Rule) error {
	compiled, err := e.compile(r)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.rules[r.ID] = compiled
	e.mu.Unlock()
	return nil
}

// LoadRules compiles and loads multiple rules, skipping disabled ones.
func (e *Engine) LoadRules(rules []Rule) error {
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if err := e.LoadRule(r); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) compile(r Rule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile rule %s: %w", r.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("compile rule %s: expression must be boolean, got %s", r.ID, ast.OutputType())
	}

	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program rule %s: %w", r.ID, err)
	}
	return &CompiledRule{Rule: r, Program: prog}, nil
}

// Evaluate runs every loaded rule against one scored transaction and
// returns the rules that fired. A rule that fails to evaluate is treated
// as not matching.
func (e *Engine) Evaluate(ctx context.Context, in *Input) []Match {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.rules))
	for _, r := range e.rules {
		rules = append(rules, r)
	}
	e.mu.RUnlock()

	activation := map[string]any{
		"tx_id":             in.TxID,
		"user_id":           in.UserID,
		"amount_usd":        in.AmountUSD,
		"category":          in.Category,
		"currency":          in.Currency,
		"payment_method":    in.PaymentMethod,
		"fraud_score":       in.FraudScore,
		"fraud_probability": in.FraudProbability,
		"fraud_prediction":  in.FraudPrediction,
	}

	var matches []Match
	for _, rule := range rules {
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			matches = append(matches, Match{RuleID: rule.Rule.ID, RuleName: rule.Rule.Name})
		}
	}
	return matches
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}
