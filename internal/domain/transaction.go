package domain

import (
	"time"
)

// Transaction is one row of the historical transaction set under analysis.
type Transaction struct {
	// Core identifiers
	ID     string `json:"transactionId"`
	UserID string `json:"userId"`

	// Financial details. AmountUSD is the reference-currency amount and is
	// guaranteed populated by the storage collaborator (currency conversion
	// happens upstream of this engine).
	Amount    float64 `json:"amount"`
	AmountUSD float64 `json:"amountUsd"`
	Currency  string  `json:"currency"`

	Category      string `json:"category"`
	Merchant      string `json:"merchant"`
	PaymentMethod string `json:"paymentMethod"`
	Description   string `json:"description,omitempty"`

	// Temporal
	Date time.Time `json:"transactionDate"`

	// Ground truth, present only on labeled/synthetic datasets. Never used
	// as a model input; evaluation only.
	IsFraud   *bool  `json:"isFraud,omitempty"`
	FraudType string `json:"fraudType,omitempty"`
}

// Labeled reports whether the transaction carries a ground-truth fraud label.
func (t *Transaction) Labeled() bool {
	return t.IsFraud != nil
}

// ScoreRecord is the per-transaction output of a scoring pass.
type ScoreRecord struct {
	TxID string `json:"transactionId"`

	// FraudScore is the unbounded ensemble decision value; positive means
	// anomalous relative to the fitted ensemble.
	FraudScore float64 `json:"fraudScore"`

	// FraudProbability is a logistic squash of FraudScore into (0, 1). It is
	// a monotonic risk indicator, not a calibrated likelihood.
	FraudProbability float64 `json:"fraudProbability"`

	FraudPrediction bool `json:"fraudPrediction"`
}

// FraudAlert is raised when a scored transaction matches an alert rule.
type FraudAlert struct {
	ID         string    `json:"id"`
	TxID       string    `json:"transactionId"`
	UserID     string    `json:"userId"`
	FraudScore float64   `json:"fraudScore"`
	RuleID     string    `json:"ruleId"`
	Status     string    `json:"status"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Alert status constants
const (
	AlertOpen     = "OPEN"
	AlertReviewed = "REVIEWED"
	AlertClosed   = "CLOSED"
)

// TrainingRun summarizes one completed training pass.
type TrainingRun struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"startedAt"`
	DurationMs   int64     `json:"durationMs"`
	Transactions int       `json:"transactions"`
	Users        int       `json:"users"`
	FraudRate    float64   `json:"fraudRate"`
	Flagged      int       `json:"flagged"`
	ArtifactPath string    `json:"artifactPath"`

	// Metrics holds the JSON-encoded evaluation report, when the dataset
	// carried labels.
	Metrics string `json:"metrics,omitempty"`
}
