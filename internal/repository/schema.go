package repository

// Schema definitions for Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    amount REAL NOT NULL,
    amount_usd REAL NOT NULL,
    currency TEXT NOT NULL,
    category TEXT NOT NULL,
    merchant TEXT NOT NULL,
    payment_method TEXT NOT NULL,
    description TEXT,
    transaction_date TIMESTAMP NOT NULL,
    is_fraud INTEGER,
    fraud_type TEXT,
    fraud_score REAL,
    fraud_probability REAL,
    fraud_prediction INTEGER
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(user_id, transaction_date);
CREATE INDEX IF NOT EXISTS idx_transactions_category ON transactions(category);
`

const schemaFraudAlerts = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    fraud_score REAL NOT NULL,
    rule_id TEXT NOT NULL,
    status TEXT NOT NULL,
    notes TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_alerts_status ON fraud_alerts(status);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_user ON fraud_alerts(user_id);
`

const schemaTrainingRuns = `
CREATE TABLE IF NOT EXISTS training_runs (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL,
    transactions INTEGER NOT NULL,
    users INTEGER NOT NULL,
    fraud_rate REAL NOT NULL,
    flagged INTEGER NOT NULL,
    artifact_path TEXT NOT NULL,
    metrics TEXT
);

CREATE INDEX IF NOT EXISTS idx_training_runs_started ON training_runs(started_at);
`

// AllSchemas returns all schema statements in creation order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaFraudAlerts,
		schemaTrainingRuns,
	}
}
