// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for dataset and result persistence.
type Repository interface {
	// Transaction operations
	SaveTransactions(ctx context.Context, txs []*Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	ListTransactions(ctx context.Context) ([]*Transaction, error)
	CountTransactions(ctx context.Context) (int, error)

	// Score operations. ReplaceScores overwrites the scores of every
	// listed transaction in one transaction; a scoring run never leaves
	// a half-written score set behind.
	ReplaceScores(ctx context.Context, scores []*ScoreRecord) error
	GetScore(ctx context.Context, txID string) (*ScoreRecord, error)

	// Alert operations
	SaveAlert(ctx context.Context, alert *FraudAlert) error
	ListAlerts(ctx context.Context, status string) ([]*FraudAlert, error)
	UpdateAlertStatus(ctx context.Context, alertID string, status, notes string) error

	// Training run bookkeeping
	SaveTrainingRun(ctx context.Context, run *TrainingRun) error
	GetTrainingRun(ctx context.Context, runID string) (*TrainingRun, error)
	ListTrainingRuns(ctx context.Context) ([]*TrainingRun, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
