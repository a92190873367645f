// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransactions stores a batch of transactions in one database
// transaction.
func (r *SQLRepository) SaveTransactions(ctx context.Context, txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	query := r.rebind(`
		INSERT INTO transactions (
			id, user_id, amount, amount_usd, currency, category,
			merchant, payment_method, description, transaction_date,
			is_fraud, fraud_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			amount_usd = excluded.amount_usd,
			currency = excluded.currency,
			category = excluded.category,
			merchant = excluded.merchant,
			payment_method = excluded.payment_method,
			description = excluded.description,
			transaction_date = excluded.transaction_date,
			is_fraud = excluded.is_fraud,
			fraud_type = excluded.fraud_type
	`)

	stmt, err := dbtx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, tx := range txs {
		if tx.ID == "" {
			return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
		}
		var isFraud any
		if tx.IsFraud != nil {
			isFraud = boolToInt(*tx.IsFraud)
		}
		if _, err := stmt.ExecContext(ctx,
			tx.ID, tx.UserID, tx.Amount, tx.AmountUSD, tx.Currency,
			tx.Category, tx.Merchant, tx.PaymentMethod, tx.Description,
			tx.Date, isFraud, tx.FraudType,
		); err != nil {
			return fmt.Errorf("save transaction %s: %w", tx.ID, err)
		}
	}

	return dbtx.Commit()
}

const txColumns = `id, user_id, amount, amount_usd, currency, category,
	merchant, payment_method, description, transaction_date, is_fraud, fraud_type`

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// ListTransactions retrieves the full transaction set ordered by date.
// Equal dates keep insertion id order so feature engineering sees a
// stable sequence.
func (r *SQLRepository) ListTransactions(ctx context.Context) ([]*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions ORDER BY transaction_date, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// CountTransactions returns the number of stored transactions.
func (r *SQLRepository) CountTransactions(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n)
	return n, err
}

// ReplaceScores writes the full score set in one database transaction.
// Either every listed transaction gets its new scores or none do.
func (r *SQLRepository) ReplaceScores(ctx context.Context, scores []*domain.ScoreRecord) error {
	if len(scores) == 0 {
		return nil
	}

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	query := r.rebind(`
		UPDATE transactions
		SET fraud_score = ?, fraud_probability = ?, fraud_prediction = ?
		WHERE id = ?
	`)

	stmt, err := dbtx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range scores {
		res, err := stmt.ExecContext(ctx,
			s.FraudScore, s.FraudProbability, boolToInt(s.FraudPrediction), s.TxID)
		if err != nil {
			return fmt.Errorf("score transaction %s: %w", s.TxID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("score transaction %s: %w", s.TxID, ErrNotFound)
		}
	}

	return dbtx.Commit()
}

// GetScore retrieves the persisted scores for one transaction.
func (r *SQLRepository) GetScore(ctx context.Context, txID string) (*domain.ScoreRecord, error) {
	query := `
		SELECT id, fraud_score, fraud_probability, fraud_prediction
		FROM transactions
		WHERE id = ? AND fraud_score IS NOT NULL
	`

	var rec domain.ScoreRecord
	var pred int
	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&rec.TxID, &rec.FraudScore, &rec.FraudProbability, &pred,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.FraudPrediction = pred == 1
	return &rec, nil
}

// SaveAlert stores a fraud alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.FraudAlert) error {
	query := `
		INSERT INTO fraud_alerts (
			id, transaction_id, user_id, fraud_score, rule_id, status, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.TxID, alert.UserID, alert.FraudScore,
		alert.RuleID, alert.Status, alert.Notes, alert.CreatedAt,
	)
	return err
}

// ListAlerts retrieves alerts, optionally filtered by status.
func (r *SQLRepository) ListAlerts(ctx context.Context, status string) ([]*domain.FraudAlert, error) {
	query := `
		SELECT id, transaction_id, user_id, fraud_score, rule_id, status, notes, created_at
		FROM fraud_alerts
	`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.FraudAlert
	for rows.Next() {
		var a domain.FraudAlert
		if err := rows.Scan(
			&a.ID, &a.TxID, &a.UserID, &a.FraudScore,
			&a.RuleID, &a.Status, &a.Notes, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// UpdateAlertStatus transitions an alert's review state.
func (r *SQLRepository) UpdateAlertStatus(ctx context.Context, alertID string, status, notes string) error {
	switch status {
	case domain.AlertOpen, domain.AlertReviewed, domain.AlertClosed:
	default:
		return fmt.Errorf("%w: alert status %q", ErrInvalidInput, status)
	}

	query := `UPDATE fraud_alerts SET status = ?, notes = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, r.rebind(query), status, notes, alertID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveTrainingRun records a completed training pass.
func (r *SQLRepository) SaveTrainingRun(ctx context.Context, run *domain.TrainingRun) error {
	query := `
		INSERT INTO training_runs (
			id, started_at, duration_ms, transactions, users,
			fraud_rate, flagged, artifact_path, metrics
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, run.StartedAt, run.DurationMs, run.Transactions,
		run.Users, run.FraudRate, run.Flagged, run.ArtifactPath, run.Metrics,
	)
	return err
}

// GetTrainingRun retrieves a training run by ID.
func (r *SQLRepository) GetTrainingRun(ctx context.Context, runID string) (*domain.TrainingRun, error) {
	query := `
		SELECT id, started_at, duration_ms, transactions, users,
			   fraud_rate, flagged, artifact_path, metrics
		FROM training_runs
		WHERE id = ?
	`

	var run domain.TrainingRun
	err := r.db.QueryRowContext(ctx, r.rebind(query), runID).Scan(
		&run.ID, &run.StartedAt, &run.DurationMs, &run.Transactions,
		&run.Users, &run.FraudRate, &run.Flagged, &run.ArtifactPath, &run.Metrics,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListTrainingRuns retrieves all training runs, newest first.
func (r *SQLRepository) ListTrainingRuns(ctx context.Context) ([]*domain.TrainingRun, error) {
	query := `
		SELECT id, started_at, duration_ms, transactions, users,
			   fraud_rate, flagged, artifact_path, metrics
		FROM training_runs
		ORDER BY started_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.TrainingRun
	for rows.Next() {
		var run domain.TrainingRun
		if err := rows.Scan(
			&run.ID, &run.StartedAt, &run.DurationMs, &run.Transactions,
			&run.Users, &run.FraudRate, &run.Flagged, &run.ArtifactPath, &run.Metrics,
		); err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var isFraud sql.NullInt64
	var fraudType, description sql.NullString

	if err := row.Scan(
		&tx.ID, &tx.UserID, &tx.Amount, &tx.AmountUSD, &tx.Currency,
		&tx.Category, &tx.Merchant, &tx.PaymentMethod, &description,
		&tx.Date, &isFraud, &fraudType,
	); err != nil {
		return nil, err
	}

	tx.Description = description.String
	tx.FraudType = fraudType.String
	if isFraud.Valid {
		v := isFraud.Int64 == 1
		tx.IsFraud = &v
	}
	return &tx, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
