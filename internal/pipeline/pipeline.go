// Package pipeline orchestrates the batch fraud detection flow: load,
// engineer features, fit, score, evaluate, persist. Collaborators are
// injected; the pipeline holds no global state.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/detector"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/evaluate"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Pipeline runs training and scoring passes over the stored transaction
// set. Each run owns its own statistics, encoders, scaler and detectors;
// nothing is shared across concurrent runs except immutable loaded
// artifacts.
type Pipeline struct {
	repo   domain.Repository
	store  artifact.Store
	cache  domain.Cache
	bus    domain.EventBus
	rules  *alerts.Engine
	cfg    domain.DetectionConfig
	tracer trace.Tracer
	log    *slog.Logger
}

// New wires a pipeline from its collaborators. repo and store are
// required; cache, bus and rules may be nil and are then skipped.
func New(repo domain.Repository, store artifact.Store, cache domain.Cache,
	bus domain.EventBus, rules *alerts.Engine, cfg domain.DetectionConfig) *Pipeline {
	return &Pipeline{
		repo:   repo,
		store:  store,
		cache:  cache,
		bus:    bus,
		rules:  rules,
		cfg:    cfg,
		tracer: otel.Tracer("kestrel/pipeline"),
		log:    slog.Default(),
	}
}

// TrainResult is everything a completed training pass produced.
type TrainResult struct {
	Run          *domain.TrainingRun
	ArtifactPath string
	Reports      []*evaluate.Report
}

func phaseErr(phase string, err error) error {
	return &domain.PhaseError{Phase: phase, Err: err}
}

// Train runs the full batch pass: engineer features over the stored
// transactions, fit the scaler and both detectors, score everything,
// evaluate against labels when present, and persist the artifact, the
// scores and the run record. Nothing is persisted if any phase fails.
func (p *Pipeline) Train(ctx context.Context) (*TrainResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.train")
	defer span.End()

	start := time.Now()
	runID := uuid.New().String()
	log := p.log.With("run_id", runID)

	// Load.
	txs, err := p.loadData(ctx)
	if err != nil {
		return nil, phaseErr(domain.PhaseLoadData, err)
	}
	log.Info("dataset loaded", "transactions", len(txs))

	// Engineer.
	stats := features.BuildGroupStats(txs)
	enc := features.FitEncoders(txs, p.cfg.UnknownPolicy)
	matrix, err := features.Engineer(txs, stats, enc)
	if err != nil {
		return nil, phaseErr(domain.PhaseEngineerFeatures, err)
	}

	// Fit and transform.
	scaler := &features.Scaler{}
	if err := scaler.Fit(matrix); err != nil {
		return nil, phaseErr(domain.PhaseFitTransform, err)
	}
	scaled, err := scaler.Transform(matrix)
	if err != nil {
		return nil, phaseErr(domain.PhaseFitTransform, err)
	}

	// Train detectors. With a fully labeled set, hold out a stratified
	// test fraction so evaluation is not on training rows.
	labels, labeled := groundTruth(txs)
	ens := detector.NewEnsemble(detector.Config{
		Contamination: p.cfg.Contamination,
		Trees:         p.cfg.Trees,
		SampleSize:    p.cfg.SampleSize,
		FeatureRatio:  1.0,
		Seed:          p.cfg.Seed,
	})

	var testIdx []int
	trainMatrix := scaled
	if labeled {
		trainIdx, held, err := detector.StratifiedSplit(labels, p.cfg.TestFraction, p.cfg.Seed)
		if err != nil {
			return nil, phaseErr(domain.PhaseTrainDetectors, err)
		}
		trainMatrix = detector.SelectRows(scaled, trainIdx)
		testIdx = held
	}
	if err := ens.Fit(trainMatrix); err != nil {
		return nil, phaseErr(domain.PhaseTrainDetectors, err)
	}
	log.Info("detectors trained", "rows", len(trainMatrix), "labeled", labeled)

	// Score the full dataset.
	results, err := ens.Score(scaled)
	if err != nil {
		return nil, phaseErr(domain.PhaseScoreAll, err)
	}

	// Evaluate on the held-out rows. A single-class held-out set makes
	// ROC-AUC undefined; that fails the evaluation step only, training
	// and scoring still complete.
	var reports []*evaluate.Report
	if labeled {
		reports, err = p.evaluateDetectors(ens, scaled, labels, testIdx)
		if err != nil {
			if !errors.Is(err, domain.ErrDegenerateLabels) {
				return nil, phaseErr(domain.PhaseEvaluate, err)
			}
			log.Warn("evaluation skipped", "error", err)
			reports = nil
		}
		for _, rep := range reports {
			log.Info("evaluation",
				"detector", rep.Name,
				"precision", rep.Fraud.Precision,
				"recall", rep.Fraud.Recall,
				"roc_auc", rep.ROCAUC,
			)
		}
	}

	// Persist: artifact first, then scores, then the run record.
	art := &artifact.Artifact{
		RunID:         runID,
		CreatedAt:     start.UTC(),
		FeatureCols:   features.Columns,
		Scaler:        scaler,
		Encoders:      enc,
		Ensemble:      ens,
		Contamination: p.cfg.Contamination,
	}
	path, err := p.store.Save(ctx, art)
	if err != nil {
		return nil, phaseErr(domain.PhasePersist, err)
	}

	scores := scoreRecords(txs, results)
	if err := p.repo.ReplaceScores(ctx, scores); err != nil {
		return nil, phaseErr(domain.PhasePersist, err)
	}
	p.raiseAlerts(ctx, txs, scores)
	p.cacheScores(ctx, scores)

	run := &domain.TrainingRun{
		ID:           runID,
		StartedAt:    start.UTC(),
		DurationMs:   time.Since(start).Milliseconds(),
		Transactions: len(txs),
		Users:        countUsers(txs),
		FraudRate:    fraudRate(labels, labeled),
		Flagged:      countFlagged(results),
		ArtifactPath: path,
	}
	if len(reports) > 0 {
		metrics, err := json.Marshal(reports)
		if err != nil {
			return nil, phaseErr(domain.PhasePersist, err)
		}
		run.Metrics = string(metrics)
	}
	if err := p.repo.SaveTrainingRun(ctx, run); err != nil {
		return nil, phaseErr(domain.PhasePersist, err)
	}

	p.publish(ctx, domain.TopicTrainingFinished, run)
	log.Info("training complete",
		"duration_ms", run.DurationMs,
		"flagged", run.Flagged,
		"artifact", path,
	)
	return &TrainResult{Run: run, ArtifactPath: path, Reports: reports}, nil
}

// ScoreResult summarizes a scoring pass against a persisted artifact.
type ScoreResult struct {
	ArtifactPath string
	Transactions int
	Flagged      int
}

// Score re-scores the stored transaction set with a previously trained
// artifact. artifactPath may be empty, selecting the latest artifact.
// The artifact is borrowed read-only; grouped statistics are rebuilt for
// the current dataset, scaler and detectors come from the artifact.
func (p *Pipeline) Score(ctx context.Context, artifactPath string) (*ScoreResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.score")
	defer span.End()

	if artifactPath == "" {
		latest, err := p.store.Latest(ctx)
		if err != nil {
			return nil, phaseErr(domain.PhaseLoadData, err)
		}
		if latest == "" {
			return nil, phaseErr(domain.PhaseLoadData, fmt.Errorf("no trained model artifact available"))
		}
		artifactPath = latest
	}
	art, err := p.store.Load(ctx, artifactPath)
	if err != nil {
		return nil, phaseErr(domain.PhaseLoadData, err)
	}

	txs, err := p.loadData(ctx)
	if err != nil {
		return nil, phaseErr(domain.PhaseLoadData, err)
	}

	stats := features.BuildGroupStats(txs)
	matrix, err := features.Engineer(txs, stats, art.Encoders)
	if err != nil {
		return nil, phaseErr(domain.PhaseEngineerFeatures, err)
	}

	scaled, err := art.Scaler.Transform(matrix)
	if err != nil {
		return nil, phaseErr(domain.PhaseFitTransform, err)
	}

	results, err := art.Ensemble.Score(scaled)
	if err != nil {
		return nil, phaseErr(domain.PhaseScoreAll, err)
	}

	scores := scoreRecords(txs, results)
	if err := p.repo.ReplaceScores(ctx, scores); err != nil {
		return nil, phaseErr(domain.PhasePersist, err)
	}
	p.raiseAlerts(ctx, txs, scores)
	p.cacheScores(ctx, scores)

	res := &ScoreResult{
		ArtifactPath: artifactPath,
		Transactions: len(txs),
		Flagged:      countFlagged(results),
	}
	p.publish(ctx, domain.TopicScoringFinished, res)
	p.log.Info("scoring complete",
		"artifact", artifactPath,
		"transactions", res.Transactions,
		"flagged", res.Flagged,
	)
	return res, nil
}

func (p *Pipeline) loadData(ctx context.Context) ([]*domain.Transaction, error) {
	txs, err := p.repo.ListTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if err := features.Validate(txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// evaluateDetectors reports each detector and the ensemble on the
// held-out rows.
func (p *Pipeline) evaluateDetectors(ens *detector.Ensemble, scaled [][]float64,
	labels []bool, testIdx []int) ([]*evaluate.Report, error) {

	testM := detector.SelectRows(scaled, testIdx)
	testY := detector.SelectLabels(labels, testIdx)

	var reports []*evaluate.Report
	scorers := []struct {
		name string
		fn   func([][]float64) ([]float64, error)
	}{
		{ens.Forest.Name(), ens.Forest.DecisionFunction},
		{ens.Auto.Name(), ens.Auto.DecisionFunction},
		{"ensemble", ens.DecisionFunction},
	}
	for _, s := range scorers {
		scores, err := s.fn(testM)
		if err != nil {
			return nil, err
		}
		preds := make([]bool, len(scores))
		for i, v := range scores {
			preds[i] = v > 0
		}
		rep, err := evaluate.Evaluate(s.name, testY, preds, scores)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// raiseAlerts runs the rule engine over flagged scores. Alert failures
// are logged, not fatal; the score write already succeeded.
func (p *Pipeline) raiseAlerts(ctx context.Context, txs []*domain.Transaction, scores []*domain.ScoreRecord) {
	if p.rules == nil {
		return
	}
	for i, rec := range scores {
		tx := txs[i]
		matches := p.rules.Evaluate(ctx, &alerts.Input{
			TxID:             tx.ID,
			UserID:           tx.UserID,
			AmountUSD:        tx.AmountUSD,
			Category:         tx.Category,
			Currency:         tx.Currency,
			PaymentMethod:    tx.PaymentMethod,
			FraudScore:       rec.FraudScore,
			FraudProbability: rec.FraudProbability,
			FraudPrediction:  rec.FraudPrediction,
		})
		for _, m := range matches {
			alert := &domain.FraudAlert{
				ID:         uuid.New().String(),
				TxID:       tx.ID,
				UserID:     tx.UserID,
				FraudScore: rec.FraudScore,
				RuleID:     m.RuleID,
				Status:     domain.AlertOpen,
				CreatedAt:  time.Now().UTC(),
			}
			if err := p.repo.SaveAlert(ctx, alert); err != nil {
				p.log.Error("save alert failed", "tx_id", tx.ID, "rule", m.RuleID, "error", err)
				continue
			}
			p.publish(ctx, domain.TopicFraudAlert, alert)
		}
	}
}

// cacheScores warms the score cache so API lookups skip the database.
func (p *Pipeline) cacheScores(ctx context.Context, scores []*domain.ScoreRecord) {
	if p.cache == nil {
		return
	}
	for _, rec := range scores {
		if err := p.cache.SetScore(ctx, rec.TxID, rec, 10*time.Minute); err != nil {
			p.log.Warn("cache score failed", "tx_id", rec.TxID, "error", err)
			continue
		}
	}
}

func (p *Pipeline) publish(ctx context.Context, topic string, payload any) {
	if p.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, topic, data); err != nil {
		p.log.Warn("publish failed", "topic", topic, "error", err)
	}
}

// groundTruth extracts labels when every row carries one. A partially
// labeled set is treated as unlabeled; mixed truth would skew both the
// stratified split and the evaluation.
func groundTruth(txs []*domain.Transaction) ([]bool, bool) {
	labels := make([]bool, len(txs))
	for i, tx := range txs {
		if tx.IsFraud == nil {
			return nil, false
		}
		labels[i] = *tx.IsFraud
	}
	return labels, true
}

func scoreRecords(txs []*domain.Transaction, results []detector.Result) []*domain.ScoreRecord {
	out := make([]*domain.ScoreRecord, len(txs))
	for i, tx := range txs {
		out[i] = &domain.ScoreRecord{
			TxID:             tx.ID,
			FraudScore:       results[i].Score,
			FraudProbability: results[i].Probability,
			FraudPrediction:  results[i].Prediction,
		}
	}
	return out
}

func countUsers(txs []*domain.Transaction) int {
	seen := make(map[string]struct{})
	for _, tx := range txs {
		seen[tx.UserID] = struct{}{}
	}
	return len(seen)
}

func countFlagged(results []detector.Result) int {
	var n int
	for _, r := range results {
		if r.Prediction {
			n++
		}
	}
	return n
}

func fraudRate(labels []bool, labeled bool) float64 {
	if !labeled || len(labels) == 0 {
		return 0
	}
	var n int
	for _, l := range labels {
		if l {
			n++
		}
	}
	return float64(n) / float64(len(labels))
}
