package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/synth"
)

// createTestServer wires a server against a temp sqlite repository and
// an in-memory cache.
func createTestServer(t *testing.T) (*Server, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	store, err := artifact.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create artifact store: %v", err)
	}

	lru := cache.NewLRUCache(10000)
	t.Cleanup(func() { lru.Close() })

	engine, err := alerts.NewEngine()
	if err != nil {
		t.Fatalf("failed to create alert engine: %v", err)
	}
	if err := engine.LoadRules(alerts.DefaultRules()); err != nil {
		t.Fatalf("failed to load alert rules: %v", err)
	}

	detCfg := domain.DefaultConfig().Detection
	detCfg.Trees = 50
	detCfg.SampleSize = 128

	pipe := pipeline.New(repo, store, lru, nil, engine, detCfg)

	srvCfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	return NewServer(srvCfg, repo, lru, pipe, "test-v1"), repo
}

func seedDataset(t *testing.T, repo domain.Repository, n int) []*domain.Transaction {
	t.Helper()
	cfg := synth.DefaultConfig()
	cfg.Transactions = n
	cfg.Users = 40
	txs := synth.Generate(cfg)
	if err := repo.SaveTransactions(context.Background(), txs); err != nil {
		t.Fatalf("seed dataset: %v", err)
	}
	return txs
}

func doRequest(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy status, got %q", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %q", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("RequestIDHeaderSet", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/health", nil)
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID response header")
		}
	})
}

func TestIngestAndGetTransaction(t *testing.T) {
	server, _ := createTestServer(t)

	txs := synth.Generate(synth.Config{
		Users:        5,
		Transactions: 20,
		FraudRate:    0.1,
		Seed:         7,
		Start:        synth.DefaultConfig().Start,
		End:          synth.DefaultConfig().End,
	})

	t.Run("Ingest", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/transactions", txs)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("GetOne", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/transactions/"+txs[0].ID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var got domain.Transaction
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if got.ID != txs[0].ID || got.UserID != txs[0].UserID {
			t.Errorf("round trip mismatch: got %s/%s", got.ID, got.UserID)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/transactions/T99999999", nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("EmptyBatchRejected", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/transactions", []*domain.Transaction{})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestTrainScoreFlow(t *testing.T) {
	server, repo := createTestServer(t)
	seedDataset(t, repo, 1500)

	var trained TrainResponse

	t.Run("Train", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/train", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &trained); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if trained.RunID == "" {
			t.Error("expected a run id")
		}
		if trained.ArtifactPath == "" {
			t.Error("expected an artifact path")
		}
		if trained.Transactions < 1500 {
			t.Errorf("expected at least 1500 transactions, got %d", trained.Transactions)
		}
		if len(trained.Reports) != 3 {
			t.Errorf("expected 3 evaluation reports, got %d", len(trained.Reports))
		}
	})

	t.Run("ScoreLatest", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/score", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp["artifactPath"] != trained.ArtifactPath {
			t.Errorf("expected latest artifact %s, got %v", trained.ArtifactPath, resp["artifactPath"])
		}
	})

	t.Run("GetScore", func(t *testing.T) {
		txs, err := repo.ListTransactions(context.Background())
		if err != nil {
			t.Fatalf("list transactions: %v", err)
		}
		rr := doRequest(t, server, http.MethodGet, "/scores/"+txs[0].ID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var rec domain.ScoreRecord
		if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if rec.TxID != txs[0].ID {
			t.Errorf("expected score for %s, got %s", txs[0].ID, rec.TxID)
		}
		if rec.FraudProbability <= 0 || rec.FraudProbability >= 1 {
			t.Errorf("probability out of range: %f", rec.FraudProbability)
		}
	})

	t.Run("GetRun", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/runs/"+trained.RunID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var run domain.TrainingRun
		if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if run.ID != trained.RunID {
			t.Errorf("expected run %s, got %s", trained.RunID, run.ID)
		}
	})

	t.Run("ListRuns", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/runs", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Runs  []*domain.TrainingRun `json:"runs"`
			Count int                   `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Count < 1 {
			t.Error("expected at least one training run")
		}
	})

	t.Run("AlertsLifecycle", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/alerts?status="+domain.AlertOpen, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Alerts []*domain.FraudAlert `json:"alerts"`
			Count  int                  `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Count == 0 {
			t.Fatal("expected open alerts after training on a seeded fraud set")
		}

		alertID := resp.Alerts[0].ID
		upd := doRequest(t, server, http.MethodPut, "/alerts/"+alertID, UpdateAlertRequest{
			Status: domain.AlertReviewed,
			Notes:  "checked against the customer profile",
		})
		if upd.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", upd.Code, upd.Body.String())
		}

		bad := doRequest(t, server, http.MethodPut, "/alerts/"+alertID, UpdateAlertRequest{
			Status: "SHREDDED",
		})
		if bad.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400 for invalid status, got %d", bad.Code)
		}
	})
}

func TestTrainEmptyDataset(t *testing.T) {
	server, _ := createTestServer(t)

	rr := doRequest(t, server, http.MethodPost, "/train", nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestScoreWithoutArtifact(t *testing.T) {
	server, repo := createTestServer(t)
	seedDataset(t, repo, 200)

	rr := doRequest(t, server, http.MethodPost, "/score", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d: %s", rr.Code, rr.Body.String())
	}
}
