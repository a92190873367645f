package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	pipe    *pipeline.Pipeline
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, pipe *pipeline.Pipeline, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		pipe:    pipe,
		version: version,
	}
}

// Health returns overall service health including collaborator checks.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// IngestTransactions handles POST /transactions, upserting a batch of
// historical transactions into the repository.
func (h *Handler) IngestTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var txs []*domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&txs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(txs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one transaction is required",
		})
		return
	}

	if err := h.repo.SaveTransactions(ctx, txs); err != nil {
		if errors.Is(err, repository.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("failed to ingest transactions", "count", len(txs), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transactions",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"ingested": len(txs),
	})
}

// TrainResponse is the response for POST /train.
type TrainResponse struct {
	RunID        string             `json:"runId"`
	ArtifactPath string             `json:"artifactPath"`
	Transactions int                `json:"transactions"`
	Flagged      int                `json:"flagged"`
	FraudRate    float64            `json:"fraudRate"`
	DurationMs   int64              `json:"durationMs"`
	Reports      []*evaluateReport  `json:"reports,omitempty"`
	TraceID      string             `json:"traceId,omitempty"`
}

type evaluateReport struct {
	Name   string  `json:"name"`
	ROCAUC float64 `json:"rocAuc"`
}

// Train handles POST /train, running a full training pass over the
// stored transaction set.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res, err := h.pipe.Train(ctx)
	if err != nil {
		var pe *domain.PhaseError
		if errors.As(err, &pe) && errors.Is(err, domain.ErrInputData) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": err.Error(),
				"phase": pe.Phase,
			})
			return
		}
		slog.Error("training failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "training failed",
		})
		return
	}

	resp := &TrainResponse{
		RunID:        res.Run.ID,
		ArtifactPath: res.ArtifactPath,
		Transactions: res.Run.Transactions,
		Flagged:      res.Run.Flagged,
		FraudRate:    res.Run.FraudRate,
		DurationMs:   res.Run.DurationMs,
		TraceID:      GetTraceID(ctx),
	}
	for _, rep := range res.Reports {
		resp.Reports = append(resp.Reports, &evaluateReport{Name: rep.Name, ROCAUC: rep.ROCAUC})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ScoreRequest is the request body for POST /score.
type ScoreRequest struct {
	// ArtifactPath selects the model artifact to score with. Empty means
	// latest.
	ArtifactPath string `json:"artifactPath,omitempty"`
}

// Score handles POST /score, re-scoring the stored transaction set with
// a persisted model artifact.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ScoreRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	res, err := h.pipe.Score(ctx, req.ArtifactPath)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrIncompatibleModel):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": err.Error(),
			})
		case errors.Is(err, domain.ErrInputData):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": err.Error(),
			})
		default:
			slog.Error("scoring failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "scoring failed",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"artifactPath": res.ArtifactPath,
		"transactions": res.Transactions,
		"flagged":      res.Flagged,
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to retrieve transaction",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetScore retrieves the score record for a transaction, trying the
// cache before the repository.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.cache != nil {
		if rec, err := h.cache.GetScore(ctx, txID); err == nil && rec != nil {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}

	rec, err := h.repo.GetScore(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "score not found",
			})
			return
		}
		slog.Error("failed to get score", "id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to retrieve score",
		})
		return
	}

	if h.cache != nil {
		if err := h.cache.SetScore(ctx, txID, rec, 10*time.Minute); err != nil {
			slog.Warn("failed to cache score", "id", txID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, rec)
}

// ListAlerts returns fraud alerts, optionally filtered by status via
// the ?status= query parameter.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := r.URL.Query().Get("status")

	alerts, err := h.repo.ListAlerts(ctx, status)
	if err != nil {
		slog.Error("failed to list alerts", "status", status, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// UpdateAlertRequest is the request body for PUT /alerts/{id}.
type UpdateAlertRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

// UpdateAlert moves an alert through its review lifecycle.
func (h *Handler) UpdateAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alertID := chi.URLParam(r, "id")

	if alertID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "alert id is required",
		})
		return
	}

	var req UpdateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.repo.UpdateAlertStatus(ctx, alertID, req.Status, req.Notes); err != nil {
		switch {
		case errors.Is(err, repository.ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		case errors.Is(err, repository.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
		default:
			slog.Error("failed to update alert", "id", alertID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to update alert",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     alertID,
		"status": req.Status,
	})
}

// ListRuns returns all recorded training runs, most recent first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runs, err := h.repo.ListTrainingRuns(ctx)
	if err != nil {
		slog.Error("failed to list training runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list training runs",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun retrieves a training run by ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")

	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "run id is required",
		})
		return
	}

	run, err := h.repo.GetTrainingRun(ctx, runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "training run not found",
			})
			return
		}
		slog.Error("failed to get training run", "id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to retrieve training run",
		})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
