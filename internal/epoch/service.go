// Package epoch provides the HTTP handlers and orchestration for
// computing, persisting, and serving reward epoch runs.
//
// All monetary values use shopspring/decimal — never float64 for money.
package epoch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/derivex/rewards-engine/internal/export"
	"github.com/derivex/rewards-engine/internal/metrics"
	"github.com/derivex/rewards-engine/internal/model"
	"github.com/derivex/rewards-engine/internal/rewards"
	"github.com/derivex/rewards-engine/internal/store"
)

// DataSource supplies the full market history an epoch computation needs.
// The subgraph client is the production implementation.
type DataSource interface {
	Trades(ctx context.Context) (map[string][]model.Trade, error)
	Transfers(ctx context.Context) (map[string][]model.Transfer, error)
	DeltaSnapshots(ctx context.Context) (map[string]map[int64][]model.DeltaSnapshot, error)
	StrikeDetails(ctx context.Context) (map[string]map[int64]model.StrikeDetails, error)
}

// Service handles epoch runs. Uses a mutex for serialized computation
// (single-instance); a run is a whole-history batch job and two at once
// would only contend for the same indexer and database.
type Service struct {
	store    store.Store
	source   DataSource
	balances rewards.BalanceSource
	cfg      *Config
	mu       sync.Mutex
	wsHub    *WSHub // optional WebSocket hub for completion broadcasts
}

// NewService creates a new epoch service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, source DataSource, balances rewards.BalanceSource, cfg *Config, hub *WSHub) *Service {
	return &Service{
		store:    st,
		source:   source,
		balances: balances,
		cfg:      cfg,
		wsHub:    hub,
	}
}

// ComputeRequest is the JSON body for POST /api/v1/epochs.
type ComputeRequest struct {
	EpochID string `json:"epoch_id"`

	// LatestTimestamp caps still-open exposure intervals; 0 means now.
	LatestTimestamp int64 `json:"latest_timestamp"`
}

// ComputeEpoch handles POST /api/v1/epochs
// Fetches the indexer history, runs the reward computation, persists the
// result, and broadcasts completion.
func (s *Service) ComputeEpoch(w http.ResponseWriter, r *http.Request) {
	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.EpochID == "" {
		writeError(w, "epoch_id is required", http.StatusBadRequest)
		return
	}
	ep, ok := s.cfg.Epoch(req.EpochID)
	if !ok {
		writeError(w, "unknown epoch: "+req.EpochID, http.StatusNotFound)
		return
	}
	latestTs := req.LatestTimestamp
	if latestTs == 0 {
		latestTs = time.Now().Unix()
	}

	ctx := r.Context()

	// Serialize epoch computation.
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()

	trades, err := s.source.Trades(ctx)
	if err != nil {
		s.fetchFailed(w, "trades", err)
		return
	}
	transfers, err := s.source.Transfers(ctx)
	if err != nil {
		s.fetchFailed(w, "transfers", err)
		return
	}
	snapshots, err := s.source.DeltaSnapshots(ctx)
	if err != nil {
		s.fetchFailed(w, "delta snapshots", err)
		return
	}
	strikes, err := s.source.StrikeDetails(ctx)
	if err != nil {
		s.fetchFailed(w, "strike details", err)
		return
	}

	totals, users, anomalies, err := rewards.Compute(rewards.ComputeParams{
		Epoch:           ep,
		Config:          s.cfg.Rewards,
		LatestTimestamp: latestTs,
		Trades:          trades,
		Transfers:       transfers,
		DeltaSnapshots:  snapshots,
		StrikeDetails:   strikes,
		Balances:        s.balances,
	})
	if err != nil {
		var integrity *rewards.IntegrityError
		if errors.As(err, &integrity) {
			metrics.IntegrityFailures.Inc()
		}
		metrics.EpochsComputed.WithLabelValues("error").Inc()
		slog.Error("epoch computation aborted", "epoch", ep.ID, "err", err)
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	metrics.EpochsComputed.WithLabelValues("ok").Inc()
	metrics.ComputeDuration.Observe(time.Since(started).Seconds())
	metrics.ScaleFactor.WithLabelValues("gov").Set(totals.GovScaleFactor.InexactFloat64())
	metrics.ScaleFactor.WithLabelValues("partner").Set(totals.PartnerScaleFactor.InexactFloat64())
	metrics.SoftAnomalies.WithLabelValues("zero_size_transfer").Add(float64(anomalies.ZeroSizeTransfers))
	metrics.SoftAnomalies.WithLabelValues("tied_timestamp").Add(float64(anomalies.TiedTimestamps))
	metrics.SoftAnomalies.WithLabelValues("clamped_conversion").Add(float64(anomalies.ClampedConversions))

	result := &model.EpochResult{
		RunID:          uuid.New().String(),
		EpochID:        ep.ID,
		StartTimestamp: ep.StartTimestamp,
		EndTimestamp:   ep.EndTimestamp,
		Rewards:        totals,
		Users:          users,
		Anomalies:      anomalies,
		ComputedAt:     time.Now().UTC(),
	}

	if err := s.store.SaveEpochResult(ctx, result); err != nil {
		slog.Error("failed to persist epoch run", "run_id", result.RunID, "err", err)
		writeError(w, "failed to persist run", http.StatusInternalServerError)
		return
	}

	slog.Info("epoch computed",
		"run_id", result.RunID,
		"epoch", ep.ID,
		"users", len(users),
		"total_gov", totals.TotalGovRebate.String(),
		"total_partner", totals.TotalPartnerRebate.String(),
		"duration", time.Since(started).String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:               "epoch_computed",
			RunID:              result.RunID,
			EpochID:            ep.ID,
			UserCount:          len(users),
			TotalGovRebate:     totals.TotalGovRebate.String(),
			TotalPartnerRebate: totals.TotalPartnerRebate.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

// ListEpochs handles GET /api/v1/epochs
func (s *Service) ListEpochs(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.ListEpochs(r.Context())
	if err != nil {
		writeError(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []model.EpochSummary{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

// GetEpoch handles GET /api/v1/epochs/{runID}
func (s *Service) GetEpoch(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	result, err := s.store.GetEpochResult(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load run", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GetUserRebate handles GET /api/v1/epochs/{runID}/users/{address}
func (s *Service) GetUserRebate(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	address := chi.URLParam(r, "address")

	rebate, err := s.store.GetUserRebate(r.Context(), runID, address)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "no rebate for that run and address", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load user rebate", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rebate)
}

// ExportCSV handles GET /api/v1/epochs/{runID}/csv
func (s *Service) ExportCSV(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	result, err := s.store.GetEpochResult(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load run", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(result)+`"`)
	if err := export.WriteCSV(w, result); err != nil {
		slog.Error("csv export failed", "run_id", runID, "err", err)
	}
}

func (s *Service) fetchFailed(w http.ResponseWriter, what string, err error) {
	metrics.EpochsComputed.WithLabelValues("fetch_error").Inc()
	slog.Error("indexer fetch failed", "what", what, "err", err)
	writeError(w, "failed to fetch "+what, http.StatusBadGateway)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
