package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *engine.Engine
	overlay   *rules.Engine
	engineCfg domain.EngineConfig
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, overlay *rules.Engine, engineCfg domain.EngineConfig, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    eng,
		overlay:   overlay,
		engineCfg: engineCfg,
		version:   version,
	}
}

// AnalyzeRequest is the request body for POST /analyze and POST /batches.
type AnalyzeRequest struct {
	Contracts    []domain.Contract    `json:"contracts,omitempty"`
	Vendors      []domain.Vendor      `json:"vendors,omitempty"`
	Invoices     []domain.Invoice     `json:"invoices,omitempty"`
	Transactions []domain.Transaction `json:"transactions,omitempty"`

	// Thresholds overrides any subset of the default thresholds. The
	// decode target is seeded with the defaults, so fields the caller
	// omits keep their default values.
	Thresholds *domain.Thresholds `json:"thresholds,omitempty"`

	// TimeoutMs caps analysis time; 0 uses the server default.
	TimeoutMs int `json:"timeoutMs,omitempty"`
}

func (r *AnalyzeRequest) batch() *domain.Batch {
	return &domain.Batch{
		Contracts:    r.Contracts,
		Vendors:      r.Vendors,
		Invoices:     r.Invoices,
		Transactions: r.Transactions,
	}
}

// newAnalyzeRequest returns a decode target with Thresholds pointing at the
// defaults. A partial thresholds object in the request body then merges over
// them instead of zeroing the fields it does not name.
func newAnalyzeRequest() AnalyzeRequest {
	defaults := domain.DefaultThresholds()
	return AnalyzeRequest{Thresholds: &defaults}
}

func (r *AnalyzeRequest) thresholds() domain.Thresholds {
	if r.Thresholds != nil {
		return *r.Thresholds
	}
	return domain.DefaultThresholds()
}

// Analyze handles POST /analyze: synchronous batch analysis.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	req := newAnalyzeRequest()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	batch := req.batch()
	if batch.Size() > h.engineCfg.MaxBatchRecords {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": "batch exceeds the per-call record limit; page the batch",
		})
		return
	}

	cfg := req.thresholds()
	cacheKey := analysisCacheKey(batch, cfg)

	// Identical batch + thresholds produce a bit-identical result, so a
	// cache hit can be returned as-is.
	if h.cache != nil {
		if data, err := h.cache.Get(ctx, tenantID, cacheKey); err == nil && data != nil {
			w.Header().Set("X-Cache", "hit")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}
	}

	timeout := time.Duration(h.engineCfg.DefaultTimeoutMs) * time.Millisecond
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	analysisCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := h.engine.Analyze(analysisCtx, batch, cfg)
	if err != nil {
		slog.Error("analysis failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "analysis failed",
		})
		return
	}

	result.ID = uuid.New().String()
	result.Metadata.BatchDigest = batch.Digest()

	if h.repo != nil {
		if err := h.repo.SaveAnalysis(ctx, tenantID, result); err != nil {
			slog.Error("failed to save analysis", "id", result.ID, "error", err)
		}
	}

	if h.cache != nil && !result.Partial {
		if data, err := json.Marshal(result); err == nil {
			if err := h.cache.Set(ctx, tenantID, cacheKey, data, 5*time.Minute); err != nil {
				slog.Debug("failed to cache analysis", "error", err)
			}
		}
	}

	h.publishOutcome(ctx, tenantID, result)

	slog.Info("batch analyzed",
		"analysis_id", result.ID,
		"tenant_id", tenantID,
		"patterns", len(result.Patterns),
		"risk_level", result.OverallRiskLevel.String(),
		"partial", result.Partial,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, result)
}

// SubmitBatch handles POST /batches: asynchronous analysis via the bus.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	req := newAnalyzeRequest()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.batch().Size() > h.engineCfg.MaxBatchRecords {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": "batch exceeds the per-call record limit; page the batch",
		})
		return
	}

	analysisID := uuid.New().String()
	msg := SubmittedBatch{
		AnalysisID: analysisID,
		TenantID:   tenantID,
		Request:    req,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to encode batch",
		})
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicBatchSubmitted, payload); err != nil {
		slog.Error("failed to publish batch", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to submit batch",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"analysisId": analysisID,
		"status":     "submitted",
	})
}

// SubmittedBatch is the bus payload for asynchronously submitted batches.
type SubmittedBatch struct {
	AnalysisID string         `json:"analysisId"`
	TenantID   string         `json:"tenantId"`
	Request    AnalyzeRequest `json:"request"`
}

// GetAnalysis retrieves a stored analysis result by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	analysisID := chi.URLParam(r, "id")

	if analysisID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "analysis id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	result, err := h.repo.GetAnalysis(ctx, tenantID, analysisID)
	if err != nil {
		slog.Error("failed to get analysis", "id", analysisID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
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

// ListRules returns all loaded custom rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.overlay == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	loaded := h.overlay.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a custom rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}
	if h.overlay == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	for _, rule := range h.overlay.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Target      string           `json:"target"`
	Expression  string           `json:"expression"`
	FraudType   domain.FraudType `json:"fraudType"`
	Confidence  float64          `json:"confidence"`
	Enabled     bool             `json:"enabled"`
}

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// CreateRule creates a custom rule, loads it into the overlay engine and
// persists it.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.overlay == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Target:      req.Target,
		Expression:  req.Expression,
		FraudType:   req.FraudType,
		Confidence:  req.Confidence,
		Enabled:     req.Enabled,
	}

	if err := h.overlay.LoadRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, GlobalTenantID, ruleConfig); err != nil {
			slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule": ruleConfig,
	})
}

// ReloadRules reloads all custom rules from the database into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil || h.overlay == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository or rule engine not available",
		})
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.overlay.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(dbRules),
	})
}

// publishOutcome publishes completion and, for High/Critical results, alert
// events. Best effort: failures are logged, never surfaced to the caller.
func (h *Handler) publishOutcome(ctx context.Context, tenantID string, result *domain.AnalysisResult) {
	if h.bus == nil {
		return
	}
	if err := bus.PublishResult(ctx, h.bus, tenantID, result); err != nil {
		slog.Error("failed to publish analysis events", "analysis_id", result.ID, "error", err)
	}
}

// analysisCacheKey derives the cache key from batch content and thresholds.
func analysisCacheKey(batch *domain.Batch, cfg domain.Thresholds) string {
	cfgJSON, _ := json.Marshal(cfg)
	sum := sha256.Sum256(cfgJSON)
	return "analysis:" + batch.Digest() + ":" + hex.EncodeToString(sum[:8])
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
