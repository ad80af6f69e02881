// Package worker provides async batch processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Worker processes submitted batches asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	engine    *engine.Engine
	engineCfg domain.EngineConfig

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global subscription)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, eng *engine.Engine, engineCfg domain.EngineConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		engine:    eng,
		engineCfg: engineCfg,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicBatchSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicBatchSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.processBatch(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicBatchSubmitted,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processBatch(ctx, msg.TenantID, msg)
}

// BatchMessage is the message payload for asynchronous batch analysis.
// It mirrors the wire format published by the API layer.
type BatchMessage struct {
	AnalysisID string       `json:"analysisId"`
	TenantID   string       `json:"tenantId"`
	Request    BatchRequest `json:"request"`
}

// BatchRequest carries the records and per-call options of one submission.
type BatchRequest struct {
	Contracts    []domain.Contract    `json:"contracts,omitempty"`
	Vendors      []domain.Vendor      `json:"vendors,omitempty"`
	Invoices     []domain.Invoice     `json:"invoices,omitempty"`
	Transactions []domain.Transaction `json:"transactions,omitempty"`
	Thresholds   *domain.Thresholds   `json:"thresholds,omitempty"`
	TimeoutMs    int                  `json:"timeoutMs,omitempty"`
}

// processBatch runs a submitted batch through the detection engine.
func (w *Worker) processBatch(ctx context.Context, tenantID string, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	start := time.Now()

	// Seed the decode target with default thresholds so a message carrying
	// a partial thresholds object overrides only the fields it names.
	defaults := domain.DefaultThresholds()
	batchMsg := BatchMessage{Request: BatchRequest{Thresholds: &defaults}}
	if err := json.Unmarshal(msg.Payload, &batchMsg); err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if batchMsg.TenantID != "" {
		tenantID = batchMsg.TenantID
	}

	slog.Debug("processing batch",
		"analysis_id", batchMsg.AnalysisID,
		"tenant_id", tenantID,
	)

	batch := &domain.Batch{
		Contracts:    batchMsg.Request.Contracts,
		Vendors:      batchMsg.Request.Vendors,
		Invoices:     batchMsg.Request.Invoices,
		Transactions: batchMsg.Request.Transactions,
	}

	cfg := domain.DefaultThresholds()
	if batchMsg.Request.Thresholds != nil {
		cfg = *batchMsg.Request.Thresholds
	}

	timeoutMs := batchMsg.Request.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = w.engineCfg.DefaultTimeoutMs
	}
	analysisCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	result, err := w.engine.Analyze(analysisCtx, batch, cfg)
	if err != nil {
		slog.Error("batch analysis failed",
			"analysis_id", batchMsg.AnalysisID,
			"error", err,
		)
		return err
	}
	result.ID = batchMsg.AnalysisID
	result.Metadata.BatchDigest = batch.Digest()

	if w.repo != nil {
		if err := w.repo.SaveAnalysis(ctx, tenantID, result); err != nil {
			slog.Error("failed to save analysis",
				"analysis_id", result.ID,
				"error", err,
			)
		}
	}

	if err := bus.PublishResult(ctx, w.bus, tenantID, result); err != nil {
		slog.Error("failed to publish analysis events",
			"analysis_id", result.ID,
			"error", err,
		)
	}

	slog.Info("batch processed",
		"analysis_id", result.ID,
		"tenant_id", tenantID,
		"patterns", len(result.Patterns),
		"risk_level", result.OverallRiskLevel.String(),
		"partial", result.Partial,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
