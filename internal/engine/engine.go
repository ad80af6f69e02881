// Package engine orchestrates one analysis call: fan out the detectors over
// an immutable batch, join at a barrier, correlate, aggregate.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/correlate"
	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Version identifies the engine revision in result metadata.
const Version = "kestrel-1.0"

// Engine runs detectors over batches. It holds no per-call state: every
// Analyze call is independent and the engine may be shared across
// goroutines.
type Engine struct {
	detectors  []detect.Detector
	overlay    *rules.Engine // optional custom-rule overlay
	maxWorkers int
}

// Option configures an Engine.
type Option func(*Engine)

// WithDetectors replaces the default detector registry. Used by tests.
func WithDetectors(ds []detect.Detector) Option {
	return func(e *Engine) { e.detectors = ds }
}

// WithOverlay attaches a custom-rule overlay engine.
func WithOverlay(overlay *rules.Engine) Option {
	return func(e *Engine) { e.overlay = overlay }
}

// WithMaxWorkers bounds concurrent detector execution.
func WithMaxWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// New creates an engine with the built-in detector registry.
func New(opts ...Option) *Engine {
	e := &Engine{
		detectors:  detect.Registry(),
		maxWorkers: 9,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Analyze runs every applicable detector over the batch and returns the
// aggregated result. The caller's deadline travels on ctx: if it expires
// after the detector barrier but before correlation finishes, the result
// carries the patterns produced so far with Partial set.
//
// Analyze never mutates the caller's batch and never returns an error for
// an empty batch; an empty batch yields an empty result at Low risk.
func (e *Engine) Analyze(ctx context.Context, batch *domain.Batch, cfg domain.Thresholds) (*domain.AnalysisResult, error) {
	start := time.Now()

	snapshot := cloneBatch(batch)
	dropped := snapshot.Sanitize()
	if dropped > 0 {
		slog.Warn("dropped records missing required fields", "count", dropped)
	}

	result := &domain.AnalysisResult{
		Metadata: domain.AnalysisMetadata{
			RecordsAnalyzed: snapshot.Size(),
			RecordsDropped:  dropped,
			EngineVersion:   Version,
		},
	}

	if snapshot.IsEmpty() {
		aggregate.New(cfg).Build(result)
		result.Metadata.TotalMs = time.Since(start).Milliseconds()
		return result, nil
	}

	outputs := e.runDetectors(ctx, snapshot, cfg, result)

	// Detector patterns in registration order, then overlay patterns, then
	// complex schemes. This ordering is part of the audit contract.
	var patterns []domain.Pattern
	for _, out := range outputs {
		patterns = append(patterns, out...)
	}

	if ctx.Err() != nil {
		// Deadline passed at the barrier: return what we have, skip the
		// correlator.
		result.Partial = true
		slog.Warn("analysis deadline exceeded after detector barrier",
			"patterns", len(patterns),
		)
	} else {
		if e.overlay != nil && e.overlay.RulesCount() > 0 {
			patterns = append(patterns, e.overlay.Evaluate(snapshot)...)
		}
		patterns = append(patterns, correlate.ComplexSchemes(patterns)...)
	}

	result.Patterns = patterns
	aggregate.New(cfg).Build(result)
	result.Metadata.TotalMs = time.Since(start).Milliseconds()

	return result, nil
}

// runDetectors fans the applicable detectors out over worker goroutines and
// waits for all of them. Output slot order matches registration order
// regardless of completion order.
func (e *Engine) runDetectors(ctx context.Context, batch *domain.Batch, cfg domain.Thresholds, result *domain.AnalysisResult) [][]domain.Pattern {
	outputs := make([][]domain.Pattern, len(e.detectors))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, d := range e.detectors {
		if !d.Applicable(batch) {
			result.Metadata.DetectorsSkipped++
			slog.Debug("detector skipped, required records absent", "detector", d.Name())
			continue
		}
		result.Metadata.DetectorsRun++

		wg.Add(1)
		go func(idx int, det detect.Detector) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			t := time.Now()
			outputs[idx] = det.Detect(batch, cfg)
			slog.Debug("detector finished",
				"detector", det.Name(),
				"patterns", len(outputs[idx]),
				"duration_ms", time.Since(t).Milliseconds(),
			)
		}(i, d)
	}

	// The join barrier. Detectors are CPU-bound and not individually
	// cancellable; the deadline is checked after the barrier.
	wg.Wait()

	return outputs
}

// cloneBatch copies the record slices so Sanitize never touches the
// caller's snapshot.
func cloneBatch(b *domain.Batch) *domain.Batch {
	if b == nil {
		return &domain.Batch{}
	}
	return &domain.Batch{
		Contracts:    append([]domain.Contract(nil), b.Contracts...),
		Vendors:      append([]domain.Vendor(nil), b.Vendors...),
		Invoices:     append([]domain.Invoice(nil), b.Invoices...),
		Transactions: append([]domain.Transaction(nil), b.Transactions...),
	}
}
