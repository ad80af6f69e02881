package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

func fraudBatch() *domain.Batch {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Batch{
		Contracts: []domain.Contract{
			{ID: "c-1", BiddingProcessID: "bp-1", BidAmount: 100000, VendorID: "v-1", ContractDate: base},
			{ID: "c-2", BiddingProcessID: "bp-1", BidAmount: 101000, VendorID: "v-2", ContractDate: base},
			{ID: "c-3", BiddingProcessID: "bp-1", BidAmount: 100500, VendorID: "v-3", ContractDate: base},
		},
		Transactions: []domain.Transaction{
			{PayerID: "v-1", RecipientID: "x-1", Amount: 9500, Timestamp: base.AddDate(0, 0, 1)},
			{PayerID: "v-1", RecipientID: "x-1", Amount: 9400, Timestamp: base.AddDate(0, 0, 1).Add(3 * time.Hour)},
		},
	}
}

func TestAnalyze_EmptyBatch(t *testing.T) {
	eng := New()

	result, err := eng.Analyze(context.Background(), &domain.Batch{}, domain.DefaultThresholds())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if result.OverallRiskLevel != domain.SeverityLow {
		t.Errorf("Expected low risk, got %s", result.OverallRiskLevel)
	}
	if len(result.Patterns) != 0 {
		t.Errorf("Expected no patterns, got %d", len(result.Patterns))
	}
	if result.Patterns == nil || result.HighRiskEntities == nil {
		t.Error("Expected non-nil result slices for JSON encoding")
	}
	if result.Metadata.EngineVersion != Version {
		t.Errorf("Expected engine version %s, got %s", Version, result.Metadata.EngineVersion)
	}
}

func TestAnalyze_NilBatch(t *testing.T) {
	eng := New()

	result, err := eng.Analyze(context.Background(), nil, domain.DefaultThresholds())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result.OverallRiskLevel != domain.SeverityLow {
		t.Errorf("Expected low risk for nil batch, got %s", result.OverallRiskLevel)
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	eng := New()
	batch := fraudBatch()
	cfg := domain.DefaultThresholds()

	first, err := eng.Analyze(context.Background(), batch, cfg)
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	second, err := eng.Analyze(context.Background(), batch, cfg)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	// Timing metadata varies; everything else must be bit-identical.
	first.Metadata.TotalMs = 0
	second.Metadata.TotalMs = 0

	j1, _ := json.Marshal(first)
	j2, _ := json.Marshal(second)
	if string(j1) != string(j2) {
		t.Errorf("Results differ across runs:\n%s\n%s", j1, j2)
	}
}

func TestAnalyze_PatternOrdering(t *testing.T) {
	// Detector output must follow registration order regardless of which
	// goroutine finishes first, with complex schemes appended last.
	eng := New()
	batch := fraudBatch()

	result, err := eng.Analyze(context.Background(), batch, domain.DefaultThresholds())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if len(result.Patterns) < 2 {
		t.Fatalf("Expected bid rigging and structuring patterns, got %d", len(result.Patterns))
	}
	if result.Patterns[0].FraudType != domain.FraudBidRigging {
		t.Errorf("Expected bid_rigging first, got %s", result.Patterns[0].FraudType)
	}

	sawScheme := false
	for _, p := range result.Patterns {
		if p.FraudType == domain.FraudComplexScheme {
			sawScheme = true
		} else if sawScheme {
			t.Error("Detector pattern found after a complex scheme")
		}
	}
	// v-1 is in both bid rigging and structuring: the correlator must fire.
	if !sawScheme {
		t.Error("Expected a complex scheme for v-1")
	}
}

func TestAnalyze_DetectorsSkippedForAbsentRecords(t *testing.T) {
	eng := New()
	batch := &domain.Batch{
		Vendors: []domain.Vendor{
			{VendorID: "v-1", Name: "Solo", RegistrationDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
	}

	result, err := eng.Analyze(context.Background(), batch, domain.DefaultThresholds())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	// Only the phantom-vendor detector applies to a vendors-only batch.
	if result.Metadata.DetectorsRun != 1 {
		t.Errorf("Expected 1 detector run, got %d", result.Metadata.DetectorsRun)
	}
	if result.Metadata.DetectorsSkipped != 8 {
		t.Errorf("Expected 8 detectors skipped, got %d", result.Metadata.DetectorsSkipped)
	}
}

func TestAnalyze_SanitizeCountsDropped(t *testing.T) {
	eng := New()
	batch := &domain.Batch{
		Invoices: []domain.Invoice{
			{VendorID: "v-1", Amount: 100, InvoiceNumber: "I-1"},
			{VendorID: "", Amount: 200, InvoiceNumber: "I-2"},
		},
	}

	result, err := eng.Analyze(context.Background(), batch, domain.DefaultThresholds())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result.Metadata.RecordsDropped != 1 {
		t.Errorf("Expected 1 dropped record, got %d", result.Metadata.RecordsDropped)
	}
	if result.Metadata.RecordsAnalyzed != 1 {
		t.Errorf("Expected 1 analyzed record, got %d", result.Metadata.RecordsAnalyzed)
	}
	// The caller's batch stays untouched.
	if len(batch.Invoices) != 2 {
		t.Errorf("Caller batch was mutated: %d invoices left", len(batch.Invoices))
	}
}

// slowDetector blocks until its delay elapses, to push past a deadline.
type slowDetector struct {
	delay time.Duration
}

func (slowDetector) Name() string { return "slow" }

func (slowDetector) Applicable(*domain.Batch) bool { return true }

func (d slowDetector) Detect(batch *domain.Batch, cfg domain.Thresholds) []domain.Pattern {
	time.Sleep(d.delay)
	p := domain.Pattern{
		FraudType:       domain.FraudFalseClaims,
		Severity:        domain.SeverityMedium,
		Indicators:      []domain.Indicator{{Kind: "slow", Confidence: 0.7, RiskScore: 7}},
		Entities:        []string{"v-slow"},
		EstimatedImpact: 100,
	}
	p.Seal()
	return []domain.Pattern{p}
}

func TestAnalyze_PartialOnDeadline(t *testing.T) {
	eng := New(WithDetectors([]detect.Detector{slowDetector{delay: 50 * time.Millisecond}}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	result, err := eng.Analyze(ctx, fraudBatch(), domain.DefaultThresholds())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if !result.Partial {
		t.Error("Expected a partial result after the deadline")
	}
	// The detector's own patterns survive; correlation is skipped.
	if len(result.Patterns) != 1 {
		t.Errorf("Expected the slow detector's pattern, got %d", len(result.Patterns))
	}
	for _, p := range result.Patterns {
		if p.FraudType == domain.FraudComplexScheme {
			t.Error("Correlator must not run on a partial result")
		}
	}
}

func TestAnalyze_OverlayPatternsIncluded(t *testing.T) {
	overlay, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	err = overlay.LoadRule(&domain.RuleConfig{
		ID:         "huge-contract",
		Name:       "Huge Contract",
		Target:     domain.RuleTargetContract,
		Expression: "amount > 50000.0",
		FraudType:  domain.FraudFalseClaims,
		Confidence: 0.6,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("LoadRule failed: %v", err)
	}

	eng := New(WithOverlay(overlay))

	result, err := eng.Analyze(context.Background(), fraudBatch(), domain.DefaultThresholds())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	found := false
	for _, p := range result.Patterns {
		for _, ind := range p.Indicators {
			if ind.Kind == "huge-contract" {
				found = true
			}
		}
	}
	if !found {
		t.Error("Expected the overlay rule's pattern in the result")
	}
}

func TestWithMaxWorkers(t *testing.T) {
	eng := New(WithMaxWorkers(2))
	if eng.maxWorkers != 2 {
		t.Errorf("Expected 2 workers, got %d", eng.maxWorkers)
	}

	// Non-positive values keep the default.
	eng = New(WithMaxWorkers(0))
	if eng.maxWorkers != 9 {
		t.Errorf("Expected default 9 workers, got %d", eng.maxWorkers)
	}
}
