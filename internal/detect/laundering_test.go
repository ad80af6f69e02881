package detect

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestStructuring_FiveSubThresholdPayments(t *testing.T) {
	start := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	var txs []domain.Transaction
	for i := 0; i < 5; i++ {
		txs = append(txs, domain.Transaction{
			PayerID:     "agency-x",
			RecipientID: "v-str",
			Amount:      9500,
			Timestamp:   start.Add(time.Duration(i) * 4 * time.Hour),
		})
	}

	patterns := Structuring{}.Detect(&domain.Batch{Transactions: txs}, domain.DefaultThresholds())

	if len(patterns) != 1 {
		t.Fatalf("Expected 1 pattern, got %d", len(patterns))
	}
	p := patterns[0]

	if p.FraudType != domain.FraudMoneyLaundering {
		t.Errorf("Expected money_laundering, got %s", p.FraudType)
	}
	// Five payments in one window reach the critical count.
	if p.Severity != domain.SeverityCritical {
		t.Errorf("Expected critical severity, got %s", p.Severity)
	}
	if p.EstimatedImpact != 47500 {
		t.Errorf("Expected impact 47500, got %.2f", p.EstimatedImpact)
	}
	if len(p.Entities) != 1 || p.Entities[0] != "agency-x" {
		t.Errorf("Expected payer entity, got %v", p.Entities)
	}
}

func TestStructuring_TwoPaymentsHighSeverity(t *testing.T) {
	start := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	batch := &domain.Batch{
		Transactions: []domain.Transaction{
			{PayerID: "p-1", RecipientID: "r-1", Amount: 9900, Timestamp: start},
			{PayerID: "p-1", RecipientID: "r-1", Amount: 9100, Timestamp: start.Add(6 * time.Hour)},
		},
	}

	patterns := Structuring{}.Detect(batch, domain.DefaultThresholds())

	if len(patterns) != 1 {
		t.Fatalf("Expected 1 pattern, got %d", len(patterns))
	}
	if patterns[0].Severity != domain.SeverityHigh {
		t.Errorf("Expected high severity below the critical count, got %s", patterns[0].Severity)
	}
}

func TestStructuring_AmountsOutsideBandPass(t *testing.T) {
	start := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	batch := &domain.Batch{
		Transactions: []domain.Transaction{
			// Below 80% of the threshold and at/above it: neither counts.
			{PayerID: "p-1", RecipientID: "r-1", Amount: 7500, Timestamp: start},
			{PayerID: "p-1", RecipientID: "r-1", Amount: 7900, Timestamp: start.Add(time.Hour)},
			{PayerID: "p-1", RecipientID: "r-1", Amount: 10000, Timestamp: start.Add(2 * time.Hour)},
			{PayerID: "p-1", RecipientID: "r-1", Amount: 12000, Timestamp: start.Add(3 * time.Hour)},
		},
	}

	patterns := Structuring{}.Detect(batch, domain.DefaultThresholds())
	if len(patterns) != 0 {
		t.Errorf("Expected no patterns outside the structuring band, got %+v", patterns)
	}
}

func TestStructuring_PaymentsOutsideWindowPass(t *testing.T) {
	start := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	batch := &domain.Batch{
		Transactions: []domain.Transaction{
			{PayerID: "p-1", RecipientID: "r-1", Amount: 9500, Timestamp: start},
			{PayerID: "p-1", RecipientID: "r-1", Amount: 9500, Timestamp: start.AddDate(0, 0, 3)},
			{PayerID: "p-1", RecipientID: "r-1", Amount: 9500, Timestamp: start.AddDate(0, 0, 6)},
		},
	}

	patterns := Structuring{}.Detect(batch, domain.DefaultThresholds())
	if len(patterns) != 0 {
		t.Errorf("Expected no patterns when payments are days apart, got %+v", patterns)
	}
}

func TestCircularPayments_ThreeEntityCycle(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	batch := &domain.Batch{
		Transactions: []domain.Transaction{
			{PayerID: "ent-a", RecipientID: "ent-b", Amount: 100000, Timestamp: start},
			{PayerID: "ent-b", RecipientID: "ent-c", Amount: 95000, Timestamp: start.AddDate(0, 0, 7)},
			{PayerID: "ent-c", RecipientID: "ent-a", Amount: 90000, Timestamp: start.AddDate(0, 0, 20)},
		},
	}

	patterns := CircularPayments{}.Detect(batch, domain.DefaultThresholds())

	if len(patterns) != 1 {
		t.Fatalf("Expected 1 pattern, got %d", len(patterns))
	}
	p := patterns[0]

	if p.FraudType != domain.FraudMoneyLaundering {
		t.Errorf("Expected money_laundering, got %s", p.FraudType)
	}
	if p.Severity != domain.SeverityCritical {
		t.Errorf("Expected critical severity, got %s", p.Severity)
	}
	if p.Confidence != 0.85 {
		t.Errorf("Expected confidence 0.85, got %v", p.Confidence)
	}
	if p.EstimatedImpact != 285000 {
		t.Errorf("Expected impact 285000, got %.2f", p.EstimatedImpact)
	}
	if len(p.Entities) != 3 {
		t.Errorf("Expected 3 entities, got %v", p.Entities)
	}
}

func TestCircularPayments_CycleOutsideWindowPass(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	batch := &domain.Batch{
		Transactions: []domain.Transaction{
			{PayerID: "ent-a", RecipientID: "ent-b", Amount: 100000, Timestamp: start},
			{PayerID: "ent-b", RecipientID: "ent-c", Amount: 95000, Timestamp: start.AddDate(0, 1, 0)},
			{PayerID: "ent-c", RecipientID: "ent-a", Amount: 90000, Timestamp: start.AddDate(0, 2, 0)},
		},
	}

	patterns := CircularPayments{}.Detect(batch, domain.DefaultThresholds())
	if len(patterns) != 0 {
		t.Errorf("Expected no patterns when the cycle spans over 30 days, got %+v", patterns)
	}
}

func TestCircularPayments_TwoEntityPingPongPass(t *testing.T) {
	// A -> B -> A is below the minimum cycle length of 3.
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	batch := &domain.Batch{
		Transactions: []domain.Transaction{
			{PayerID: "ent-a", RecipientID: "ent-b", Amount: 50000, Timestamp: start},
			{PayerID: "ent-b", RecipientID: "ent-a", Amount: 48000, Timestamp: start.AddDate(0, 0, 3)},
		},
	}

	patterns := CircularPayments{}.Detect(batch, domain.DefaultThresholds())
	if len(patterns) != 0 {
		t.Errorf("Expected no patterns for a 2-cycle, got %+v", patterns)
	}
}

func TestCircularPayments_RotationsDeduped(t *testing.T) {
	// The same ring entered at different points must produce one pattern.
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	batch := &domain.Batch{
		Transactions: []domain.Transaction{
			{PayerID: "ent-b", RecipientID: "ent-c", Amount: 95000, Timestamp: start.AddDate(0, 0, 7)},
			{PayerID: "ent-c", RecipientID: "ent-a", Amount: 90000, Timestamp: start.AddDate(0, 0, 14)},
			{PayerID: "ent-a", RecipientID: "ent-b", Amount: 100000, Timestamp: start},
		},
	}

	patterns := CircularPayments{}.Detect(batch, domain.DefaultThresholds())
	if len(patterns) != 1 {
		t.Errorf("Expected exactly 1 pattern for one ring, got %d", len(patterns))
	}
}

func TestCircularPayments_SelfPaymentIgnored(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	batch := &domain.Batch{
		Transactions: []domain.Transaction{
			{PayerID: "ent-a", RecipientID: "ent-a", Amount: 100000, Timestamp: start},
		},
	}

	patterns := CircularPayments{}.Detect(batch, domain.DefaultThresholds())
	if len(patterns) != 0 {
		t.Errorf("Expected self-payments to be ignored, got %+v", patterns)
	}
}
