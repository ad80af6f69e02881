package detect

import (
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestBenford_FabricatedAmountsFlagged(t *testing.T) {
	// Forty invoices all leading with 9: about as far from Benford's
	// expected 4.6% share for the digit as a series can get.
	var invoices []domain.Invoice
	for i := 0; i < 40; i++ {
		invoices = append(invoices, domain.Invoice{
			VendorID:      "v-fab",
			Amount:        9000 + float64(i)*13,
			InvoiceNumber: "F-" + string(rune('a'+i%26)),
		})
	}

	patterns := Benford{}.Detect(&domain.Batch{Invoices: invoices}, domain.DefaultThresholds())

	if len(patterns) != 1 {
		t.Fatalf("Expected 1 pattern, got %d", len(patterns))
	}
	p := patterns[0]

	if p.FraudType != domain.FraudFalseClaims {
		t.Errorf("Expected false_claims, got %s", p.FraudType)
	}
	if p.Severity != domain.SeverityHigh {
		t.Errorf("Expected high severity for an extreme deviation, got %s", p.Severity)
	}
	if p.Confidence != 0.9 {
		t.Errorf("Expected confidence 0.9, got %v", p.Confidence)
	}
	// Benford applies to amount series, not to individual entities.
	if len(p.Entities) != 0 {
		t.Errorf("Expected no entities, got %v", p.Entities)
	}
}

func TestBenford_SampleFloorRespected(t *testing.T) {
	// The same skew with only 20 values is statistically meaningless.
	var invoices []domain.Invoice
	for i := 0; i < 20; i++ {
		invoices = append(invoices, domain.Invoice{
			VendorID: "v-few",
			Amount:   9000 + float64(i)*13,
		})
	}

	patterns := Benford{}.Detect(&domain.Batch{Invoices: invoices}, domain.DefaultThresholds())
	if len(patterns) != 0 {
		t.Errorf("Expected no patterns below the sample floor, got %+v", patterns)
	}
}

func TestBenford_NaturalDistributionPasses(t *testing.T) {
	// Build a series with digit counts matching the Benford expectation for
	// n = 100; chi-square over it is near zero.
	var txs []domain.Transaction
	n := 100
	for d := 1; d <= 9; d++ {
		count := int(math.Round(float64(n) * math.Log10(1+1/float64(d))))
		for i := 0; i < count; i++ {
			txs = append(txs, domain.Transaction{
				PayerID:     "p",
				RecipientID: "r",
				Amount:      float64(d)*1000 + float64(i),
			})
		}
	}

	patterns := Benford{}.Detect(&domain.Batch{Transactions: txs}, domain.DefaultThresholds())
	if len(patterns) != 0 {
		t.Errorf("Expected no patterns for a Benford-conforming series, got %+v", patterns)
	}
}

func TestLeadingDigit(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{123.45, 1},
		{0.0072, 7},
		{9, 9},
		{-850, 8},
		{0, 0},
		{math.NaN(), 0},
		{math.Inf(1), 0},
	}
	for _, tt := range tests {
		if got := leadingDigit(tt.in); got != tt.want {
			t.Errorf("leadingDigit(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
