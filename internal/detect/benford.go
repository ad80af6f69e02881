package detect

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Benford tests each amount series against the expected leading-digit
// distribution. Fabricated figures tend to flatten the histogram; a large
// chi-square statistic flags the series as likely false claims.
type Benford struct{}

func (Benford) Name() string { return "benford" }

func (Benford) Applicable(batch *domain.Batch) bool {
	return len(batch.Invoices) > 0 || len(batch.Contracts) > 0 || len(batch.Transactions) > 0
}

// Chi-square critical values for 8 degrees of freedom.
const (
	chiSq8p001 = 26.12 // p < 0.001
	chiSq8p01  = 20.09 // p < 0.01
	chiSq8p05  = 15.51 // p < 0.05
)

func (Benford) Detect(batch *domain.Batch, cfg domain.Thresholds) []domain.Pattern {
	series := []struct {
		name   string
		values []float64
	}{
		{"invoice_amounts", invoiceAmounts(batch.Invoices)},
		{"contract_amounts", contractAmounts(batch.Contracts)},
		{"transaction_amounts", transactionAmounts(batch.Transactions)},
	}

	var patterns []domain.Pattern

	for _, s := range series {
		p, ok := analyzeSeries(s.name, s.values, cfg.BenfordMinSamples)
		if ok {
			patterns = append(patterns, p)
		}
	}

	return patterns
}

// analyzeSeries runs the chi-square goodness-of-fit test on one value
// series. Fewer than minSamples usable values is not an error, just
// insufficient data.
func analyzeSeries(name string, values []float64, minSamples int) (domain.Pattern, bool) {
	var digits [10]int
	n := 0
	total := 0.0
	for _, v := range values {
		d := leadingDigit(v)
		if d == 0 {
			continue
		}
		digits[d]++
		n++
		total += v
	}
	if n < minSamples {
		return domain.Pattern{}, false
	}

	chi2 := 0.0
	for d := 1; d <= 9; d++ {
		expected := float64(n) * math.Log10(1+1/float64(d))
		diff := float64(digits[d]) - expected
		chi2 += diff * diff / expected
	}

	var conf float64
	var severity domain.Severity
	switch {
	case chi2 > chiSq8p001:
		conf, severity = 0.9, domain.SeverityHigh
	case chi2 > chiSq8p01:
		conf, severity = 0.8, domain.SeverityMedium
	case chi2 > chiSq8p05:
		conf, severity = 0.7, domain.SeverityMedium
	default:
		return domain.Pattern{}, false
	}

	p := domain.Pattern{
		FraudType: domain.FraudFalseClaims,
		Severity:  severity,
		Indicators: []domain.Indicator{
			indicator("benford_deviation",
				fmt.Sprintf("leading digits of %s deviate from Benford's law (chi-square %.2f, %d values)", name, chi2, n),
				conf,
				domain.EvText("series", name),
				domain.EvNumber("chi_square", chi2),
				domain.EvNumber("sample_size", float64(n)),
			),
		},
		EstimatedImpact: 0.05 * total,
		Recommendations: []string{
			"sample the flagged series for supporting documentation",
			"compare digit distribution against prior periods",
		},
	}
	p.Seal()
	return p, true
}

// leadingDigit returns the first significant digit of v (1..9), or 0 when v
// has none (zero, negative after abs handling yields none for v == 0).
func leadingDigit(v float64) int {
	v = math.Abs(v)
	if v == 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	for v >= 10 {
		v /= 10
	}
	for v < 1 {
		v *= 10
	}
	return int(v)
}

func invoiceAmounts(invoices []domain.Invoice) []float64 {
	out := make([]float64, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, inv.Amount)
	}
	return out
}

func contractAmounts(contracts []domain.Contract) []float64 {
	out := make([]float64, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, c.BidAmount)
	}
	return out
}

func transactionAmounts(txs []domain.Transaction) []float64 {
	out := make([]float64, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.Amount)
	}
	return out
}
