package detect

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// InvoiceFraud detects double billing (identical vendor/amount/date keys) and
// fabricated billing runs (perfectly sequential invoice numbers issued within
// implausibly small time deltas).
type InvoiceFraud struct{}

func (InvoiceFraud) Name() string { return "invoice_fraud" }

func (InvoiceFraud) Applicable(batch *domain.Batch) bool {
	return len(batch.Invoices) > 0
}

func (InvoiceFraud) Detect(batch *domain.Batch, cfg domain.Thresholds) []domain.Pattern {
	byVendor := make(map[string][]domain.Invoice)
	for _, inv := range batch.Invoices {
		byVendor[inv.VendorID] = append(byVendor[inv.VendorID], inv)
	}

	var patterns []domain.Pattern

	for _, vid := range sortedKeys(byVendor) {
		invoices := byVendor[vid]

		var indicators []domain.Indicator
		impact := 0.0
		hasDuplicates := false

		// Duplicate key: (vendor, amount, calendar day).
		dups := make(map[string][]domain.Invoice)
		for _, inv := range invoices {
			key := fmt.Sprintf("%.2f|%s", inv.Amount, inv.Date.Format("2006-01-02"))
			dups[key] = append(dups[key], inv)
		}
		for _, key := range sortedKeys(dups) {
			group := dups[key]
			if len(group) < 2 {
				continue
			}
			hasDuplicates = true
			duplicated := group[0].Amount * float64(len(group)-1)
			impact += duplicated
			indicators = append(indicators, indicator("duplicate_invoices",
				fmt.Sprintf("%d invoices share amount %.2f on %s", len(group), group[0].Amount, group[0].Date.Format("2006-01-02")),
				0.9,
				domain.EvMoney("amount", group[0].Amount),
				domain.EvTime("date", group[0].Date),
				domain.EvNumber("copies", float64(len(group))),
				domain.EvMoney("duplicated_amount", duplicated),
			))
		}

		if ind, runImpact, ok := sequentialRun(invoices, cfg); ok {
			indicators = append(indicators, ind)
			impact += runImpact
		}

		if len(indicators) == 0 {
			continue
		}

		severity := domain.SeverityMedium
		if hasDuplicates {
			severity = domain.SeverityHigh
		}

		p := domain.Pattern{
			FraudType:       domain.FraudInvoiceFraud,
			Severity:        severity,
			Indicators:      indicators,
			Entities:        []string{vid},
			EstimatedImpact: impact,
			Recommendations: []string{
				"reconcile flagged invoices against delivery records",
				"hold payment on duplicates pending review",
			},
		}
		p.Seal()
		patterns = append(patterns, p)
	}

	return patterns
}

// sequentialRun finds the longest run of perfectly consecutive invoice
// numbers whose adjacent issue times are all within the configured gap.
func sequentialRun(invoices []domain.Invoice, cfg domain.Thresholds) (domain.Indicator, float64, bool) {
	type numbered struct {
		n   int64
		inv domain.Invoice
	}
	var nums []numbered
	for _, inv := range invoices {
		if n, ok := invoiceNumber(inv.InvoiceNumber); ok {
			nums = append(nums, numbered{n: n, inv: inv})
		}
	}
	if len(nums) < cfg.SequentialInvoiceMinRun {
		return domain.Indicator{}, 0, false
	}
	sort.Slice(nums, func(i, j int) bool {
		if nums[i].n != nums[j].n {
			return nums[i].n < nums[j].n
		}
		return nums[i].inv.Date.Before(nums[j].inv.Date)
	})

	bestStart, bestLen := 0, 1
	runStart, runLen := 0, 1
	for i := 1; i < len(nums); i++ {
		gap := nums[i].inv.Date.Sub(nums[i-1].inv.Date)
		if gap < 0 {
			gap = -gap
		}
		if nums[i].n == nums[i-1].n+1 && gap <= cfg.SequentialInvoiceMaxGap {
			runLen++
		} else {
			runStart, runLen = i, 1
		}
		if runLen > bestLen {
			bestStart, bestLen = runStart, runLen
		}
	}
	if bestLen < cfg.SequentialInvoiceMinRun {
		return domain.Indicator{}, 0, false
	}

	runTotal := 0.0
	for _, n := range nums[bestStart : bestStart+bestLen] {
		runTotal += n.inv.Amount
	}

	return indicator("sequential_invoice_numbers",
		fmt.Sprintf("%d consecutive invoice numbers issued within %s of each other",
			bestLen, cfg.SequentialInvoiceMaxGap),
		0.7,
		domain.EvText("first_invoice", nums[bestStart].inv.InvoiceNumber),
		domain.EvText("last_invoice", nums[bestStart+bestLen-1].inv.InvoiceNumber),
		domain.EvNumber("run_length", float64(bestLen)),
	), 0.05 * runTotal, true
}

// invoiceNumber extracts the trailing integer of an invoice number, e.g.
// "INV-00042" -> 42.
func invoiceNumber(s string) (int64, bool) {
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, false
	}
	n, err := strconv.ParseInt(s[start:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
