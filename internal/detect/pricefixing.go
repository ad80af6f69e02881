package detect

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// PriceFixing detects cartel pricing within a contract category: vendor mean
// prices that are implausibly uniform, and price increases coordinated across
// vendors within a rolling window.
type PriceFixing struct{}

func (PriceFixing) Name() string { return "price_fixing" }

func (PriceFixing) Applicable(batch *domain.Batch) bool {
	return len(batch.Contracts) > 0
}

func (PriceFixing) Detect(batch *domain.Batch, cfg domain.Thresholds) []domain.Pattern {
	byCategory := make(map[string][]domain.Contract)
	for _, c := range batch.Contracts {
		if c.Category == "" {
			continue
		}
		byCategory[c.Category] = append(byCategory[c.Category], c)
	}

	var patterns []domain.Pattern

	for _, cat := range sortedKeys(byCategory) {
		contracts := byCategory[cat]

		byVendor := make(map[string][]float64)
		total := 0.0
		for _, c := range contracts {
			byVendor[c.VendorID] = append(byVendor[c.VendorID], c.BidAmount)
			total += c.BidAmount
		}

		var indicators []domain.Indicator

		// Uniform vendor means: cv below threshold only makes sense with at
		// least two vendors and a nonzero mean.
		if len(byVendor) >= 2 {
			vendorIDs := sortedKeys(byVendor)
			means := make([]float64, 0, len(vendorIDs))
			for _, vid := range vendorIDs {
				means = append(means, mean(byVendor[vid]))
			}
			if m := mean(means); m != 0 {
				cv := stddev(means) / m
				if cv < cfg.PriceDeviationCV {
					conf := 0.75 - 0.05*(cv/cfg.PriceDeviationCV)
					indicators = append(indicators, indicator("identical_pricing_across_vendors",
						fmt.Sprintf("vendor mean prices in %s vary by only %.1f%%", cat, cv*100),
						conf,
						domain.EvText("category", cat),
						domain.EvNumber("coefficient_of_variation", cv),
						domain.EvNumber("vendor_count", float64(len(byVendor))),
					))
				}
			}
		}

		if ind, ok := uniformIncreases(contracts, cfg); ok {
			indicators = append(indicators, ind)
		}

		if len(indicators) == 0 {
			continue
		}

		entities := sortedKeys(byVendor)

		p := domain.Pattern{
			FraudType:       domain.FraudPriceFixing,
			Severity:        domain.SeverityHigh,
			Indicators:      indicators,
			Entities:        entities,
			EstimatedImpact: 0.15 * total,
			Recommendations: []string{
				"benchmark category prices against the open market",
				"review vendor communications around award dates",
			},
		}
		p.Seal()
		patterns = append(patterns, p)
	}

	return patterns
}

// priceIncrease records one consecutive price rise for a vendor.
type priceIncrease struct {
	vendor string
	date   int64 // date of the later contract
	pct    float64
}

// uniformIncreases looks for two or more vendors raising prices by a similar
// percentage within the same rolling window.
func uniformIncreases(contracts []domain.Contract, cfg domain.Thresholds) (domain.Indicator, bool) {
	byVendor := make(map[string][]domain.Contract)
	for _, c := range contracts {
		byVendor[c.VendorID] = append(byVendor[c.VendorID], c)
	}

	var increases []priceIncrease
	for _, vid := range sortedKeys(byVendor) {
		cs := byVendor[vid]
		sort.Slice(cs, func(i, j int) bool {
			if !cs[i].ContractDate.Equal(cs[j].ContractDate) {
				return cs[i].ContractDate.Before(cs[j].ContractDate)
			}
			return cs[i].ID < cs[j].ID
		})
		for i := 1; i < len(cs); i++ {
			prev, cur := cs[i-1].BidAmount, cs[i].BidAmount
			if prev <= 0 || cur <= prev {
				continue
			}
			increases = append(increases, priceIncrease{
				vendor: vid,
				date:   cs[i].ContractDate.UnixNano(),
				pct:    (cur - prev) / prev,
			})
		}
	}
	if len(increases) < 2 {
		return domain.Indicator{}, false
	}

	sort.Slice(increases, func(i, j int) bool {
		if increases[i].date != increases[j].date {
			return increases[i].date < increases[j].date
		}
		return increases[i].vendor < increases[j].vendor
	})

	window := cfg.PriceIncreaseWindow.Nanoseconds()
	for i := range increases {
		vendors := map[string]bool{increases[i].vendor: true}
		for j := i + 1; j < len(increases); j++ {
			if increases[j].date-increases[i].date > window {
				break
			}
			diff := increases[j].pct - increases[i].pct
			if diff < 0 {
				diff = -diff
			}
			if diff <= cfg.PriceIncreaseTolerance {
				vendors[increases[j].vendor] = true
			}
		}
		if len(vendors) >= 2 {
			return indicator("uniform_price_increases",
				fmt.Sprintf("%d vendors raised prices by ~%.1f%% within the same window",
					len(vendors), increases[i].pct*100),
				0.7,
				domain.EvNumber("vendor_count", float64(len(vendors))),
				domain.EvNumber("increase_pct", increases[i].pct),
			), true
		}
	}
	return domain.Indicator{}, false
}
