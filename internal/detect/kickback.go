package detect

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Kickback detects payments flowing out of a winning vendor shortly after a
// contract award: round-sum payments to individuals and payments sized as a
// clean percentage of the contract value.
type Kickback struct{}

func (Kickback) Name() string { return "kickback_scheme" }

func (Kickback) Applicable(batch *domain.Batch) bool {
	return len(batch.Contracts) > 0 && len(batch.Transactions) > 0
}

// percentage points that flag a payment as a likely kickback cut
var kickbackCuts = []float64{5, 10, 15, 20, 25}

func (Kickback) Detect(batch *domain.Batch, cfg domain.Thresholds) []domain.Pattern {
	byPayer := make(map[string][]domain.Transaction)
	for _, tx := range batch.Transactions {
		byPayer[tx.PayerID] = append(byPayer[tx.PayerID], tx)
	}
	for _, txs := range byPayer {
		sort.Slice(txs, func(i, j int) bool {
			if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
				return txs[i].Timestamp.Before(txs[j].Timestamp)
			}
			return txs[i].RecipientID < txs[j].RecipientID
		})
	}

	// Recipients that are themselves registered vendors are corporate;
	// round payments only look suspicious when paid to individuals.
	corporate := make(map[string]bool)
	for _, v := range batch.Vendors {
		corporate[v.VendorID] = true
	}
	for _, c := range batch.Contracts {
		corporate[c.VendorID] = true
	}

	contracts := append([]domain.Contract(nil), batch.Contracts...)
	sort.Slice(contracts, func(i, j int) bool { return contracts[i].ID < contracts[j].ID })

	window := time.Duration(cfg.KickbackWindowDays) * 24 * time.Hour

	var patterns []domain.Pattern

	for _, c := range contracts {
		var indicators []domain.Indicator
		kinds := make(map[string]bool)
		entities := []string{c.VendorID}
		flagged := make(map[int]float64) // tx index -> amount, to sum impact once

		for i, tx := range byPayer[c.VendorID] {
			delta := tx.Timestamp.Sub(c.ContractDate)
			if delta <= 0 || delta > window {
				continue
			}

			if !kinds["vendor_payment_after_award"] {
				indicators = append(indicators, indicator("vendor_payment_after_award",
					fmt.Sprintf("vendor paid out %d days after contract award", int(delta.Hours()/24)),
					0.7,
					domain.EvText("contract", c.ID),
					domain.EvEntity("recipient", tx.RecipientID),
					domain.EvMoney("amount", tx.Amount),
				))
				kinds["vendor_payment_after_award"] = true
			}
			flagged[i] = tx.Amount
			entities = append(entities, tx.RecipientID)

			if tx.Amount > 0 && !corporate[tx.RecipientID] && math.Mod(tx.Amount, 5000) == 0 {
				if !kinds["suspicious_round_payment"] {
					indicators = append(indicators, indicator("suspicious_round_payment",
						fmt.Sprintf("round payment of %.0f to an individual recipient", tx.Amount),
						0.75,
						domain.EvEntity("recipient", tx.RecipientID),
						domain.EvMoney("amount", tx.Amount),
					))
					kinds["suspicious_round_payment"] = true
				}
			}

			if c.BidAmount > 0 {
				pct := tx.Amount / c.BidAmount * 100
				for _, cut := range kickbackCuts {
					if math.Abs(pct-cut) < 0.5 {
						if !kinds["percentage_payment"] {
							indicators = append(indicators, indicator("percentage_payment",
								fmt.Sprintf("payment is ~%.0f%% of the contract value", cut),
								0.8,
								domain.EvNumber("percentage", pct),
								domain.EvMoney("amount", tx.Amount),
								domain.EvMoney("contract_value", c.BidAmount),
							))
							kinds["percentage_payment"] = true
						}
						break
					}
				}
			}
		}

		if len(indicators) == 0 {
			continue
		}

		severity := domain.SeverityHigh
		if len(kinds) >= 2 {
			severity = domain.SeverityCritical
		}

		impact := 0.0
		for _, amt := range flagged {
			impact += amt
		}

		p := domain.Pattern{
			FraudType:       domain.FraudKickbackScheme,
			Severity:        severity,
			Indicators:      indicators,
			Entities:        entities,
			EstimatedImpact: impact,
			Recommendations: []string{
				"identify the recipients of post-award payments",
				"cross-check recipients against procurement decision-makers",
			},
		}
		p.Seal()
		patterns = append(patterns, p)
	}

	return patterns
}
