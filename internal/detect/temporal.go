package detect

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// TemporalAnomaly flags suspicious activity timing: after-hours and weekend
// concentrations, machine-speed bursts, and days with anomalous volume.
// Temporal findings carry no impact of their own; impact is attributed by
// whichever detectors co-occur on the same entities.
type TemporalAnomaly struct{}

func (TemporalAnomaly) Name() string { return "temporal_anomaly" }

func (TemporalAnomaly) Applicable(batch *domain.Batch) bool {
	return len(batch.Transactions) > 0
}

func (TemporalAnomaly) Detect(batch *domain.Batch, cfg domain.Thresholds) []domain.Pattern {
	txs := append([]domain.Transaction(nil), batch.Transactions...)
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.Before(txs[j].Timestamp)
		}
		return txs[i].PayerID < txs[j].PayerID
	})

	n := float64(len(txs))
	var indicators []domain.Indicator
	involved := make(map[string]bool)

	// Working hours are [06:00, 20:00) local time.
	afterHours := 0
	weekend := 0
	for _, tx := range txs {
		h := tx.Timestamp.Hour()
		if h < 6 || h >= 20 {
			afterHours++
		}
		wd := tx.Timestamp.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			weekend++
		}
	}

	if frac := float64(afterHours) / n; frac > cfg.AfterHoursFraction {
		indicators = append(indicators, indicator("after_hours_activity",
			fmt.Sprintf("%.0f%% of activity outside working hours", frac*100),
			0.7,
			domain.EvNumber("fraction", frac),
			domain.EvNumber("event_count", float64(afterHours)),
		))
		for _, tx := range txs {
			if h := tx.Timestamp.Hour(); h < 6 || h >= 20 {
				involved[tx.PayerID] = true
			}
		}
	}

	if frac := float64(weekend) / n; frac > cfg.WeekendFraction {
		indicators = append(indicators, indicator("weekend_activity",
			fmt.Sprintf("%.0f%% of activity on weekends", frac*100),
			0.65,
			domain.EvNumber("fraction", frac),
			domain.EvNumber("event_count", float64(weekend)),
		))
		for _, tx := range txs {
			if wd := tx.Timestamp.Weekday(); wd == time.Saturday || wd == time.Sunday {
				involved[tx.PayerID] = true
			}
		}
	}

	if burstStart, burstLen := longestBurst(txs); burstLen > cfg.VelocityMinBursts {
		indicators = append(indicators, indicator("velocity_anomaly",
			fmt.Sprintf("%d consecutive events less than a minute apart", burstLen+1),
			0.75,
			domain.EvNumber("gap_count", float64(burstLen)),
			domain.EvTime("burst_start", txs[burstStart].Timestamp),
		))
		for i := burstStart; i <= burstStart+burstLen && i < len(txs); i++ {
			involved[txs[i].PayerID] = true
		}
	}

	if days := clusteredDays(txs); len(days) > 0 {
		first := days[0]
		indicators = append(indicators, indicator("temporal_clustering",
			fmt.Sprintf("%d day(s) with event volume above mean + 2 stddev", len(days)),
			0.7,
			domain.EvText("first_day", first),
			domain.EvNumber("day_count", float64(len(days))),
		))
		flagged := make(map[string]bool, len(days))
		for _, d := range days {
			flagged[d] = true
		}
		for _, tx := range txs {
			if flagged[tx.Timestamp.Format("2006-01-02")] {
				involved[tx.PayerID] = true
			}
		}
	}

	if len(indicators) == 0 {
		return nil
	}

	p := domain.Pattern{
		FraudType:       domain.FraudMoneyLaundering,
		Severity:        domain.SeverityMedium,
		Indicators:      indicators,
		Entities:        sortedKeys(involved),
		EstimatedImpact: 0,
		Recommendations: []string{
			"correlate anomalous windows with staff access logs",
			"review automation or scripted activity on the flagged accounts",
		},
	}
	p.Seal()
	return []domain.Pattern{p}
}

// longestBurst returns the start index and length of the longest run of
// consecutive gaps under one minute.
func longestBurst(txs []domain.Transaction) (int, int) {
	bestStart, bestLen := 0, 0
	runStart, runLen := 0, 0
	for i := 1; i < len(txs); i++ {
		if txs[i].Timestamp.Sub(txs[i-1].Timestamp) < time.Minute {
			if runLen == 0 {
				runStart = i - 1
			}
			runLen++
		} else {
			runLen = 0
		}
		if runLen > bestLen {
			bestStart, bestLen = runStart, runLen
		}
	}
	return bestStart, bestLen
}

// clusteredDays returns the days (ascending) whose event count exceeds
// mean + 2*stddev of the daily counts.
func clusteredDays(txs []domain.Transaction) []string {
	counts := make(map[string]int)
	for _, tx := range txs {
		counts[tx.Timestamp.Format("2006-01-02")]++
	}
	if len(counts) < 2 {
		return nil
	}

	days := sortedKeys(counts)
	values := make([]float64, 0, len(days))
	for _, d := range days {
		values = append(values, float64(counts[d]))
	}
	limit := mean(values) + 2*stddev(values)

	var flagged []string
	for _, d := range days {
		if float64(counts[d]) > limit {
			flagged = append(flagged, d)
		}
	}
	return flagged
}
