package detect

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Structuring detects amounts split to stay just under the reporting
// threshold: multiple sub-threshold payments from one payer inside a rolling
// window.
type Structuring struct{}

func (Structuring) Name() string { return "structuring" }

func (Structuring) Applicable(batch *domain.Batch) bool {
	return len(batch.Transactions) > 0
}

func (Structuring) Detect(batch *domain.Batch, cfg domain.Thresholds) []domain.Pattern {
	if cfg.ReportingThreshold <= 0 {
		return nil
	}
	lo := 0.8 * cfg.ReportingThreshold

	byPayer := make(map[string][]domain.Transaction)
	for _, tx := range batch.Transactions {
		if tx.Amount >= lo && tx.Amount < cfg.ReportingThreshold {
			byPayer[tx.PayerID] = append(byPayer[tx.PayerID], tx)
		}
	}

	var patterns []domain.Pattern

	for _, payer := range sortedKeys(byPayer) {
		txs := byPayer[payer]
		sort.Slice(txs, func(i, j int) bool { return txs[i].Timestamp.Before(txs[j].Timestamp) })

		// Largest count of sub-threshold payments inside any rolling window.
		maxCount := 0
		for i := range txs {
			count := 1
			for j := i + 1; j < len(txs); j++ {
				if txs[j].Timestamp.Sub(txs[i].Timestamp) > cfg.StructuringWindow {
					break
				}
				count++
			}
			if count > maxCount {
				maxCount = count
			}
		}
		if maxCount < cfg.StructuringMinCount {
			continue
		}

		severity := domain.SeverityHigh
		if maxCount >= cfg.StructuringCriticalCount {
			severity = domain.SeverityCritical
		}

		impact := 0.0
		for _, tx := range txs {
			impact += tx.Amount
		}

		p := domain.Pattern{
			FraudType: domain.FraudMoneyLaundering,
			Severity:  severity,
			Indicators: []domain.Indicator{
				indicator("structuring",
					fmt.Sprintf("%d payments within %.0f%%-100%% of the reporting threshold in one window",
						maxCount, lo/cfg.ReportingThreshold*100),
					0.75,
					domain.EvEntity("payer", payer),
					domain.EvNumber("window_count", float64(maxCount)),
					domain.EvMoney("reporting_threshold", cfg.ReportingThreshold),
				),
			},
			Entities:        []string{payer},
			EstimatedImpact: impact,
			Recommendations: []string{
				"file a threshold-avoidance review for the payer",
				"aggregate the split payments and re-check reporting duties",
			},
		}
		p.Seal()
		patterns = append(patterns, p)
	}

	return patterns
}

// CircularPayments detects funds routed through a cycle of entities
// (A -> B -> C -> A) within a bounded time span, using a depth-capped DFS
// from every node rather than full cycle enumeration.
type CircularPayments struct{}

func (CircularPayments) Name() string { return "circular_payments" }

func (CircularPayments) Applicable(batch *domain.Batch) bool {
	return len(batch.Transactions) > 0
}

type edge struct {
	to     string
	amount float64
	ts     time.Time
}

func (CircularPayments) Detect(batch *domain.Batch, cfg domain.Thresholds) []domain.Pattern {
	adj := make(map[string][]edge)
	for _, tx := range batch.Transactions {
		if tx.PayerID == tx.RecipientID {
			continue
		}
		adj[tx.PayerID] = append(adj[tx.PayerID], edge{to: tx.RecipientID, amount: tx.Amount, ts: tx.Timestamp})
	}
	for _, es := range adj {
		sort.Slice(es, func(i, j int) bool {
			if es[i].to != es[j].to {
				return es[i].to < es[j].to
			}
			return es[i].ts.Before(es[j].ts)
		})
	}

	window := time.Duration(cfg.MaxCycleWindowDays) * 24 * time.Hour
	finder := cycleFinder{
		adj:    adj,
		window: window,
		minLen: cfg.MinCycleLength,
		maxLen: cfg.MaxCycleLength,
		seen:   make(map[string]bool),
	}

	// Starting only from the lexicographically smallest node of each cycle
	// dedupes rotations of the same ring.
	for _, start := range sortedKeys(adj) {
		finder.search(start, start, nil, time.Time{}, time.Time{})
	}

	var patterns []domain.Pattern
	for _, cyc := range finder.cycles {
		nodes := make([]string, 0, len(cyc))
		total := 0.0
		hops := make([]string, 0, len(cyc))
		for _, h := range cyc {
			nodes = append(nodes, h.from)
			total += h.amount
			hops = append(hops, fmt.Sprintf("%s->%s", h.from, h.to))
		}

		p := domain.Pattern{
			FraudType:  domain.FraudMoneyLaundering,
			Severity:   domain.SeverityCritical,
			Confidence: 0.85,
			Indicators: []domain.Indicator{
				indicator("circular_payments",
					fmt.Sprintf("funds cycled through %d entities and returned to origin", len(nodes)),
					0.85,
					domain.EvText("path", strings.Join(hops, ", ")),
					domain.EvNumber("cycle_length", float64(len(nodes))),
					domain.EvMoney("cycled_amount", total),
				),
			},
			Entities:        nodes,
			EstimatedImpact: total,
			Recommendations: []string{
				"trace beneficial ownership of every entity in the cycle",
				"freeze further payments along the cycle pending review",
			},
		}
		p.Seal()
		patterns = append(patterns, p)
	}

	return patterns
}

type hop struct {
	from, to string
	amount   float64
	ts       time.Time
}

type cycleFinder struct {
	adj    map[string][]edge
	window time.Duration
	minLen int
	maxLen int
	cycles [][]hop
	seen   map[string]bool // canonical node sequences already emitted
}

// search extends the current path from node, keeping the time spread of the
// path's edges within the window. Cost is bounded by the depth cap, not the
// graph size.
func (f *cycleFinder) search(start, node string, path []hop, minTs, maxTs time.Time) {
	if len(path) >= f.maxLen {
		return
	}
	for _, e := range f.adj[node] {
		lo, hi := minTs, maxTs
		if len(path) == 0 {
			lo, hi = e.ts, e.ts
		} else {
			if e.ts.Before(lo) {
				lo = e.ts
			}
			if e.ts.After(hi) {
				hi = e.ts
			}
			if hi.Sub(lo) > f.window {
				continue
			}
		}

		if e.to == start {
			if len(path)+1 >= f.minLen {
				f.emit(append(append([]hop(nil), path...), hop{from: node, to: e.to, amount: e.amount, ts: e.ts}))
			}
			continue
		}
		// Rotation dedupe: never walk below the start node, and keep the
		// path simple.
		if e.to < start || f.onPath(path, e.to) || e.to == node {
			continue
		}
		f.search(start, e.to, append(path, hop{from: node, to: e.to, amount: e.amount, ts: e.ts}), lo, hi)
	}
}

func (f *cycleFinder) onPath(path []hop, node string) bool {
	for _, h := range path {
		if h.from == node || h.to == node {
			return true
		}
	}
	return false
}

func (f *cycleFinder) emit(cyc []hop) {
	nodes := make([]string, 0, len(cyc))
	for _, h := range cyc {
		nodes = append(nodes, h.from)
	}
	key := strings.Join(nodes, ">")
	if f.seen[key] {
		return
	}
	f.seen[key] = true
	f.cycles = append(f.cycles, cyc)
}
