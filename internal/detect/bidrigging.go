package detect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// BidRigging detects collusive bidding: near-identical bid amounts within a
// bidding process and rotating winners across processes with the same
// participant set.
type BidRigging struct{}

func (BidRigging) Name() string { return "bid_rigging" }

func (BidRigging) Applicable(batch *domain.Batch) bool {
	return len(batch.Contracts) > 0
}

func (BidRigging) Detect(batch *domain.Batch, cfg domain.Thresholds) []domain.Pattern {
	groups := make(map[string][]domain.Contract)
	for _, c := range batch.Contracts {
		if c.BiddingProcessID == "" {
			continue
		}
		groups[c.BiddingProcessID] = append(groups[c.BiddingProcessID], c)
	}

	var patterns []domain.Pattern

	for _, pid := range sortedKeys(groups) {
		bids := groups[pid]
		if len(bids) < 2 {
			continue
		}

		maxSim := 0.0
		for i := 0; i < len(bids); i++ {
			for j := i + 1; j < len(bids); j++ {
				if sim := bidSimilarity(bids[i].BidAmount, bids[j].BidAmount); sim > maxSim {
					maxSim = sim
				}
			}
		}

		th := cfg.BidSimilarityThreshold
		if th >= 1 || maxSim < th {
			continue
		}

		// 0.7 at the threshold, ramping to 0.8 as similarity approaches 1.
		excess := (maxSim - th) / (1 - th)
		if excess > 1 {
			excess = 1
		}
		conf := 0.7 + 0.1*excess
		if conf > 0.8 {
			conf = 0.8
		}

		total := 0.0
		entities := make([]string, 0, len(bids))
		for _, b := range bids {
			total += b.BidAmount
			entities = append(entities, b.VendorID)
		}

		p := domain.Pattern{
			FraudType: domain.FraudBidRigging,
			Severity:  domain.SeverityHigh,
			Indicators: []domain.Indicator{
				indicator("identical_bid_amounts",
					fmt.Sprintf("bids in process %s differ by less than %.0f%%", pid, (1-maxSim)*100),
					conf,
					domain.EvText("bidding_process", pid),
					domain.EvNumber("max_similarity", maxSim),
					domain.EvNumber("bid_count", float64(len(bids))),
				),
			},
			Entities:        entities,
			EstimatedImpact: 0.10 * total,
			Recommendations: []string{
				"review bid documents for shared authorship",
				"compare bid preparation timestamps across vendors",
			},
		}
		p.Seal()
		patterns = append(patterns, p)
	}

	patterns = append(patterns, detectRotation(groups, cfg)...)

	return patterns
}

// bidSimilarity is 1 when two bids are equal and falls toward 0 as they
// diverge.
func bidSimilarity(a, b float64) float64 {
	max := a
	if b > max {
		max = b
	}
	if max <= 0 {
		return 0
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return 1 - diff/max
}

// processSummary captures one bidding process for rotation analysis.
type processSummary struct {
	id           string
	participants []string // sorted vendor IDs
	winner       string
	date         int64 // earliest contract date in the process
	total        float64
}

// detectRotation finds repeating winner cycles across bidding processes that
// share the same participant set. The winner of a process is taken to be the
// lowest bidder (ties broken by earlier contract date, then vendor ID).
func detectRotation(groups map[string][]domain.Contract, cfg domain.Thresholds) []domain.Pattern {
	summaries := make(map[string][]processSummary) // key: participant signature

	for _, pid := range sortedKeys(groups) {
		bids := groups[pid]
		if len(bids) < 2 {
			continue
		}

		winner := bids[0]
		earliest := bids[0].ContractDate
		seen := make(map[string]bool)
		for _, b := range bids {
			seen[b.VendorID] = true
			if b.ContractDate.Before(earliest) {
				earliest = b.ContractDate
			}
			if b.BidAmount < winner.BidAmount ||
				(b.BidAmount == winner.BidAmount && (b.ContractDate.Before(winner.ContractDate) ||
					(b.ContractDate.Equal(winner.ContractDate) && b.VendorID < winner.VendorID))) {
				winner = b
			}
		}

		participants := sortedKeys(seen)
		if len(participants) < cfg.RotationMinCycle {
			continue
		}

		total := 0.0
		for _, b := range bids {
			total += b.BidAmount
		}

		sig := strings.Join(participants, ",")
		summaries[sig] = append(summaries[sig], processSummary{
			id:           pid,
			participants: participants,
			winner:       winner.VendorID,
			date:         earliest.UnixNano(),
			total:        total,
		})
	}

	var patterns []domain.Pattern

	for _, sig := range sortedKeys(summaries) {
		procs := summaries[sig]
		if len(procs) <= cfg.RotationMinCycle {
			continue
		}
		sort.Slice(procs, func(i, j int) bool {
			if procs[i].date != procs[j].date {
				return procs[i].date < procs[j].date
			}
			return procs[i].id < procs[j].id
		})

		start, cycleLen := findWinnerCycle(procs, cfg.RotationMinCycle)
		if cycleLen == 0 {
			continue
		}

		total := 0.0
		ids := make([]string, 0, len(procs))
		for _, p := range procs {
			total += p.total
			ids = append(ids, p.id)
		}

		p := domain.Pattern{
			FraudType: domain.FraudBidRigging,
			Severity:  domain.SeverityHigh,
			Indicators: []domain.Indicator{
				indicator("rotation_pattern",
					fmt.Sprintf("winner rotation of length %d across %d bidding processes", cycleLen, len(procs)),
					0.75,
					domain.EvText("processes", strings.Join(ids, ",")),
					domain.EvNumber("cycle_length", float64(cycleLen)),
					domain.EvEntity("repeat_winner", procs[start].winner),
				),
			},
			Entities:        procs[0].participants,
			EstimatedImpact: 0.10 * total,
			Recommendations: []string{
				"audit award decisions across the rotating processes",
				"check for communication between the rotating vendors",
			},
		}
		p.Seal()
		patterns = append(patterns, p)
	}

	return patterns
}

// findWinnerCycle scans a date-ordered winner sequence for the first position
// where a winner repeats after at least minCycle distinct interim winners.
// Returns the start index and cycle length, or (0, 0) when none exists.
func findWinnerCycle(procs []processSummary, minCycle int) (int, int) {
	for i := 0; i < len(procs); i++ {
		seen := map[string]int{procs[i].winner: i}
		for j := i + 1; j < len(procs); j++ {
			w := procs[j].winner
			if prev, ok := seen[w]; ok {
				if prev == i && j-i >= minCycle {
					return i, j - i
				}
				break // interim repeat, restart from a later index
			}
			seen[w] = j
		}
	}
	return 0, 0
}
