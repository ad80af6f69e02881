// Package aggregate merges the complete pattern list into the final
// analysis result: overall risk level, ranked entity profiles and total
// estimated impact. It runs single-threaded after the correlator.
package aggregate

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Aggregator computes the final result views over a complete pattern list.
type Aggregator struct {
	// HighRiskScoreFloor is the minimum aggregated score for an entity to
	// appear in highRiskEntities.
	HighRiskScoreFloor float64
}

// New creates an aggregator with the given thresholds.
func New(cfg domain.Thresholds) *Aggregator {
	return &Aggregator{HighRiskScoreFloor: cfg.HighRiskScoreFloor}
}

// Build fills the aggregate views of the result. Pattern order must already
// be final (detector registration order, then complex schemes); Build never
// reorders patterns.
func (a *Aggregator) Build(result *domain.AnalysisResult) {
	result.OverallRiskLevel = overallRisk(result.Patterns)
	result.TotalEstimatedImpact = totalImpact(result.Patterns)
	result.HighRiskEntities = a.entityProfiles(result.Patterns)
	if result.Patterns == nil {
		result.Patterns = []domain.Pattern{}
	}
	if result.HighRiskEntities == nil {
		result.HighRiskEntities = []domain.EntityRiskProfile{}
	}
}

// overallRisk: Critical if any pattern is Critical or three or more are
// High; High if at least one High; Medium if only Medium patterns exist;
// otherwise Low.
func overallRisk(patterns []domain.Pattern) domain.Severity {
	high := 0
	medium := 0
	for _, p := range patterns {
		switch p.Severity {
		case domain.SeverityCritical:
			return domain.SeverityCritical
		case domain.SeverityHigh:
			high++
		case domain.SeverityMedium:
			medium++
		}
	}
	switch {
	case high >= 3:
		return domain.SeverityCritical
	case high >= 1:
		return domain.SeverityHigh
	case medium >= 1:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// totalImpact sums detector pattern impacts. Complex-scheme patterns are
// excluded: their impact restates the contributing patterns' impact and
// would double count.
func totalImpact(patterns []domain.Pattern) float64 {
	total := 0.0
	for _, p := range patterns {
		if p.FraudType == domain.FraudComplexScheme {
			continue
		}
		total += p.EstimatedImpact
	}
	return total
}

// patternRisk is the risk score a single pattern contributes: the maximum
// of its indicators' risk scores.
func patternRisk(p domain.Pattern) float64 {
	max := 0.0
	for _, ind := range p.Indicators {
		if ind.RiskScore > max {
			max = ind.RiskScore
		}
	}
	return max
}

// entityProfiles derives per-entity risk profiles. An entity's score is the
// highest pattern risk it appears in plus 0.5 per additional pattern,
// capped at 10. Impact excludes complex-scheme patterns to avoid double
// counting; fraud types include them so the escalation is visible.
func (a *Aggregator) entityProfiles(patterns []domain.Pattern) []domain.EntityRiskProfile {
	type acc struct {
		maxRisk    float64
		patterns   int
		impact     float64
		fraudTypes map[domain.FraudType]bool
	}
	byEntity := make(map[string]*acc)

	for _, p := range patterns {
		risk := patternRisk(p)
		for _, e := range p.Entities {
			ac := byEntity[e]
			if ac == nil {
				ac = &acc{fraudTypes: make(map[domain.FraudType]bool)}
				byEntity[e] = ac
			}
			ac.patterns++
			ac.fraudTypes[p.FraudType] = true
			if risk > ac.maxRisk {
				ac.maxRisk = risk
			}
			if p.FraudType != domain.FraudComplexScheme {
				ac.impact += p.EstimatedImpact
			}
		}
	}

	profiles := make([]domain.EntityRiskProfile, 0, len(byEntity))
	for e, ac := range byEntity {
		score := ac.maxRisk + 0.5*float64(ac.patterns-1)
		if score > 10 {
			score = 10
		}
		if score < a.HighRiskScoreFloor {
			continue
		}

		types := make([]domain.FraudType, 0, len(ac.fraudTypes))
		for t := range ac.fraudTypes {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

		profiles = append(profiles, domain.EntityRiskProfile{
			EntityID:             e,
			AggregatedRiskScore:  score,
			FraudTypes:           types,
			TotalEstimatedImpact: ac.impact,
		})
	}

	// Descending score, ties broken by entity ID ascending.
	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].AggregatedRiskScore != profiles[j].AggregatedRiskScore {
			return profiles[i].AggregatedRiskScore > profiles[j].AggregatedRiskScore
		}
		return profiles[i].EntityID < profiles[j].EntityID
	})

	return profiles
}
