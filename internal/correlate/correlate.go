// Package correlate synthesizes complex-scheme patterns from the union of
// all detector output. It runs single-threaded after the detector barrier:
// the entity map it builds has no concurrent writers because concurrency and
// mutation never overlap in time.
package correlate

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// entityInvolvement accumulates, per entity, the distinct fraud types and
// the contributing patterns.
type entityInvolvement struct {
	fraudTypes map[domain.FraudType]bool
	patternIDs []string // insertion order follows pattern order, deduped
	seen       map[string]bool
}

// ComplexSchemes returns one synthesized pattern per entity that appears in
// patterns of at least two distinct fraud types. The synthesized pattern's
// impact sums each contributing pattern's impact exactly once.
func ComplexSchemes(patterns []domain.Pattern) []domain.Pattern {
	byID := make(map[string]domain.Pattern, len(patterns))
	entities := make(map[string]*entityInvolvement)

	for _, p := range patterns {
		if p.FraudType == domain.FraudComplexScheme {
			continue
		}
		byID[p.ID] = p
		for _, e := range p.Entities {
			inv := entities[e]
			if inv == nil {
				inv = &entityInvolvement{
					fraudTypes: make(map[domain.FraudType]bool),
					seen:       make(map[string]bool),
				}
				entities[e] = inv
			}
			inv.fraudTypes[p.FraudType] = true
			if !inv.seen[p.ID] {
				inv.seen[p.ID] = true
				inv.patternIDs = append(inv.patternIDs, p.ID)
			}
		}
	}

	ids := make([]string, 0, len(entities))
	for e := range entities {
		ids = append(ids, e)
	}
	sort.Strings(ids)

	var out []domain.Pattern
	for _, e := range ids {
		inv := entities[e]
		if len(inv.fraudTypes) < 2 {
			continue
		}

		impact := 0.0
		evidence := []domain.Evidence{domain.EvEntity("entity", e)}
		types := make([]string, 0, len(inv.fraudTypes))
		for _, id := range inv.patternIDs {
			p := byID[id]
			impact += p.EstimatedImpact
			evidence = append(evidence, domain.EvText("linked_pattern", id+":"+string(p.FraudType)))
		}
		for t := range inv.fraudTypes {
			types = append(types, string(t))
		}
		sort.Strings(types)

		cp := domain.Pattern{
			FraudType:  domain.FraudComplexScheme,
			Severity:   domain.SeverityCritical,
			Confidence: 0.85,
			Indicators: []domain.Indicator{
				{
					Kind: "complex_scheme",
					Description: fmt.Sprintf("entity %s involved in %d distinct fraud types: %v",
						e, len(inv.fraudTypes), types),
					Confidence: 0.85,
					Evidence:   evidence,
					RiskScore:  9.5,
				},
			},
			Entities:        []string{e},
			EstimatedImpact: impact,
			Recommendations: []string{
				"escalate the entity to a dedicated investigation",
				"review every linked pattern as a coordinated scheme",
			},
		}
		cp.Seal()
		out = append(out, cp)
	}

	return out
}
