// Package detect implements the built-in fraud detector modules. Every
// detector is a pure function of an immutable batch and a thresholds value:
// no I/O, no shared state, safe to run concurrently.
package detect

import (
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Detector analyzes one immutable batch and emits zero or more patterns.
type Detector interface {
	// Name is the stable registration name, used for logging and ordering.
	Name() string

	// Applicable reports whether the batch carries the record kinds this
	// detector requires. Inapplicable detectors are skipped silently.
	Applicable(batch *domain.Batch) bool

	// Detect runs the analysis. Output order must be deterministic for a
	// fixed batch and thresholds.
	Detect(batch *domain.Batch, cfg domain.Thresholds) []domain.Pattern
}

// Registry returns the detectors in fixed registration order. The order is
// load-bearing: final pattern ordering (and therefore audit hashes over the
// result) depends on it.
func Registry() []Detector {
	return []Detector{
		BidRigging{},
		PhantomVendor{},
		PriceFixing{},
		InvoiceFraud{},
		Structuring{},
		CircularPayments{},
		Kickback{},
		Benford{},
		TemporalAnomaly{},
	}
}

// indicator builds an indicator with its risk score derived from confidence.
func indicator(kind, description string, confidence float64, evidence ...domain.Evidence) domain.Indicator {
	return domain.Indicator{
		Kind:        kind,
		Description: description,
		Confidence:  confidence,
		Evidence:    evidence,
		RiskScore:   confidence * 10,
	}
}

// mean returns the arithmetic mean, or 0 for an empty slice.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev returns the population standard deviation, or 0 for fewer than
// two values.
func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	ss := 0.0
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}

// sortedKeys returns map keys in ascending order. Detectors iterate maps
// only through this helper so output stays deterministic.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
