package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// FraudType is the closed set of fraud categories a Pattern can carry.
type FraudType string

const (
	FraudBidRigging      FraudType = "bid_rigging"
	FraudPriceFixing     FraudType = "price_fixing"
	FraudPhantomVendor   FraudType = "phantom_vendor"
	FraudInvoiceFraud    FraudType = "invoice_fraud"
	FraudMoneyLaundering FraudType = "money_laundering"
	FraudKickbackScheme  FraudType = "kickback_scheme"
	FraudFalseClaims     FraudType = "false_claims"
	FraudComplexScheme   FraudType = "complex_scheme"
)

// KnownFraudTypes lists every valid FraudType.
var KnownFraudTypes = []FraudType{
	FraudBidRigging,
	FraudPriceFixing,
	FraudPhantomVendor,
	FraudInvoiceFraud,
	FraudMoneyLaundering,
	FraudKickbackScheme,
	FraudFalseClaims,
	FraudComplexScheme,
}

// Valid reports whether t is one of the known fraud types.
func (t FraudType) Valid() bool {
	for _, k := range KnownFraudTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Severity is the categorical impact tier of a finding. The ordering of the
// constants matters: higher values are more severe.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the wire representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the severity as its string form.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes a severity from its string form.
func (s *Severity) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "low":
		*s = SeverityLow
	case "medium":
		*s = SeverityMedium
	case "high":
		*s = SeverityHigh
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity: %s", data)
	}
	return nil
}

// EvidenceKind tags the payload type of an evidence value.
type EvidenceKind string

const (
	EvidenceNumber    EvidenceKind = "number"
	EvidenceMoney     EvidenceKind = "money"
	EvidenceText      EvidenceKind = "text"
	EvidenceTimestamp EvidenceKind = "timestamp"
	EvidenceEntity    EvidenceKind = "entity"
)

// EvidenceValue is a tagged value; exactly one payload field is meaningful,
// selected by Kind.
type EvidenceValue struct {
	Kind      EvidenceKind `json:"kind"`
	Number    float64      `json:"number,omitempty"`
	Money     float64      `json:"money,omitempty"`
	Text      string       `json:"text,omitempty"`
	Timestamp time.Time    `json:"timestamp,omitzero"`
	Entity    string       `json:"entity,omitempty"`
}

// Evidence is one key/value entry in an indicator's ordered evidence list.
type Evidence struct {
	Key   string        `json:"key"`
	Value EvidenceValue `json:"value"`
}

// Evidence constructors keep call sites terse.

func EvNumber(key string, v float64) Evidence {
	return Evidence{Key: key, Value: EvidenceValue{Kind: EvidenceNumber, Number: v}}
}

func EvMoney(key string, v float64) Evidence {
	return Evidence{Key: key, Value: EvidenceValue{Kind: EvidenceMoney, Money: v}}
}

func EvText(key, v string) Evidence {
	return Evidence{Key: key, Value: EvidenceValue{Kind: EvidenceText, Text: v}}
}

func EvTime(key string, v time.Time) Evidence {
	return Evidence{Key: key, Value: EvidenceValue{Kind: EvidenceTimestamp, Timestamp: v}}
}

func EvEntity(key, v string) Evidence {
	return Evidence{Key: key, Value: EvidenceValue{Kind: EvidenceEntity, Entity: v}}
}

// Indicator is the atomic unit of suspicion emitted by a detector.
type Indicator struct {
	Kind        string     `json:"kind"`
	Description string     `json:"description"`
	Confidence  float64    `json:"confidence"` // 0..1
	Evidence    []Evidence `json:"evidence,omitempty"`
	RiskScore   float64    `json:"riskScore"` // 0..10
}

// Pattern is one detected fraud pattern built from one or more indicators.
type Pattern struct {
	ID              string      `json:"id"`
	FraudType       FraudType   `json:"fraudType"`
	Severity        Severity    `json:"severity"`
	Confidence      float64     `json:"confidence"`
	Indicators      []Indicator `json:"indicators"`
	Entities        []string    `json:"entitiesInvolved"` // sorted, unique
	EstimatedImpact float64     `json:"estimatedImpact"`  // >= 0
	Recommendations []string    `json:"recommendations,omitempty"`
	EvidenceHash    string      `json:"evidenceHash"`
}

// EntityRiskProfile is the derived per-entity risk view.
type EntityRiskProfile struct {
	EntityID             string      `json:"entityId"`
	AggregatedRiskScore  float64     `json:"aggregatedRiskScore"`
	FraudTypes           []FraudType `json:"fraudTypes"` // sorted, unique
	TotalEstimatedImpact float64     `json:"totalEstimatedImpact"`
}

// AnalysisResult is the final output of one analyze call.
type AnalysisResult struct {
	ID                   string              `json:"id,omitempty"`
	Patterns             []Pattern           `json:"patterns"`
	HighRiskEntities     []EntityRiskProfile `json:"highRiskEntities"`
	OverallRiskLevel     Severity            `json:"overallRiskLevel"`
	TotalEstimatedImpact float64             `json:"totalEstimatedImpact"`
	Partial              bool                `json:"partial"`
	Metadata             AnalysisMetadata    `json:"metadata"`
}

// AnalysisMetadata carries processing information for audit trails.
type AnalysisMetadata struct {
	BatchDigest      string `json:"batchDigest,omitempty"`
	RecordsAnalyzed  int    `json:"recordsAnalyzed"`
	RecordsDropped   int    `json:"recordsDropped"`
	DetectorsRun     int    `json:"detectorsRun"`
	DetectorsSkipped int    `json:"detectorsSkipped"`
	TotalMs          int64  `json:"totalMs"`
	EngineVersion    string `json:"engineVersion"`
}

// CombineConfidence implements the canonical multi-indicator blending rule:
// the highest individual indicator confidence plus 0.05 per additional
// indicator, capped at 0.95.
func CombineConfidence(indicators []Indicator) float64 {
	if len(indicators) == 0 {
		return 0
	}
	base := 0.0
	for _, ind := range indicators {
		if ind.Confidence > base {
			base = ind.Confidence
		}
	}
	combined := base + 0.05*float64(len(indicators)-1)
	if combined > 0.95 {
		combined = 0.95
	}
	return combined
}

// EvidenceDigest computes the audit hash over a pattern's defining fields.
// The digest must be stable across runs: entities and indicator kinds are
// sorted before hashing and the impact is fixed to two decimals.
func EvidenceDigest(fraudType FraudType, severity Severity, entities []string, impact float64, indicators []Indicator) string {
	ents := append([]string(nil), entities...)
	sort.Strings(ents)

	kinds := make([]string, 0, len(indicators))
	for _, ind := range indicators {
		kinds = append(kinds, ind.Kind)
	}
	sort.Strings(kinds)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%.2f|%s",
		fraudType, severity, strings.Join(ents, ","), impact, strings.Join(kinds, ","))
	return hex.EncodeToString(h.Sum(nil))
}

// Seal finalizes a pattern: sorts and dedupes its entity set, derives the
// combined confidence, computes the evidence hash and a hash-derived ID.
// Detectors call this exactly once per emitted pattern.
func (p *Pattern) Seal() {
	p.Entities = dedupeSorted(p.Entities)
	if p.Confidence == 0 {
		p.Confidence = CombineConfidence(p.Indicators)
	}
	if p.EstimatedImpact < 0 {
		p.EstimatedImpact = 0
	}
	p.EvidenceHash = EvidenceDigest(p.FraudType, p.Severity, p.Entities, p.EstimatedImpact, p.Indicators)
	if p.ID == "" {
		p.ID = "pat-" + p.EvidenceHash[:16]
	}
}

func dedupeSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	n := 0
	for i, v := range out {
		if i == 0 || out[n-1] != v {
			out[n] = v
			n++
		}
	}
	return out[:n]
}
