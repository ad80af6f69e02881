package domain

import "time"

// Thresholds holds every tunable constant used by the detectors. One value
// is constructed per analyze call and passed explicitly; there is no
// process-wide mutable configuration. Callers may override any subset on
// top of DefaultThresholds.
type Thresholds struct {
	// Bid rigging
	BidSimilarityThreshold float64 `json:"bidSimilarityThreshold"` // pairwise bid similarity floor
	RotationMinCycle       int     `json:"rotationMinCycle"`       // minimum winner-rotation cycle length

	// Phantom vendor
	RecentRegistrationDays int `json:"recentRegistrationDays"` // contract within N days of registration
	SharedContactMinGroup  int `json:"sharedContactMinGroup"`  // distinct vendors sharing a contact point

	// Price fixing
	PriceDeviationCV       float64       `json:"priceDeviationCV"`       // coefficient-of-variation ceiling
	PriceIncreaseWindow    time.Duration `json:"priceIncreaseWindow"`    // rolling window for uniform increases
	PriceIncreaseTolerance float64       `json:"priceIncreaseTolerance"` // max spread between increase fractions

	// Invoice fraud
	SequentialInvoiceMaxGap time.Duration `json:"sequentialInvoiceMaxGap"` // max time delta in a sequential run
	SequentialInvoiceMinRun int           `json:"sequentialInvoiceMinRun"` // minimum run length

	// Money laundering
	ReportingThreshold       float64       `json:"reportingThreshold"`       // structuring reference amount
	StructuringWindow        time.Duration `json:"structuringWindow"`        // rolling window for structuring
	StructuringMinCount      int           `json:"structuringMinCount"`      // transactions to flag structuring
	StructuringCriticalCount int           `json:"structuringCriticalCount"` // count escalating severity
	MaxCycleWindowDays       int           `json:"maxCycleWindowDays"`       // circular-payment time span
	MaxCycleLength           int           `json:"maxCycleLength"`           // bounded DFS depth cap
	MinCycleLength           int           `json:"minCycleLength"`

	// Kickback scheme
	KickbackWindowDays int `json:"kickbackWindowDays"` // payment window after contract award

	// Benford
	BenfordMinSamples int `json:"benfordMinSamples"` // statistical validity floor

	// Temporal anomaly
	AfterHoursFraction float64 `json:"afterHoursFraction"`
	WeekendFraction    float64 `json:"weekendFraction"`
	VelocityMinBursts  int     `json:"velocityMinBursts"` // consecutive sub-minute gaps

	// Aggregation
	HighRiskScoreFloor float64 `json:"highRiskScoreFloor"` // minimum score for highRiskEntities
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BidSimilarityThreshold: 0.85,
		RotationMinCycle:       3,

		RecentRegistrationDays: 30,
		SharedContactMinGroup:  3,

		PriceDeviationCV:       0.05,
		PriceIncreaseWindow:    90 * 24 * time.Hour,
		PriceIncreaseTolerance: 0.02,

		SequentialInvoiceMaxGap: time.Hour,
		SequentialInvoiceMinRun: 3,

		ReportingThreshold:       10_000,
		StructuringWindow:        24 * time.Hour,
		StructuringMinCount:      2,
		StructuringCriticalCount: 5,
		MaxCycleWindowDays:       30,
		MaxCycleLength:           5,
		MinCycleLength:           3,

		KickbackWindowDays: 30,

		BenfordMinSamples: 30,

		AfterHoursFraction: 0.2,
		WeekendFraction:    0.3,
		VelocityMinBursts:  3,

		HighRiskScoreFloor: 5.0,
	}
}
