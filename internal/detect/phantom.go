package detect

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// PhantomVendor flags shell-company signals: vendors with a single contract,
// contracts awarded shortly after registration, and vendors sharing an
// address or contact point.
type PhantomVendor struct{}

func (PhantomVendor) Name() string { return "phantom_vendor" }

func (PhantomVendor) Applicable(batch *domain.Batch) bool {
	return len(batch.Vendors) > 0
}

func (PhantomVendor) Detect(batch *domain.Batch, cfg domain.Thresholds) []domain.Pattern {
	byVendor := make(map[string][]domain.Contract)
	for _, c := range batch.Contracts {
		byVendor[c.VendorID] = append(byVendor[c.VendorID], c)
	}

	vendors := make(map[string]domain.Vendor, len(batch.Vendors))
	for _, v := range batch.Vendors {
		vendors[v.VendorID] = v
	}

	shared := sharedContactIndicators(batch.Vendors, cfg.SharedContactMinGroup)

	var patterns []domain.Pattern

	for _, vid := range sortedKeys(vendors) {
		v := vendors[vid]
		contracts := byVendor[vid]

		var indicators []domain.Indicator

		if len(contracts) == 1 {
			indicators = append(indicators, indicator("single_contract_only",
				fmt.Sprintf("vendor %s has exactly one awarded contract", vid),
				0.6,
				domain.EvEntity("vendor", vid),
				domain.EvText("contract", contracts[0].ID),
			))
		}

		if len(contracts) > 0 && !v.RegistrationDate.IsZero() {
			earliest := contracts[0].ContractDate
			for _, c := range contracts[1:] {
				if c.ContractDate.Before(earliest) {
					earliest = c.ContractDate
				}
			}
			age := earliest.Sub(v.RegistrationDate)
			if age >= 0 && age < time.Duration(cfg.RecentRegistrationDays)*24*time.Hour {
				indicators = append(indicators, indicator("recent_registration",
					fmt.Sprintf("first contract %d days after registration", int(age.Hours()/24)),
					0.7,
					domain.EvTime("registered", v.RegistrationDate),
					domain.EvTime("first_contract", earliest),
				))
			}
		}

		indicators = append(indicators, shared[vid]...)

		if len(indicators) == 0 {
			continue
		}

		severity := domain.SeverityMedium
		if len(indicators) >= 2 {
			severity = domain.SeverityHigh
		}

		impact := 0.0
		for _, c := range contracts {
			impact += c.BidAmount
		}

		p := domain.Pattern{
			FraudType:       domain.FraudPhantomVendor,
			Severity:        severity,
			Indicators:      indicators,
			Entities:        []string{vid},
			EstimatedImpact: impact,
			Recommendations: []string{
				"verify the vendor's physical premises and staffing",
				"request proof of delivered goods or services",
			},
		}
		p.Seal()
		patterns = append(patterns, p)
	}

	return patterns
}

// sharedContactIndicators groups vendors by normalized address, phone and
// email. A contact point shared by minGroup or more distinct vendors yields
// an indicator for every member.
func sharedContactIndicators(vendors []domain.Vendor, minGroup int) map[string][]domain.Indicator {
	type contact struct {
		kind string // "shared_address" or "shared_contact"
		conf float64
	}
	groups := make(map[string]map[string]bool) // normalized key -> vendor set
	meta := make(map[string]contact)

	add := func(key, vid, kind string, conf float64) {
		if key == "" {
			return
		}
		full := kind + "|" + key
		if groups[full] == nil {
			groups[full] = make(map[string]bool)
			meta[full] = contact{kind: kind, conf: conf}
		}
		groups[full][vid] = true
	}

	for _, v := range vendors {
		add(normalizeText(v.Address), v.VendorID, "shared_address", 0.8)
		add(normalizePhone(v.Phone), v.VendorID, "shared_contact", 0.85)
		add(normalizeText(v.Email), v.VendorID, "shared_contact", 0.85)
	}

	out := make(map[string][]domain.Indicator)
	for _, key := range sortedKeys(groups) {
		members := groups[key]
		if len(members) < minGroup {
			continue
		}
		m := meta[key]
		ids := sortedKeys(members)
		for _, vid := range ids {
			out[vid] = append(out[vid], indicator(m.kind,
				fmt.Sprintf("contact point shared by %d vendors", len(ids)),
				m.conf,
				domain.EvText("contact_key", strings.TrimPrefix(key, m.kind+"|")),
				domain.EvNumber("vendor_count", float64(len(ids))),
			))
		}
	}
	return out
}

// normalizeText lowercases and collapses internal whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// normalizePhone strips everything but digits.
func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
