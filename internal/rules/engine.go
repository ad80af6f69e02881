// Package rules provides the CEL-Go based custom-rule overlay. Custom rules
// run on top of the built-in detectors: each rule evaluates one expression
// per record of its target kind and groups matches into one extra pattern.
package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles and evaluates custom CEL rules.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new custom-rule engine.
func NewEngine() (*Engine, error) {
	// One environment covers all record kinds; variables that do not apply
	// to a rule's target default to their zero value.
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("vendor_id", cel.StringType),
		cel.Variable("vendor_name", cel.StringType),
		cel.Variable("payer_id", cel.StringType),
		cel.Variable("recipient_id", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("bidding_process_id", cel.StringType),
		cel.Variable("invoice_number", cel.StringType),
		cel.Variable("description", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules clears all existing rules and loads new ones.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

// Evaluate runs every loaded rule over the batch and returns one pattern per
// rule with at least one matching record. Rules are evaluated in rule-ID
// order so output is deterministic.
func (e *Engine) Evaluate(batch *domain.Batch) []domain.Pattern {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })

	var patterns []domain.Pattern
	for _, rule := range rules {
		if p, ok := e.evaluateRule(rule, batch); ok {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

type match struct {
	entities []string
	amount   float64
	evidence []domain.Evidence
}

// evaluateRule applies one compiled rule to every record of its target kind.
func (e *Engine) evaluateRule(rule *CompiledRule, batch *domain.Batch) (domain.Pattern, bool) {
	var matches []match

	switch rule.Config.Target {
	case domain.RuleTargetContract:
		for _, c := range batch.Contracts {
			if e.matches(rule, map[string]any{
				"amount":             c.BidAmount,
				"vendor_id":          c.VendorID,
				"vendor_name":        c.VendorName,
				"category":           c.Category,
				"bidding_process_id": c.BiddingProcessID,
			}) {
				matches = append(matches, match{
					entities: []string{c.VendorID},
					amount:   c.BidAmount,
					evidence: []domain.Evidence{domain.EvText("contract", c.ID), domain.EvMoney("amount", c.BidAmount)},
				})
			}
		}
	case domain.RuleTargetInvoice:
		for _, inv := range batch.Invoices {
			if e.matches(rule, map[string]any{
				"amount":         inv.Amount,
				"vendor_id":      inv.VendorID,
				"invoice_number": inv.InvoiceNumber,
				"description":    inv.Description,
			}) {
				matches = append(matches, match{
					entities: []string{inv.VendorID},
					amount:   inv.Amount,
					evidence: []domain.Evidence{domain.EvText("invoice", inv.InvoiceNumber), domain.EvMoney("amount", inv.Amount)},
				})
			}
		}
	case domain.RuleTargetTransaction:
		for _, tx := range batch.Transactions {
			if e.matches(rule, map[string]any{
				"amount":       tx.Amount,
				"payer_id":     tx.PayerID,
				"recipient_id": tx.RecipientID,
			}) {
				matches = append(matches, match{
					entities: []string{tx.PayerID, tx.RecipientID},
					amount:   tx.Amount,
					evidence: []domain.Evidence{domain.EvEntity("payer", tx.PayerID), domain.EvMoney("amount", tx.Amount)},
				})
			}
		}
	}

	if len(matches) == 0 {
		return domain.Pattern{}, false
	}

	var entities []string
	impact := 0.0
	indicators := make([]domain.Indicator, 0, len(matches))
	for _, m := range matches {
		entities = append(entities, m.entities...)
		impact += m.amount
		indicators = append(indicators, domain.Indicator{
			Kind:        rule.Config.ID,
			Description: rule.Config.Name,
			Confidence:  rule.Config.Confidence,
			Evidence:    m.evidence,
			RiskScore:   rule.Config.Confidence * 10,
		})
	}

	p := domain.Pattern{
		FraudType:       rule.Config.FraudType,
		Severity:        domain.SeverityMedium,
		Confidence:      rule.Config.Confidence,
		Indicators:      indicators,
		Entities:        entities,
		EstimatedImpact: impact,
		Recommendations: []string{"review records matched by custom rule " + rule.Config.ID},
	}
	p.Seal()
	return p, true
}

// matches evaluates the rule expression against one activation. A bool
// result matches when true; numeric results match when positive.
func (e *Engine) matches(rule *CompiledRule, activation map[string]any) bool {
	// Fill variables the target does not provide.
	for _, v := range []string{"amount"} {
		if _, ok := activation[v]; !ok {
			activation[v] = 0.0
		}
	}
	for _, v := range []string{"vendor_id", "vendor_name", "payer_id", "recipient_id", "category", "bidding_process_id", "invoice_number", "description"} {
		if _, ok := activation[v]; !ok {
			activation[v] = ""
		}
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		return false
	}
	return toBool(out)
}

// toBool converts a CEL value to a match decision.
func toBool(val ref.Val) bool {
	switch v := val.(type) {
	case types.Bool:
		return bool(v)
	case types.Double:
		return float64(v) > 0
	case types.Int:
		return int64(v) > 0
	default:
		return false
	}
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if !cfg.FraudType.Valid() {
		return nil, fmt.Errorf("rule %s: unknown fraud type %q", cfg.ID, cfg.FraudType)
	}
	switch cfg.Target {
	case domain.RuleTargetContract, domain.RuleTargetInvoice, domain.RuleTargetTransaction:
	default:
		return nil, fmt.Errorf("rule %s: unknown target %q", cfg.ID, cfg.Target)
	}
	if cfg.Confidence <= 0 || cfg.Confidence > 1 {
		return nil, fmt.Errorf("rule %s: confidence must be in (0, 1]", cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
