package detector

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Rule is an operator-defined CEL expression evaluated against each
// attempt. The expression must return bool, int, or double; the numeric
// result is mapped to an outcome through the configured bands.
type Rule struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Expression string     `json:"expression"`
	Bands      []RuleBand `json:"bands"`
	Enabled    bool       `json:"enabled"`
}

// RuleBand maps a score range to an outcome. Lower inclusive, upper
// exclusive; a nil upper bound means unbounded.
type RuleBand struct {
	LowerLimit *float64         `json:"lowerLimit,omitempty"`
	UpperLimit *float64         `json:"upperLimit,omitempty"`
	Outcome    domain.RiskLevel `json:"outcome"`
	Block      bool             `json:"block"`
	Reason     string           `json:"reason"`
}

type compiledRule struct {
	rule    *Rule
	program cel.Program
}

// CELRules evaluates operator-defined expressions as an additional
// detector. Rules are compiled at load time and hot-reloadable.
type CELRules struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledRule
}

// NewCELRules creates the custom rule detector with an empty rule set.
func NewCELRules() (*CELRules, error) {
	env, err := cel.NewEnv(
		cel.Variable("attempt", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("ip", cel.StringType),
		cel.Variable("email", cel.StringType),
		cel.Variable("email_domain", cel.StringType),
		cel.Variable("user_agent", cel.StringType),
		cel.Variable("invite_code", cel.StringType),
		cel.Variable("fingerprint_hash", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("has_inviter", cel.BoolType),
		cel.Variable("inviter_email", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CELRules{
		env:      env,
		compiled: make(map[string]*compiledRule),
	}, nil
}

// Name implements Detector.
func (d *CELRules) Name() string { return "custom_rules" }

// LoadRule compiles and loads a single rule.
func (d *CELRules) LoadRule(rule *Rule) error {
	compiled, err := d.compileRule(rule)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.compiled[rule.ID] = compiled
	d.mu.Unlock()
	return nil
}

// ReloadRules replaces the loaded rule set atomically. Disabled rules
// are skipped.
func (d *CELRules) ReloadRules(rules []*Rule) error {
	next := make(map[string]*compiledRule)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := d.compileRule(rule)
		if err != nil {
			return err
		}
		next[rule.ID] = compiled
	}

	d.mu.Lock()
	d.compiled = next
	d.mu.Unlock()
	return nil
}

// RulesCount returns the number of loaded rules.
func (d *CELRules) RulesCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.compiled)
}

// Check implements Detector. The worst outcome across all loaded rules
// wins; with no rules loaded the detector reports low risk.
func (d *CELRules) Check(ctx context.Context, in *AttemptContext) domain.DetectorResult {
	d.mu.RLock()
	rules := make([]*compiledRule, 0, len(d.compiled))
	for _, r := range d.compiled {
		rules = append(rules, r)
	}
	d.mu.RUnlock()

	result := domain.DetectorResult{Detector: d.Name(), IsValid: true, RiskLevel: domain.RiskLow}
	if len(rules) == 0 || in.Attempt == nil {
		return result
	}

	activation := d.activation(in)

	for _, r := range rules {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			return failOpen(d.Name(), fmt.Errorf("rule %s: %w", r.rule.ID, err))
		}

		band := matchBand(toScore(out), r.rule.Bands)
		if band == nil {
			continue
		}

		reason := band.Reason
		if reason == "" {
			reason = fmt.Sprintf("custom rule %s matched", r.rule.Name)
		}

		if band.Block {
			result.IsValid = false
			result.RiskLevel = domain.RiskHigh
			result.Reasons = append(result.Reasons, reason)
			result.Actions = appendUnique(result.Actions, domain.ActionBlockRegistration)
			continue
		}

		if riskRank(band.Outcome) > riskRank(result.RiskLevel) {
			result.RiskLevel = band.Outcome
		}
		if band.Outcome != domain.RiskLow {
			result.Reasons = append(result.Reasons, reason)
			result.Actions = appendUnique(result.Actions, domain.ActionMonitor)
		}
	}

	return result
}

func (d *CELRules) activation(in *AttemptContext) map[string]any {
	a := in.Attempt
	activation := map[string]any{
		"attempt": map[string]any{
			"id":         a.ID,
			"ip":         a.IP,
			"email":      a.Email,
			"user_agent": a.UserAgent,
		},
		"ip":               a.IP,
		"email":            a.Email,
		"email_domain":     a.EmailDomain(),
		"user_agent":       a.UserAgent,
		"invite_code":      a.InviteCode,
		"fingerprint_hash": a.FingerprintHash,
		"hour":             int64(a.Timestamp.Hour()),
		"has_inviter":      in.Inviter != nil,
		"inviter_email":    "",
	}
	if in.Inviter != nil {
		activation["inviter_email"] = in.Inviter.Email
	}
	return activation
}

func (d *CELRules) compileRule(rule *Rule) (*compiledRule, error) {
	if rule == nil || rule.ID == "" {
		return nil, fmt.Errorf("rule with id is required")
	}

	ast, issues := d.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", rule.ID, outputType)
	}

	program, err := d.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &compiledRule{rule: rule, program: program}, nil
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the first band containing the score.
func matchBand(score float64, bands []RuleBand) *RuleBand {
	for i := range bands {
		band := &bands[i]

		lower := 0.0
		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if score < lower {
			continue
		}
		if band.UpperLimit != nil && score >= *band.UpperLimit {
			continue
		}
		return band
	}
	return nil
}

func riskRank(level domain.RiskLevel) int {
	switch level {
	case domain.RiskHigh:
		return 2
	case domain.RiskMedium:
		return 1
	default:
		return 0
	}
}

func appendUnique(actions []string, action string) []string {
	for _, a := range actions {
		if a == action {
			return actions
		}
	}
	return append(actions, action)
}
