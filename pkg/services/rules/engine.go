package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/rs/zerolog"
)

const (
	ruleFailureRecommendation = "Fix or disable the failing rule; this identity was not fully evaluated."
)

// Engine evaluates an ordered, name-unique rule set.
type Engine struct {
	rules []Rule
}

func NewEngine(rules ...Rule) (*Engine, error) {
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		if strings.TrimSpace(r.Name) == "" {
			return nil, domain.NewConfigurationError("build rule engine", fmt.Errorf("rule at position %d has no name", i))
		}
		if r.Check == nil {
			return nil, domain.NewConfigurationError("build rule engine", fmt.Errorf("rule %q has no check", r.Name))
		}
		if _, dup := seen[r.Name]; dup {
			return nil, domain.NewConfigurationError("build rule engine", fmt.Errorf("duplicate rule name %q", r.Name))
		}
		seen[r.Name] = struct{}{}
	}

	owned := make([]Rule, len(rules))
	copy(owned, rules)
	return &Engine{rules: owned}, nil
}

func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate runs every rule against identity and returns the findings in rule
// order. A rule that fails or panics yields one high severity finding naming
// the rule instead of aborting the evaluation.
func (e *Engine) Evaluate(ctx context.Context, env Env, identity domain.Identity) []domain.AuditFinding {
	logger := zerolog.Ctx(ctx)

	findings := make([]domain.AuditFinding, 0, len(e.rules))
	for _, r := range e.rules {
		produced, err := runCheck(r, env, identity)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("rule", r.Name).
				Str("identity", identity.ID).
				Msg("rule execution failed")
			findings = append(findings, ruleFailureFinding(r.Name, identity.ID, err))
			continue
		}
		findings = append(findings, produced...)
	}
	return findings
}

// Evaluate is a convenience for a one-off evaluation of identity against rules.
func Evaluate(ctx context.Context, env Env, identity domain.Identity, rules ...Rule) ([]domain.AuditFinding, error) {
	engine, err := NewEngine(rules...)
	if err != nil {
		return nil, err
	}
	return engine.Evaluate(ctx, env, identity), nil
}

func runCheck(r Rule, env Env, identity domain.Identity) (findings []domain.AuditFinding, err error) {
	defer func() {
		if p := recover(); p != nil {
			findings = nil
			err = &domain.RuleExecutionError{Rule: r.Name, IdentityID: identity.ID, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	// Rules get their own copy so a misbehaving one cannot alter what the
	// next rule sees.
	produced, err := r.Check(env, identity.Clone())
	if err != nil {
		return nil, &domain.RuleExecutionError{Rule: r.Name, IdentityID: identity.ID, Err: err}
	}

	out := make([]domain.AuditFinding, 0, len(produced))
	for _, f := range produced {
		f.IdentityID = identity.ID
		f.RuleName = r.Name
		if err := f.Validate(); err != nil {
			return nil, &domain.RuleExecutionError{Rule: r.Name, IdentityID: identity.ID, Err: err}
		}
		out = append(out, f)
	}
	return out, nil
}

func ruleFailureFinding(ruleName, identityID string, err error) domain.AuditFinding {
	return domain.AuditFinding{
		Severity:       domain.SeverityHigh,
		Description:    fmt.Sprintf("Rule execution error in %s: %v", ruleName, err),
		Recommendation: ruleFailureRecommendation,
		IdentityID:     identityID,
		RuleName:       ruleName,
	}
}
