// Package policy evaluates attempted actions against a frozen intent
// contract. It is a conservative keyword matcher, not a classifier:
// rules run in a fixed order and the first match wins.
package policy

import (
	"strings"

	"intentgate/internal/config"
	"intentgate/internal/domain"
)

// Decision is the outcome of checking one action.
type Decision struct {
	Allowed bool
	// Reason identifies the tripped rule when Allowed is false.
	Reason string
	// Constraint is the constraint text that tripped, if any.
	Constraint string
}

// Rule inspects an attempted action against contract constraints.
// Match returns the denial decision and true when the rule trips.
type Rule interface {
	Match(in Input) (Decision, bool)
}

// Input is the normalized (lowercased) view of one check.
type Input struct {
	Action      string
	Constraints []string
	RiskLevel   string
}

// Checker holds the ordered rule chain.
type Checker struct {
	rules []Rule
}

// New builds the default rule chain from the configured vocabulary.
func New(cfg *config.Config) Checker {
	v := cfg.Policy
	return Checker{rules: []Rule{
		constraintRule{
			signals: lower(v.NoModificationSignals),
			verbs:   lower(v.AlterationVerbs),
			reason:  "attempted to alter an immutable element",
		},
		constraintRule{
			signals: lower(v.NoRemovalSignals),
			verbs:   lower(v.DeletionVerbs),
			reason:  "attempted to remove a protected element",
		},
		riskCeilingRule{terms: lower(v.HighRiskTerms)},
	}}
}

// WithRules builds a checker with a custom rule chain.
func WithRules(rules ...Rule) Checker {
	return Checker{rules: rules}
}

// CheckAction evaluates an action description against a contract.
// Contracts that are not frozen are never gated.
func (c Checker) CheckAction(contract domain.IntentContract, action string) Decision {
	if contract.Status != "frozen" {
		return Decision{Allowed: true}
	}
	in := Input{
		Action:    strings.ToLower(action),
		RiskLevel: contract.RiskLevel,
	}
	for _, raw := range contract.Constraints {
		in.Constraints = append(in.Constraints, strings.ToLower(raw))
	}
	for _, rule := range c.rules {
		if d, ok := rule.Match(in); ok {
			return d
		}
	}
	return Decision{Allowed: true}
}

// constraintRule trips when a constraint carries one of its signal
// phrases and the action carries one of its verbs.
type constraintRule struct {
	signals []string
	verbs   []string
	reason  string
}

func (r constraintRule) Match(in Input) (Decision, bool) {
	verb := containsAny(in.Action, r.verbs)
	if verb == "" {
		return Decision{}, false
	}
	for _, constraint := range in.Constraints {
		if containsAny(constraint, r.signals) != "" {
			return Decision{Reason: r.reason, Constraint: constraint}, true
		}
	}
	return Decision{}, false
}

// riskCeilingRule trips when a minimal-risk contract sees a high-risk term.
type riskCeilingRule struct {
	terms []string
}

func (r riskCeilingRule) Match(in Input) (Decision, bool) {
	if in.RiskLevel != "minimal" {
		return Decision{}, false
	}
	if term := containsAny(in.Action, r.terms); term != "" {
		return Decision{Reason: "action risk exceeds configured ceiling", Constraint: "risk_level: minimal"}, true
	}
	return Decision{}, false
}

func containsAny(text string, needles []string) string {
	for _, n := range needles {
		if n != "" && strings.Contains(text, n) {
			return n
		}
	}
	return ""
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}
