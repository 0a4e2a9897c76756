package policy_test

import (
	"testing"

	"intentgate/internal/config"
	"intentgate/internal/domain"
	"intentgate/internal/policy"
)

func frozenContract(riskLevel string, constraints ...string) domain.IntentContract {
	return domain.IntentContract{
		Status:      "frozen",
		RiskLevel:   riskLevel,
		Constraints: constraints,
	}
}

func TestCheckAction(t *testing.T) {
	checker := policy.New(config.Default("proj-1"))

	cases := []struct {
		name     string
		contract domain.IntentContract
		action   string
		allowed  bool
	}{
		{
			name:     "alteration verb against no-modification constraint",
			contract: frozenContract("medium", "do not modify the auth flow"),
			action:   "Rewrite the login handler",
			allowed:  false,
		},
		{
			name:     "deletion verb against no-removal constraint",
			contract: frozenContract("medium", "must not remove the payments endpoint"),
			action:   "drop the payments route",
			allowed:  false,
		},
		{
			name:     "verb without a matching constraint signal",
			contract: frozenContract("medium", "keep response times under 200ms"),
			action:   "delete the debug logging",
			allowed:  true,
		},
		{
			name:     "signal without a matching verb",
			contract: frozenContract("medium", "do not modify the auth flow"),
			action:   "document the auth flow",
			allowed:  true,
		},
		{
			name:     "high-risk term on a minimal-risk contract",
			contract: frozenContract("minimal", "keep it simple"),
			action:   "deploy to production",
			allowed:  false,
		},
		{
			name:     "high-risk term on a medium-risk contract",
			contract: frozenContract("medium", "keep it simple"),
			action:   "deploy to production",
			allowed:  true,
		},
		{
			name:     "unfrozen contracts are never gated",
			contract: domain.IntentContract{Status: "draft", RiskLevel: "minimal", Constraints: []string{"do not modify anything"}},
			action:   "modify everything",
			allowed:  true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := checker.CheckAction(tc.contract, tc.action)
			if d.Allowed != tc.allowed {
				t.Fatalf("allowed = %v, want %v (reason %q)", d.Allowed, tc.allowed, d.Reason)
			}
			if !d.Allowed && d.Reason == "" {
				t.Fatal("denial without reason")
			}
		})
	}
}

func TestMatchingIsCaseInsensitive(t *testing.T) {
	checker := policy.New(config.Default("proj-1"))
	d := checker.CheckAction(frozenContract("medium", "DO NOT MODIFY the schema"), "MODIFY the schema")
	if d.Allowed {
		t.Fatal("expected denial")
	}
	if d.Constraint == "" {
		t.Fatal("denial without constraint")
	}
}
