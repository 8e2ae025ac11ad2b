package policy

import (
	"fmt"

	"github.com/finback/autoclerk/internal/domain/rule"
)

// Validate checks that a Document is well-formed. An invalid document must
// fail here before it ever replaces the active policy.
func (d *Document) Validate() error {
	for name, v := range d.Thresholds {
		if v < 0 || v > 1 {
			return fmt.Errorf("policy: threshold %q must be in [0,1], got %v", name, v)
		}
	}
	if err := validateRules("auto", d.Approval.Auto); err != nil {
		return err
	}
	if err := validateRules("propose_only", d.Approval.Propose); err != nil {
		return err
	}
	if err := validateRules("human_signoff", d.Approval.HumanSignoff); err != nil {
		return err
	}
	for i, e := range d.Entities {
		if e.Ref == "" {
			return fmt.Errorf("policy: entity[%d]: ref is required", i)
		}
	}
	seen := make(map[string]struct{}, len(d.CounterpartyRules))
	for i, r := range d.CounterpartyRules {
		if r.Counterparty == "" {
			return fmt.Errorf("policy: counterparty_rules[%d]: counterparty is required", i)
		}
		if _, dup := seen[r.Counterparty]; dup {
			return fmt.Errorf("policy: counterparty_rules[%d]: duplicate counterparty %q", i, r.Counterparty)
		}
		seen[r.Counterparty] = struct{}{}
		if r.MaxAutoAmount < 0 {
			return fmt.Errorf("policy: counterparty_rules[%d]: max_auto_amount must be >= 0", i)
		}
	}
	return nil
}

func validateRules(group string, texts []string) error {
	for i, text := range texts {
		if _, err := rule.Parse(text); err != nil {
			return fmt.Errorf("policy: %s[%d]: %w", group, i, err)
		}
	}
	return nil
}
