// Package policy defines the versioned configuration document governing
// confidence thresholds and approval rules. A document is loaded once,
// validated as a whole, and swapped atomically; no partial apply.
package policy

// Document is the top-level policy configuration.
type Document struct {
	Version           int                 `json:"version" yaml:"version"`
	Thresholds        map[string]float64  `json:"thresholds" yaml:"thresholds"`
	Approval          ApprovalRules       `json:"approval" yaml:"approval"`
	Entities          []Entity            `json:"entities,omitempty" yaml:"entities,omitempty"`
	CounterpartyRules []CounterpartyRule  `json:"counterparty_rules,omitempty" yaml:"counterparty_rules,omitempty"`
	Lists             map[string][]string `json:"lists,omitempty" yaml:"lists,omitempty"`
}

// ApprovalRules groups the declarative rule strings by outcome. Auto is a
// strict allow-list; anything unmatched falls through to propose.
type ApprovalRules struct {
	Auto         []string `json:"auto,omitempty" yaml:"auto,omitempty"`
	Propose      []string `json:"propose_only,omitempty" yaml:"propose_only,omitempty"`
	HumanSignoff []string `json:"human_signoff,omitempty" yaml:"human_signoff,omitempty"`
}

// Entity describes a legal entity the system books against.
type Entity struct {
	Ref          string `json:"ref" yaml:"ref"`
	Name         string `json:"name" yaml:"name"`
	Jurisdiction string `json:"jurisdiction,omitempty" yaml:"jurisdiction,omitempty"`
	Currency     string `json:"currency,omitempty" yaml:"currency,omitempty"`
}

// CounterpartyRule is a per-counterparty override applied on top of the
// general approval rules.
type CounterpartyRule struct {
	Counterparty   string  `json:"counterparty" yaml:"counterparty"`
	MaxAutoAmount  float64 `json:"max_auto_amount,omitempty" yaml:"max_auto_amount,omitempty"`
	RequireSignoff bool    `json:"require_signoff,omitempty" yaml:"require_signoff,omitempty"`
	DefaultAccount string  `json:"default_account,omitempty" yaml:"default_account,omitempty"`
}

// Patch is a partial update merged into the active document. Nil fields are
// left untouched; supplied fields replace their section wholesale.
type Patch struct {
	Thresholds        map[string]float64  `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Approval          *ApprovalRules      `json:"approval,omitempty" yaml:"approval,omitempty"`
	Entities          []Entity            `json:"entities,omitempty" yaml:"entities,omitempty"`
	CounterpartyRules []CounterpartyRule  `json:"counterparty_rules,omitempty" yaml:"counterparty_rules,omitempty"`
	Lists             map[string][]string `json:"lists,omitempty" yaml:"lists,omitempty"`
}

// Merge applies a patch to a copy of the document and bumps the version.
// The receiver is never mutated, so a failed validation of the result
// leaves the active document intact.
func (d *Document) Merge(p Patch) Document {
	out := *d
	out.Version = d.Version + 1

	if p.Thresholds != nil {
		merged := make(map[string]float64, len(d.Thresholds)+len(p.Thresholds))
		for k, v := range d.Thresholds {
			merged[k] = v
		}
		for k, v := range p.Thresholds {
			merged[k] = v
		}
		out.Thresholds = merged
	}
	if p.Approval != nil {
		out.Approval = *p.Approval
	}
	if p.Entities != nil {
		out.Entities = p.Entities
	}
	if p.CounterpartyRules != nil {
		out.CounterpartyRules = p.CounterpartyRules
	}
	if p.Lists != nil {
		merged := make(map[string][]string, len(d.Lists)+len(p.Lists))
		for k, v := range d.Lists {
			merged[k] = v
		}
		for k, v := range p.Lists {
			merged[k] = v
		}
		out.Lists = merged
	}
	return out
}

// Counterparty returns the override rule for a counterparty, if any.
func (d *Document) Counterparty(name string) (CounterpartyRule, bool) {
	for _, r := range d.CounterpartyRules {
		if r.Counterparty == name {
			return r, true
		}
	}
	return CounterpartyRule{}, false
}

// Threshold returns a named threshold, falling back to the given default
// when the document does not define it.
func (d *Document) Threshold(name string, fallback float64) float64 {
	if v, ok := d.Thresholds[name]; ok {
		return v
	}
	return fallback
}
