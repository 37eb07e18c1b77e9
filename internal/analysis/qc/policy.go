package qc

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParsePolicy decodes a YAML policy document and validates it.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse qc policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// LoadPolicyFile reads a policy from disk, falling back to the default policy
// when the path is empty.
func LoadPolicyFile(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read qc policy %q: %w", path, err)
	}
	return ParsePolicy(data)
}

func (p Policy) Validate() error {
	if len(p.Rules) == 0 {
		return fmt.Errorf("qc policy %q has no rules", p.Name)
	}
	for _, r := range p.Rules {
		switch r.Kind {
		case RuleBeyondSD, RuleSameSideOfMean, RuleRangeSD:
		default:
			return fmt.Errorf("qc policy %q: rule %q has unknown kind %q", p.Name, r.Name, r.Kind)
		}
		if r.Window < 1 {
			return fmt.Errorf("qc policy %q: rule %q has window %d", p.Name, r.Name, r.Window)
		}
		if r.Kind == RuleRangeSD && r.Window < 2 {
			return fmt.Errorf("qc policy %q: rule %q needs a window of at least 2", p.Name, r.Name)
		}
		switch r.Severity {
		case SeverityWarning, SeverityReject:
		default:
			return fmt.Errorf("qc policy %q: rule %q has unknown severity %q", p.Name, r.Name, r.Severity)
		}
		if r.Kind == RuleBeyondSD && r.Threshold <= 0 {
			return fmt.Errorf("qc policy %q: rule %q needs a positive threshold", p.Name, r.Name)
		}
	}
	return nil
}
