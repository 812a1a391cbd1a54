package verifier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy configures what a Verify pass rejects. At most one of
// (AllowedModules, BlockedModules) and at most one of (AllowedFunctions,
// BlockedFunctions) may be set; configuring both ends of an axis is a
// programmer error, checked by Validate.
type Policy struct {
	AllowedModules   []string `yaml:"allowed_modules,omitempty"`
	BlockedModules   []string `yaml:"blocked_modules,omitempty"`
	AllowedFunctions []string `yaml:"allowed_functions,omitempty"`
	BlockedFunctions []string `yaml:"blocked_functions,omitempty"`
	AllowedVariables []string `yaml:"allowed_variables,omitempty"`
}

// Validate fails fast on a contradictory policy. This is a configuration
// bug, not a per-request violation, so it is surfaced to the operator
// rather than to the caller submitting code.
func (p *Policy) Validate() error {
	if len(p.AllowedModules) > 0 && len(p.BlockedModules) > 0 {
		return fmt.Errorf("verifier: policy sets both allowed_modules and blocked_modules")
	}
	if len(p.AllowedFunctions) > 0 && len(p.BlockedFunctions) > 0 {
		return fmt.Errorf("verifier: policy sets both allowed_functions and blocked_functions")
	}
	return nil
}

// Permissive returns a Policy with no restrictions beyond the fixed
// dangerous-name rules, used when no policy file is configured.
func Permissive() *Policy {
	return &Policy{}
}

// LoadPolicyFile reads a YAML policy file and validates it.
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("verifier: read policy file: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("verifier: parse policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func moduleAllowed(p *Policy, root string) bool {
	if len(p.AllowedModules) > 0 {
		return contains(p.AllowedModules, root)
	}
	if len(p.BlockedModules) > 0 {
		return !contains(p.BlockedModules, root)
	}
	return true
}

func functionAllowed(p *Policy, name string) bool {
	if isDangerousName(name) {
		return false
	}
	if len(p.AllowedFunctions) > 0 {
		return contains(p.AllowedFunctions, name)
	}
	if len(p.BlockedFunctions) > 0 {
		return !contains(p.BlockedFunctions, name)
	}
	return true
}

func variableAllowed(p *Policy, name string) bool {
	if len(p.AllowedVariables) == 0 {
		return true
	}
	return contains(p.AllowedVariables, name)
}
