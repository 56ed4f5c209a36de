package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the document layout read by LoadFile:
//
//	rules:
//	  - name: person-by-name   # optional
//	    label: Person
//	    properties: [name]
type ruleFile struct {
	Rules []*PropertiesMergeRule `yaml:"rules"`
}

// LoadFile reads properties rules from a YAML file, in file order.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	return rules, nil
}

// Parse decodes a YAML rule document.
func Parse(data []byte) ([]Rule, error) {
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	rules := make([]Rule, 0, len(doc.Rules))
	for i, r := range doc.Rules {
		if r == nil || r.RuleLabel == "" {
			return nil, fmt.Errorf("rule %d: label is required", i)
		}
		if len(r.Keys) == 0 {
			return nil, fmt.Errorf("rule %d (%s): at least one property is required", i, r.RuleLabel)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// RegistryFromFile returns a registry holding the parsed rules, for callers that
// discover rules rather than pass them explicitly.
func RegistryFromFile(path string) (*Registry, error) {
	rules, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	r := NewRegistry()
	for _, rule := range rules {
		r.RegisterRule(rule)
	}
	return r, nil
}
