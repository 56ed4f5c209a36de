package rules

import (
	"fmt"
	"log/slog"
)

// Constructor builds a rule. Returning a nil rule marks the entry as
// abstract: it is skipped without being reported as a failure.
type Constructor func() (Rule, error)

type registration struct {
	name string
	ctor Constructor
}

// Registry is an ordered set of rule constructors known at program start.
type Registry struct {
	entries []registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a constructor. Discovery order is registration order.
func (r *Registry) Register(name string, ctor Constructor) *Registry {
	r.entries = append(r.entries, registration{name: name, ctor: ctor})
	return r
}

// RegisterRule registers a rule value that needs no construction.
func (r *Registry) RegisterRule(rule Rule) *Registry {
	return r.Register(Name(rule), func() (Rule, error) { return rule, nil })
}

// Len returns the number of registered constructors.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Names returns the registered rule names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}

// Discover instantiates every registered rule. Constructors that fail or
// panic are logged and dropped; the rules that could be built are returned
// in registration order.
func (r *Registry) Discover(logger *slog.Logger) []Rule {
	if logger == nil {
		logger = slog.Default()
	}

	rules := make([]Rule, 0, len(r.entries))
	for _, e := range r.entries {
		logger.Info("Instantiating rule", "rule", e.name)

		rule, err := instantiate(e.ctor)
		if err != nil {
			logger.Error("Couldn't instantiate rule", "rule", e.name, "error", err)
			continue
		}
		if rule == nil {
			logger.Debug("Skipping abstract rule", "rule", e.name)
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

func instantiate(ctor Constructor) (rule Rule, err error) {
	if ctor == nil {
		return nil, nil
	}
	defer func() {
		if p := recover(); p != nil {
			rule, err = nil, fmt.Errorf("constructor panicked: %v", p)
		}
	}()
	return ctor()
}
