package rules

// MergePersonOnSameAs merges Person vertices that share a sameAs reference.
type MergePersonOnSameAs struct{}

// Label implements Rule
func (MergePersonOnSameAs) Label() string { return "Person" }

// Properties implements PropertiesRule
func (MergePersonOnSameAs) Properties() []string { return []string{"sameAs"} }

// IdentifierRule merges vertices of one label that share an identifier
// value, e.g. two Email vertices for the same address.
type IdentifierRule struct {
	label string
}

// NewIdentifierRule creates an IdentifierRule for label.
func NewIdentifierRule(label string) *IdentifierRule {
	return &IdentifierRule{label: label}
}

// Label implements Rule
func (r *IdentifierRule) Label() string { return r.label }

// Properties implements PropertiesRule
func (r *IdentifierRule) Properties() []string { return []string{"identifier"} }

// identifierLabels are the entity labels merged on identifier by default.
var identifierLabels = []string{"Email", "IPAddress", "TelephoneNumber", "URL"}

// DefaultRegistry returns a registry holding the built-in rules.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("MergePersonOnSameAs", func() (Rule, error) { return MergePersonOnSameAs{}, nil })
	for _, label := range identifierLabels {
		label := label
		r.Register("Merge"+label+"OnIdentifier", func() (Rule, error) { return NewIdentifierRule(label), nil })
	}
	return r
}
