package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/soundprediction/go-graphmerge/pkg/types"
)

// Rule selects the vertices a merge applies to.
type Rule interface {
	// Label is the vertex label the rule applies to
	Label() string
}

// PropertiesRule merges vertices of one label whose values for an ordered
// list of property keys are equal.
type PropertiesRule interface {
	Rule
	// Properties is the ordered grouping key
	Properties() []string
}

// Namer is implemented by rules that provide their own display name.
type Namer interface {
	Name() string
}

// KeyExtractor is implemented by rules that compute their own key tuple.
// The result must line up with Properties(), using nil for an absent value.
type KeyExtractor interface {
	KeyValues(v *types.Vertex) []any
}

// DefaultName derives a rule name from its label and, for properties rules,
// its keys.
func DefaultName(r Rule) string {
	if pr, ok := r.(PropertiesRule); ok {
		return fmt.Sprintf("PropertiesMergeRule[label=%s,properties=[%s]]", pr.Label(), strings.Join(pr.Properties(), ", "))
	}
	return fmt.Sprintf("MergeRule[label=%s]", r.Label())
}

// Name returns the rule's own name when it has one, otherwise DefaultName.
func Name(r Rule) string {
	if n, ok := r.(Namer); ok {
		if name := n.Name(); name != "" {
			return name
		}
	}
	return DefaultName(r)
}

// KeyValues returns the key tuple of v under r, one entry per property in order.
func KeyValues(r PropertiesRule, v *types.Vertex) []any {
	if ke, ok := r.(KeyExtractor); ok {
		return ke.KeyValues(v)
	}

	keys := r.Properties()
	values := make([]any, len(keys))
	for i, k := range keys {
		values[i] = PropertyValue(v.Properties, k)
	}
	return values
}

// PropertyValue reduces the values held under key to a comparable form:
// nil when absent, the value itself when every value is the same, and
// otherwise the distinct values in canonical order. A vertex that already
// absorbed duplicates (name=[Martha, Martha]) therefore still matches one
// holding the plain value.
func PropertyValue(props types.Properties, key string) any {
	vals := props.Get(key)
	if len(vals) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(vals))
	distinct := make([]any, 0, len(vals))
	canon := make(map[int]string, len(vals))
	for _, v := range vals {
		c := Canonical(v)
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		canon[len(distinct)] = c
		distinct = append(distinct, v)
	}

	if len(distinct) == 1 {
		return distinct[0]
	}

	idx := make([]int, len(distinct))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return canon[idx[a]] < canon[idx[b]] })

	sorted := make([]any, len(distinct))
	for i, j := range idx {
		sorted[i] = distinct[j]
	}
	return sorted
}

// Canonical renders a value with its dynamic type so that values of
// different types never collide ("1" and 1 differ).
func Canonical(v any) string {
	return fmt.Sprintf("%T:%v", v, v)
}

// PropertiesMergeRule is a PropertiesRule built from data rather than code.
type PropertiesMergeRule struct {
	RuleName  string   `yaml:"name,omitempty"`
	RuleLabel string   `yaml:"label"`
	Keys      []string `yaml:"properties"`
}

// NewPropertiesRule creates a rule merging label vertices on keys.
func NewPropertiesRule(label string, keys ...string) *PropertiesMergeRule {
	return &PropertiesMergeRule{RuleLabel: label, Keys: keys}
}

// Label implements Rule
func (r *PropertiesMergeRule) Label() string { return r.RuleLabel }

// Properties implements PropertiesRule
func (r *PropertiesMergeRule) Properties() []string { return r.Keys }

// Name implements Namer; empty means DefaultName is used.
func (r *PropertiesMergeRule) Name() string { return r.RuleName }
