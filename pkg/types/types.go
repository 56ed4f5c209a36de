package types

import (
	"fmt"
	"sort"
)

// Vertex represents a vertex in the property graph.
type Vertex struct {
	ID         string     `json:"id" msgpack:"id"`
	Label      string     `json:"label" msgpack:"label"`
	Properties Properties `json:"properties,omitempty" msgpack:"properties,omitempty"`
}

// Edge represents a directed relationship between two vertices.
type Edge struct {
	ID         string     `json:"id" msgpack:"id"`
	Label      string     `json:"label" msgpack:"label"`
	SourceID   string     `json:"source_id" msgpack:"source_id"`
	TargetID   string     `json:"target_id" msgpack:"target_id"`
	Properties Properties `json:"properties,omitempty" msgpack:"properties,omitempty"`
}

// String renders the edge as source--label->target.
func (e *Edge) String() string {
	return fmt.Sprintf("%s--%s->%s", e.SourceID, e.Label, e.TargetID)
}

// Cardinality controls how property values are written onto an element
// that already holds values for the same key.
type Cardinality int

const (
	// CardinalitySet replaces any existing values.
	CardinalitySet Cardinality = iota
	// CardinalityList appends to existing values, keeping duplicates.
	CardinalityList
)

// String returns the name of the cardinality.
func (c Cardinality) String() string {
	switch c {
	case CardinalitySet:
		return "set"
	case CardinalityList:
		return "list"
	default:
		return fmt.Sprintf("cardinality(%d)", int(c))
	}
}

// Properties maps a key to one or more values.
type Properties map[string][]any

// Has reports whether key holds at least one value.
func (p Properties) Has(key string) bool {
	return len(p[key]) > 0
}

// Get returns the values stored under key.
func (p Properties) Get(key string) []any {
	return p[key]
}

// First returns the first value stored under key, or nil.
func (p Properties) First(key string) any {
	if vals := p[key]; len(vals) > 0 {
		return vals[0]
	}
	return nil
}

// Add appends values to key.
func (p Properties) Add(key string, values ...any) {
	p[key] = append(p[key], values...)
}

// Keys returns the property keys in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a copy that shares no slices with p.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, vals := range p {
		out[k] = append([]any(nil), vals...)
	}
	return out
}

// Merge writes other onto p using the given cardinality and returns p.
// A nil receiver is replaced with a fresh map.
func (p Properties) Merge(other Properties, mode Cardinality) Properties {
	if p == nil {
		p = make(Properties, len(other))
	}
	for _, k := range other.Keys() {
		vals := other[k]
		if len(vals) == 0 {
			continue
		}
		switch mode {
		case CardinalityList:
			p[k] = append(p[k], vals...)
		default:
			p[k] = append([]any(nil), vals...)
		}
	}
	return p
}

// NewProperties builds Properties from alternating key/value pairs.
// A value that is a []any is stored as multiple values.
func NewProperties(kv ...any) Properties {
	p := make(Properties, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if vals, ok := kv[i+1].([]any); ok {
			p.Add(key, vals...)
			continue
		}
		p.Add(key, kv[i+1])
	}
	return p
}
