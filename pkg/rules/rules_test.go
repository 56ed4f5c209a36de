package rules_test

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/soundprediction/go-graphmerge/pkg/rules"
	"github.com/soundprediction/go-graphmerge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type labelOnlyRule struct{}

func (labelOnlyRule) Label() string { return "Person" }

type nameCountRule struct{}

func (nameCountRule) Label() string        { return "Person" }
func (nameCountRule) Properties() []string { return []string{"name"} }
func (nameCountRule) KeyValues(v *types.Vertex) []any {
	return []any{len(v.Properties.Get("name"))}
}

func TestDefaultName(t *testing.T) {
	assert.Equal(t, "PropertiesMergeRule[label=Person,properties=[sameAs]]", rules.DefaultName(rules.MergePersonOnSameAs{}))
	assert.Equal(t, "PropertiesMergeRule[label=Person,properties=[name, dob]]", rules.DefaultName(rules.NewPropertiesRule("Person", "name", "dob")))
	assert.Equal(t, "MergeRule[label=Person]", rules.DefaultName(labelOnlyRule{}))
}

func TestName(t *testing.T) {
	named := &rules.PropertiesMergeRule{RuleName: "people", RuleLabel: "Person", Keys: []string{"name"}}
	assert.Equal(t, "people", rules.Name(named))

	// an empty name falls back to the derived one
	assert.Equal(t, rules.DefaultName(rules.NewPropertiesRule("Email", "identifier")), rules.Name(rules.NewPropertiesRule("Email", "identifier")))
}

func TestPropertyValue(t *testing.T) {
	tests := []struct {
		name  string
		props types.Properties
		want  any
	}{
		{"absent", types.NewProperties(), nil},
		{"single", types.NewProperties("name", "James"), "James"},
		{"repeated", types.NewProperties("name", []any{"Martha", "Martha"}), "Martha"},
		{"distinct values sorted", types.NewProperties("name", []any{"Simon", "Si"}), []any{"Si", "Simon"}},
		{"types kept apart", types.NewProperties("n", []any{1, "1"}), []any{1, "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rules.PropertyValue(tt.props, firstKey(tt.props)))
		})
	}
}

func firstKey(p types.Properties) string {
	if keys := p.Keys(); len(keys) > 0 {
		return keys[0]
	}
	return "missing"
}

func TestKeyValues(t *testing.T) {
	v := &types.Vertex{ID: "1", Label: "Person", Properties: types.NewProperties("name", "James", "dob", "1970")}

	rule := rules.NewPropertiesRule("Person", "dob", "name", "sameAs")
	assert.Equal(t, []any{"1970", "James", nil}, rules.KeyValues(rule, v))

	// custom extractors take precedence
	assert.Equal(t, []any{1}, rules.KeyValues(nameCountRule{}, v))
}

func TestRegistryDiscover(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := rules.NewRegistry().
		Register("first", func() (rules.Rule, error) { return rules.NewPropertiesRule("Person", "name"), nil }).
		Register("broken", func() (rules.Rule, error) { return nil, errors.New("missing dependency") }).
		Register("abstract", func() (rules.Rule, error) { return nil, nil }).
		Register("panics", func() (rules.Rule, error) { panic("boom") }).
		Register("nil constructor", nil).
		Register("last", func() (rules.Rule, error) { return rules.MergePersonOnSameAs{}, nil })
	require.Equal(t, 6, r.Len())
	assert.Equal(t, []string{"first", "broken", "abstract", "panics", "nil constructor", "last"}, r.Names())

	discovered := r.Discover(logger)

	require.Len(t, discovered, 2)
	assert.Equal(t, "Person", discovered[0].Label())
	assert.IsType(t, rules.MergePersonOnSameAs{}, discovered[1])
	assert.Contains(t, buf.String(), "missing dependency")
	assert.Contains(t, buf.String(), "boom")
}

func TestDefaultRegistry(t *testing.T) {
	discovered := rules.DefaultRegistry().Discover(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	labels := make([]string, len(discovered))
	for i, r := range discovered {
		labels[i] = r.Label()
		_, ok := r.(rules.PropertiesRule)
		assert.True(t, ok, "built-in rule %s should merge on properties", rules.Name(r))
	}
	assert.Equal(t, []string{"Person", "Email", "IPAddress", "TelephoneNumber", "URL"}, labels)
}

func TestParse(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		parsed, err := rules.Parse([]byte(`
rules:
  - label: Person
    properties: [sameAs]
  - name: person-by-name
    label: Person
    properties: [name, dob]
`))
		require.NoError(t, err)
		require.Len(t, parsed, 2)

		assert.Equal(t, "PropertiesMergeRule[label=Person,properties=[sameAs]]", rules.Name(parsed[0]))
		assert.Equal(t, "person-by-name", rules.Name(parsed[1]))
		assert.Equal(t, []string{"name", "dob"}, parsed[1].(rules.PropertiesRule).Properties())
	})

	t.Run("missing label", func(t *testing.T) {
		_, err := rules.Parse([]byte("rules:\n  - properties: [name]\n"))
		assert.ErrorContains(t, err, "label is required")
	})

	t.Run("missing properties", func(t *testing.T) {
		_, err := rules.Parse([]byte("rules:\n  - label: Person\n"))
		assert.ErrorContains(t, err, "at least one property")
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := rules.Parse([]byte("rules: [this is: not valid"))
		assert.Error(t, err)
	})
}

func TestRegistryFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - label: Email\n    properties: [identifier]\n"), 0o600))

	r, err := rules.RegistryFromFile(path)
	require.NoError(t, err)
	discovered := r.Discover(nil)
	require.Len(t, discovered, 1)
	assert.Equal(t, "Email", discovered[0].Label())

	_, err = rules.RegistryFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
