package types_test

import (
	"testing"

	"github.com/soundprediction/go-graphmerge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertiesMerge(t *testing.T) {
	t.Run("list cardinality accumulates", func(t *testing.T) {
		p := types.NewProperties("name", "A")
		p.Merge(types.NewProperties("name", "B"), types.CardinalityList)
		p.Merge(types.NewProperties("name", "A"), types.CardinalityList)

		assert.Equal(t, []any{"A", "B", "A"}, p.Get("name"))
	})

	t.Run("set cardinality overwrites", func(t *testing.T) {
		p := types.NewProperties("name", "A", "age", 3)
		p.Merge(types.NewProperties("name", "B"), types.CardinalitySet)

		assert.Equal(t, []any{"B"}, p.Get("name"))
		assert.Equal(t, []any{3}, p.Get("age"))
	})

	t.Run("nil receiver", func(t *testing.T) {
		var p types.Properties
		p = p.Merge(types.NewProperties("k", "v"), types.CardinalityList)
		require.NotNil(t, p)
		assert.Equal(t, "v", p.First("k"))
	})

	t.Run("merged slices are not shared", func(t *testing.T) {
		src := types.NewProperties("k", "v")
		dst := types.Properties{}.Merge(src, types.CardinalitySet)
		dst.Add("k", "w")

		assert.Len(t, src.Get("k"), 1)
	})
}

func TestNewProperties(t *testing.T) {
	p := types.NewProperties("name", []any{"Si", "Simon"}, "sameAs", "http://www.example.com/simon", 42, "ignored")

	assert.True(t, p.Has("name"))
	assert.Equal(t, []any{"Si", "Simon"}, p.Get("name"))
	assert.Equal(t, []string{"name", "sameAs"}, p.Keys())
	assert.False(t, p.Has("missing"))
	assert.Nil(t, p.First("missing"))
}

func TestPropertiesClone(t *testing.T) {
	p := types.NewProperties("name", "A")
	c := p.Clone()
	c.Add("name", "B")

	assert.Equal(t, []any{"A"}, p.Get("name"))
	assert.Equal(t, []any{"A", "B"}, c.Get("name"))
	assert.Nil(t, types.Properties(nil).Clone())
}

func TestCardinalityString(t *testing.T) {
	assert.Equal(t, "set", types.CardinalitySet.String())
	assert.Equal(t, "list", types.CardinalityList.String())
	assert.Equal(t, "cardinality(7)", types.Cardinality(7).String())
}
