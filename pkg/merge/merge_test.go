package merge

import (
	"context"
	"testing"

	"github.com/soundprediction/go-graphmerge/pkg/driver"
	"github.com/soundprediction/go-graphmerge/pkg/types"
	"github.com/stretchr/testify/require"
)

// addVertex creates a vertex and sets alternating key/value properties on it.
func addVertex(t *testing.T, d driver.GraphDriver, label string, kv ...any) *types.Vertex {
	t.Helper()
	ctx := context.Background()

	v, err := d.AddVertex(ctx, label)
	require.NoError(t, err)
	if len(kv) > 0 {
		require.NoError(t, d.SetVertexProperties(ctx, v.ID, types.NewProperties(kv...), types.CardinalityList))
	}
	got, err := d.GetVertex(ctx, v.ID)
	require.NoError(t, err)
	return got
}

func addEdge(t *testing.T, d driver.GraphDriver, label string, from, to *types.Vertex, kv ...any) *types.Edge {
	t.Helper()
	ctx := context.Background()

	e, err := d.AddEdge(ctx, label, from.ID, to.ID)
	require.NoError(t, err)
	if len(kv) > 0 {
		require.NoError(t, d.SetEdgeProperties(ctx, e.ID, types.NewProperties(kv...), types.CardinalityList))
	}
	return e
}

func ids(vertices ...*types.Vertex) []string {
	out := make([]string, len(vertices))
	for i, v := range vertices {
		out[i] = v.ID
	}
	return out
}

// failingDriver fails the named operation once armed.
type failingDriver struct {
	*driver.MemoryDriver
	failOn string
	err    error
}

func (f *failingDriver) DeleteVertices(ctx context.Context, ids []string) error {
	if f.failOn == "delete" {
		return f.err
	}
	return f.MemoryDriver.DeleteVertices(ctx, ids)
}

func (f *failingDriver) Commit(ctx context.Context) error {
	if f.failOn == "commit" {
		return f.err
	}
	return f.MemoryDriver.Commit(ctx)
}

func (f *failingDriver) VerticesByLabel(ctx context.Context, label string, keys ...string) ([]*types.Vertex, error) {
	if f.failOn == "scan" {
		return nil, f.err
	}
	return f.MemoryDriver.VerticesByLabel(ctx, label, keys...)
}
