package merge

import (
	"context"
	"errors"
	"testing"

	"github.com/soundprediction/go-graphmerge/pkg/driver"
	"github.com/soundprediction/go-graphmerge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_FuseAccumulatesProperties(t *testing.T) {
	ctx := context.Background()
	d := driver.NewMemoryDriver()

	a := addVertex(t, d, "Person", "name", "A", "sameAs", "x")
	b := addVertex(t, d, "Person", "name", "B", "sameAs", "x", "age", 40)

	redirect := NewRedirect()
	result, err := NewEngine(d, nil).Fuse(ctx, MergeSet{Members: ids(a, b)}, "Person", redirect)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 2, result.Members)
	assert.Equal(t, "Person", result.Vertex.Label)

	fused, err := d.GetVertex(ctx, result.Vertex.ID)
	require.NoError(t, err)
	assert.Equal(t, []any{"A", "B"}, fused.Properties.Get("name"))
	assert.Equal(t, []any{"x", "x"}, fused.Properties.Get("sameAs"))
	assert.Equal(t, []any{40}, fused.Properties.Get("age"))

	for _, id := range ids(a, b) {
		_, err := d.GetVertex(ctx, id)
		assert.ErrorIs(t, err, driver.ErrNotFound)

		target, ok := redirect.Lookup(id)
		assert.True(t, ok)
		assert.Equal(t, fused.ID, target)
	}

	assert.Equal(t, 1, d.VertexCount())
	assert.Equal(t, 1, d.Commits())
}

func TestEngine_FusePreservesEdges(t *testing.T) {
	ctx := context.Background()
	d := driver.NewMemoryDriver()

	a := addVertex(t, d, "Person", "name", "A")
	b := addVertex(t, d, "Person", "name", "B")
	email := addVertex(t, d, "Email", "identifier", "a@example.com")
	ip := addVertex(t, d, "IPAddress", "identifier", "10.0.0.1")

	addEdge(t, d, "email", a, email, "since", "2019")
	addEdge(t, d, "email", b, email)
	addEdge(t, d, "uses", ip, b)
	addEdge(t, d, "knows", a, b)

	before, err := d.Edges(ctx, "")
	require.NoError(t, err)

	result, err := NewEngine(d, nil).Fuse(ctx, MergeSet{Members: ids(a, b)}, "Person", NewRedirect())
	require.NoError(t, err)
	fusedID := result.Vertex.ID

	after, err := d.Edges(ctx, "")
	require.NoError(t, err)
	assert.Len(t, after, len(before))
	assert.Equal(t, 4, result.EdgesCopied)
	assert.Equal(t, 1, result.SelfLoops)

	out, err := d.OutEdges(ctx, fusedID)
	require.NoError(t, err)
	in, err := d.InEdges(ctx, fusedID)
	require.NoError(t, err)

	var emails, loops int
	for _, e := range out {
		switch {
		case e.Label == "email":
			assert.Equal(t, email.ID, e.TargetID)
			emails++
		case e.Label == "knows":
			assert.Equal(t, fusedID, e.TargetID)
			loops++
		}
	}
	assert.Equal(t, 2, emails)
	assert.Equal(t, 1, loops)

	var uses int
	for _, e := range in {
		if e.Label == "uses" {
			assert.Equal(t, ip.ID, e.SourceID)
			uses++
		}
	}
	assert.Equal(t, 1, uses)

	emailEdges, err := d.Edges(ctx, "email")
	require.NoError(t, err)
	var since []any
	for _, e := range emailEdges {
		since = append(since, e.Properties.Get("since")...)
	}
	assert.Equal(t, []any{"2019"}, since)
}

func TestEngine_FuseConsultsRedirect(t *testing.T) {
	ctx := context.Background()
	d := driver.NewMemoryDriver()

	stale := addVertex(t, d, "IPAddress", "identifier", "10.0.0.1")
	current := addVertex(t, d, "IPAddress", "identifier", "10.0.0.1")
	m := addVertex(t, d, "Person", "name", "M")
	addEdge(t, d, "uses", stale, m)

	redirect := NewRedirect()
	require.NoError(t, redirect.Record(stale.ID, current.ID))

	result, err := NewEngine(d, nil).Fuse(ctx, MergeSet{Members: ids(m)}, "Person", redirect)
	require.NoError(t, err)

	in, err := d.InEdges(ctx, result.Vertex.ID)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, current.ID, in[0].SourceID)
	assert.Equal(t, "uses", in[0].Label)
}

func TestEngine_FuseEmptySet(t *testing.T) {
	d := driver.NewMemoryDriver()
	addVertex(t, d, "Person", "name", "A")

	result, err := NewEngine(d, nil).Fuse(context.Background(), MergeSet{}, "Person", NewRedirect())
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 1, d.VertexCount())
	assert.Zero(t, d.Commits())
}

func TestEngine_FuseDeleteFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("delete refused")
	mem := driver.NewMemoryDriver()
	d := &failingDriver{MemoryDriver: mem, failOn: "delete", err: boom}

	a := addVertex(t, d, "Person", "name", "A")
	b := addVertex(t, d, "Person", "name", "A")

	_, err := NewEngine(d, nil).Fuse(ctx, MergeSet{Members: ids(a, b)}, "Person", NewRedirect())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, mem.Commits())

	require.NoError(t, mem.Rollback(ctx))
	assert.Zero(t, mem.VertexCount())
}

func TestEngine_FuseCommitFailure(t *testing.T) {
	boom := errors.New("commit refused")
	d := &failingDriver{MemoryDriver: driver.NewMemoryDriver(), failOn: "commit", err: boom}

	a := addVertex(t, d, "Person", "name", "A")
	b := addVertex(t, d, "Person", "name", "A")

	_, err := NewEngine(d, nil).Fuse(context.Background(), MergeSet{Members: ids(a, b)}, "Person", NewRedirect())
	assert.ErrorIs(t, err, boom)
}

func TestEngine_FuseAlreadyRedirected(t *testing.T) {
	ctx := context.Background()
	d := driver.NewMemoryDriver()

	a := addVertex(t, d, "Person", "name", "A")
	b := addVertex(t, d, "Person", "name", "A")

	redirect := NewRedirect()
	require.NoError(t, redirect.Record(a.ID, "elsewhere"))

	_, err := NewEngine(d, nil).Fuse(ctx, MergeSet{Members: ids(a, b)}, "Person", redirect)
	assert.ErrorIs(t, err, ErrAlreadyRedirected)
	assert.Zero(t, d.Commits())
}

func TestEngine_FuseMissingMember(t *testing.T) {
	d := driver.NewMemoryDriver()
	a := addVertex(t, d, "Person", "name", "A")

	_, err := NewEngine(d, nil).Fuse(context.Background(), MergeSet{Members: []string{a.ID, "gone"}}, "Person", NewRedirect())
	assert.ErrorIs(t, err, driver.ErrNotFound)
}

func TestEngine_FuseKeepsValueTypes(t *testing.T) {
	badgerDriver, err := driver.NewBadgerDriver("", true)
	require.NoError(t, err)
	defer badgerDriver.Close(context.Background())

	tests := []struct {
		name   string
		driver driver.GraphDriver
		number any
	}{
		{name: "memory", driver: driver.NewMemoryDriver(), number: 42},
		// badger reads signed integers back as int64
		{name: "badger", driver: badgerDriver, number: int64(42)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			d := tt.driver

			a := addVertex(t, d, "Account", "number", 42, "active", true)
			b := addVertex(t, d, "Account", "number", 42)

			result, err := NewEngine(d, nil).Fuse(ctx, MergeSet{Members: ids(a, b)}, "Account", NewRedirect())
			require.NoError(t, err)

			fused, err := d.GetVertex(ctx, result.Vertex.ID)
			require.NoError(t, err)
			want := types.NewProperties("number", []any{tt.number, tt.number}, "active", true)
			assert.Equal(t, want, fused.Properties)
		})
	}
}
