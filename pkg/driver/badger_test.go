package driver_test

import (
	"context"
	"testing"

	"github.com/soundprediction/go-graphmerge/pkg/driver"
	"github.com/soundprediction/go-graphmerge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerDriver(t *testing.T) {
	d, err := driver.NewBadgerDriver("", true)
	require.NoError(t, err)
	defer d.Close(context.Background())

	exerciseDriver(t, d)
}

func TestBadgerDriver_CommitIsDurable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	d, err := driver.NewBadgerDriver(dir, false)
	require.NoError(t, err)

	committed, err := d.AddVertex(ctx, "IPAddress")
	require.NoError(t, err)
	require.NoError(t, d.SetVertexProperties(ctx, committed.ID, types.NewProperties("identifier", "127.0.0.1"), types.CardinalityList))
	require.NoError(t, d.Commit(ctx))

	// never committed, lost on close
	_, err = d.AddVertex(ctx, "IPAddress")
	require.NoError(t, err)
	require.NoError(t, d.Close(ctx))

	reopened, err := driver.NewBadgerDriver(dir, false)
	require.NoError(t, err)
	defer reopened.Close(ctx)

	vertices, err := reopened.VerticesByLabel(ctx, "IPAddress")
	require.NoError(t, err)
	require.Len(t, vertices, 1)
	assert.Equal(t, committed.ID, vertices[0].ID)
	assert.Equal(t, "127.0.0.1", vertices[0].Properties.First("identifier"))
}

func TestBadgerDriver_InsertionOrder(t *testing.T) {
	ctx := context.Background()
	d, err := driver.NewBadgerDriver("", true)
	require.NoError(t, err)
	defer d.Close(ctx)

	var ids []string
	for i := 0; i < 5; i++ {
		v, err := d.AddVertex(ctx, "Person")
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}

	vertices, err := d.VerticesByLabel(ctx, "Person")
	require.NoError(t, err)
	require.Len(t, vertices, 5)
	for i, v := range vertices {
		assert.Equal(t, ids[i], v.ID)
	}

	// a label that is a prefix of another must not leak into its scan
	_, err = d.AddVertex(ctx, "PersonAlias")
	require.NoError(t, err)
	vertices, err = d.VerticesByLabel(ctx, "Person")
	require.NoError(t, err)
	assert.Len(t, vertices, 5)
}

func TestBadgerDriver_Closed(t *testing.T) {
	ctx := context.Background()
	d, err := driver.NewBadgerDriver("", true)
	require.NoError(t, err)
	require.NoError(t, d.Close(ctx))
	require.NoError(t, d.Close(ctx))

	_, err = d.AddVertex(ctx, "Person")
	assert.ErrorIs(t, err, driver.ErrClosed)
}

func TestBadgerDriver_ValueTypes(t *testing.T) {
	ctx := context.Background()
	d, err := driver.NewBadgerDriver("", true)
	require.NoError(t, err)
	defer d.Close(ctx)

	v, err := d.AddVertex(ctx, "Account")
	require.NoError(t, err)
	props := types.NewProperties(
		"small", 42,
		"large", int64(-1)<<40,
		"negative", -7,
		"unsigned", uint8(200),
		"ratio", float32(0.5),
		"active", true,
		"owner", "james",
	)
	require.NoError(t, d.SetVertexProperties(ctx, v.ID, props, types.CardinalityList))
	require.NoError(t, d.Commit(ctx))

	got, err := d.GetVertex(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(42)}, got.Properties.Get("small"))
	assert.Equal(t, []any{int64(-1) << 40}, got.Properties.Get("large"))
	assert.Equal(t, []any{int64(-7)}, got.Properties.Get("negative"))
	assert.Equal(t, []any{uint64(200)}, got.Properties.Get("unsigned"))
	assert.Equal(t, []any{float64(0.5)}, got.Properties.Get("ratio"))
	assert.Equal(t, []any{true}, got.Properties.Get("active"))
	assert.Equal(t, []any{"james"}, got.Properties.Get("owner"))
}
