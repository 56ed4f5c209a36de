package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/soundprediction/go-graphmerge/pkg/config"
	"github.com/soundprediction/go-graphmerge/pkg/types"
)

var (
	// ErrNotFound is returned when a vertex or edge does not exist.
	ErrNotFound = errors.New("element not found")
	// ErrClosed is returned when a driver is used after Close.
	ErrClosed = errors.New("driver is closed")
)

// GraphDriver defines the graph store operations the merger relies on.
// Mutations become durable on Commit; implementations without transactions
// treat Commit as a checkpoint.
type GraphDriver interface {
	// Vertex operations
	VerticesByLabel(ctx context.Context, label string, keys ...string) ([]*types.Vertex, error)
	GetVertex(ctx context.Context, id string) (*types.Vertex, error)
	AddVertex(ctx context.Context, label string) (*types.Vertex, error)
	SetVertexProperties(ctx context.Context, id string, props types.Properties, mode types.Cardinality) error
	// DeleteVertices removes the vertices and every edge incident to them.
	DeleteVertices(ctx context.Context, ids []string) error

	// Edge operations
	InEdges(ctx context.Context, vertexID string) ([]*types.Edge, error)
	OutEdges(ctx context.Context, vertexID string) ([]*types.Edge, error)
	AddEdge(ctx context.Context, label, sourceID, targetID string) (*types.Edge, error)
	SetEdgeProperties(ctx context.Context, id string, props types.Properties, mode types.Cardinality) error

	// Transaction management
	Commit(ctx context.Context) error

	// Connection management
	Close(ctx context.Context) error
}

// GraphProvider identifies a backing store.
type GraphProvider string

const (
	GraphProviderMemory   GraphProvider = "memory"
	GraphProviderBadger   GraphProvider = "badger"
	GraphProviderNeo4j    GraphProvider = "neo4j"
	GraphProviderMemgraph GraphProvider = "memgraph"
)

// Open connects to the store described by cfg.
func Open(ctx context.Context, cfg config.DatabaseConfig) (GraphDriver, error) {
	switch GraphProvider(cfg.Driver) {
	case GraphProviderMemory:
		return NewMemoryDriver(), nil
	case GraphProviderBadger:
		return NewBadgerDriver(cfg.Path, cfg.InMemory)
	case GraphProviderNeo4j, GraphProviderMemgraph:
		d, err := NewNeo4jDriver(GraphProvider(cfg.Driver), cfg.URI, cfg.Username, cfg.Password, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := d.VerifyConnectivity(ctx); err != nil {
			d.Close(ctx)
			return nil, fmt.Errorf("failed to connect to %s database %s: %w", cfg.Driver, d.Database(), err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// hasAll reports whether props holds a value for every key.
func hasAll(props types.Properties, keys []string) bool {
	for _, k := range keys {
		if !props.Has(k) {
			return false
		}
	}
	return true
}
