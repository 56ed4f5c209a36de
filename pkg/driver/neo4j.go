package driver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/soundprediction/go-graphmerge/pkg/types"
)

// Neo4jDriver implements the GraphDriver interface for Neo4j and Memgraph.
// All statements run inside one explicit transaction that Commit closes and
// replaces.
type Neo4jDriver struct {
	provider GraphProvider
	client   neo4j.DriverWithContext
	database string

	mu      sync.Mutex
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
}

// NewNeo4jDriver creates a new driver instance for provider (neo4j or memgraph).
func NewNeo4jDriver(provider GraphProvider, uri, username, password, database string) (*Neo4jDriver, error) {
	client, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s driver: %w", provider, err)
	}

	if database == "" {
		switch provider {
		case GraphProviderNeo4j:
			database = "neo4j"
		case GraphProviderMemgraph:
			database = "memgraph"
		}
	}

	return &Neo4jDriver{
		provider: provider,
		client:   client,
		database: database,
	}, nil
}

// Database returns the name of the database statements run against.
func (n *Neo4jDriver) Database() string {
	return n.database
}

// VerifyConnectivity checks that the server is reachable.
func (n *Neo4jDriver) VerifyConnectivity(ctx context.Context) error {
	return n.client.VerifyConnectivity(ctx)
}

// idOf returns the expression identifying variable v in this provider's dialect.
func (n *Neo4jDriver) idOf(v string) string {
	if n.provider == GraphProviderMemgraph {
		return fmt.Sprintf("id(%s)", v)
	}
	return fmt.Sprintf("elementId(%s)", v)
}

// matchID returns a predicate comparing variable v against parameter param.
func (n *Neo4jDriver) matchID(v, param string) string {
	if n.provider == GraphProviderMemgraph {
		return fmt.Sprintf("id(%s) = toInteger($%s)", v, param)
	}
	return fmt.Sprintf("elementId(%s) = $%s", v, param)
}

// transaction returns the open transaction, beginning one if needed.
func (n *Neo4jDriver) transaction(ctx context.Context) (neo4j.ExplicitTransaction, error) {
	if n.client == nil {
		return nil, ErrClosed
	}
	if n.tx != nil {
		return n.tx, nil
	}
	if n.session == nil {
		n.session = n.client.NewSession(ctx, neo4j.SessionConfig{
			DatabaseName: n.database,
			AccessMode:   neo4j.AccessModeWrite,
		})
	}
	tx, err := n.session.BeginTransaction(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	n.tx = tx
	return tx, nil
}

func (n *Neo4jDriver) run(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	tx, err := n.transaction(ctx)
	if err != nil {
		return nil, err
	}
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		n.discard(ctx)
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		n.discard(ctx)
		return nil, err
	}
	return records, nil
}

// discard rolls back and forgets the open transaction, so the next
// statement begins a fresh one.
func (n *Neo4jDriver) discard(ctx context.Context) {
	if n.tx == nil {
		return
	}
	n.tx.Rollback(ctx)
	n.tx.Close(ctx)
	n.tx = nil
}

// VerticesByLabel returns the vertices with label that hold every key.
func (n *Neo4jDriver) VerticesByLabel(ctx context.Context, label string, keys ...string) ([]*types.Vertex, error) {
	var where []string
	for _, k := range keys {
		where = append(where, fmt.Sprintf("n.%s IS NOT NULL", quote(k)))
	}
	query := fmt.Sprintf("MATCH (n:%s)", quote(label))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" RETURN n ORDER BY %s", n.idOf("n"))

	records, err := n.run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query vertices with label %s: %w", label, err)
	}

	vertices := make([]*types.Vertex, 0, len(records))
	for _, record := range records {
		v, err := vertexFromRecord(record, "n")
		if err != nil {
			return nil, err
		}
		vertices = append(vertices, v)
	}
	return vertices, nil
}

// GetVertex retrieves a vertex by ID.
func (n *Neo4jDriver) GetVertex(ctx context.Context, id string) (*types.Vertex, error) {
	query := fmt.Sprintf("MATCH (n) WHERE %s RETURN n", n.matchID("n", "id"))
	records, err := n.run(ctx, query, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to get vertex %s: %w", id, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("vertex %s: %w", id, ErrNotFound)
	}
	return vertexFromRecord(records[0], "n")
}

// AddVertex creates a vertex with no properties.
func (n *Neo4jDriver) AddVertex(ctx context.Context, label string) (*types.Vertex, error) {
	query := fmt.Sprintf("CREATE (n:%s) RETURN n", quote(label))
	records, err := n.run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("failed to create vertex: no record returned")
	}
	return vertexFromRecord(records[0], "n")
}

// SetVertexProperties writes props onto a vertex.
func (n *Neo4jDriver) SetVertexProperties(ctx context.Context, id string, props types.Properties, mode types.Cardinality) error {
	current, err := n.GetVertex(ctx, id)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("MATCH (n) WHERE %s SET n += $props", n.matchID("n", "id"))
	_, err = n.run(ctx, query, map[string]any{
		"id":    id,
		"props": encodeProperties(mergedKeys(current.Properties, props, mode)),
	})
	if err != nil {
		return fmt.Errorf("failed to set properties on vertex %s: %w", id, err)
	}
	return nil
}

// DeleteVertices detaches and deletes the vertices.
func (n *Neo4jDriver) DeleteVertices(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	var query string
	if n.provider == GraphProviderMemgraph {
		query = "MATCH (n) WHERE id(n) IN [x IN $ids | toInteger(x)] DETACH DELETE n"
	} else {
		query = "MATCH (n) WHERE elementId(n) IN $ids DETACH DELETE n"
	}

	if _, err := n.run(ctx, query, map[string]any{"ids": ids}); err != nil {
		return fmt.Errorf("failed to delete %d vertices: %w", len(ids), err)
	}
	return nil
}

// InEdges returns the edges pointing at vertexID.
func (n *Neo4jDriver) InEdges(ctx context.Context, vertexID string) ([]*types.Edge, error) {
	query := fmt.Sprintf("MATCH ()-[r]->(n) WHERE %s RETURN r ORDER BY %s", n.matchID("n", "id"), n.idOf("r"))
	return n.edges(ctx, query, vertexID)
}

// OutEdges returns the edges leaving vertexID.
func (n *Neo4jDriver) OutEdges(ctx context.Context, vertexID string) ([]*types.Edge, error) {
	query := fmt.Sprintf("MATCH (n)-[r]->() WHERE %s RETURN r ORDER BY %s", n.matchID("n", "id"), n.idOf("r"))
	return n.edges(ctx, query, vertexID)
}

func (n *Neo4jDriver) edges(ctx context.Context, query, vertexID string) ([]*types.Edge, error) {
	records, err := n.run(ctx, query, map[string]any{"id": vertexID})
	if err != nil {
		return nil, fmt.Errorf("failed to query edges of %s: %w", vertexID, err)
	}

	edges := make([]*types.Edge, 0, len(records))
	for _, record := range records {
		e, err := edgeFromRecord(record, "r")
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// AddEdge creates an edge from sourceID to targetID.
func (n *Neo4jDriver) AddEdge(ctx context.Context, label, sourceID, targetID string) (*types.Edge, error) {
	query := fmt.Sprintf("MATCH (s) WHERE %s MATCH (t) WHERE %s CREATE (s)-[r:%s]->(t) RETURN r",
		n.matchID("s", "source"), n.matchID("t", "target"), quote(label))

	records, err := n.run(ctx, query, map[string]any{"source": sourceID, "target": targetID})
	if err != nil {
		return nil, fmt.Errorf("failed to create edge %s->%s: %w", sourceID, targetID, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("edge %s->%s: %w", sourceID, targetID, ErrNotFound)
	}
	return edgeFromRecord(records[0], "r")
}

// SetEdgeProperties writes props onto an edge.
func (n *Neo4jDriver) SetEdgeProperties(ctx context.Context, id string, props types.Properties, mode types.Cardinality) error {
	query := fmt.Sprintf("MATCH ()-[r]->() WHERE %s RETURN r", n.matchID("r", "id"))
	records, err := n.run(ctx, query, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("failed to get edge %s: %w", id, err)
	}
	if len(records) == 0 {
		return fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}
	current, err := edgeFromRecord(records[0], "r")
	if err != nil {
		return err
	}

	query = fmt.Sprintf("MATCH ()-[r]->() WHERE %s SET r += $props", n.matchID("r", "id"))
	_, err = n.run(ctx, query, map[string]any{
		"id":    id,
		"props": encodeProperties(mergedKeys(current.Properties, props, mode)),
	})
	if err != nil {
		return fmt.Errorf("failed to set properties on edge %s: %w", id, err)
	}
	return nil
}

// Commit commits the open transaction. The next statement begins a new one.
func (n *Neo4jDriver) Commit(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.client == nil {
		return ErrClosed
	}
	if n.tx == nil {
		return nil
	}

	err := n.tx.Commit(ctx)
	n.tx.Close(ctx)
	n.tx = nil
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close rolls back uncommitted work and closes the connection.
func (n *Neo4jDriver) Close(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.client == nil {
		return nil
	}
	n.discard(ctx)
	if n.session != nil {
		n.session.Close(ctx)
		n.session = nil
	}

	err := n.client.Close(ctx)
	n.client = nil
	return err
}

// mergedKeys returns the full value lists for the keys in props after applying mode on top of current.
func mergedKeys(current, props types.Properties, mode types.Cardinality) types.Properties {
	out := make(types.Properties, len(props))
	for _, k := range props.Keys() {
		if mode == types.CardinalityList {
			out[k] = append([]any(nil), current[k]...)
		}
	}
	return out.Merge(props, mode)
}

// encodeProperties turns multi-valued properties into Cypher values: a
// single value is stored as a scalar, several as a list.
func encodeProperties(props types.Properties) map[string]any {
	out := make(map[string]any, len(props))
	for k, vals := range props {
		switch len(vals) {
		case 0:
		case 1:
			out[k] = vals[0]
		default:
			out[k] = append([]any(nil), vals...)
		}
	}
	return out
}

func decodeProperties(raw map[string]any) types.Properties {
	props := make(types.Properties, len(raw))
	for k, v := range raw {
		if list, ok := v.([]any); ok {
			props.Add(k, list...)
			continue
		}
		props.Add(k, v)
	}
	return props
}

func vertexFromRecord(record *neo4j.Record, key string) (*types.Vertex, error) {
	raw, found := record.Get(key)
	if !found {
		return nil, fmt.Errorf("record has no %q column", key)
	}
	node, ok := raw.(dbtype.Node)
	if !ok {
		return nil, fmt.Errorf("column %q is %T, not a node", key, raw)
	}

	label := ""
	if len(node.Labels) > 0 {
		label = node.Labels[0]
	}
	return &types.Vertex{
		ID:         node.ElementId,
		Label:      label,
		Properties: decodeProperties(node.Props),
	}, nil
}

func edgeFromRecord(record *neo4j.Record, key string) (*types.Edge, error) {
	raw, found := record.Get(key)
	if !found {
		return nil, fmt.Errorf("record has no %q column", key)
	}
	rel, ok := raw.(dbtype.Relationship)
	if !ok {
		return nil, fmt.Errorf("column %q is %T, not a relationship", key, raw)
	}

	return &types.Edge{
		ID:         rel.ElementId,
		Label:      rel.Type,
		SourceID:   rel.StartElementId,
		TargetID:   rel.EndElementId,
		Properties: decodeProperties(rel.Props),
	}, nil
}

// quote escapes an identifier (label, relationship type or property key) for Cypher.
func quote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
