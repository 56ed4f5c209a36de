package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/soundprediction/go-graphmerge/pkg/types"
)

type memVertex struct {
	vertex *types.Vertex
	seq    uint64
}

type memEdge struct {
	edge *types.Edge
	seq  uint64
}

type memState struct {
	vertices map[string]*memVertex
	edges    map[string]*memEdge
	in       map[string]map[string]struct{}
	out      map[string]map[string]struct{}
}

func newMemState() *memState {
	return &memState{
		vertices: make(map[string]*memVertex),
		edges:    make(map[string]*memEdge),
		in:       make(map[string]map[string]struct{}),
		out:      make(map[string]map[string]struct{}),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for id, v := range s.vertices {
		c.vertices[id] = &memVertex{vertex: cloneVertex(v.vertex), seq: v.seq}
	}
	for id, e := range s.edges {
		c.edges[id] = &memEdge{edge: cloneEdge(e.edge), seq: e.seq}
	}
	for id, set := range s.in {
		c.in[id] = cloneSet(set)
	}
	for id, set := range s.out {
		c.out[id] = cloneSet(set)
	}
	return c
}

// MemoryDriver is an in-process GraphDriver. Mutations are visible
// immediately; Commit records a snapshot that Rollback returns to.
type MemoryDriver struct {
	mu        sync.RWMutex
	live      *memState
	committed *memState
	seq       uint64
	commits   int
	closed    bool
}

// NewMemoryDriver creates an empty in-memory graph.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		live:      newMemState(),
		committed: newMemState(),
	}
}

// VerticesByLabel returns the vertices with label holding every key, in insertion order.
func (m *MemoryDriver) VerticesByLabel(ctx context.Context, label string, keys ...string) ([]*types.Vertex, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	matches := make([]*memVertex, 0)
	for _, v := range m.live.vertices {
		if v.vertex.Label == label && hasAll(v.vertex.Properties, keys) {
			matches = append(matches, v)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].seq < matches[j].seq })

	vertices := make([]*types.Vertex, len(matches))
	for i, v := range matches {
		vertices[i] = cloneVertex(v.vertex)
	}
	return vertices, nil
}

// GetVertex retrieves a vertex by ID.
func (m *MemoryDriver) GetVertex(ctx context.Context, id string) (*types.Vertex, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	v, ok := m.live.vertices[id]
	if !ok {
		return nil, fmt.Errorf("vertex %s: %w", id, ErrNotFound)
	}
	return cloneVertex(v.vertex), nil
}

// AddVertex creates a vertex with no properties.
func (m *MemoryDriver) AddVertex(ctx context.Context, label string) (*types.Vertex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	m.seq++
	v := &types.Vertex{
		ID:         uuid.NewString(),
		Label:      label,
		Properties: types.Properties{},
	}
	m.live.vertices[v.ID] = &memVertex{vertex: v, seq: m.seq}
	return cloneVertex(v), nil
}

// SetVertexProperties writes props onto a vertex.
func (m *MemoryDriver) SetVertexProperties(ctx context.Context, id string, props types.Properties, mode types.Cardinality) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	v, ok := m.live.vertices[id]
	if !ok {
		return fmt.Errorf("vertex %s: %w", id, ErrNotFound)
	}
	v.vertex.Properties = v.vertex.Properties.Merge(props.Clone(), mode)
	return nil
}

// DeleteVertices removes the vertices and their incident edges.
func (m *MemoryDriver) DeleteVertices(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	for _, id := range ids {
		if _, ok := m.live.vertices[id]; !ok {
			continue
		}
		for edgeID := range m.live.in[id] {
			m.dropEdge(edgeID)
		}
		for edgeID := range m.live.out[id] {
			m.dropEdge(edgeID)
		}
		delete(m.live.in, id)
		delete(m.live.out, id)
		delete(m.live.vertices, id)
	}
	return nil
}

func (m *MemoryDriver) dropEdge(id string) {
	e, ok := m.live.edges[id]
	if !ok {
		return
	}
	delete(m.live.out[e.edge.SourceID], id)
	delete(m.live.in[e.edge.TargetID], id)
	delete(m.live.edges, id)
}

// InEdges returns the edges pointing at vertexID.
func (m *MemoryDriver) InEdges(ctx context.Context, vertexID string) ([]*types.Edge, error) {
	return m.adjacent(vertexID, func(s *memState) map[string]struct{} { return s.in[vertexID] })
}

// OutEdges returns the edges leaving vertexID.
func (m *MemoryDriver) OutEdges(ctx context.Context, vertexID string) ([]*types.Edge, error) {
	return m.adjacent(vertexID, func(s *memState) map[string]struct{} { return s.out[vertexID] })
}

func (m *MemoryDriver) adjacent(vertexID string, pick func(*memState) map[string]struct{}) ([]*types.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if _, ok := m.live.vertices[vertexID]; !ok {
		return nil, fmt.Errorf("vertex %s: %w", vertexID, ErrNotFound)
	}

	ids := pick(m.live)
	edges := make([]*memEdge, 0, len(ids))
	for id := range ids {
		edges = append(edges, m.live.edges[id])
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].seq < edges[j].seq })

	result := make([]*types.Edge, len(edges))
	for i, e := range edges {
		result[i] = cloneEdge(e.edge)
	}
	return result, nil
}

// AddEdge creates an edge from sourceID to targetID.
func (m *MemoryDriver) AddEdge(ctx context.Context, label, sourceID, targetID string) (*types.Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if _, ok := m.live.vertices[sourceID]; !ok {
		return nil, fmt.Errorf("source vertex %s: %w", sourceID, ErrNotFound)
	}
	if _, ok := m.live.vertices[targetID]; !ok {
		return nil, fmt.Errorf("target vertex %s: %w", targetID, ErrNotFound)
	}

	m.seq++
	e := &types.Edge{
		ID:         uuid.NewString(),
		Label:      label,
		SourceID:   sourceID,
		TargetID:   targetID,
		Properties: types.Properties{},
	}
	m.live.edges[e.ID] = &memEdge{edge: e, seq: m.seq}
	addToSet(m.live.out, sourceID, e.ID)
	addToSet(m.live.in, targetID, e.ID)
	return cloneEdge(e), nil
}

// SetEdgeProperties writes props onto an edge.
func (m *MemoryDriver) SetEdgeProperties(ctx context.Context, id string, props types.Properties, mode types.Cardinality) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	e, ok := m.live.edges[id]
	if !ok {
		return fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}
	e.edge.Properties = e.edge.Properties.Merge(props.Clone(), mode)
	return nil
}

// Edges returns every edge carrying label, or all edges when label is empty.
func (m *MemoryDriver) Edges(ctx context.Context, label string) ([]*types.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	matches := make([]*memEdge, 0, len(m.live.edges))
	for _, e := range m.live.edges {
		if label == "" || e.edge.Label == label {
			matches = append(matches, e)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].seq < matches[j].seq })

	edges := make([]*types.Edge, len(matches))
	for i, e := range matches {
		edges[i] = cloneEdge(e.edge)
	}
	return edges, nil
}

// VertexCount returns the number of live vertices.
func (m *MemoryDriver) VertexCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live.vertices)
}

// Commit snapshots the current state.
func (m *MemoryDriver) Commit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	m.committed = m.live.clone()
	m.commits++
	return nil
}

// Rollback discards every mutation since the last Commit.
func (m *MemoryDriver) Rollback(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	m.live = m.committed.clone()
	return nil
}

// Commits returns how many times Commit has succeeded.
func (m *MemoryDriver) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

// Close releases the graph. Further calls fail with ErrClosed.
func (m *MemoryDriver) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func addToSet(sets map[string]map[string]struct{}, key, id string) {
	set, ok := sets[key]
	if !ok {
		set = make(map[string]struct{})
		sets[key] = set
	}
	set[id] = struct{}{}
}

func cloneSet(set map[string]struct{}) map[string]struct{} {
	c := make(map[string]struct{}, len(set))
	for k := range set {
		c[k] = struct{}{}
	}
	return c
}

func cloneVertex(v *types.Vertex) *types.Vertex {
	return &types.Vertex{ID: v.ID, Label: v.Label, Properties: v.Properties.Clone()}
}

func cloneEdge(e *types.Edge) *types.Edge {
	return &types.Edge{
		ID:         e.ID,
		Label:      e.Label,
		SourceID:   e.SourceID,
		TargetID:   e.TargetID,
		Properties: e.Properties.Clone(),
	}
}
