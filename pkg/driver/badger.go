package driver

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/soundprediction/go-graphmerge/pkg/types"
	"github.com/vmihailenco/msgpack/v5"
)

// Key layout:
//
//	v/<vertex id>                       vertex record
//	e/<edge id>                         edge record
//	l/<label>\x00<seq><vertex id>       label index
//	o/<vertex id>\x00<seq><edge id>     outbound adjacency
//	i/<vertex id>\x00<seq><edge id>     inbound adjacency
const (
	prefixVertex = "v/"
	prefixEdge   = "e/"
	prefixLabel  = "l/"
	prefixOut    = "o/"
	prefixIn     = "i/"
	sequenceKey  = "!seq"
)

type vertexRecord struct {
	Seq        uint64           `msgpack:"seq"`
	Label      string           `msgpack:"label"`
	Properties types.Properties `msgpack:"properties"`
}

type edgeRecord struct {
	Seq        uint64           `msgpack:"seq"`
	Label      string           `msgpack:"label"`
	SourceID   string           `msgpack:"source_id"`
	TargetID   string           `msgpack:"target_id"`
	Properties types.Properties `msgpack:"properties"`
}

// BadgerDriver implements GraphDriver on an embedded BadgerDB. All mutations
// go into one pending read-write transaction that Commit makes durable.
type BadgerDriver struct {
	mu  sync.Mutex
	db  *badger.DB
	seq *badger.Sequence
	txn *badger.Txn
}

// NewBadgerDriver opens (or creates) a badger graph at path. When inMemory is
// set path is ignored and nothing touches disk.
func NewBadgerDriver(path string, inMemory bool) (*BadgerDriver, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), 1000)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to lease badger sequence: %w", err)
	}

	return &BadgerDriver{
		db:  db,
		seq: seq,
		txn: db.NewTransaction(true),
	}, nil
}

// VerticesByLabel scans the label index in insertion order.
func (b *BadgerDriver) VerticesByLabel(ctx context.Context, label string, keys ...string) ([]*types.Vertex, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn == nil {
		return nil, ErrClosed
	}

	prefix := labelPrefix(label)
	ids, err := b.scanIDs(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan label %s: %w", label, err)
	}

	vertices := make([]*types.Vertex, 0, len(ids))
	for _, id := range ids {
		v, err := b.getVertex(id)
		if err != nil {
			return nil, err
		}
		if hasAll(v.Properties, keys) {
			vertices = append(vertices, v)
		}
	}
	return vertices, nil
}

// GetVertex retrieves a vertex by ID.
func (b *BadgerDriver) GetVertex(ctx context.Context, id string) (*types.Vertex, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn == nil {
		return nil, ErrClosed
	}
	return b.getVertex(id)
}

// AddVertex creates a vertex with no properties.
func (b *BadgerDriver) AddVertex(ctx context.Context, label string) (*types.Vertex, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn == nil {
		return nil, ErrClosed
	}

	seq, err := b.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate sequence: %w", err)
	}

	id := uuid.NewString()
	rec := &vertexRecord{Seq: seq, Label: label, Properties: types.Properties{}}
	if err := b.put(prefixVertex+id, rec); err != nil {
		return nil, err
	}
	if err := b.txn.Set(indexKey(labelPrefix(label), seq, id), nil); err != nil {
		return nil, fmt.Errorf("failed to index vertex %s: %w", id, err)
	}

	return &types.Vertex{ID: id, Label: label, Properties: types.Properties{}}, nil
}

// SetVertexProperties writes props onto a vertex.
func (b *BadgerDriver) SetVertexProperties(ctx context.Context, id string, props types.Properties, mode types.Cardinality) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn == nil {
		return ErrClosed
	}

	rec := &vertexRecord{}
	if err := b.get(prefixVertex+id, rec); err != nil {
		return fmt.Errorf("vertex %s: %w", id, err)
	}
	rec.Properties = rec.Properties.Merge(props, mode)
	return b.put(prefixVertex+id, rec)
}

// DeleteVertices removes the vertices, their index entries and incident edges.
func (b *BadgerDriver) DeleteVertices(ctx context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn == nil {
		return ErrClosed
	}

	for _, id := range ids {
		rec := &vertexRecord{}
		if err := b.get(prefixVertex+id, rec); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return fmt.Errorf("vertex %s: %w", id, err)
		}

		edgeIDs, err := b.scanIDs(adjacencyPrefix(prefixOut, id))
		if err != nil {
			return err
		}
		inIDs, err := b.scanIDs(adjacencyPrefix(prefixIn, id))
		if err != nil {
			return err
		}
		for _, edgeID := range append(edgeIDs, inIDs...) {
			if err := b.dropEdge(edgeID); err != nil {
				return err
			}
		}

		if err := b.txn.Delete(indexKey(labelPrefix(rec.Label), rec.Seq, id)); err != nil {
			return fmt.Errorf("failed to unindex vertex %s: %w", id, err)
		}
		if err := b.txn.Delete([]byte(prefixVertex + id)); err != nil {
			return fmt.Errorf("failed to delete vertex %s: %w", id, err)
		}
	}
	return nil
}

func (b *BadgerDriver) dropEdge(id string) error {
	rec := &edgeRecord{}
	if err := b.get(prefixEdge+id, rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			// self-loops are listed on both sides
			return nil
		}
		return fmt.Errorf("edge %s: %w", id, err)
	}

	keys := [][]byte{
		indexKey(adjacencyPrefix(prefixOut, rec.SourceID), rec.Seq, id),
		indexKey(adjacencyPrefix(prefixIn, rec.TargetID), rec.Seq, id),
		[]byte(prefixEdge + id),
	}
	for _, k := range keys {
		if err := b.txn.Delete(k); err != nil {
			return fmt.Errorf("failed to delete edge %s: %w", id, err)
		}
	}
	return nil
}

// InEdges returns the edges pointing at vertexID.
func (b *BadgerDriver) InEdges(ctx context.Context, vertexID string) ([]*types.Edge, error) {
	return b.adjacent(prefixIn, vertexID)
}

// OutEdges returns the edges leaving vertexID.
func (b *BadgerDriver) OutEdges(ctx context.Context, vertexID string) ([]*types.Edge, error) {
	return b.adjacent(prefixOut, vertexID)
}

func (b *BadgerDriver) adjacent(direction, vertexID string) ([]*types.Edge, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn == nil {
		return nil, ErrClosed
	}
	if _, err := b.getVertex(vertexID); err != nil {
		return nil, err
	}

	ids, err := b.scanIDs(adjacencyPrefix(direction, vertexID))
	if err != nil {
		return nil, fmt.Errorf("failed to scan edges of %s: %w", vertexID, err)
	}

	edges := make([]*types.Edge, 0, len(ids))
	for _, id := range ids {
		rec := &edgeRecord{}
		if err := b.get(prefixEdge+id, rec); err != nil {
			return nil, fmt.Errorf("edge %s: %w", id, err)
		}
		edges = append(edges, rec.toEdge(id))
	}
	return edges, nil
}

// AddEdge creates an edge from sourceID to targetID.
func (b *BadgerDriver) AddEdge(ctx context.Context, label, sourceID, targetID string) (*types.Edge, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn == nil {
		return nil, ErrClosed
	}
	if _, err := b.getVertex(sourceID); err != nil {
		return nil, fmt.Errorf("source %w", err)
	}
	if _, err := b.getVertex(targetID); err != nil {
		return nil, fmt.Errorf("target %w", err)
	}

	seq, err := b.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate sequence: %w", err)
	}

	id := uuid.NewString()
	rec := &edgeRecord{Seq: seq, Label: label, SourceID: sourceID, TargetID: targetID, Properties: types.Properties{}}
	if err := b.put(prefixEdge+id, rec); err != nil {
		return nil, err
	}
	if err := b.txn.Set(indexKey(adjacencyPrefix(prefixOut, sourceID), seq, id), nil); err != nil {
		return nil, fmt.Errorf("failed to index edge %s: %w", id, err)
	}
	if err := b.txn.Set(indexKey(adjacencyPrefix(prefixIn, targetID), seq, id), nil); err != nil {
		return nil, fmt.Errorf("failed to index edge %s: %w", id, err)
	}

	return rec.toEdge(id), nil
}

// SetEdgeProperties writes props onto an edge.
func (b *BadgerDriver) SetEdgeProperties(ctx context.Context, id string, props types.Properties, mode types.Cardinality) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn == nil {
		return ErrClosed
	}

	rec := &edgeRecord{}
	if err := b.get(prefixEdge+id, rec); err != nil {
		return fmt.Errorf("edge %s: %w", id, err)
	}
	rec.Properties = rec.Properties.Merge(props, mode)
	return b.put(prefixEdge+id, rec)
}

// Commit makes pending mutations durable and opens a new transaction.
func (b *BadgerDriver) Commit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn == nil {
		return ErrClosed
	}

	err := b.txn.Commit()
	b.txn = b.db.NewTransaction(true)
	if err != nil {
		return fmt.Errorf("failed to commit badger transaction: %w", err)
	}
	return nil
}

// Close discards uncommitted mutations and closes the database.
func (b *BadgerDriver) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn == nil {
		return nil
	}

	b.txn.Discard()
	b.txn = nil

	var errs []error
	if err := b.seq.Release(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release sequence: %w", err))
	}
	if err := b.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close badger db: %w", err))
	}
	return errors.Join(errs...)
}

func (b *BadgerDriver) getVertex(id string) (*types.Vertex, error) {
	rec := &vertexRecord{}
	if err := b.get(prefixVertex+id, rec); err != nil {
		return nil, fmt.Errorf("vertex %s: %w", id, err)
	}
	if rec.Properties == nil {
		rec.Properties = types.Properties{}
	}
	return &types.Vertex{ID: id, Label: rec.Label, Properties: rec.Properties}, nil
}

func (b *BadgerDriver) get(key string, out any) error {
	item, err := b.txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		// integers come back as int64 or uint64 whatever width they were
		// encoded with, floats as float64
		dec := msgpack.NewDecoder(bytes.NewReader(val))
		dec.UseLooseInterfaceDecoding(true)
		return dec.Decode(out)
	})
}

func (b *BadgerDriver) put(key string, rec any) error {
	val, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := b.txn.Set([]byte(key), val); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// scanIDs returns the element IDs trailing the sequence in every key under prefix.
func (b *BadgerDriver) scanIDs(prefix []byte) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := b.txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().Key()
		if len(key) < len(prefix)+8 {
			continue
		}
		ids = append(ids, string(key[len(prefix)+8:]))
	}
	return ids, nil
}

func (r *edgeRecord) toEdge(id string) *types.Edge {
	props := r.Properties
	if props == nil {
		props = types.Properties{}
	}
	return &types.Edge{ID: id, Label: r.Label, SourceID: r.SourceID, TargetID: r.TargetID, Properties: props}
}

func labelPrefix(label string) []byte {
	return append([]byte(prefixLabel+label), 0)
}

func adjacencyPrefix(direction, vertexID string) []byte {
	return append([]byte(direction+vertexID), 0)
}

func indexKey(prefix []byte, seq uint64, id string) []byte {
	var buf bytes.Buffer
	buf.Grow(len(prefix) + 8 + len(id))
	buf.Write(prefix)
	binary.Write(&buf, binary.BigEndian, seq)
	buf.WriteString(id)
	return buf.Bytes()
}
