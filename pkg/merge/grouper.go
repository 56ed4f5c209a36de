package merge

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"strconv"
	"strings"

	"github.com/minio/highwayhash"
	"github.com/soundprediction/go-graphmerge/pkg/driver"
	"github.com/soundprediction/go-graphmerge/pkg/rules"
	"github.com/soundprediction/go-graphmerge/pkg/types"
	"golang.org/x/sync/errgroup"
)

// bucketKey seeds the tuple hash. Buckets only narrow the equality search,
// so the key needs no secrecy.
var bucketKey = []byte("graphmerge-key-tuple-bucket-0001")

// MergeSet is a group of vertices of one label whose key tuples are equal.
type MergeSet struct {
	Key     []any
	Members []string
}

// Grouping is the outcome of partitioning one rule's label.
type Grouping struct {
	// Candidates is the number of vertices carrying the rule's label and
	// a value for every one of its properties
	Candidates int
	// Sets holds the merge-sets that survived filtering, ordered by the
	// scan position of their first member
	Sets []MergeSet
}

// Grouper partitions vertices into merge-sets.
type Grouper struct {
	driver  driver.GraphDriver
	workers int
	logger  *slog.Logger
}

// NewGrouper creates a Grouper computing key tuples on up to workers goroutines.
func NewGrouper(d driver.GraphDriver, workers int, logger *slog.Logger) *Grouper {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Grouper{driver: d, workers: workers, logger: logger}
}

// Group reads the vertices of the rule's label that hold every rule
// property once and partitions them by key tuple. Sets with fewer than two
// members are dropped, as are entirely absent tuples, which only a rule with
// its own KeyExtractor can produce.
func (g *Grouper) Group(ctx context.Context, rule rules.PropertiesRule) (*Grouping, error) {
	vertices, err := g.driver.VerticesByLabel(ctx, rule.Label(), rule.Properties()...)
	if err != nil {
		return nil, fmt.Errorf("failed to read vertices with label %s: %w", rule.Label(), err)
	}

	grouping := &Grouping{Candidates: len(vertices)}
	if len(vertices) == 0 {
		return grouping, nil
	}

	keys, err := g.keyTuples(ctx, rule, vertices)
	if err != nil {
		return nil, err
	}

	all := partition(vertices, keys)
	for _, set := range all {
		if len(set.Members) < 2 {
			continue
		}
		grouping.Sets = append(grouping.Sets, set)
	}

	g.logger.Debug("Partitioned vertices",
		"label", rule.Label(),
		"vertices", len(vertices),
		"groups", len(all),
		"merge_sets", len(grouping.Sets))

	return grouping, nil
}

// keyTuples computes the tuple of every vertex. Each worker owns a
// contiguous range of the output slice.
func (g *Grouper) keyTuples(ctx context.Context, rule rules.PropertiesRule, vertices []*types.Vertex) ([][]any, error) {
	keys := make([][]any, len(vertices))

	workers := g.workers
	if workers > len(vertices) {
		workers = len(vertices)
	}
	chunk := (len(vertices) + workers - 1) / workers

	eg, egCtx := errgroup.WithContext(ctx)
	for start := 0; start < len(vertices); start += chunk {
		start, end := start, min(start+chunk, len(vertices))
		eg.Go(func() error {
			for i := start; i < end; i++ {
				if err := egCtx.Err(); err != nil {
					return err
				}
				keys[i] = rules.KeyValues(rule, vertices[i])
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute merge keys: %w", err)
	}
	return keys, nil
}

// partition groups vertices with structurally equal tuples, keeping scan
// order. Entirely absent tuples are left out.
func partition(vertices []*types.Vertex, keys [][]any) []MergeSet {
	var sets []MergeSet
	buckets := make(map[uint64][]int)

	for i, key := range keys {
		if allAbsent(key) {
			continue
		}

		h := highwayhash.Sum64(encodeKey(key), bucketKey)
		placed := false
		for _, idx := range buckets[h] {
			if reflect.DeepEqual(sets[idx].Key, key) {
				sets[idx].Members = append(sets[idx].Members, vertices[i].ID)
				placed = true
				break
			}
		}
		if placed {
			continue
		}

		buckets[h] = append(buckets[h], len(sets))
		sets = append(sets, MergeSet{Key: key, Members: []string{vertices[i].ID}})
	}
	return sets
}

func allAbsent(key []any) bool {
	for _, v := range key {
		if v != nil {
			return false
		}
	}
	return true
}

// encodeKey renders a tuple for hashing. Equal tuples always encode equally.
func encodeKey(key []any) []byte {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(key)))
	for _, v := range key {
		b.WriteByte(0x1f)
		if list, ok := v.([]any); ok {
			b.WriteString("list")
			for _, item := range list {
				b.WriteByte(0x1e)
				b.WriteString(rules.Canonical(item))
			}
			continue
		}
		b.WriteString(rules.Canonical(v))
	}
	return []byte(b.String())
}
