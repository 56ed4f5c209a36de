package merge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soundprediction/go-graphmerge/pkg/driver"
	"github.com/soundprediction/go-graphmerge/pkg/types"
)

// FuseResult describes one fusion.
type FuseResult struct {
	Vertex      *types.Vertex
	Members     int
	EdgesCopied int
	SelfLoops   int
}

// Engine fuses merge-sets into single vertices.
type Engine struct {
	driver driver.GraphDriver
	logger *slog.Logger
}

// NewEngine creates an Engine writing to d.
func NewEngine(d driver.GraphDriver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{driver: d, logger: logger}
}

// Fuse replaces the members of set with one new vertex labelled label.
//
// Member properties are accumulated onto the new vertex in member order and
// every edge incident to a member is recreated against it. Edge endpoints
// that are members of set resolve to the new vertex, so an edge between two
// members becomes a self-loop; other endpoints resolve through redirect.
// Each original edge is copied once even when both its ends are members.
// Members are deleted together after all copying and the store is then
// committed. An empty set is a no-op returning nil.
func (e *Engine) Fuse(ctx context.Context, set MergeSet, label string, redirect *Redirect) (*FuseResult, error) {
	if len(set.Members) == 0 {
		return nil, nil
	}
	e.logger.Debug("Merging group of vertices", "label", label, "size", len(set.Members))

	fused, err := e.driver.AddVertex(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("failed to create fused vertex: %w", err)
	}
	result := &FuseResult{Vertex: fused, Members: len(set.Members)}

	members := make(map[string]struct{}, len(set.Members))
	for _, id := range set.Members {
		members[id] = struct{}{}
	}
	resolve := func(id string) string {
		if _, ok := members[id]; ok {
			return fused.ID
		}
		return redirect.Resolve(id)
	}

	copied := make(map[string]struct{})
	for _, id := range set.Members {
		orig, err := e.driver.GetVertex(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read member %s: %w", id, err)
		}

		e.logger.Debug("Copying properties onto new vertex", "from", id, "to", fused.ID)
		if len(orig.Properties) > 0 {
			if err := e.driver.SetVertexProperties(ctx, fused.ID, orig.Properties, types.CardinalityList); err != nil {
				return nil, fmt.Errorf("failed to copy properties of %s: %w", id, err)
			}
		}

		in, err := e.driver.InEdges(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read inbound edges of %s: %w", id, err)
		}
		for _, edge := range in {
			if _, ok := copied[edge.ID]; ok {
				continue
			}
			if err := e.copyEdge(ctx, edge, resolve(edge.SourceID), fused.ID, result); err != nil {
				return nil, err
			}
			copied[edge.ID] = struct{}{}
		}

		out, err := e.driver.OutEdges(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read outbound edges of %s: %w", id, err)
		}
		for _, edge := range out {
			if _, ok := copied[edge.ID]; ok {
				continue
			}
			if err := e.copyEdge(ctx, edge, fused.ID, resolve(edge.TargetID), result); err != nil {
				return nil, err
			}
			copied[edge.ID] = struct{}{}
		}

		if err := redirect.Record(id, fused.ID); err != nil {
			return nil, err
		}
	}
	e.logger.Debug("Edges copied", "fused", fused.ID, "edges", result.EdgesCopied, "self_loops", result.SelfLoops)

	// members go only now, so no sibling is half deleted while its edges are copied
	if err := e.driver.DeleteVertices(ctx, set.Members); err != nil {
		return nil, fmt.Errorf("failed to remove merged vertices: %w", err)
	}

	if err := e.driver.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit merge: %w", err)
	}

	return result, nil
}

func (e *Engine) copyEdge(ctx context.Context, orig *types.Edge, sourceID, targetID string, result *FuseResult) error {
	e.logger.Debug("Copying edge", "edge", orig.ID, "label", orig.Label, "source", sourceID, "target", targetID)

	edge, err := e.driver.AddEdge(ctx, orig.Label, sourceID, targetID)
	if err != nil {
		return fmt.Errorf("failed to copy edge %s: %w", orig.ID, err)
	}
	if len(orig.Properties) > 0 {
		if err := e.driver.SetEdgeProperties(ctx, edge.ID, orig.Properties, types.CardinalityList); err != nil {
			return fmt.Errorf("failed to copy properties of edge %s: %w", orig.ID, err)
		}
	}

	result.EdgesCopied++
	if sourceID == targetID {
		result.SelfLoops++
	}
	return nil
}
