package graphmerge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soundprediction/go-graphmerge/pkg/driver"
	"github.com/soundprediction/go-graphmerge/pkg/merge"
	"github.com/soundprediction/go-graphmerge/pkg/rules"
)

// Merger deduplicates the vertices of a graph by applying merge rules in order.
type Merger struct {
	driver  driver.GraphDriver
	grouper *merge.Grouper
	engine  *merge.Engine
	config  *Config
	logger  *slog.Logger
}

// Config holds configuration for a Merger.
type Config struct {
	// Workers bounds the goroutines used to compute merge keys; 0 uses GOMAXPROCS
	Workers int
	// DryRun groups vertices and reports what would merge without changing the graph
	DryRun bool
	// Logger receives progress messages; nil uses slog.Default()
	Logger *slog.Logger
}

// RuleReport summarises one rule pass.
type RuleReport struct {
	Rule            string `json:"rule"`
	Label           string `json:"label"`
	Candidates      int    `json:"candidates"`
	MergeSets       int    `json:"merge_sets"`
	VerticesRemoved int    `json:"vertices_removed"`
	VerticesCreated int    `json:"vertices_created"`
	EdgesCopied     int    `json:"edges_copied"`
	Skipped         bool   `json:"skipped,omitempty"`
}

// Report summarises a merge invocation.
type Report struct {
	DryRun          bool          `json:"dry_run,omitempty"`
	Rules           []*RuleReport `json:"rules"`
	MergeSets       int           `json:"merge_sets"`
	VerticesRemoved int           `json:"vertices_removed"`
	VerticesCreated int           `json:"vertices_created"`
	EdgesCopied     int           `json:"edges_copied"`
}

func (r *Report) add(rr *RuleReport) {
	r.Rules = append(r.Rules, rr)
	r.MergeSets += rr.MergeSets
	r.VerticesRemoved += rr.VerticesRemoved
	r.VerticesCreated += rr.VerticesCreated
	r.EdgesCopied += rr.EdgesCopied
}

// NewMerger creates a Merger that owns d for the duration of each call.
func NewMerger(d driver.GraphDriver, config *Config) *Merger {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Merger{
		driver:  d,
		grouper: merge.NewGrouper(d, config.Workers, logger),
		engine:  merge.NewEngine(d, logger),
		config:  config,
		logger:  logger,
	}
}

// MergeDiscovered instantiates the rules held by registry and merges with
// those that could be built.
func (m *Merger) MergeDiscovered(ctx context.Context, registry *rules.Registry) (*Report, error) {
	m.logger.Info("Instantiating merge rules", "registered", registry.Len())
	return m.Merge(ctx, registry.Discover(m.logger))
}

// Merge applies each properties rule in order. Rules observe the merges
// made by the rules before them: vertices fused earlier are grouped like any
// other and edges pointing at them resolve through a redirect shared by the
// whole call.
//
// Every fused group is committed on its own and one more commit follows the
// last rule. On error the report covers the work already committed.
func (m *Merger) Merge(ctx context.Context, ruleSet []rules.Rule) (*Report, error) {
	m.logger.Info("Filtering out rules that are not properties rules", "rules", len(ruleSet))
	propertyRules := make([]rules.PropertiesRule, 0, len(ruleSet))
	for _, r := range ruleSet {
		if pr, ok := r.(rules.PropertiesRule); ok {
			propertyRules = append(propertyRules, pr)
		}
	}
	m.logger.Info("Properties rules found to apply to graph", "count", len(propertyRules))

	report := &Report{DryRun: m.config.DryRun}
	redirect := merge.NewRedirect()

	for _, rule := range propertyRules {
		name := rules.Name(rule)
		rr := &RuleReport{Rule: name, Label: rule.Label()}

		m.logger.Info("Applying rule to graph", "rule", name, "label", rule.Label(), "properties", rule.Properties())
		grouping, err := m.grouper.Group(ctx, rule)
		if err != nil {
			return report, fmt.Errorf("failed to group vertices for rule %s: %w", name, err)
		}
		rr.Candidates = grouping.Candidates

		if grouping.Candidates == 0 {
			m.logger.Info("No vertices with label and properties, skipping rule", "label", rule.Label(), "properties", rule.Properties(), "rule", name)
			rr.Skipped = true
			report.add(rr)
			continue
		}

		rr.MergeSets = len(grouping.Sets)
		m.logger.Info("Number of valid merge sets found", "rule", name, "merge_sets", rr.MergeSets)
		if rr.MergeSets == 0 {
			m.logger.Info("No merge sets survived filtering, skipping rule", "rule", name)
			rr.Skipped = true
			report.add(rr)
			continue
		}

		if m.config.DryRun {
			for _, set := range grouping.Sets {
				m.logger.Info("Would merge vertices", "rule", name, "key", set.Key, "size", len(set.Members))
			}
			report.add(rr)
			continue
		}

		m.logger.Info("Performing merges for rule", "rule", name)
		for _, set := range grouping.Sets {
			result, err := m.engine.Fuse(ctx, set, rule.Label(), redirect)
			if err != nil {
				report.add(rr)
				return report, fmt.Errorf("failed to merge vertices for rule %s: %w", name, err)
			}
			if result == nil {
				continue
			}
			rr.VerticesRemoved += result.Members
			rr.VerticesCreated++
			rr.EdgesCopied += result.EdgesCopied
		}
		report.add(rr)
	}

	if m.config.DryRun {
		return report, nil
	}

	m.logger.Info("Committing changes to graph")
	if err := m.driver.Commit(ctx); err != nil {
		return report, fmt.Errorf("failed to commit graph: %w", err)
	}

	m.logger.Info("Merge complete",
		"merge_sets", report.MergeSets,
		"vertices_removed", report.VerticesRemoved,
		"vertices_created", report.VerticesCreated)
	return report, nil
}
