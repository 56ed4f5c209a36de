package graphmerge

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "graphmerge",
	Short: "Deduplicate entities in a property graph",
	Long: `graphmerge fuses vertices that describe the same real-world entity.

Vertices of one label whose values for a rule's properties are equal are
replaced by a single vertex carrying all of their properties and edges.
Rules run in order and each sees the merges made by the rules before it.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
