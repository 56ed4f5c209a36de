package graphmerge

import (
	"fmt"
	"runtime"

	"github.com/soundprediction/go-graphmerge/pkg/rules"
	"github.com/spf13/cobra"
)

var (
	// set with -ldflags at release time
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and built-in merge rules",
	Long:  "Print the graphmerge version and the merge rules applied when no --rules file is given",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		builtin := rules.DefaultRegistry()

		fmt.Fprintf(out, "graphmerge %s (commit %s, built %s, %s)\n", version, commit, buildDate, runtime.Version())
		fmt.Fprintf(out, "Built-in rules: %d\n", builtin.Len())
		for i, name := range builtin.Names() {
			fmt.Fprintf(out, "  %d. %s\n", i+1, name)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
