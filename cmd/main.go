// Command watcher polls web pages on per-target schedules and records when
// their content changes.
//
//	watcher checker          # scheduler + checker API
//	watcher web              # admin and query API
//	watcher migrate          # create or upgrade the schema
//	watcher add --url URL    # add a target
package main

import (
	"fmt"
	"os"

	"github.com/ArCaneSec/watcher/internal/config"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "watcher",
	Short: "Scheduled web content change monitor",
	Long: `Watcher polls every enabled target on its own interval, fingerprints
the response body and records a check, flagging the checks whose content
differs from the previous one.

The checker process owns the schedules; the web process serves the
administrative and query API and signals the checker when targets change.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "watcher %s\n", config.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
