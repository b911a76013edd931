package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootOpts holds the global flags shared by every subcommand.
type rootOpts struct {
	ConfigPath string
	Verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOpts{}

	cmd := &cobra.Command{
		Use:   "casedesk",
		Short: "Poultry case desk bot",
		Long:  "casedesk answers case lookups, reports and status changes over Telegram, planning its datastore queries with an LLM.",
		// Bare `casedesk` runs the bot.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts.ConfigPath)
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "path to casedesk config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "print structured events to stderr")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newSummaryCmd(opts))
	cmd.AddCommand(newReportCmd(opts))
	cmd.AddCommand(newIssuesCmd(opts))
	cmd.AddCommand(newAskCmd(opts))
	cmd.AddCommand(newAttachCmd(opts))
	cmd.AddCommand(newCloseCmd(opts))
	cmd.AddCommand(newEscalateCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(newDigestCmd(opts))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "casedesk %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
