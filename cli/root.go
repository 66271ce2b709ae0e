// Package cli implements the toolpilot command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolpilot/builtins"
	"github.com/petal-labs/toolpilot/tool"
)

// Options customizes the command tree for programs that embed toolpilot
// with their own tools.
type Options struct {
	// Version is printed by --version.
	Version string
	// Register adds tools to a fresh registry. Defaults to builtins.Register.
	Register func(*tool.Registry) error
}

// NewRootCmd builds the toolpilot root command with every subcommand wired.
func NewRootCmd(opts Options) *cobra.Command {
	if opts.Register == nil {
		opts.Register = builtins.Register
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	root := &cobra.Command{
		Use:   "toolpilot",
		Short: "Build, serve and monitor agent tools",
		Long:  "ToolPilot registers typed tools, serves them over HTTP, and records every call.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "Path to toolpilot.yaml (default: ./toolpilot.yaml, ~/.toolpilot/config.yaml)")
	root.PersistentFlags().String("sqlite-path", "", "Path to SQLite database (default: ~/.toolpilot/toolpilot.db)")
	root.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	root.PersistentFlags().Bool("quiet", false, "Suppress all output except errors")
	root.MarkFlagsMutuallyExclusive("verbose", "quiet")

	root.Version = opts.Version
	root.SetVersionTemplate(fmt.Sprintf("toolpilot version %s\n", opts.Version))

	root.AddCommand(NewBuildCmd(opts))
	root.AddCommand(NewTestCmd(opts))
	root.AddCommand(NewServeCmd(opts))
	root.AddCommand(NewDashboardCmd(opts))
	root.AddCommand(NewLogsCmd(opts))
	root.AddCommand(NewInspectCmd(opts))
	root.AddCommand(NewReplayCmd(opts))
	root.AddCommand(NewWebhookCmd(opts))
	return root
}
