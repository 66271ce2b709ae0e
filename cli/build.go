package cli

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolpilot/tool"
)

// NewBuildCmd creates the "build" subcommand.
func NewBuildCmd(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Export the tool manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd, opts)
		},
	}

	cmd.Flags().StringP("format", "f", string(tool.FormatJSON), "Manifest format: json | openapi")
	cmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")

	return cmd
}

func runBuild(cmd *cobra.Command, opts Options) error {
	rawFormat, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")

	format, err := tool.ParseManifestFormat(rawFormat)
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}

	e, err := loadEnv(cmd, opts)
	if err != nil {
		return err
	}
	reg, err := e.registry()
	if err != nil {
		return err
	}
	if reg.Len() == 0 {
		return exitError(exitGeneric, "no tools registered")
	}

	var buf bytes.Buffer
	if err := tool.WriteManifest(&buf, reg, format); err != nil {
		return exitError(exitGeneric, "writing manifest: %v", err)
	}

	if outputPath == "" {
		_, err := cmd.OutOrStdout().Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(outputPath, buf.Bytes(), 0o644); err != nil {
		return exitError(exitGeneric, "writing %s: %v", outputPath, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s manifest with %d tool(s) to %s (%d bytes)\n",
		format, reg.Len(), outputPath, buf.Len())
	return nil
}
