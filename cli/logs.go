package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolpilot/calllog"
)

// NewLogsCmd creates the "logs" subcommand.
func NewLogsCmd(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View recorded tool calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd, opts)
		},
	}

	cmd.Flags().String("tool", "", "Only show calls to this tool")
	cmd.Flags().Int("limit", 10, "Number of calls to show")
	cmd.Flags().Bool("failed", false, "Only show failed calls")
	cmd.Flags().BoolP("follow", "f", false, "Keep watching for new calls")
	cmd.Flags().Duration("interval", time.Second, "Poll interval for --follow")
	cmd.Flags().String("format", "text", "Output format: text | json")

	return cmd
}

func runLogs(cmd *cobra.Command, opts Options) error {
	toolName, _ := cmd.Flags().GetString("tool")
	limit, _ := cmd.Flags().GetInt("limit")
	failed, _ := cmd.Flags().GetBool("failed")
	follow, _ := cmd.Flags().GetBool("follow")
	interval, _ := cmd.Flags().GetDuration("interval")
	format, _ := cmd.Flags().GetString("format")

	display, err := recordPrinter(format)
	if err != nil {
		return err
	}
	if limit <= 0 {
		return exitError(exitConfig, "--limit must be positive")
	}

	e, err := loadEnv(cmd, opts)
	if err != nil {
		return err
	}
	calls, err := e.openCalls()
	if err != nil {
		return err
	}
	defer closeQuietly(calls)

	filter := calllog.Filter{ToolName: toolName, FailedOnly: failed}
	out := cmd.OutOrStdout()

	if follow {
		fmt.Fprintln(cmd.ErrOrStderr(), "Watching for new tool calls... (Ctrl+C to exit)")
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		for rec := range calllog.Watch(ctx, calls, filter, interval) {
			display(out, rec)
		}
		return nil
	}

	filter.Limit = limit
	records, err := calls.List(cmd.Context(), filter)
	if err != nil {
		return exitError(exitGeneric, "reading call log: %v", err)
	}
	if len(records) == 0 {
		if toolName != "" {
			fmt.Fprintf(out, "No logs found for tool %q\n", toolName)
		} else {
			fmt.Fprintln(out, "No logs found. Run some tools first!")
		}
		fmt.Fprintln(out, "Tip: use --follow to watch for new calls")
		return nil
	}

	// List is newest first; print in call order.
	slices.Reverse(records)
	for _, rec := range records {
		display(out, rec)
	}
	return nil
}

// NewInspectCmd creates the "inspect" subcommand.
func NewInspectCmd(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <tool>",
		Short: "Inspect recent calls to a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, opts, args[0])
		},
	}

	cmd.Flags().Int("last", 5, "Number of recent calls to show")
	cmd.Flags().String("format", "text", "Output format: text | json")

	return cmd
}

func runInspect(cmd *cobra.Command, opts Options, name string) error {
	last, _ := cmd.Flags().GetInt("last")
	format, _ := cmd.Flags().GetString("format")
	display, err := recordPrinter(format)
	if err != nil {
		return err
	}
	if last <= 0 {
		return exitError(exitConfig, "--last must be positive")
	}

	e, err := loadEnv(cmd, opts)
	if err != nil {
		return err
	}
	reg, err := e.registry()
	if err != nil {
		return err
	}
	calls, err := e.openCalls()
	if err != nil {
		return err
	}
	defer closeQuietly(calls)

	records, err := calls.List(cmd.Context(), calllog.Filter{ToolName: name, Limit: last})
	if err != nil {
		return exitError(exitGeneric, "reading call log: %v", err)
	}
	_, lookupErr := reg.Lookup(name)
	if lookupErr != nil && len(records) == 0 {
		return exitError(exitNotFound, "tool %q is not registered and has no recorded calls", name)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintf(out, "No recent calls found for tool %q\n", name)
		return nil
	}

	stats := summarize(records)
	if format != "json" {
		fmt.Fprintf(out, "Recent calls to %s: %d shown, %d failed, avg %.1fms\n\n",
			name, stats.Calls, stats.Failures, stats.AvgDurationMS)
	}
	for _, rec := range records {
		display(out, rec)
	}
	return nil
}

type callStats struct {
	Calls         int
	Failures      int
	AvgDurationMS float64
}

func summarize(records []calllog.Record) callStats {
	var s callStats
	var total float64
	for _, rec := range records {
		s.Calls++
		if rec.Failed() {
			s.Failures++
		}
		total += rec.DurationMS
	}
	if s.Calls > 0 {
		s.AvgDurationMS = total / float64(s.Calls)
	}
	return s
}

type printFunc func(w io.Writer, rec calllog.Record)

func recordPrinter(format string) (printFunc, error) {
	switch format {
	case "text":
		return printRecordText, nil
	case "json":
		return printRecordJSON, nil
	default:
		return nil, exitError(exitConfig, "unsupported format %q; allowed: text, json", format)
	}
}

func printRecordJSON(w io.Writer, rec calllog.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		fmt.Fprintf(w, `{"call_id":%q,"error":"unencodable record"}`+"\n", rec.CallID)
		return
	}
	fmt.Fprintln(w, string(data))
}

func printRecordText(w io.Writer, rec calllog.Record) {
	mark := "✓"
	if rec.Failed() {
		mark = "✗"
	}
	fmt.Fprintf(w, "[%s] %s %s (%.0fms)\n", rec.Timestamp.UTC().Format(time.RFC3339), mark, rec.ToolName, rec.DurationMS)
	fmt.Fprintf(w, "  ID: %s\n", rec.CallID)
	fmt.Fprintf(w, "  Inputs: %s\n", compactJSON(rec.Inputs))
	if rec.Failed() {
		fmt.Fprintf(w, "  Error: %s (%s)\n", rec.Error, rec.ErrorCode)
	} else {
		fmt.Fprintf(w, "  Outputs: %s\n", compactJSON(rec.Outputs))
	}
	if len(rec.Metadata) > 0 {
		fmt.Fprintf(w, "  Metadata: %s\n", compactJSON(rec.Metadata))
	}
	fmt.Fprintln(w)
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
