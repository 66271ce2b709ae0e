package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolpilot/calllog"
	"github.com/petal-labs/toolpilot/tool"
)

// NewReplayCmd creates the "replay" subcommand.
func NewReplayCmd(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <call_id>",
		Short: "Re-run a recorded call with its original inputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, opts, args[0])
		},
	}
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

func runReplay(cmd *cobra.Command, opts Options, callID string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return exitError(exitConfig, "unsupported format %q; allowed: text, json", format)
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

	original, err := calls.Get(cmd.Context(), callID)
	if err != nil {
		if errors.Is(err, calllog.ErrCallNotFound) {
			return exitError(exitNotFound, "call %q not found", callID)
		}
		return exitError(exitGeneric, "reading call log: %v", err)
	}
	def, err := reg.Lookup(original.ToolName)
	if err != nil {
		return exitError(exitNotFound, "tool %q from call %s is not registered", original.ToolName, callID)
	}

	recorder := calllog.NewRecorder(calllog.RecorderConfig{Store: calls, Logger: e.logger})
	pipeline := tool.NewPipeline(tool.PipelineConfig{Registry: reg, Events: recorder.Handle, Logger: e.logger})
	result, err := calllog.NewReplayer(calls, pipeline).Replay(operatorContext(cmd.Context(), def), callID)
	if err != nil {
		return exitError(exitGeneric, "replaying %s: %v", callID, err)
	}

	if format == "json" {
		if err := printJSON(cmd, result); err != nil {
			return err
		}
	} else {
		printReplayText(cmd, result)
	}
	if !result.Result.OK() {
		return exitError(exitInvocation, "replay failed: %s: %s", result.Result.Error.Code, result.Result.Error.Message)
	}
	return nil
}

func printReplayText(cmd *cobra.Command, r calllog.ReplayResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Replayed %s (%s) as %s\n", r.Original.CallID, r.Original.ToolName, r.Result.CallID)
	fmt.Fprintf(out, "  Original: %s %s\n", r.Original.Status(), originalOutcome(r.Original))
	if r.Result.OK() {
		fmt.Fprintf(out, "  Replay:   %s %s\n", r.Result.Status, compactJSON(r.Result.Output))
	} else {
		fmt.Fprintf(out, "  Replay:   %s %s\n", r.Result.Status, r.Result.Error.Message)
	}
	if r.OutputChanged {
		fmt.Fprintln(out, "  Outcome changed since the original call.")
	} else {
		fmt.Fprintln(out, "  Outcome unchanged.")
	}
}

func originalOutcome(rec calllog.Record) string {
	if rec.Failed() {
		return rec.Error
	}
	return compactJSON(rec.Outputs)
}
