package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolpilot/calllog"
	"github.com/petal-labs/toolpilot/tool"
)

// NewTestCmd creates the "test" subcommand.
func NewTestCmd(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <tool>",
		Short: "Describe a tool, or invoke it with --input",
		Long: "Without inputs, test prints the tool's declared contract. With --input or " +
			"--input-json it invokes the tool through the pipeline and records the call.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringArray("input", nil, "Input value as key=value (repeatable; JSON values are decoded)")
	cmd.Flags().String("input-json", "", "Inputs as an inline JSON object")
	cmd.Flags().Bool("no-record", false, "Do not write the call to the call log")

	return cmd
}

func runTest(cmd *cobra.Command, opts Options, name string) error {
	e, err := loadEnv(cmd, opts)
	if err != nil {
		return err
	}
	reg, err := e.registry()
	if err != nil {
		return err
	}
	def, err := reg.Lookup(name)
	if err != nil {
		return exitError(exitNotFound, "tool %q not found; registered: %s", name, strings.Join(reg.Names(), ", "))
	}

	pairs, _ := cmd.Flags().GetStringArray("input")
	rawJSON, _ := cmd.Flags().GetString("input-json")
	if len(pairs) == 0 && rawJSON == "" {
		describeTool(cmd.OutOrStdout(), def)
		return nil
	}

	inputs, err := parseInputs(rawJSON, pairs)
	if err != nil {
		return exitError(exitInvocation, "%v", err)
	}

	var events tool.EventHandler
	if noRecord, _ := cmd.Flags().GetBool("no-record"); !noRecord {
		calls, err := e.openCalls()
		if err != nil {
			return err
		}
		defer closeQuietly(calls)
		events = calllog.NewRecorder(calllog.RecorderConfig{Store: calls, Logger: e.logger}).Handle
	}

	pipeline := tool.NewPipeline(tool.PipelineConfig{Registry: reg, Events: events, Logger: e.logger})
	res := pipeline.Invoke(operatorContext(cmd.Context(), def), name, inputs)
	if err := printJSON(cmd, res); err != nil {
		return err
	}
	if !res.OK() {
		return exitError(exitInvocation, "%s: %s", res.Error.Code, res.Error.Message)
	}
	return nil
}

// parseInputs merges --input-json with key=value pairs; pairs win.
func parseInputs(rawJSON string, pairs []string) (map[string]any, error) {
	inputs := map[string]any{}
	if strings.TrimSpace(rawJSON) != "" {
		if err := json.Unmarshal([]byte(rawJSON), &inputs); err != nil {
			return nil, fmt.Errorf("--input-json must be a JSON object: %w", err)
		}
		if inputs == nil {
			return nil, errors.New("--input-json must be a JSON object")
		}
	}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("--input %q must be key=value", pair)
		}
		inputs[key] = parseValue(raw)
	}
	return inputs, nil
}

// parseValue decodes JSON scalars and composites, and keeps anything else
// as a plain string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func describeTool(w io.Writer, def tool.Definition) {
	fmt.Fprintf(w, "Name:        %s\n", def.Name)
	fmt.Fprintf(w, "Description: %s\n", def.Description)
	if def.Version != "" {
		fmt.Fprintf(w, "Version:     %s\n", def.Version)
	}
	if len(def.Tags) > 0 {
		fmt.Fprintf(w, "Tags:        %s\n", strings.Join(def.Tags, ", "))
	}

	fmt.Fprintln(w, "\nInputs:")
	if len(def.Inputs) == 0 {
		fmt.Fprintln(w, "  (none)")
	} else {
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		for _, p := range def.Inputs {
			req := "required"
			if !p.Required {
				req = "optional"
				if p.Default != nil {
					req = fmt.Sprintf("default %v", p.Default)
				}
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", p.Name, p.Type, req, p.Description)
		}
		_ = tw.Flush()
	}

	fmt.Fprintf(w, "\nOutput:      %s", def.OutputType)
	if def.OutputDescription != "" {
		fmt.Fprintf(w, " (%s)", def.OutputDescription)
	}
	fmt.Fprintln(w)

	for _, d := range tool.ValidateDefinition(def) {
		if d.Severity == tool.SeverityWarning {
			fmt.Fprintf(w, "Warning:     %s: %s\n", d.Field, d.Message)
		}
	}

	if def.Auth != nil {
		fmt.Fprintf(w, "\nAuth:        %s (required: %t)\n", def.Auth.Kind, def.Auth.Required)
		if len(def.Auth.Scopes) > 0 {
			fmt.Fprintf(w, "Scopes:      %s\n", strings.Join(def.Auth.Scopes, ", "))
		}
	}
}
