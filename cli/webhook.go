package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolpilot/webhook"
)

// NewWebhookCmd creates the "webhook" command group.
func NewWebhookCmd(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage call notification webhooks",
	}
	cmd.AddCommand(newWebhookAddCmd(opts))
	cmd.AddCommand(newWebhookListCmd(opts))
	cmd.AddCommand(newWebhookRemoveCmd(opts))
	return cmd
}

func newWebhookAddCmd(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Register a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolName, _ := cmd.Flags().GetString("tool")
			secret, _ := cmd.Flags().GetString("secret")
			retries, _ := cmd.Flags().GetInt("retries")

			e, err := loadEnv(cmd, opts)
			if err != nil {
				return err
			}
			hooks, err := e.openHooks()
			if err != nil {
				return err
			}
			defer closeQuietly(hooks)

			if toolName != "" {
				reg, err := e.registry()
				if err != nil {
					return err
				}
				if _, err := reg.Lookup(toolName); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: tool %q is not registered\n", toolName)
				}
			}

			hook, err := hooks.Add(cmd.Context(), webhook.Hook{URL: args[0], Tool: toolName, Secret: secret, Retries: retries})
			if err != nil {
				if errors.Is(err, webhook.ErrInvalidHook) {
					return exitError(exitConfig, "%v", err)
				}
				return exitError(exitGeneric, "adding webhook: %v", err)
			}
			scope := "all tools"
			if !hook.Global() {
				scope = hook.Tool
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added webhook %s -> %s (%s)\n", hook.ID, hook.URL, scope)
			return nil
		},
	}
	cmd.Flags().String("tool", "", "Only notify for this tool (default: all tools)")
	cmd.Flags().String("secret", "", "HMAC secret used to sign payloads")
	cmd.Flags().Int("retries", webhook.DefaultRetries, "Delivery attempts")
	return cmd
}

func newWebhookListCmd(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered webhooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd, opts)
			if err != nil {
				return err
			}
			hooks, err := e.openHooks()
			if err != nil {
				return err
			}
			defer closeQuietly(hooks)

			list, err := hooks.List(cmd.Context())
			if err != nil {
				return exitError(exitGeneric, "listing webhooks: %v", err)
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No webhooks registered.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tURL\tTOOL\tRETRIES\tSIGNED\tCREATED")
			for _, h := range list {
				toolName := h.Tool
				if h.Global() {
					toolName = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%s\n",
					h.ID, h.URL, toolName, h.Retries, h.Secret != "", h.CreatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newWebhookRemoveCmd(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd, opts)
			if err != nil {
				return err
			}
			hooks, err := e.openHooks()
			if err != nil {
				return err
			}
			defer closeQuietly(hooks)

			if err := hooks.Remove(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, webhook.ErrHookNotFound) {
					return exitError(exitNotFound, "webhook %q not found", args[0])
				}
				return exitError(exitGeneric, "removing webhook: %v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed webhook %s\n", args[0])
			return nil
		},
	}
}
