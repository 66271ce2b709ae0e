package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolpilot/calllog"
	"github.com/petal-labs/toolpilot/config"
	"github.com/petal-labs/toolpilot/tool"
	"github.com/petal-labs/toolpilot/webhook"
)

// cliPrincipal identifies the local operator on calls made from the CLI.
const cliPrincipal = "cli"

// env is the per-command state resolved from flags and the config file.
type env struct {
	cfg        config.Config
	configPath string
	logger     *slog.Logger
	register   func(*tool.Registry) error
}

func loadEnv(cmd *cobra.Command, opts Options) (*env, error) {
	explicit, _ := cmd.Flags().GetString("config")
	cfg, path, err := config.LoadDiscovered(explicit)
	if err != nil {
		return nil, exitError(exitConfig, "loading config: %v", err)
	}
	if cmd.Flags().Changed("sqlite-path") {
		cfg.Storage.SQLitePath, _ = cmd.Flags().GetString("sqlite-path")
	}

	logging := cfg.Logging
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logging.Level = "debug"
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		logging.Level = "error"
	}

	return &env{
		cfg:        cfg,
		configPath: path,
		logger:     logging.NewLogger(cmd.ErrOrStderr()),
		register:   opts.Register,
	}, nil
}

// registry builds and seals the tool registry.
func (e *env) registry() (*tool.Registry, error) {
	reg := tool.NewRegistry()
	if err := e.register(reg); err != nil {
		return nil, exitError(exitConfig, "registering tools: %v", err)
	}
	reg.Seal()
	return reg, nil
}

// sqliteDSN resolves the database location, creating the parent directory of
// a plain file path.
func (e *env) sqliteDSN() (string, error) {
	dsn, err := e.cfg.Storage.ResolveSQLitePath()
	if err != nil {
		return "", exitError(exitConfig, "resolving sqlite path: %v", err)
	}
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = filepath.Clean(dsn)
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return "", exitError(exitGeneric, "creating sqlite directory: %v", err)
		}
	}
	return dsn, nil
}

func (e *env) openCalls() (*calllog.SQLiteStore, error) {
	dsn, err := e.sqliteDSN()
	if err != nil {
		return nil, err
	}
	store, err := calllog.NewSQLiteStore(calllog.SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		return nil, exitError(exitGeneric, "opening call log: %v", err)
	}
	return store, nil
}

func (e *env) openHooks() (*webhook.SQLiteStore, error) {
	dsn, err := e.sqliteDSN()
	if err != nil {
		return nil, err
	}
	store, err := webhook.NewSQLiteStore(webhook.SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		return nil, exitError(exitGeneric, "opening webhook store: %v", err)
	}
	return store, nil
}

// operatorContext attaches the local operator credential. The CLI runs on
// the operator's machine, so tools that require auth accept it.
func operatorContext(ctx context.Context, def tool.Definition) context.Context {
	kind := tool.AuthAPIKey
	if def.Auth != nil && def.Auth.Kind != tool.AuthNone {
		kind = def.Auth.Kind
	}
	var scopes []string
	if def.Auth != nil {
		scopes = def.Auth.Scopes
	}
	ctx = tool.WithAuth(ctx, tool.AuthContext{Kind: kind, Principal: cliPrincipal, Scopes: scopes})
	md := tool.MetadataFromContext(ctx)
	if md == nil {
		ctx = tool.WithMetadata(ctx, map[string]any{"source": cliPrincipal})
	}
	return ctx
}

func closeQuietly(c interface{ Close() error }) {
	_ = c.Close()
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return exitError(exitGeneric, "encoding output: %v", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
