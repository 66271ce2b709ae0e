package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolpilot/bus"
	"github.com/petal-labs/toolpilot/calllog"
	"github.com/petal-labs/toolpilot/config"
	tpotel "github.com/petal-labs/toolpilot/otel"
	"github.com/petal-labs/toolpilot/server"
	"github.com/petal-labs/toolpilot/tool"
	"github.com/petal-labs/toolpilot/webhook"
)

const (
	shutdownTimeout      = 30 * time.Second
	dashboardDefaultPort = 8001
)

// stackMode selects which background workers run next to the HTTP server.
type stackMode struct {
	// workers starts the webhook dispatcher and the call-log pruner and
	// seeds configured webhooks.
	workers bool
}

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve registered tools over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts, stackMode{workers: true})
		},
	}
	addListenFlags(cmd, 8080)
	cmd.Flags().String("tls-cert", "", "TLS certificate file")
	cmd.Flags().String("tls-key", "", "TLS key file")
	return cmd
}

// NewDashboardCmd creates the "dashboard" subcommand. It serves the same API
// without webhook delivery or pruning, on its own port, so it can run next
// to a serve process sharing the database.
func NewDashboardCmd(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Start the call-log dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts, stackMode{})
		},
	}
	addListenFlags(cmd, dashboardDefaultPort)
	return cmd
}

func addListenFlags(cmd *cobra.Command, port int) {
	cmd.Flags().IntP("port", "p", port, "Listen port")
	cmd.Flags().String("host", "127.0.0.1", "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
}

// applyListenFlags overrides the config file with explicitly set flags. The
// dashboard always uses its flag port so it does not collide with serve.
func applyListenFlags(cmd *cobra.Command, cfg *config.ServerConfig, mode stackMode) {
	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") || !mode.workers {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("cors-origin") {
		cfg.CORSOrigin, _ = cmd.Flags().GetString("cors-origin")
	}
}

func runServe(cmd *cobra.Command, opts Options, mode stackMode) error {
	e, err := loadEnv(cmd, opts)
	if err != nil {
		return err
	}
	applyListenFlags(cmd, &e.cfg.Server, mode)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, e, opts, mode)
	if err != nil {
		return err
	}
	defer st.close()

	httpServer := &http.Server{
		Addr:         e.cfg.Server.Addr(),
		Handler:      st.handler,
		ReadTimeout:  e.cfg.Server.ReadTimeout,
		WriteTimeout: e.cfg.Server.WriteTimeout,
	}

	tlsCert, tlsKey := "", ""
	if cmd.Flags().Lookup("tls-cert") != nil {
		tlsCert, _ = cmd.Flags().GetString("tls-cert")
		tlsKey, _ = cmd.Flags().GetString("tls-key")
	}

	out := cmd.OutOrStdout()
	if e.configPath != "" {
		fmt.Fprintf(out, "Loaded config from %s\n", e.configPath)
	}
	fmt.Fprintf(out, "Serving %d tool(s)\n", st.tools)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(out, "ToolPilot listening on http://%s\n", httpServer.Addr)
		if tlsCert != "" && tlsKey != "" {
			errCh <- httpServer.ListenAndServeTLS(tlsCert, tlsKey)
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(out, "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitGeneric, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitGeneric, "server error: %v", err)
		}
		return nil
	}
}

// stack is the wired server and the resources behind it.
type stack struct {
	handler http.Handler
	tools   int
	closers []func(context.Context)
}

// close releases resources in reverse order of creation.
func (s *stack) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i](ctx)
	}
}

func (s *stack) onClose(fn func(context.Context)) {
	s.closers = append(s.closers, fn)
}

// buildStack wires storage, telemetry, the event bus, background workers
// and the HTTP server. Workers stop when ctx is done or close is called.
func buildStack(ctx context.Context, e *env, opts Options, mode stackMode) (_ *stack, err error) {
	st := &stack{}
	defer func() {
		if err != nil {
			st.close()
		}
	}()
	logger := e.logger

	reg, err := e.registry()
	if err != nil {
		return nil, err
	}
	st.tools = reg.Len()

	sqliteCalls, err := e.openCalls()
	if err != nil {
		return nil, err
	}
	st.onClose(func(context.Context) { closeQuietly(sqliteCalls) })
	calls, err := calllog.NewCachedStore(sqliteCalls, 0)
	if err != nil {
		return nil, exitError(exitGeneric, "%v", err)
	}

	hooks, err := e.openHooks()
	if err != nil {
		return nil, err
	}
	st.onClose(func(context.Context) { closeQuietly(hooks) })

	tracing, err := tpotel.SetupTracing(ctx, e.cfg.Telemetry.Tracing)
	if err != nil {
		return nil, exitError(exitConfig, "initializing tracing: %v", err)
	}
	st.onClose(func(ctx context.Context) { _ = tracing.Shutdown(ctx) })

	metrics, err := tpotel.SetupMetrics(e.cfg.Telemetry.Metrics)
	if err != nil {
		return nil, exitError(exitConfig, "initializing metrics: %v", err)
	}
	st.onClose(func(ctx context.Context) { _ = metrics.Shutdown(ctx) })

	observer, err := tpotel.NewToolObserver(metrics.Meter())
	if err != nil {
		return nil, exitError(exitGeneric, "initializing tool observability: %v", err)
	}
	tool.SetObserver(observer)
	st.onClose(func(context.Context) { tool.SetObserver(nil) })

	eb := bus.NewMemBus(bus.MemBusConfig{})
	st.onClose(func(context.Context) {
		if n := eb.Dropped(); n > 0 {
			logger.Warn("event bus dropped deliveries to slow subscribers", "dropped", n)
		}
		_ = eb.Close()
	})

	recorder := calllog.NewRecorder(calllog.RecorderConfig{Store: calls, Logger: logger})
	events := tpotel.TraceEvents(
		tpotel.NewTracingHandler(tracing.Tracer()),
		tool.MultiEventHandler(recorder.Handle, bus.Handler(eb)),
	)
	pipeline := tool.NewPipeline(tool.PipelineConfig{Registry: reg, Events: events, Logger: logger})

	if mode.workers {
		if err := startWorkers(ctx, st, e, calls, hooks, eb, logger); err != nil {
			return nil, err
		}
	}

	var metricsHandler http.Handler
	if e.cfg.Telemetry.Metrics.Enabled {
		metricsHandler = metrics.Handler()
	}
	srv, err := server.NewServer(server.ServerConfig{
		Pipeline: pipeline,
		Calls:    calls,
		Hooks:    hooks,
		Bus:      eb,
		Auth: server.AuthConfig{
			APIKeys:      e.cfg.Auth.APIKeys,
			BearerTokens: e.cfg.Auth.BearerTokens,
		},
		Metrics:    metricsHandler,
		Info:       tool.OpenAPIInfo{Title: "ToolPilot", Version: opts.Version},
		CORSOrigin: e.cfg.Server.CORSOrigin,
		MaxBody:    e.cfg.Server.MaxBody,
		Logger:     logger,
	})
	if err != nil {
		return nil, exitError(exitGeneric, "creating server: %v", err)
	}
	st.handler = srv.Handler()
	return st, nil
}

func startWorkers(ctx context.Context, st *stack, e *env, calls calllog.Store, hooks webhook.Store, eb bus.EventBus, logger *slog.Logger) error {
	seed := make([]webhook.Hook, 0, len(e.cfg.Webhooks))
	for _, w := range e.cfg.Webhooks {
		seed = append(seed, w.Hook())
	}
	added, err := webhook.Ensure(ctx, hooks, seed...)
	if err != nil {
		return exitError(exitConfig, "registering configured webhooks: %v", err)
	}
	if added > 0 {
		logger.Info("registered configured webhooks", "count", added)
	}

	dispatcher, err := webhook.NewDispatcher(webhook.DispatcherConfig{Store: hooks, Logger: logger})
	if err != nil {
		return exitError(exitGeneric, "creating webhook dispatcher: %v", err)
	}
	sub := eb.SubscribeAll()
	workerCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(workerCtx, sub)
	}()
	st.onClose(func(context.Context) {
		cancel()
		_ = sub.Close()
		wg.Wait()
	})

	pruner, err := calllog.NewPruner(calllog.PrunerConfig{
		Store:     calls,
		Retention: e.cfg.Storage.Retention.Policy(),
		Schedule:  e.cfg.Storage.PruneSchedule,
		Logger:    logger,
	})
	if err != nil {
		return exitError(exitConfig, "creating call-log pruner: %v", err)
	}
	pruner.Start(ctx)
	st.onClose(func(context.Context) { pruner.Stop() })
	return nil
}
