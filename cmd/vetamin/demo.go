package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pankerit/vetamin"
	"github.com/pankerit/vetamin/metrics"
	"github.com/pankerit/vetamin/sinks/durablestream"
	"github.com/pankerit/vetamin/sinks/memory"
	"github.com/pankerit/vetamin/sinks/slogsink"
	"github.com/pankerit/vetamin/sinks/sqlite"
	"github.com/pankerit/vetamin/statefile"
)

type demoOptions struct {
	root *rootOptions

	name        string
	stateFile   string
	saveFile    string
	sink        string
	sqlitePath  string
	streamURL   string
	increments  []int
	otel        bool
	metricsAddr string
}

func newDemoCommand(root *rootOptions) *cobra.Command {
	opts := &demoOptions{root: root}

	cmd := &cobra.Command{
		Use:   "demo [OPTIONS]",
		Short: "Run a counter store and dispatch increments",
		Long: `Run a counter store and dispatch increments.

The store starts from --state (YAML or JSON) or {count: 0}, subscribes to
count and dispatches one increment action per --increment value. Every
action is forwarded to the chosen sink.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.name, "name", "counter", "Store name")
	flags.StringVar(&opts.stateFile, "state", "", "Initial state file (.yaml, .yml or .json)")
	flags.StringVar(&opts.saveFile, "save", "", "Write the final state to this file (.yaml, .yml or .json)")
	flags.StringVar(&opts.sink, "sink", "log", "Sink receiving actions (memory, log, sqlite, durablestream)")
	flags.StringVar(&opts.sqlitePath, "sqlite-path", "vetamin.db", "Database file of the sqlite sink")
	flags.StringVar(&opts.streamURL, "stream-url", "", "Base stream URL of the durablestream sink")
	flags.IntSliceVar(&opts.increments, "increment", []int{1}, "Increment payloads to dispatch, in order")
	flags.BoolVar(&opts.otel, "otel", false, "Export traces and metrics to stderr")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address until interrupted")

	return cmd
}

// counterActions are the actions of the demo store.
func counterActions() vetamin.ActionTable {
	return vetamin.ActionTable{
		"increment": vetamin.Action(func(s vetamin.State, n int) vetamin.State {
			return vetamin.State{"count": count(s) + n}
		}),
		"reset": vetamin.Action(func(s vetamin.State, _ any) vetamin.State {
			return vetamin.State{"count": 0}
		}),
	}
}

// count reads the counter, accepting values decoded from JSON.
func count(s vetamin.State) int {
	switch v := s["count"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func runDemo(ctx context.Context, stdout, stderr io.Writer, opts *demoOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := opts.root.logger(stderr)
	if err != nil {
		return err
	}

	initial := vetamin.State{"count": 0}
	if opts.stateFile != "" {
		initial, err = statefile.Load(opts.stateFile)
		if err != nil {
			return err
		}
	}

	sink, closeSink, err := openSink(opts, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	var observers []vetamin.Observability

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("vetamin")
	registry.MustRegister(collector)
	observers = append(observers, collector)

	if opts.otel {
		obs, shutdown, err := setupTelemetry(stderr)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("telemetry shutdown failed", "error", err)
			}
		}()
		observers = append(observers, obs)
	}

	store, err := vetamin.NewWithContext(ctx, initial,
		vetamin.WithName(opts.name),
		vetamin.WithLogger(logger),
		vetamin.WithSink(sink),
		vetamin.WithActions(counterActions()),
		vetamin.WithObservability(vetamin.MultiObservability(observers...)),
	)
	if err != nil {
		return err
	}
	defer store.Close()

	vetamin.Subscribe(store, func(n int) {
		fmt.Fprintf(stdout, "count: %d\n", n)
	}, count, nil, vetamin.Named("printer"))

	for _, n := range opts.increments {
		if err := store.Actions().Dispatch(ctx, "increment", n); err != nil {
			return err
		}
	}

	fmt.Fprintf(stdout, "final state after %d updates: %v\n", store.Version(), store.GetState())

	if opts.saveFile != "" {
		if err := statefile.Save(opts.saveFile, store.GetState()); err != nil {
			return err
		}
	}

	if s, ok := sink.(*memory.Sink); ok {
		if session, ok := s.Session(opts.name); ok {
			for _, r := range session.Records() {
				fmt.Fprintf(stdout, "recorded %s -> %v\n", r.Action, r.State)
			}
		}
	}

	if opts.metricsAddr != "" {
		return serveMetrics(ctx, opts.metricsAddr, registry, logger)
	}
	return nil
}

// openSink builds the sink selected with --sink.
func openSink(opts *demoOptions, logger *slog.Logger) (vetamin.Connector, func(), error) {
	noop := func() {}
	switch opts.sink {
	case "memory":
		return memory.New(), noop, nil
	case "log":
		return slogsink.New(logger, slogsink.WithLevel(slog.LevelInfo)), noop, nil
	case "sqlite":
		s, err := sqlite.New(opts.sqlitePath, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Error("closing sqlite sink failed", "error", err)
			}
		}, nil
	case "durablestream":
		s, err := durablestream.New(opts.streamURL, durablestream.WithLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn)))
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	}
	return nil, nil, fmt.Errorf("unknown sink %q", opts.sink)
}

// serveMetrics serves the registry until ctx is done or the process is
// interrupted.
func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
