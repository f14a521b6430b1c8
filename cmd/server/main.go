/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the load-planning server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, file, LOADPLAN_* env, flags)
  2. Build the zap logger
  3. Open the SQLite store and seed preset flights
  4. Build the solver, exact optimizer and Session
  5. Configure the HTTP router and Prometheus registry
  6. Start server with graceful shutdown

COMMANDS:
  server                 Run the HTTP server (default)
  server import FILE...  Store flight documents (.json, .yaml) and exit

COMMON FLAGS:
  --config      YAML config file
  --port        HTTP server port (default: 8080)
  --db          SQLite database path (default: loadplan.db)
                Use ":memory:" for in-memory database
  --seed        Seed embedded preset flights (default: true)
  --target-cg   Target CG for flights without one (default: 22)
  --node-limit  Branch-and-bound node budget
  --split       Heuristic split coordinate
  --log-level   debug, info, warn, error
  --log-dev     Console log encoder

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with in-memory database on another port
  ./server --db=":memory:" --port=3000

  # Environment overrides
  LOADPLAN_OPTIMIZER_DEFAULT_TARGET_CG=24 ./server

  # Import a flight document
  ./server import --db=./data/loadplan.db flights/cx2027.yaml

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/warp/load-engine/api"
	"github.com/warp/load-engine/config"
	"github.com/warp/load-engine/factory"
	"github.com/warp/load-engine/loadplan"
	"github.com/warp/load-engine/logging"
	"github.com/warp/load-engine/metrics"
	"github.com/warp/load-engine/milp"
	"github.com/warp/load-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "server",
		Short:        "Aircraft load-planning server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return serve(cmd.Context(), cfg, logger)
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(&cobra.Command{
		Use:   "import FILE...",
		Short: "Store flight documents and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return importFiles(cmd.Context(), cfg, logger, args)
		},
	})
	return root
}

func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// =============================================================================
// SERVE
// =============================================================================

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	if cfg.Store.Seed {
		if err := seedPresets(ctx, store, logger); err != nil {
			return err
		}
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Optimizers and session
	solver := milp.NewBranchAndBound(milp.Options{
		NodeLimit:   cfg.Optimizer.NodeLimit,
		SearchLimit: cfg.Optimizer.SearchLimit,
		Tolerance:   cfg.Optimizer.LPTolerance,
		Gap:         cfg.Optimizer.OptimalityGap,
	}, logger.Named("milp"))
	exact := loadplan.NewExactOptimizer(solver, cfg.Optimizer.CGTolerance, logger.Named("exact"))
	session := loadplan.NewSession(store, exact,
		loadplan.WithLayoutSink(store),
		loadplan.WithMetrics(metrics.NewPrometheus(registry, "")),
		loadplan.WithLogger(logger.Named("session")),
		loadplan.WithDefaultTarget(cfg.Optimizer.DefaultTargetCG),
		loadplan.WithHeuristicOptions(loadplan.HeuristicOptions{Split: cfg.Heuristic.Split}),
	)

	// Initialize handler
	handler, err := api.NewHandler(session, store, logger.Named("api"))
	if err != nil {
		return fmt.Errorf("failed to initialize handler: %w", err)
	}

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})

	// WriteTimeout must outlast an exact optimizer run.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("db", cfg.Store.Path),
			zap.Float64("default_target_cg", cfg.Optimizer.DefaultTargetCG),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func seedPresets(ctx context.Context, store *sqlite.Store, logger *zap.Logger) error {
	presets, err := factory.NewSnapshotFactory().Presets()
	if err != nil {
		return fmt.Errorf("failed to read presets: %w", err)
	}
	seeded, err := store.Seed(ctx, presets)
	if err != nil {
		return fmt.Errorf("failed to seed presets: %w", err)
	}
	if len(seeded) > 0 {
		logger.Info("seeded preset flights", zap.Strings("flights", seeded))
	}
	return nil
}

// =============================================================================
// IMPORT
// =============================================================================

func importFiles(ctx context.Context, cfg *config.Config, logger *zap.Logger, paths []string) error {
	store, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	f := factory.NewSnapshotFactory()
	for _, path := range paths {
		format, err := factory.FormatFromPath(path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		snap, err := f.Parse(data, format)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		flight, err := store.SaveFlight(ctx, snap)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		logger.Info("flight imported",
			zap.String("file", path),
			zap.String("flight", flight.Code),
			zap.Int("units", len(snap.Units)),
			zap.Int("slots", len(snap.Slots)),
		)
	}
	return nil
}
