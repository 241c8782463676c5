// Command server runs the chainsentry demo platform: the task pipeline,
// the subscription broker with its periodic demo feeds, the HTTP API, and
// the Prometheus endpoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainsentry/chainsentry/pkg/api"
	"github.com/chainsentry/chainsentry/pkg/broker"
	"github.com/chainsentry/chainsentry/pkg/config"
	"github.com/chainsentry/chainsentry/pkg/datasource"
	"github.com/chainsentry/chainsentry/pkg/duration"
	"github.com/chainsentry/chainsentry/pkg/pipeline"
	"github.com/chainsentry/chainsentry/pkg/registry"
	"github.com/chainsentry/chainsentry/pkg/scoring"
	"github.com/chainsentry/chainsentry/pkg/store"
	"github.com/chainsentry/chainsentry/pkg/task"
	"github.com/chainsentry/chainsentry/pkg/telemetry"
	"github.com/chainsentry/chainsentry/pkg/transport"
	"github.com/chainsentry/chainsentry/pkg/ui"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.ParseFlags(args)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ui.SetNoColor(cfg.NoColor)
	ui.PrintBanner(cfg.APIAddr, cfg.SubscribeAddr, cfg.MetricsAddr)

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracing, err := telemetry.SetupTracing(ctx, telemetry.TracingOptions{
		Endpoint: cfg.TraceEndpoint,
		Insecure: cfg.TraceInsecure,
	})
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}

	metrics := telemetry.NewMetrics()
	if cfg.MetricsAddr != "" {
		if err := metrics.Serve(cfg.MetricsAddr, logger); err != nil {
			return err
		}
	}

	// Single-instance-per-process state, owned here and passed by handle.
	reg := registry.New(registry.TokenAuthenticator(cfg.AuthTokens))
	st := store.New(cfg.HistoryCap)
	feeds := datasource.DemoFeeds(datasource.NewDemo(seed))

	br := broker.New(reg, feeds, broker.Options{
		Logger:           logger.With("component", "broker"),
		Metrics:          metrics,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
	})

	engine := pipeline.New(task.DefaultKinds(), st, scoring.NewDemo(seed), br, pipeline.Options{
		Logger:     logger.With("component", "pipeline"),
		Metrics:    metrics,
		StageDelay: cfg.StageDelay,
		Workers:    cfg.Workers,
	})

	listener, err := transport.Listen(cfg.SubscribeAddr, br, logger.With("component", "transport"))
	if err != nil {
		return fmt.Errorf("subscription transport: %w", err)
	}

	apiServer := api.NewServer(engine, logger.With("component", "api"))
	apiServer.Start(cfg.APIAddr)

	br.Start()
	logger.Info("chainsentry up",
		"api", cfg.APIAddr,
		"subscribe", cfg.SubscribeAddr,
		"history_cap", cfg.HistoryCap,
		"kinds", task.DefaultKinds().Names(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), duration.Shutdown)
	defer cancel()

	_ = listener.Close()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = br.Close()
	engine.Close()
	_ = metrics.Close(shutdownCtx)
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("trace shutdown", "error", err)
	}

	logger.Info("bye")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
