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

	"github.com/spf13/cobra"

	"github.com/fusionalpha/fusion-engine/internal/config"
	"github.com/fusionalpha/fusion-engine/internal/feed"
	"github.com/fusionalpha/fusion-engine/internal/memory"
	"github.com/fusionalpha/fusion-engine/internal/observ"
	"github.com/fusionalpha/fusion-engine/internal/outbox"
	"github.com/fusionalpha/fusion-engine/internal/pipeline"
	"github.com/fusionalpha/fusion-engine/internal/portfolio"
	"github.com/fusionalpha/fusion-engine/internal/position"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine against the configured feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runEngine(cfg, "")
		},
	}
}

func replayCmd() *cobra.Command {
	var fixture string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a JSONL observation fixture and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Feed.Mode = "replay"
			return runEngine(cfg, fixture)
		},
	}
	cmd.Flags().StringVar(&fixture, "fixture", "", "override the replay file from config")
	return cmd
}

func loadConfig() (config.Root, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			observ.Warn("config_missing", map[string]any{"path": configPath})
			cfg, err = config.Default()
			if err != nil {
				return config.Root{}, err
			}
		} else {
			return config.Root{}, err
		}
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

func runEngine(cfg config.Root, fixtureOverride string) error {
	if err := observ.InitLogging(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	observ.Log("starting", map[string]any{
		"feed_mode": cfg.Feed.Mode,
		"shards":    cfg.Pipeline.Shards,
		"seed":      cfg.Simulator.Seed,
	})

	store, err := memory.NewStore(memory.Config{
		Dim:            cfg.Memory.Dim,
		Decay:          cfg.Memory.Decay,
		Capacity:       cfg.Memory.Capacity,
		InputDim:       pipeline.MemoryInputDim,
		ProjectionSeed: cfg.Memory.ProjectionSeed,
	})
	if err != nil {
		return fmt.Errorf("init memory: %w", err)
	}

	budget := portfolio.NewBudget(cfg.Portfolio.ExposureBudget, cfg.Portfolio.StatePath)
	if err := budget.Load(); err != nil {
		return fmt.Errorf("load budget state: %w", err)
	}

	ob, err := outbox.New(cfg.Outbox.Path, *cfg.Outbox.DedupeWindowSecs)
	if err != nil {
		return fmt.Errorf("init outbox: %w", err)
	}
	emitter := position.NewEmitter(ob)

	engine, err := pipeline.New(cfg, store, budget, emitter)
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observ.Handler())
		mux.Handle("/health", observ.Health())
		metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			observ.Log("metrics_listening", map[string]any{"addr": cfg.Metrics.ListenAddr})
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				observ.Error("metrics_server", err, nil)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var client feed.Client
	switch cfg.Feed.Mode {
	case "http":
		client = feed.NewHTTPClient(feed.HTTPConfig{
			BaseURL:        cfg.Feed.BaseURL,
			PollIntervalMs: cfg.Feed.PollIntervalMs,
			TimeoutMs:      cfg.Feed.TimeoutMs,
			MaxRetries:     cfg.Feed.MaxRetries,
			BackoffBaseMs:  cfg.Feed.BackoffBaseMs,
			BackoffMaxMs:   cfg.Feed.BackoffMaxMs,
		})
	default:
		path := cfg.Feed.Path
		if fixtureOverride != "" {
			path = fixtureOverride
		}
		client = feed.NewReplayClient(path)
	}
	defer client.Close()

	runErr := engine.Run(ctx, client)

	if err := engine.Close(); err != nil {
		observ.Error("shutdown", err, nil)
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	observ.Log("stopped", nil)
	return runErr
}
