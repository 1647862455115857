// Package main is the entry point for the whale ledger service.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyinsider/whaleledger/internal/alert"
	"github.com/polyinsider/whaleledger/internal/config"
	"github.com/polyinsider/whaleledger/internal/detector"
	"github.com/polyinsider/whaleledger/internal/engine"
	"github.com/polyinsider/whaleledger/internal/enrich"
	"github.com/polyinsider/whaleledger/internal/ingest"
	"github.com/polyinsider/whaleledger/internal/metrics"
	"github.com/polyinsider/whaleledger/internal/polymarket"
	"github.com/polyinsider/whaleledger/internal/resolve"
	"github.com/polyinsider/whaleledger/internal/server"
	"github.com/polyinsider/whaleledger/internal/store"
	"github.com/polyinsider/whaleledger/internal/ui"
)

// tuiLogFile receives the logs while the dashboard owns the terminal.
const tuiLogFile = "whaleledger.log"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	var logOut io.Writer = os.Stdout
	if cfg.EnableTUI {
		f, err := os.OpenFile(tuiLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error("failed to open log file", "path", tuiLogFile, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	logger := setupLogger(cfg.LogLevel, logOut)
	slog.SetDefault(logger)

	slog.Info("whaleledger starting", "version", "1.0.0")

	slog.Info("config_loaded",
		"rtds_url", cfg.RTDSURL,
		"whale_threshold_usd", cfg.WhaleThresholdUSD,
		"whale_queue_size", cfg.WhaleQueueSize,
		"data_api_url", cfg.DataAPIURL,
		"gamma_api_url", cfg.GammaAPIURL,
		"enrichment_ttl", cfg.EnrichmentTTL,
		"resolution_interval", cfg.ResolutionInterval,
		"db_driver", cfg.DBDriver,
		"db", cfg.MaskedDSN(),
		"discord_webhook", cfg.MaskedDiscordWebhook(),
		"kafka_brokers", strings.Join(cfg.KafkaBrokers, ","),
		"http_port", cfg.HTTPPort,
		"enable_tui", cfg.EnableTUI,
	)

	if err := run(cfg, logger); err != nil {
		slog.Error("engine_failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	ledger, err := store.Open(ctx, cfg.DBDriver, cfg.DSN(), store.WithLogger(logger))
	if err != nil {
		return err
	}
	slog.Info("ledger_opened", "driver", cfg.DBDriver, "db", cfg.MaskedDSN())

	whales := make(chan store.Trade, cfg.WhaleQueueSize)
	feed, err := ingest.NewFeed(ingest.FeedConfig{
		URL:            cfg.RTDSURL,
		WhaleThreshold: cfg.WhaleThresholdUSD,
	}, whales, logger, m)
	if err != nil {
		ledger.Close()
		return err
	}

	dataClient := polymarket.NewDataClient(cfg.DataAPIURL,
		polymarket.WithTimeout(cfg.EnrichmentTimeout),
		polymarket.WithRateLimit(cfg.DataAPIRPS, max(1, int(cfg.DataAPIRPS))),
	)
	cache := enrich.New(ledger, dataClient,
		enrich.WithTTL(cfg.EnrichmentTTL),
		enrich.WithTimeout(cfg.EnrichmentTimeout),
		enrich.WithLogger(logger),
		enrich.WithMetrics(m),
	)

	gammaClient := polymarket.NewGammaClient(cfg.GammaAPIURL, polymarket.WithTimeout(cfg.ResolutionTimeout))
	reconciler := resolve.New(ledger, gammaClient, resolve.Config{
		Interval:    cfg.ResolutionInterval,
		StartDelay:  cfg.ResolutionStartDelay,
		MarketDelay: cfg.ResolutionDelay,
		Timeout:     cfg.ResolutionTimeout,
	}, logger, m)

	var dashboard *ui.App
	if cfg.EnableTUI {
		dashboard = ui.NewApp(ui.Sources{
			Feed:       feed,
			Ledger:     ledger,
			Reconciler: reconciler,
			Queue:      func() (int, int) { return len(whales), cap(whales) },
		}, cfg.UIRefreshRate)
	}
	sink := buildSinks(ctx, cfg, logger, m, dashboard)

	orch, err := engine.New(engine.Deps{
		Feed:             feed,
		Whales:           whales,
		Enricher:         cache,
		Ledger:           ledger,
		Sink:             sink,
		Reconciler:       reconciler,
		Flagger:          detector.NewDetector(cfg),
		EnrichmentClient: dataClient,
		Logger:           logger,
		Metrics:          m,
	}, engine.Options{StatsInterval: cfg.StatsInterval})
	if err != nil {
		ledger.Close()
		return err
	}
	defer func() {
		if err := orch.Close(); err != nil {
			slog.Warn("shutdown_errors", "error", err)
		}
	}()

	slog.Info("engine_started",
		"status", "listening for trades",
		"threshold_usd", cfg.WhaleThresholdUSD,
		"sinks", sink.Name(),
		"tui_enabled", cfg.EnableTUI,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(ctx) })

	if cfg.HTTPPort > 0 {
		handler := server.NewHandler(ledger, feed, reconciler)
		router := server.NewRouter(&server.Config{Handler: handler, Metrics: m, Logger: logger})
		srv := server.New(cfg.HTTPPort, router, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if dashboard != nil {
		slog.Info("starting_tui")
		g.Go(func() error {
			defer cancel()
			return dashboard.Run(ctx)
		})
	}

	<-gctx.Done()
	slog.Info("shutting_down")
	cancel()
	return g.Wait()
}

// buildSinks fans alerts out to the log, plus Discord, Kafka and the
// dashboard when configured.
func buildSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, dashboard *ui.App) *alert.Multi {
	sinks := []alert.Sink{alert.NewLogSink(logger)}

	if cfg.DiscordWebhookURL != "" {
		discord := alert.NewDiscordSink(cfg.DiscordWebhookURL, nil, logger)
		testCtx, cancel := context.WithTimeout(ctx, alert.DiscordTimeout)
		if err := discord.SendTest(testCtx); err != nil {
			slog.Warn("discord_webhook_test_failed", "error", err)
		} else {
			slog.Info("discord_webhook_verified")
		}
		cancel()
		sinks = append(sinks, discord)
	} else {
		slog.Warn("discord_disabled", "reason", "DISCORD_WEBHOOK_URL not set")
	}

	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, alert.NewKafkaSink(alert.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)))
		slog.Info("kafka_sink_enabled", "topic", cfg.KafkaTopic)
	}

	if dashboard != nil {
		sinks = append(sinks, dashboard)
	}
	return alert.NewMulti(m, sinks...)
}

// setupLogger creates a structured logger with the specified level.
// Format: 2025-01-04 14:32:01 [INFO]  message key=value
func setupLogger(levelStr string, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05"))
				}
			}
			return a
		},
	}

	return slog.New(slog.NewTextHandler(w, opts))
}
