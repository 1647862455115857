// Package engine wires the feed, reputation cache, ledger, reconciler and
// alert sinks together and supervises their loops.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyinsider/whaleledger/internal/alert"
	"github.com/polyinsider/whaleledger/internal/detector"
	"github.com/polyinsider/whaleledger/internal/ingest"
	"github.com/polyinsider/whaleledger/internal/metrics"
	"github.com/polyinsider/whaleledger/internal/store"
)

// Defaults.
const (
	DefaultStatsInterval = 5 * time.Minute
	DefaultWriteTimeout  = 10 * time.Second
)

// Feed is the stream connection.
type Feed interface {
	Run(ctx context.Context) error
	Stop()
	Stats() ingest.Stats
}

// Enricher returns a wallet's reputation snapshot.
type Enricher interface {
	Enrich(ctx context.Context, wallet string) (store.Reputation, error)
}

// Ledger is the part of the store the orchestrator uses.
type Ledger interface {
	RecordTrade(ctx context.Context, t *store.Trade) (int64, error)
	GetWallet(ctx context.Context, address string) (*store.Wallet, error)
	Summary(ctx context.Context) (store.Summary, error)
	Close() error
}

// Reconciler settles trades in the background.
type Reconciler interface {
	Run(ctx context.Context) error
	Close() error
}

// Flagger labels a trade for alerting.
type Flagger interface {
	Detect(trade store.Trade, wallet store.Wallet) []detector.Flag
	Cleanup()
}

// IdleCloser releases pooled connections.
type IdleCloser interface {
	CloseIdleConnections()
}

// Deps are the components an Orchestrator drives. Feed, Whales, Enricher,
// Ledger and Sink are required.
type Deps struct {
	Feed       Feed
	Whales     <-chan store.Trade
	Enricher   Enricher
	Ledger     Ledger
	Sink       alert.Sink
	Reconciler Reconciler
	Flagger    Flagger

	// EnrichmentClient is released first on Close.
	EnrichmentClient IdleCloser

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Options tune the orchestrator. Zero values take the package defaults.
type Options struct {
	StatsInterval time.Duration
	WriteTimeout  time.Duration
}

// Orchestrator routes whale trades through enrichment, persistence and
// alerting while the feed, reconciler and stats loops run side by side.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	m      *metrics.Metrics

	handled atomic.Int64
	failed  atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// New validates deps and creates an orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Feed == nil:
		return nil, errors.New("engine: feed is required")
	case deps.Whales == nil:
		return nil, errors.New("engine: whale channel is required")
	case deps.Enricher == nil:
		return nil, errors.New("engine: enricher is required")
	case deps.Ledger == nil:
		return nil, errors.New("engine: ledger is required")
	case deps.Sink == nil:
		return nil, errors.New("engine: alert sink is required")
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: logger.With("component", "engine"),
		m:      metrics.OrNew(deps.Metrics),
	}, nil
}

// Run starts every loop and blocks until ctx is cancelled and all of them
// have returned. Loops are independent: an error or panic in one is logged
// and the rest keep running.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("engine_started",
		"sink", o.deps.Sink.Name(),
		"reconciler", o.deps.Reconciler != nil,
		"stats_interval", o.opts.StatsInterval,
	)

	var g errgroup.Group
	o.supervise(&g, "feed", func() error { return o.deps.Feed.Run(ctx) })
	o.supervise(&g, "whales", func() error { return o.handleLoop(ctx) })
	if o.deps.Reconciler != nil {
		o.supervise(&g, "reconciler", func() error { return o.deps.Reconciler.Run(ctx) })
	}
	o.supervise(&g, "stats", func() error { return o.statsLoop(ctx) })

	<-ctx.Done()
	o.deps.Feed.Stop()
	_ = g.Wait()

	o.logger.Info("engine_stopped",
		"whales_handled", o.handled.Load(),
		"whales_failed", o.failed.Load(),
	)
	return nil
}

func (o *Orchestrator) supervise(g *errgroup.Group, name string, fn func() error) {
	g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("loop_panic", "loop", name, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("loop_failed", "loop", name, "error", err)
		}
		return nil
	})
}

func (o *Orchestrator) handleLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case trade, ok := <-o.deps.Whales:
			if !ok {
				return nil
			}
			o.m.WhaleQueueDepth.Set(float64(len(o.deps.Whales)))
			if err := o.HandleWhale(ctx, trade); err != nil {
				o.failed.Add(1)
				o.logger.Error("whale_failed",
					"wallet", trade.WalletAddress,
					"market", truncate(trade.ConditionID, 12),
					"error", err,
				)
				continue
			}
			o.handled.Add(1)
		}
	}
}

// HandleWhale enriches the wallet, records the trade, re-reads the wallet and
// hands both to the alert sink. Only a failed write is returned; enrichment
// and alert failures are logged.
func (o *Orchestrator) HandleWhale(ctx context.Context, trade store.Trade) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling whale: %v", r)
		}
	}()

	o.logger.Info("whale_processing",
		"wallet", trade.WalletAddress,
		"market", trade.MarketTitle,
		"value_usd", trade.TradeValue,
	)

	rep, enrichErr := o.deps.Enricher.Enrich(ctx, trade.WalletAddress)
	if enrichErr != nil {
		o.logger.Warn("enrichment_failed", "wallet", trade.WalletAddress, "error", enrichErr)
	}

	// writes are detached from ctx and bounded by WriteTimeout
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.WriteTimeout)
	defer cancel()

	if _, err := o.deps.Ledger.RecordTrade(writeCtx, &trade); err != nil {
		o.m.StorageErrors.WithLabelValues("record_trade").Inc()
		return err
	}
	o.m.TradesRecorded.Inc()

	wallet, err := o.deps.Ledger.GetWallet(writeCtx, trade.WalletAddress)
	if err != nil {
		o.m.StorageErrors.WithLabelValues("get_wallet").Inc()
		o.logger.Warn("wallet_reread_failed", "wallet", trade.WalletAddress, "error", err)
		wallet = &store.Wallet{Address: trade.WalletAddress}
	}
	// aggregates come from the ledger row, reputation from this refresh
	if enrichErr == nil {
		wallet.Reputation = rep
	}

	o.logger.Info("trade_recorded",
		"id", trade.ID,
		"wallet", trade.WalletAddress,
		"whale_trades", wallet.TotalWhaleTrades,
	)

	stats := store.WalletStats{Wallet: *wallet}
	if o.deps.Flagger != nil {
		stats.Flags = detector.Labels(o.deps.Flagger.Detect(trade, *wallet))
	} else {
		stats.Flags = detector.Labels(detector.WalletFlags(*wallet))
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := o.deps.Sink.Send(ctx, trade, stats); err != nil {
		o.logger.Warn("alert_failed", "sink", o.deps.Sink.Name(), "error", err)
	}
	return nil
}

func (o *Orchestrator) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.opts.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.logStats(ctx)
		}
	}
}

func (o *Orchestrator) logStats(ctx context.Context) {
	fs := o.deps.Feed.Stats()
	attrs := []any{
		"messages", fs.MessagesReceived,
		"whales", fs.WhalesDetected,
		"decode_failures", fs.DecodeFailures,
		"reconnects", fs.Reconnects,
		"connected", fs.Connected,
		"queue_depth", len(o.deps.Whales),
		"handled", o.handled.Load(),
		"failed", o.failed.Load(),
	}

	qctx, cancel := context.WithTimeout(ctx, o.opts.WriteTimeout)
	defer cancel()
	if s, err := o.deps.Ledger.Summary(qctx); err != nil {
		o.logger.Warn("summary_failed", "error", err)
	} else {
		attrs = append(attrs,
			"wallets", s.Wallets,
			"trades", s.Trades,
			"unresolved_trades", s.UnresolvedTrades,
			"unresolved_markets", s.UnresolvedMarkets,
			"realized_pnl", s.RealizedPnL,
		)
	}

	if o.deps.Flagger != nil {
		o.deps.Flagger.Cleanup()
	}
	o.logger.Info("stats", attrs...)
}

// Close releases handles in dependency order: enrichment client, alert sink,
// reconciler, then storage. Call it after Run has returned.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		var errs []error
		if o.deps.EnrichmentClient != nil {
			o.deps.EnrichmentClient.CloseIdleConnections()
		}
		if err := o.deps.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
		if o.deps.Reconciler != nil {
			if err := o.deps.Reconciler.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close reconciler: %w", err))
			}
		}
		if err := o.deps.Ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ledger: %w", err))
		}
		o.closeErr = errors.Join(errs...)
		o.logger.Info("shutdown_complete")
	})
	return o.closeErr
}

// Handled returns how many whales were recorded and how many failed.
func (o *Orchestrator) Handled() (ok, failed int64) {
	return o.handled.Load(), o.failed.Load()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
