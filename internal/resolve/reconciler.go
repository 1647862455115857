package resolve

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/polyinsider/whaleledger/internal/metrics"
	"github.com/polyinsider/whaleledger/internal/polymarket"
	"github.com/polyinsider/whaleledger/internal/store"
)

// Scheduling defaults.
const (
	DefaultInterval    = time.Hour
	DefaultStartDelay  = 60 * time.Second
	DefaultMarketDelay = 500 * time.Millisecond
	DefaultTimeout     = 30 * time.Second
)

// Ledger is the part of the store the reconciler drives.
type Ledger interface {
	ListUnresolvedMarkets(ctx context.Context) ([]store.UnresolvedMarket, error)
	ResolveTrades(ctx context.Context, conditionID, resolvedOutcome string) (int, error)
}

// Source looks up market metadata by condition id.
type Source interface {
	Market(ctx context.Context, conditionID string) (*polymarket.Market, error)
}

// Config controls the reconciliation schedule.
type Config struct {
	Interval    time.Duration
	StartDelay  time.Duration
	MarketDelay time.Duration
	Timeout     time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.StartDelay < 0 {
		c.StartDelay = 0
	}
	if c.MarketDelay < 0 {
		c.MarketDelay = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Report summarizes one reconciliation cycle.
type Report struct {
	Started  time.Time
	Duration time.Duration
	Checked  int
	Resolved int
	Settled  int
	Failed   int
}

// Reconciler polls the resolution source for every market with open trades
// and settles those that have concluded.
type Reconciler struct {
	ledger  Ledger
	source  Source
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.RWMutex
	last Report
}

// New creates a reconciler. Zero durations take the package defaults except
// StartDelay and MarketDelay, where zero means no wait.
func New(ledger Ledger, source Source, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Reconciler {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		ledger:  ledger,
		source:  source,
		cfg:     cfg,
		logger:  logger.With("component", "resolve"),
		metrics: metrics.OrNew(m),
	}
}

// Run waits for the start delay, then runs a cycle every interval until ctx
// ends. A failed cycle is logged and retried on the next tick.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("resolution_loop_started",
		"interval", r.cfg.Interval,
		"start_delay", r.cfg.StartDelay,
	)
	if !sleep(ctx, r.cfg.StartDelay) {
		return nil
	}

	for {
		report, err := r.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			r.logger.Error("resolution_cycle_failed", "error", err)
		} else {
			r.logger.Info("resolution_cycle_complete",
				"checked", report.Checked,
				"resolved", report.Resolved,
				"settled", report.Settled,
				"failed", report.Failed,
				"duration", report.Duration.Round(time.Millisecond),
			)
		}

		if !sleep(ctx, r.cfg.Interval) {
			return nil
		}
	}
}

// RunOnce checks every unresolved market once. Lookup and settlement failures
// for a single market are logged and skipped; only a failure to read the work
// queue is returned.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	report := Report{Started: time.Now()}
	defer func() {
		report.Duration = time.Since(report.Started)
		r.metrics.CycleDuration.Observe(report.Duration.Seconds())
		r.mu.Lock()
		r.last = report
		r.mu.Unlock()
	}()

	markets, err := r.ledger.ListUnresolvedMarkets(ctx)
	if err != nil {
		r.metrics.StorageErrors.WithLabelValues("list_unresolved").Inc()
		return report, err
	}
	if len(markets) == 0 {
		r.logger.Debug("no_unresolved_markets")
		return report, nil
	}
	r.logger.Info("resolution_cycle_started", "markets", len(markets))

	for i, m := range markets {
		if i > 0 && !sleep(ctx, r.cfg.MarketDelay) {
			return report, ctx.Err()
		}
		report.Checked++

		outcome, ok, err := r.lookup(ctx, m.ConditionID)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			r.logger.Warn("market_lookup_failed", "condition_id", m.ConditionID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		settled, err := r.ledger.ResolveTrades(ctx, m.ConditionID, outcome)
		if err != nil {
			report.Failed++
			r.metrics.StorageErrors.WithLabelValues("resolve_trades").Inc()
			r.logger.Error("settlement_failed", "condition_id", m.ConditionID, "error", err)
			continue
		}

		report.Resolved++
		report.Settled += settled
		r.metrics.MarketsResolved.Inc()
		r.metrics.TradesSettled.Add(float64(settled))
		r.logger.Info("market_resolved",
			"condition_id", m.ConditionID,
			"market", truncate(m.MarketTitle, 50),
			"outcome", outcome,
			"trades_settled", settled,
		)
	}
	return report, nil
}

// Last returns the report of the most recent cycle.
func (r *Reconciler) Last() Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Close releases idle connections held by the resolution source.
func (r *Reconciler) Close() error {
	if c, ok := r.source.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	return nil
}

func (r *Reconciler) lookup(ctx context.Context, conditionID string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	market, err := r.source.Market(ctx, conditionID)
	if errors.Is(err, polymarket.ErrNotFound) {
		r.logger.Debug("market_not_found", "condition_id", conditionID)
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	outcome, ok := ExtractResolution(market)
	return outcome, ok, nil
}

// sleep waits for d or until ctx ends; it reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
