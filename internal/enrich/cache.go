// Package enrich resolves a wallet's reputation snapshot, reading through
// the ledger and refreshing from the data API once the snapshot goes stale.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyinsider/whaleledger/internal/metrics"
	"github.com/polyinsider/whaleledger/internal/polymarket"
	"github.com/polyinsider/whaleledger/internal/store"
)

// Defaults
const (
	DefaultTTL     = 24 * time.Hour
	DefaultTimeout = 10 * time.Second
)

// Ledger is the part of the store the cache reads and writes through.
type Ledger interface {
	GetWallet(ctx context.Context, address string) (*store.Wallet, error)
	UpsertWallet(ctx context.Context, address string, rep *store.ReputationUpdate) error
}

// Source performs the two reputation lookups.
type Source interface {
	TradeCount(ctx context.Context, wallet string) (int, error)
	Leaderboard(ctx context.Context, wallet string) (*store.LeaderboardEntry, error)
}

// Cache is a read-through, TTL-bound reputation cache persisted in the
// ledger. Concurrent misses for one wallet may both hit the network; the
// last write wins.
type Cache struct {
	ledger  Ledger
	source  Source
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets how long a fetched snapshot is served without a refresh.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithTimeout bounds each upstream lookup.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithMetrics sets the collectors updated by the cache.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a cache over ledger and source.
func New(ledger Ledger, source Source, opts ...Option) *Cache {
	c := &Cache{
		ledger:  ledger,
		source:  source,
		ttl:     DefaultTTL,
		timeout: DefaultTimeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "enrich")
	c.metrics = metrics.OrNew(c.metrics)
	return c
}

// Enrich returns the wallet's reputation snapshot. A fresh cached snapshot is
// returned without any network call; otherwise both lookups run in parallel
// and whatever succeeded is merged and written to the ledger.
//
// Upstream failures are not errors: a failed trade-history lookup leaves the
// trade count unknown and a failed leaderboard lookup keeps the stored
// leaderboard fields. An error is returned only when the ledger write fails.
func (c *Cache) Enrich(ctx context.Context, wallet string) (store.Reputation, error) {
	cached, err := c.ledger.GetWallet(ctx, wallet)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		c.logger.Warn("wallet_read_failed", "wallet", wallet, "error", err)
		cached = nil
	}

	if cached != nil && cached.Reputation.Fresh(c.now(), c.ttl) {
		c.metrics.ReputationLookups.WithLabelValues("hit").Inc()
		c.logger.Debug("reputation_cache_hit", "wallet", wallet)
		return cached.Reputation, nil
	}
	c.metrics.ReputationLookups.WithLabelValues("miss").Inc()

	start := c.now()
	update, fetched := c.fetch(ctx, wallet)

	var prev store.Reputation
	if cached != nil {
		prev = cached.Reputation
	}

	if !fetched {
		// Nothing came back: keep the wallet row but leave the fetch time
		// unstamped so the next whale retries. The stored count is left for
		// that retry; callers alert from the returned snapshot, where the
		// count is unknown.
		if err := c.ledger.UpsertWallet(ctx, wallet, nil); err != nil {
			return store.Reputation{}, fmt.Errorf("enrich %s: %w", wallet, err)
		}
		prev.APITradeCount = nil
		c.logger.Warn("reputation_unavailable", "wallet", wallet)
		return prev, nil
	}

	if err := c.ledger.UpsertWallet(ctx, wallet, update); err != nil {
		return store.Reputation{}, fmt.Errorf("enrich %s: %w", wallet, err)
	}

	rep := merge(prev, update, c.now())
	c.logger.Info("reputation_refreshed",
		"wallet", wallet,
		"trade_count", derefInt(rep.APITradeCount),
		"rank", derefInt(rep.LeaderboardRank),
		"elapsed", c.now().Sub(start).Round(time.Millisecond),
	)
	return rep, nil
}

// fetch runs both lookups concurrently. fetched is false when both failed.
func (c *Cache) fetch(ctx context.Context, wallet string) (*store.ReputationUpdate, bool) {
	var (
		count     int
		countErr  error
		entry     *store.LeaderboardEntry
		leaderErr error
		g         errgroup.Group
		update    store.ReputationUpdate
	)

	g.Go(func() error {
		lctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		count, countErr = c.source.TradeCount(lctx, wallet)
		return nil
	})
	g.Go(func() error {
		lctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		entry, leaderErr = c.source.Leaderboard(lctx, wallet)
		if errors.Is(leaderErr, polymarket.ErrNotFound) {
			entry, leaderErr = nil, nil
		}
		return nil
	})
	g.Wait()

	if countErr != nil {
		c.lookupFailed("trades", wallet, countErr)
	} else {
		update.TradeCount = &count
	}

	if leaderErr != nil {
		c.lookupFailed("leaderboard", wallet, leaderErr)
	} else {
		update.LeaderboardFetched = true
		update.Leaderboard = entry
	}

	return &update, countErr == nil || leaderErr == nil
}

func (c *Cache) lookupFailed(endpoint, wallet string, err error) {
	reason := failureReason(err)
	c.metrics.LookupFailures.WithLabelValues(endpoint, reason).Inc()
	c.logger.Warn("reputation_lookup_failed",
		"endpoint", endpoint,
		"wallet", wallet,
		"reason", reason,
		"error", err,
	)
}

// merge applies an update on top of the previous snapshot the same way the
// ledger does.
func merge(prev store.Reputation, u *store.ReputationUpdate, now time.Time) store.Reputation {
	rep := prev
	rep.APITradeCount = u.TradeCount
	if u.LeaderboardFetched {
		rep.LeaderboardRank, rep.LeaderboardPnL, rep.LeaderboardVolume = nil, nil, nil
		if lb := u.Leaderboard; lb != nil {
			rep.LeaderboardRank = lb.Rank
			rep.LeaderboardPnL = lb.PnL
			rep.LeaderboardVolume = lb.Volume
		}
	}
	rep.LastAPIFetch = &now
	return rep
}

func failureReason(err error) string {
	var statusErr *polymarket.StatusError
	switch {
	case errors.Is(err, polymarket.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &statusErr):
		return "status"
	default:
		return "error"
	}
}

func derefInt(v *int) any {
	if v == nil {
		return "unknown"
	}
	return *v
}
