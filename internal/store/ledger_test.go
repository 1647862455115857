package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ledgerFactory opens an empty ledger driven by the given clock.
type ledgerFactory func(t *testing.T, clock *testClock) *Ledger

func openSQLiteLedger(t *testing.T, clock *testClock) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "whales.db")
	l, err := Open(context.Background(), DriverSQLite, path, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestSQLiteLedger(t *testing.T) {
	runLedgerSuite(t, openSQLiteLedger)
}

func runLedgerSuite(t *testing.T, open ledgerFactory) {
	t.Run("UpsertWalletReputation", func(t *testing.T) { testUpsertWalletReputation(t, open) })
	t.Run("RecordTrade", func(t *testing.T) { testRecordTrade(t, open) })
	t.Run("RecordTradeAtomic", func(t *testing.T) { testRecordTradeAtomic(t, open) })
	t.Run("ResolveTradesIdempotent", func(t *testing.T) { testResolveTradesIdempotent(t, open) })
	t.Run("ListUnresolvedMarkets", func(t *testing.T) { testListUnresolvedMarkets(t, open) })
	t.Run("CleanupRetention", func(t *testing.T) { testCleanupRetention(t, open) })
	t.Run("Queries", func(t *testing.T) { testQueries(t, open) })
}

func whaleTrade(wallet, market, side, outcome string, size, price float64, at time.Time) *Trade {
	return &Trade{
		Timestamp:     at,
		WalletAddress: wallet,
		ConditionID:   market,
		EventSlug:     "slug-" + market,
		MarketTitle:   "Market " + market,
		Side:          Side(side),
		Outcome:       outcome,
		Size:          size,
		Price:         price,
		TradeValue:    size * price,
		TxHash:        "0xtx",
	}
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func testUpsertWalletReputation(t *testing.T, open ledgerFactory) {
	ctx := context.Background()
	clock := newTestClock()
	l := open(t, clock)

	require.NoError(t, l.UpsertWallet(ctx, "0xabc", nil))
	w, err := l.GetWallet(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), w.FirstSeenAt)
	assert.Nil(t, w.LastAPIFetch)
	assert.Nil(t, w.APITradeCount)

	clock.Advance(time.Minute)
	err = l.UpsertWallet(ctx, "0xabc", &ReputationUpdate{
		TradeCount:         intPtr(42),
		LeaderboardFetched: true,
		Leaderboard:        &LeaderboardEntry{Rank: intPtr(7), PnL: floatPtr(120000), Volume: floatPtr(3e6)},
	})
	require.NoError(t, err)

	w, err = l.GetWallet(ctx, "0xabc")
	require.NoError(t, err)
	require.NotNil(t, w.APITradeCount)
	assert.Equal(t, 42, *w.APITradeCount)
	require.NotNil(t, w.LeaderboardRank)
	assert.Equal(t, 7, *w.LeaderboardRank)
	assert.Equal(t, 120000.0, *w.LeaderboardPnL)
	require.NotNil(t, w.LastAPIFetch)
	assert.Equal(t, clock.Now(), *w.LastAPIFetch)
	assert.Equal(t, clock.Now().Add(-time.Minute), w.FirstSeenAt, "first seen must not move")

	// Failed trade-history lookup and failed leaderboard lookup.
	clock.Advance(time.Minute)
	require.NoError(t, l.UpsertWallet(ctx, "0xabc", &ReputationUpdate{}))
	w, err = l.GetWallet(ctx, "0xabc")
	require.NoError(t, err)
	assert.Nil(t, w.APITradeCount, "failed count lookup is unknown, not the old value")
	require.NotNil(t, w.LeaderboardRank, "failed leaderboard lookup keeps previous values")
	assert.Equal(t, 7, *w.LeaderboardRank)

	// Leaderboard answered but the wallet is unranked.
	require.NoError(t, l.UpsertWallet(ctx, "0xabc", &ReputationUpdate{TradeCount: intPtr(3), LeaderboardFetched: true}))
	w, err = l.GetWallet(ctx, "0xabc")
	require.NoError(t, err)
	assert.Nil(t, w.LeaderboardRank)
	assert.Nil(t, w.LeaderboardPnL)
	assert.Equal(t, 3, *w.APITradeCount)

	_, err = l.GetWallet(ctx, "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, l.UpsertWallet(ctx, "", nil), ErrInvalidInput)
}

func testRecordTrade(t *testing.T, open ledgerFactory) {
	ctx := context.Background()
	clock := newTestClock()
	l := open(t, clock)

	first := whaleTrade("0xw1", "m1", "BUY", "Yes", 20000, 0.5, clock.Now())
	id1, err := l.RecordTrade(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, id1, first.ID)

	id2, err := l.RecordTrade(ctx, whaleTrade("0xw1", "m2", "SELL", "No", 30000, 0.5, clock.Now()))
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	w, err := l.GetWallet(ctx, "0xw1")
	require.NoError(t, err)
	assert.Equal(t, 2, w.TotalWhaleTrades)
	assert.InDelta(t, 25000.0, w.TotalWhaleVolume, 1e-9)
	assert.Equal(t, 0, w.Wins+w.Losses)

	trades, err := l.WalletTrades(ctx, "0xw1", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	for _, tr := range trades {
		assert.False(t, tr.Settled())
		assert.Nil(t, tr.PnL)
		assert.Nil(t, tr.ResolvedOutcome)
	}

	_, err = l.RecordTrade(ctx, whaleTrade("", "m1", "BUY", "Yes", 1, 1, clock.Now()))
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = l.RecordTrade(ctx, whaleTrade("0xw1", "m1", "HOLD", "Yes", 1, 1, clock.Now()))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func testRecordTradeAtomic(t *testing.T, open ledgerFactory) {
	ctx := context.Background()
	clock := newTestClock()
	l := open(t, clock)

	_, err := l.RecordTrade(ctx, whaleTrade("0xw1", "m1", "BUY", "Yes", 20000, 0.5, clock.Now()))
	require.NoError(t, err)

	injectTradeInsertFailure(t, l)

	_, err = l.RecordTrade(ctx, whaleTrade("0xw1", "m1", "BUY", "Yes", 40000, 0.5, clock.Now()))
	require.Error(t, err)
	_, err = l.RecordTrade(ctx, whaleTrade("0xnew", "m1", "BUY", "Yes", 40000, 0.5, clock.Now()))
	require.Error(t, err)

	w, err := l.GetWallet(ctx, "0xw1")
	require.NoError(t, err)
	assert.Equal(t, 1, w.TotalWhaleTrades, "counter must roll back with the failed insert")
	assert.InDelta(t, 10000.0, w.TotalWhaleVolume, 1e-9)

	_, err = l.GetWallet(ctx, "0xnew")
	assert.ErrorIs(t, err, ErrNotFound, "wallet creation must roll back too")

	s, err := l.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Trades)
}

// injectTradeInsertFailure makes every insert into trades fail after the
// wallet counters have been updated in the same transaction.
func injectTradeInsertFailure(t *testing.T, l *Ledger) {
	t.Helper()
	ctx := context.Background()

	if l.driver == DriverPostgres {
		_, err := l.db.ExecContext(ctx, `CREATE OR REPLACE FUNCTION fail_trade_insert() RETURNS trigger AS $$
			BEGIN RAISE EXCEPTION 'simulated failure'; END;
			$$ LANGUAGE plpgsql`)
		require.NoError(t, err)
		_, err = l.db.ExecContext(ctx, `CREATE TRIGGER fail_trade_insert BEFORE INSERT ON trades
			FOR EACH ROW EXECUTE FUNCTION fail_trade_insert()`)
		require.NoError(t, err)
		t.Cleanup(func() {
			l.db.ExecContext(context.Background(), `DROP TRIGGER IF EXISTS fail_trade_insert ON trades`)
		})
		return
	}

	_, err := l.db.ExecContext(ctx, `CREATE TRIGGER fail_trade_insert BEFORE INSERT ON trades
		BEGIN SELECT RAISE(ABORT, 'simulated failure'); END`)
	require.NoError(t, err)
}

func testResolveTradesIdempotent(t *testing.T, open ledgerFactory) {
	ctx := context.Background()
	clock := newTestClock()
	l := open(t, clock)

	_, err := l.RecordTrade(ctx, whaleTrade("0xw1", "m1", "BUY", "Yes", 10, 0.6, clock.Now()))
	require.NoError(t, err)
	_, err = l.RecordTrade(ctx, whaleTrade("0xw1", "m1", "BUY", "No", 10, 0.4, clock.Now()))
	require.NoError(t, err)
	_, err = l.RecordTrade(ctx, whaleTrade("0xw2", "m1", "SELL", "Yes", 5, 0.3, clock.Now()))
	require.NoError(t, err)
	_, err = l.RecordTrade(ctx, whaleTrade("0xw1", "m2", "BUY", "Yes", 10, 0.5, clock.Now()))
	require.NoError(t, err)

	n, err := l.ResolveTrades(ctx, "m1", "Yes")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	w1, err := l.GetWallet(ctx, "0xw1")
	require.NoError(t, err)
	assert.Equal(t, 1, w1.Wins)
	assert.Equal(t, 1, w1.Losses)
	assert.InDelta(t, 0.0, w1.RealizedPnL, 1e-9)

	w2, err := l.GetWallet(ctx, "0xw2")
	require.NoError(t, err)
	assert.Equal(t, 0, w2.Wins)
	assert.Equal(t, 1, w2.Losses)
	assert.InDelta(t, -3.50, w2.RealizedPnL, 1e-9)

	n, err = l.ResolveTrades(ctx, "m1", "Yes")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second settlement must find nothing")

	again, err := l.GetWallet(ctx, "0xw1")
	require.NoError(t, err)
	assert.Equal(t, w1.Wins, again.Wins)
	assert.Equal(t, w1.Losses, again.Losses)
	assert.Equal(t, w1.RealizedPnL, again.RealizedPnL)

	// realized_pnl equals the sum of settled trade pnl
	trades, err := l.WalletTrades(ctx, "0xw1", 10)
	require.NoError(t, err)
	var sum float64
	var settled int
	for _, tr := range trades {
		if tr.Settled() {
			settled++
			sum += *tr.PnL
			assert.Equal(t, "Yes", *tr.ResolvedOutcome)
		}
	}
	assert.Equal(t, 2, settled)
	assert.LessOrEqual(t, again.Wins+again.Losses, settled)
	assert.InDelta(t, sum, again.RealizedPnL, 1e-9)

	_, err = l.ResolveTrades(ctx, "m1", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func testListUnresolvedMarkets(t *testing.T, open ledgerFactory) {
	ctx := context.Background()
	clock := newTestClock()
	l := open(t, clock)

	markets, err := l.ListUnresolvedMarkets(ctx)
	require.NoError(t, err)
	assert.Empty(t, markets)

	base := clock.Now()
	_, err = l.RecordTrade(ctx, whaleTrade("0xw1", "m2", "BUY", "Yes", 10, 0.5, base.Add(time.Hour)))
	require.NoError(t, err)
	_, err = l.RecordTrade(ctx, whaleTrade("0xw2", "m1", "BUY", "Yes", 10, 0.5, base))
	require.NoError(t, err)
	_, err = l.RecordTrade(ctx, whaleTrade("0xw3", "m1", "SELL", "No", 10, 0.5, base.Add(2*time.Hour)))
	require.NoError(t, err)
	_, err = l.RecordTrade(ctx, whaleTrade("0xw1", "m3", "BUY", "Yes", 10, 0.5, base))
	require.NoError(t, err)
	_, err = l.ResolveTrades(ctx, "m3", "No")
	require.NoError(t, err)

	markets, err = l.ListUnresolvedMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "m1", markets[0].ConditionID)
	assert.Equal(t, 2, markets[0].OpenTrades)
	assert.Equal(t, "Market m1", markets[0].MarketTitle)
	assert.Equal(t, "m2", markets[1].ConditionID)
}

func testCleanupRetention(t *testing.T, open ledgerFactory) {
	ctx := context.Background()
	clock := newTestClock()
	l := open(t, clock)

	now := clock.Now()
	cutoff := now.Add(-30 * 24 * time.Hour)

	record := func(market string, at time.Time) {
		_, err := l.RecordTrade(ctx, whaleTrade("0xw1", market, "BUY", "Yes", 10, 0.5, at))
		require.NoError(t, err)
	}
	record("old-settled", cutoff.Add(-time.Millisecond))
	record("boundary-settled", cutoff)
	record("recent-settled", now.Add(-time.Hour))
	record("ancient-open", cutoff.Add(-365*24*time.Hour))

	for _, m := range []string{"old-settled", "boundary-settled", "recent-settled"} {
		_, err := l.ResolveTrades(ctx, m, "Yes")
		require.NoError(t, err)
	}

	preview, err := l.Cleanup(ctx, 30, true)
	require.NoError(t, err)
	assert.True(t, preview.DryRun)
	assert.Equal(t, 1, preview.Deleted)
	assert.Equal(t, 3, preview.Remaining)
	assert.Equal(t, cutoff, preview.Cutoff)

	s, err := l.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Trades, "dry run must not delete")

	report, err := l.Cleanup(ctx, 30, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 3, report.Remaining)
	assert.Equal(t, 1, report.Unresolved)
	assert.Equal(t, 1, report.Wallets)

	markets, err := l.ListUnresolvedMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "ancient-open", markets[0].ConditionID)

	trades, err := l.WalletTrades(ctx, "0xw1", 10)
	require.NoError(t, err)
	var kept []string
	for _, tr := range trades {
		kept = append(kept, tr.ConditionID)
	}
	assert.ElementsMatch(t, []string{"boundary-settled", "recent-settled", "ancient-open"}, kept)

	// wallet aggregates are untouched by pruning
	w, err := l.GetWallet(ctx, "0xw1")
	require.NoError(t, err)
	assert.Equal(t, 4, w.TotalWhaleTrades)
	assert.Equal(t, 3, w.Wins)

	_, err = l.Cleanup(ctx, -1, false)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func testQueries(t *testing.T, open ledgerFactory) {
	ctx := context.Background()
	clock := newTestClock()
	l := open(t, clock)

	_, err := l.RecordTrade(ctx, whaleTrade("0xwinner", "m1", "BUY", "Yes", 100000, 0.2, clock.Now()))
	require.NoError(t, err)
	_, err = l.RecordTrade(ctx, whaleTrade("0xloser", "m1", "BUY", "No", 200000, 0.8, clock.Now()))
	require.NoError(t, err)
	require.NoError(t, l.UpsertWallet(ctx, "0xlurker", nil))
	_, err = l.ResolveTrades(ctx, "m1", "Yes")
	require.NoError(t, err)

	top, err := l.TopWallets(ctx, OrderRealizedPnL, 10)
	require.NoError(t, err)
	require.Len(t, top, 2, "wallets without whale trades are not ranked")
	assert.Equal(t, "0xwinner", top[0].Address)
	assert.InDelta(t, 80000.0, top[0].RealizedPnL, 1e-6)
	require.NotNil(t, top[0].WinRate())
	assert.Equal(t, 100.0, *top[0].WinRate())

	top, err = l.TopWallets(ctx, OrderVolume, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "0xloser", top[0].Address)

	_, err = l.TopWallets(ctx, WalletOrder("address; DROP TABLE wallets"), 10)
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, l.SetWatchlist(ctx, "0xwinner", true, "sharp"))
	w, err := l.GetWallet(ctx, "0xwinner")
	require.NoError(t, err)
	assert.True(t, w.IsWatchlist)
	assert.Equal(t, "sharp", w.Notes)
	assert.ErrorIs(t, l.SetWatchlist(ctx, "0xnobody", true, ""), ErrNotFound)

	s, err := l.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Wallets: 3, Trades: 2, RealizedPnL: s.RealizedPnL}, s)
	assert.InDelta(t, 80000.0-160000.0, s.RealizedPnL, 1e-6)
}
