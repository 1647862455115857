package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const walletColumns = `address, first_seen_at, total_whale_trades, total_whale_volume,
	wins, losses, realized_pnl, leaderboard_rank, leaderboard_pnl, leaderboard_volume,
	api_trade_count, last_api_fetch, notes, is_watchlist`

const tradeColumns = `id, traded_at, wallet_address, condition_id, event_slug, market_title,
	outcome, side, size, price, trade_value, tx_hash, resolved_outcome, trade_won, pnl`

type rowScanner interface {
	Scan(dest ...any) error
}

// UpsertWallet creates the wallet if it does not exist. When rep is non-nil
// the reputation columns are overwritten and the fetch time is stamped.
func (l *Ledger) UpsertWallet(ctx context.Context, address string, rep *ReputationUpdate) error {
	if address == "" {
		return fmt.Errorf("%w: empty wallet address", ErrInvalidInput)
	}
	now := toMillis(l.now())

	if rep == nil {
		_, err := l.db.ExecContext(ctx, l.q(`
			INSERT INTO wallets (address, first_seen_at) VALUES (?, ?)
			ON CONFLICT (address) DO NOTHING`), address, now)
		if err != nil {
			return fmt.Errorf("insert wallet %s: %w", address, err)
		}
		return nil
	}

	var rank, count sql.NullInt64
	var pnl, volume sql.NullFloat64
	if rep.TradeCount != nil {
		count = sql.NullInt64{Int64: int64(*rep.TradeCount), Valid: true}
	}
	if lb := rep.Leaderboard; lb != nil {
		if lb.Rank != nil {
			rank = sql.NullInt64{Int64: int64(*lb.Rank), Valid: true}
		}
		if lb.PnL != nil {
			pnl = sql.NullFloat64{Float64: *lb.PnL, Valid: true}
		}
		if lb.Volume != nil {
			volume = sql.NullFloat64{Float64: *lb.Volume, Valid: true}
		}
	}

	set := []string{
		"api_trade_count = excluded.api_trade_count",
		"last_api_fetch = excluded.last_api_fetch",
	}
	if rep.LeaderboardFetched {
		set = append(set,
			"leaderboard_rank = excluded.leaderboard_rank",
			"leaderboard_pnl = excluded.leaderboard_pnl",
			"leaderboard_volume = excluded.leaderboard_volume",
		)
	}

	query := `
		INSERT INTO wallets (address, first_seen_at, api_trade_count, last_api_fetch,
			leaderboard_rank, leaderboard_pnl, leaderboard_volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET ` + strings.Join(set, ", ")

	_, err := l.db.ExecContext(ctx, l.q(query), address, now, count, now, rank, pnl, volume)
	if err != nil {
		return fmt.Errorf("upsert wallet %s: %w", address, err)
	}
	return nil
}

// GetWallet returns the wallet row or ErrNotFound.
func (l *Ledger) GetWallet(ctx context.Context, address string) (*Wallet, error) {
	row := l.db.QueryRowContext(ctx, l.q(`SELECT `+walletColumns+` FROM wallets WHERE address = ?`), address)
	w, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("wallet %s: %w", address, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", address, err)
	}
	return w, nil
}

// RecordTrade bumps the wallet's whale counters and inserts the trade in one
// transaction. It returns the new trade id.
func (l *Ledger) RecordTrade(ctx context.Context, t *Trade) (int64, error) {
	if err := validateTrade(t); err != nil {
		return 0, err
	}

	var id int64
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, l.q(`
			INSERT INTO wallets (address, first_seen_at, total_whale_trades, total_whale_volume)
			VALUES (?, ?, 1, ?)
			ON CONFLICT (address) DO UPDATE SET
				total_whale_trades = wallets.total_whale_trades + 1,
				total_whale_volume = wallets.total_whale_volume + excluded.total_whale_volume`),
			t.WalletAddress, toMillis(l.now()), t.TradeValue)
		if err != nil {
			return fmt.Errorf("update wallet counters: %w", err)
		}

		err = tx.QueryRowContext(ctx, l.q(`
			INSERT INTO trades (traded_at, wallet_address, condition_id, event_slug, market_title,
				outcome, side, size, price, trade_value, tx_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`),
			toMillis(t.Timestamp), t.WalletAddress, t.ConditionID, t.EventSlug, t.MarketTitle,
			t.Outcome, string(t.Side), t.Size, t.Price, t.TradeValue, t.TxHash,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record trade for %s: %w", t.WalletAddress, err)
	}

	t.ID = id
	return id, nil
}

func validateTrade(t *Trade) error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: nil trade", ErrInvalidInput)
	case t.WalletAddress == "":
		return fmt.Errorf("%w: trade without wallet", ErrInvalidInput)
	case t.ConditionID == "":
		return fmt.Errorf("%w: trade without condition id", ErrInvalidInput)
	case t.Side != SideBuy && t.Side != SideSell:
		return fmt.Errorf("%w: trade side %q", ErrInvalidInput, t.Side)
	}
	return nil
}

// ListUnresolvedMarkets returns the markets that still have unsettled trades,
// oldest first.
func (l *Ledger) ListUnresolvedMarkets(ctx context.Context) ([]UnresolvedMarket, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT condition_id, MAX(market_title), COUNT(*)
		FROM trades
		WHERE trade_won IS NULL AND condition_id <> ''
		GROUP BY condition_id
		ORDER BY MIN(traded_at), condition_id`)
	if err != nil {
		return nil, fmt.Errorf("list unresolved markets: %w", err)
	}
	defer rows.Close()

	var markets []UnresolvedMarket
	for rows.Next() {
		var m UnresolvedMarket
		if err := rows.Scan(&m.ConditionID, &m.MarketTitle, &m.OpenTrades); err != nil {
			return nil, fmt.Errorf("scan unresolved market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

type openPosition struct {
	id      int64
	wallet  string
	side    string
	outcome string
	size    float64
	price   float64
}

// ResolveTrades settles every unsettled trade on the market and folds the
// results into the owning wallets. It returns the number of trades settled;
// a market with nothing left open returns 0.
func (l *Ledger) ResolveTrades(ctx context.Context, conditionID, resolvedOutcome string) (int, error) {
	if conditionID == "" || strings.TrimSpace(resolvedOutcome) == "" {
		return 0, fmt.Errorf("%w: condition id and outcome are required", ErrInvalidInput)
	}

	var settled int
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		settled = 0

		query := `SELECT id, wallet_address, side, outcome, size, price
			FROM trades WHERE condition_id = ? AND trade_won IS NULL ORDER BY id`
		if l.driver == DriverPostgres {
			query += ` FOR UPDATE`
		}

		positions, err := l.openPositions(ctx, tx, l.q(query), conditionID)
		if err != nil {
			return err
		}

		for _, p := range positions {
			side, err := ParseSide(p.side)
			if err != nil {
				l.logger.Warn("trade_unsettleable", "trade_id", p.id, "error", err)
				continue
			}
			s := Settle(side, p.outcome, resolvedOutcome, p.size, p.price)

			res, err := tx.ExecContext(ctx, l.q(`
				UPDATE trades SET resolved_outcome = ?, trade_won = ?, pnl = ?
				WHERE id = ? AND trade_won IS NULL`),
				resolvedOutcome, s.Won, s.PnL, p.id)
			if err != nil {
				return fmt.Errorf("settle trade %d: %w", p.id, err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return fmt.Errorf("settle trade %d: %w", p.id, err)
			} else if n == 0 {
				continue
			}

			wins, losses := 0, 1
			if s.Won {
				wins, losses = 1, 0
			}
			_, err = tx.ExecContext(ctx, l.q(`
				UPDATE wallets SET
					wins = wins + ?,
					losses = losses + ?,
					realized_pnl = realized_pnl + ?
				WHERE address = ?`),
				wins, losses, s.PnL, p.wallet)
			if err != nil {
				return fmt.Errorf("update wallet %s aggregates: %w", p.wallet, err)
			}
			settled++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("resolve market %s: %w", conditionID, err)
	}
	return settled, nil
}

func (l *Ledger) openPositions(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]openPosition, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select open trades: %w", err)
	}
	defer rows.Close()

	var out []openPosition
	for rows.Next() {
		var p openPosition
		if err := rows.Scan(&p.id, &p.wallet, &p.side, &p.outcome, &p.size, &p.price); err != nil {
			return nil, fmt.Errorf("scan open trade: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Cleanup deletes settled trades older than the retention window and then
// reclaims storage. Unsettled trades are kept regardless of age. With dryRun
// set nothing is deleted and the report shows what would be.
func (l *Ledger) Cleanup(ctx context.Context, retentionDays int, dryRun bool) (*CleanupReport, error) {
	if retentionDays < 0 {
		return nil, fmt.Errorf("%w: negative retention %d", ErrInvalidInput, retentionDays)
	}

	cutoff := l.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	report := &CleanupReport{
		RetentionDays: retentionDays,
		Cutoff:        cutoff.UTC(),
		DryRun:        dryRun,
	}

	const expired = `FROM trades WHERE trade_won IS NOT NULL AND traded_at < ?`

	if dryRun {
		if err := l.db.QueryRowContext(ctx, l.q(`SELECT COUNT(*) `+expired), toMillis(cutoff)).Scan(&report.Deleted); err != nil {
			return nil, fmt.Errorf("count expired trades: %w", err)
		}
	} else {
		err := l.withTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, l.q(`DELETE `+expired), toMillis(cutoff))
			if err != nil {
				return fmt.Errorf("delete expired trades: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			report.Deleted = int(n)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("cleanup: %w", err)
		}

		if report.Deleted > 0 {
			if _, err := l.db.ExecContext(ctx, `VACUUM`); err != nil {
				l.logger.Warn("ledger_vacuum_failed", "error", err)
			}
		}
	}

	var total int
	err := l.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM trades),
			(SELECT COUNT(*) FROM trades WHERE trade_won IS NULL),
			(SELECT COUNT(*) FROM wallets)`,
	).Scan(&total, &report.Unresolved, &report.Wallets)
	if err != nil {
		return nil, fmt.Errorf("count ledger rows: %w", err)
	}

	report.Remaining = total
	if dryRun {
		report.Remaining = total - report.Deleted
	}

	l.logger.Info("ledger_cleanup",
		"retention_days", retentionDays,
		"cutoff", report.Cutoff.Format(time.RFC3339),
		"dry_run", dryRun,
		"deleted", report.Deleted,
		"remaining", report.Remaining,
		"unresolved", report.Unresolved,
	)
	return report, nil
}

// TopWallets returns wallets with at least one whale trade ranked by order.
func (l *Ledger) TopWallets(ctx context.Context, order WalletOrder, limit int) ([]Wallet, error) {
	order, err := ParseWalletOrder(string(order))
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := l.db.QueryContext(ctx, l.q(`SELECT `+walletColumns+` FROM wallets
		WHERE total_whale_trades > 0
		ORDER BY `+string(order)+` DESC, address
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("top wallets: %w", err)
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, *w)
	}
	return wallets, rows.Err()
}

// WalletTrades returns the wallet's most recent trades.
func (l *Ledger) WalletTrades(ctx context.Context, address string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, l.q(`SELECT `+tradeColumns+` FROM trades
		WHERE wallet_address = ?
		ORDER BY traded_at DESC, id DESC
		LIMIT ?`), address, limit)
	if err != nil {
		return nil, fmt.Errorf("wallet trades %s: %w", address, err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

// SetWatchlist flags or unflags a wallet and replaces its notes.
func (l *Ledger) SetWatchlist(ctx context.Context, address string, watch bool, notes string) error {
	res, err := l.db.ExecContext(ctx, l.q(`UPDATE wallets SET is_watchlist = ?, notes = ? WHERE address = ?`),
		watch, notes, address)
	if err != nil {
		return fmt.Errorf("set watchlist %s: %w", address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set watchlist %s: %w", address, err)
	}
	if n == 0 {
		return fmt.Errorf("wallet %s: %w", address, ErrNotFound)
	}
	return nil
}

// Summary returns ledger-wide counts.
func (l *Ledger) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	err := l.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM wallets),
			(SELECT COUNT(*) FROM trades),
			(SELECT COUNT(*) FROM trades WHERE trade_won IS NULL),
			(SELECT COUNT(DISTINCT condition_id) FROM trades WHERE trade_won IS NULL),
			(SELECT COALESCE(SUM(realized_pnl), 0) FROM wallets)`,
	).Scan(&s.Wallets, &s.Trades, &s.UnresolvedTrades, &s.UnresolvedMarkets, &s.RealizedPnL)
	if err != nil {
		return Summary{}, fmt.Errorf("ledger summary: %w", err)
	}
	return s, nil
}

func scanWallet(row rowScanner) (*Wallet, error) {
	var (
		w                    Wallet
		firstSeen            int64
		rank, count, fetched sql.NullInt64
		lbPnL, lbVolume      sql.NullFloat64
	)
	err := row.Scan(&w.Address, &firstSeen, &w.TotalWhaleTrades, &w.TotalWhaleVolume,
		&w.Wins, &w.Losses, &w.RealizedPnL, &rank, &lbPnL, &lbVolume,
		&count, &fetched, &w.Notes, &w.IsWatchlist)
	if err != nil {
		return nil, err
	}

	w.FirstSeenAt = fromMillis(firstSeen)
	if rank.Valid {
		v := int(rank.Int64)
		w.LeaderboardRank = &v
	}
	if lbPnL.Valid {
		w.LeaderboardPnL = &lbPnL.Float64
	}
	if lbVolume.Valid {
		w.LeaderboardVolume = &lbVolume.Float64
	}
	if count.Valid {
		v := int(count.Int64)
		w.APITradeCount = &v
	}
	if fetched.Valid {
		t := fromMillis(fetched.Int64)
		w.LastAPIFetch = &t
	}
	return &w, nil
}

func scanTrade(row rowScanner) (*Trade, error) {
	var (
		t        Trade
		ts       int64
		side     string
		resolved sql.NullString
		won      sql.NullBool
		pnl      sql.NullFloat64
	)
	err := row.Scan(&t.ID, &ts, &t.WalletAddress, &t.ConditionID, &t.EventSlug, &t.MarketTitle,
		&t.Outcome, &side, &t.Size, &t.Price, &t.TradeValue, &t.TxHash, &resolved, &won, &pnl)
	if err != nil {
		return nil, err
	}

	t.Timestamp = fromMillis(ts)
	t.Side = Side(side)
	if resolved.Valid {
		t.ResolvedOutcome = &resolved.String
	}
	if won.Valid {
		t.TradeWon = &won.Bool
	}
	if pnl.Valid {
		t.PnL = &pnl.Float64
	}
	return &t, nil
}
