// Package store provides the whale ledger: data models, the settlement formula
// and the SQL-backed persistence of wallets and trades.
package store

import (
	"fmt"
	"strings"
	"time"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes a side string from the feed or the database.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: unknown side %q", ErrInvalidInput, s)
	}
}

// Trade is a single whale trade as recorded in the ledger.
type Trade struct {
	// ID is the ledger's surrogate key; zero until recorded.
	ID int64

	// Timestamp is when the trade executed on the venue.
	Timestamp time.Time

	WalletAddress string

	// ConditionID identifies the market across its lifetime.
	ConditionID string
	EventSlug   string
	MarketTitle string

	Side Side

	// Outcome is the outcome label bought or sold (usually "Yes" or "No").
	Outcome string

	Size  float64
	Price float64

	// TradeValue is Size * Price in USD.
	TradeValue float64

	TxHash string

	// Settlement fields, nil until the market resolves.
	ResolvedOutcome *string
	TradeWon        *bool
	PnL             *float64
}

// Settled reports whether the trade has been reconciled against a resolution.
func (t Trade) Settled() bool {
	return t.TradeWon != nil
}

// Wallet is the ledger row for a trading address.
type Wallet struct {
	Address     string
	FirstSeenAt time.Time

	TotalWhaleTrades int
	TotalWhaleVolume float64

	Wins        int
	Losses      int
	RealizedPnL float64

	Reputation

	Notes       string
	IsWatchlist bool
}

// WinRate returns the settled win percentage, or nil when nothing has settled.
func (w Wallet) WinRate() *float64 {
	settled := w.Wins + w.Losses
	if settled == 0 {
		return nil
	}
	rate := float64(w.Wins) * 100 / float64(settled)
	return &rate
}

// Reputation is the cached external snapshot of a wallet.
// Nil fields are unknown.
type Reputation struct {
	LeaderboardRank   *int
	LeaderboardPnL    *float64
	LeaderboardVolume *float64
	APITradeCount     *int
	LastAPIFetch      *time.Time
}

// Fresh reports whether the snapshot was fetched less than ttl ago.
func (r Reputation) Fresh(now time.Time, ttl time.Duration) bool {
	return r.LastAPIFetch != nil && now.Sub(*r.LastAPIFetch) < ttl
}

// LeaderboardEntry is a wallet's standing on the public leaderboard.
type LeaderboardEntry struct {
	Rank   *int
	PnL    *float64
	Volume *float64
}

// ReputationUpdate is the result of a refresh, written by UpsertWallet.
type ReputationUpdate struct {
	// TradeCount nil means the lookup failed and the count is unknown.
	TradeCount *int

	// LeaderboardFetched false leaves the stored leaderboard columns alone.
	LeaderboardFetched bool

	// Leaderboard nil with LeaderboardFetched set means the wallet is unranked.
	Leaderboard *LeaderboardEntry
}

// WalletStats is the merged view handed to alert sinks: the ledger row with
// its reputation snapshot and the labels raised for the trade.
type WalletStats struct {
	Wallet

	Flags []string
}

// UnresolvedMarket is one entry of the reconciler's work queue.
type UnresolvedMarket struct {
	ConditionID string
	MarketTitle string
	OpenTrades  int
}

// WalletOrder selects the ranking used by TopWallets.
type WalletOrder string

const (
	OrderRealizedPnL WalletOrder = "realized_pnl"
	OrderVolume      WalletOrder = "total_whale_volume"
	OrderTrades      WalletOrder = "total_whale_trades"
	OrderWins        WalletOrder = "wins"
)

// ParseWalletOrder validates an order name coming from an API caller.
func ParseWalletOrder(s string) (WalletOrder, error) {
	switch o := WalletOrder(s); o {
	case OrderRealizedPnL, OrderVolume, OrderTrades, OrderWins:
		return o, nil
	case "":
		return OrderRealizedPnL, nil
	default:
		return "", fmt.Errorf("%w: unknown order %q", ErrInvalidInput, s)
	}
}

// Summary aggregates ledger-wide counts.
type Summary struct {
	Wallets           int
	Trades            int
	UnresolvedTrades  int
	UnresolvedMarkets int
	RealizedPnL       float64
}

// CleanupReport describes the outcome of a retention pass.
type CleanupReport struct {
	RetentionDays int
	Cutoff        time.Time
	DryRun        bool

	// Deleted is the number of settled trades removed, or that would be in a dry run.
	Deleted    int
	Remaining  int
	Unresolved int
	Wallets    int
}
