package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/polyinsider/whaleledger/internal/ingest"
	"github.com/polyinsider/whaleledger/internal/resolve"
	"github.com/polyinsider/whaleledger/internal/store"
)

const (
	defaultTopLimit    = 20
	maxTopLimit        = 200
	walletTradesLimit  = 50
	healthCheckTimeout = 2 * time.Second
)

// Ledger is the read side of the store plus watchlist edits.
type Ledger interface {
	Ping(ctx context.Context) error
	Summary(ctx context.Context) (store.Summary, error)
	TopWallets(ctx context.Context, order store.WalletOrder, limit int) ([]store.Wallet, error)
	GetWallet(ctx context.Context, address string) (*store.Wallet, error)
	WalletTrades(ctx context.Context, address string, limit int) ([]store.Trade, error)
	ListUnresolvedMarkets(ctx context.Context) ([]store.UnresolvedMarket, error)
	SetWatchlist(ctx context.Context, address string, watch bool, notes string) error
}

// FeedStatus reports the stream counters.
type FeedStatus interface {
	Stats() ingest.Stats
}

// ReconcilerStatus reports the last settlement cycle.
type ReconcilerStatus interface {
	Last() resolve.Report
}

// Handler serves the admin API.
type Handler struct {
	ledger     Ledger
	feed       FeedStatus
	reconciler ReconcilerStatus
}

// NewHandler creates a handler. feed and reconciler may be nil.
func NewHandler(ledger Ledger, feed FeedStatus, reconciler ReconcilerStatus) *Handler {
	return &Handler{
		ledger:     ledger,
		feed:       feed,
		reconciler: reconciler,
	}
}

type walletJSON struct {
	Address          string    `json:"address"`
	FirstSeenAt      time.Time `json:"first_seen_at"`
	TotalWhaleTrades int       `json:"total_whale_trades"`
	TotalWhaleVolume float64   `json:"total_whale_volume"`
	Wins             int       `json:"wins"`
	Losses           int       `json:"losses"`
	RealizedPnL      float64   `json:"realized_pnl"`
	WinRate          *float64  `json:"win_rate"`

	LeaderboardRank   *int       `json:"leaderboard_rank"`
	LeaderboardPnL    *float64   `json:"leaderboard_pnl"`
	LeaderboardVolume *float64   `json:"leaderboard_volume"`
	APITradeCount     *int       `json:"api_trade_count"`
	LastAPIFetch      *time.Time `json:"last_api_fetch"`

	Notes       string `json:"notes,omitempty"`
	IsWatchlist bool   `json:"is_watchlist"`
}

func toWalletJSON(w store.Wallet) walletJSON {
	return walletJSON{
		Address:           w.Address,
		FirstSeenAt:       w.FirstSeenAt.UTC(),
		TotalWhaleTrades:  w.TotalWhaleTrades,
		TotalWhaleVolume:  w.TotalWhaleVolume,
		Wins:              w.Wins,
		Losses:            w.Losses,
		RealizedPnL:       w.RealizedPnL,
		WinRate:           w.WinRate(),
		LeaderboardRank:   w.LeaderboardRank,
		LeaderboardPnL:    w.LeaderboardPnL,
		LeaderboardVolume: w.LeaderboardVolume,
		APITradeCount:     w.APITradeCount,
		LastAPIFetch:      w.LastAPIFetch,
		Notes:             w.Notes,
		IsWatchlist:       w.IsWatchlist,
	}
}

type tradeJSON struct {
	ID              int64     `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	ConditionID     string    `json:"condition_id"`
	EventSlug       string    `json:"event_slug,omitempty"`
	MarketTitle     string    `json:"market_title"`
	Side            string    `json:"side"`
	Outcome         string    `json:"outcome"`
	Size            float64   `json:"size"`
	Price           float64   `json:"price"`
	TradeValue      float64   `json:"trade_value"`
	TxHash          string    `json:"tx_hash,omitempty"`
	ResolvedOutcome *string   `json:"resolved_outcome"`
	TradeWon        *bool     `json:"trade_won"`
	PnL             *float64  `json:"pnl"`
}

func toTradeJSON(t store.Trade) tradeJSON {
	return tradeJSON{
		ID:              t.ID,
		Timestamp:       t.Timestamp.UTC(),
		ConditionID:     t.ConditionID,
		EventSlug:       t.EventSlug,
		MarketTitle:     t.MarketTitle,
		Side:            string(t.Side),
		Outcome:         t.Outcome,
		Size:            t.Size,
		Price:           t.Price,
		TradeValue:      t.TradeValue,
		TxHash:          t.TxHash,
		ResolvedOutcome: t.ResolvedOutcome,
		TradeWon:        t.TradeWon,
		PnL:             t.PnL,
	}
}

// Health pings the ledger.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	body := gin.H{"status": "ok"}
	if h.feed != nil {
		body["feed"] = h.feed.Stats().State.String()
	}
	if err := h.ledger.Ping(ctx); err != nil {
		body["status"] = "unavailable"
		body["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// GetStats returns ledger totals with the feed and settlement counters.
func (h *Handler) GetStats(c *gin.Context) {
	summary, err := h.ledger.Summary(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	body := gin.H{
		"ledger": gin.H{
			"wallets":            summary.Wallets,
			"trades":             summary.Trades,
			"unresolved_trades":  summary.UnresolvedTrades,
			"unresolved_markets": summary.UnresolvedMarkets,
			"realized_pnl":       summary.RealizedPnL,
		},
	}
	if h.feed != nil {
		s := h.feed.Stats()
		feed := gin.H{
			"state":             s.State.String(),
			"connected":         s.Connected,
			"messages_received": s.MessagesReceived,
			"whales_detected":   s.WhalesDetected,
			"decode_failures":   s.DecodeFailures,
			"reconnects":        s.Reconnects,
		}
		if !s.LastDataTime.IsZero() {
			feed["last_data_time"] = s.LastDataTime.UTC()
		}
		body["feed"] = feed
	}
	if h.reconciler != nil {
		r := h.reconciler.Last()
		if !r.Started.IsZero() {
			body["settlement"] = gin.H{
				"last_run":         r.Started.UTC(),
				"duration_seconds": r.Duration.Seconds(),
				"checked":          r.Checked,
				"resolved":         r.Resolved,
				"settled":          r.Settled,
				"failed":           r.Failed,
			}
		}
	}
	c.JSON(http.StatusOK, body)
}

// GetTopWallets ranks wallets. Query: order, limit.
func (h *Handler) GetTopWallets(c *gin.Context) {
	order, err := store.ParseWalletOrder(c.Query("order"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	limit := defaultTopLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxTopLimit)
	}

	wallets, err := h.ledger.TopWallets(c.Request.Context(), order, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := make([]walletJSON, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, toWalletJSON(w))
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "wallets": out})
}

// GetWallet returns one wallet with its recent trades.
func (h *Handler) GetWallet(c *gin.Context) {
	address := strings.TrimSpace(c.Param("address"))

	w, err := h.ledger.GetWallet(c.Request.Context(), address)
	if err != nil {
		abortWithError(c, err)
		return
	}
	trades, err := h.ledger.WalletTrades(c.Request.Context(), address, walletTradesLimit)
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := make([]tradeJSON, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeJSON(t))
	}
	c.JSON(http.StatusOK, gin.H{"wallet": toWalletJSON(*w), "trades": out})
}

type watchlistRequest struct {
	Watch *bool  `json:"watch" binding:"required"`
	Notes string `json:"notes"`
}

// PutWatchlist flags or unflags a wallet.
func (h *Handler) PutWatchlist(c *gin.Context) {
	var req watchlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	address := strings.TrimSpace(c.Param("address"))
	if err := h.ledger.SetWatchlist(c.Request.Context(), address, *req.Watch, req.Notes); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetUnresolvedMarkets lists the reconciler's work queue.
func (h *Handler) GetUnresolvedMarkets(c *gin.Context) {
	markets, err := h.ledger.ListUnresolvedMarkets(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	type marketJSON struct {
		ConditionID string `json:"condition_id"`
		MarketTitle string `json:"market_title"`
		OpenTrades  int    `json:"open_trades"`
	}
	out := make([]marketJSON, 0, len(markets))
	for _, m := range markets {
		out = append(out, marketJSON{m.ConditionID, m.MarketTitle, m.OpenTrades})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "markets": out})
}

func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrInvalidInput):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
