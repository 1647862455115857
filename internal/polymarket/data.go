package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/polyinsider/whaleledger/internal/store"
)

// TradeHistoryLimit bounds the trade-history lookup; a wallet with this many
// trades is simply "established".
const TradeHistoryLimit = 100

// DataClient reads wallet reputation from the Polymarket data API.
type DataClient struct {
	client
}

// NewDataClient creates a data API client. An empty baseURL uses the public
// endpoint.
func NewDataClient(baseURL string, opts ...Option) *DataClient {
	if baseURL == "" {
		baseURL = DataAPIBaseURL
	}
	return &DataClient{client: newClient(strings.TrimSuffix(baseURL, "/"), opts)}
}

// TradeCount returns how many recent trades the wallet has, up to
// TradeHistoryLimit.
func (c *DataClient) TradeCount(ctx context.Context, wallet string) (int, error) {
	q := url.Values{}
	q.Set("user", wallet)
	q.Set("limit", strconv.Itoa(TradeHistoryLimit))

	var trades []json.RawMessage
	if err := c.getJSON(ctx, "/trades", q, &trades); err != nil {
		return 0, err
	}
	return len(trades), nil
}

type leaderboardRow struct {
	Rank        *Number `json:"rank"`
	ProxyWallet string  `json:"proxyWallet"`
	UserName    string  `json:"userName"`
	Volume      *Number `json:"vol"`
	PnL         *Number `json:"pnl"`
}

// Leaderboard returns the wallet's leaderboard standing, or nil when the
// wallet is not ranked.
func (c *DataClient) Leaderboard(ctx context.Context, wallet string) (*store.LeaderboardEntry, error) {
	q := url.Values{}
	q.Set("user", wallet)

	var rows []leaderboardRow
	if err := c.getJSON(ctx, "/v1/leaderboard", q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row := rows[0]
	entry := &store.LeaderboardEntry{}
	if row.Rank != nil && *row.Rank > 0 {
		rank := int(*row.Rank)
		entry.Rank = &rank
	}
	if row.PnL != nil {
		pnl := row.PnL.Float64()
		entry.PnL = &pnl
	}
	if row.Volume != nil {
		vol := row.Volume.Float64()
		entry.Volume = &vol
	}
	return entry, nil
}

// String identifies the client in logs.
func (c *DataClient) String() string {
	return fmt.Sprintf("data-api(%s)", c.baseURL)
}
