package polymarket

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

// Market is the subset of a Gamma market record used for settlement.
type Market struct {
	ID              string     `json:"id"`
	ConditionID     string     `json:"conditionId"`
	Question        string     `json:"question"`
	Slug            string     `json:"slug"`
	Active          bool       `json:"active"`
	Closed          bool       `json:"closed"`
	Resolved        bool       `json:"resolved"`
	Outcome         string     `json:"outcome"`
	Outcomes        StringList `json:"outcomes"`
	OutcomePrices   StringList `json:"outcomePrices"`
	ResolvedOutcome string     `json:"resolvedOutcome"`
}

// Prices parses OutcomePrices. ok[i] is false where the entry is not a number.
func (m *Market) Prices() ([]float64, []bool) {
	prices := make([]float64, len(m.OutcomePrices))
	ok := make([]bool, len(m.OutcomePrices))
	for i, p := range m.OutcomePrices {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			continue
		}
		prices[i], ok[i] = f, true
	}
	return prices, ok
}

// GammaClient reads market metadata from the Gamma API.
type GammaClient struct {
	client
}

// NewGammaClient creates a Gamma API client. An empty baseURL uses the public
// endpoint.
func NewGammaClient(baseURL string, opts ...Option) *GammaClient {
	if baseURL == "" {
		baseURL = GammaAPIBaseURL
	}
	return &GammaClient{client: newClient(strings.TrimSuffix(baseURL, "/"), opts)}
}

// Market returns the market with the given condition id. Only a record
// carrying that condition id is accepted; anything else is ErrNotFound.
func (c *GammaClient) Market(ctx context.Context, conditionID string) (*Market, error) {
	q := url.Values{}
	q.Set("condition_ids", conditionID)

	var markets []Market
	if err := c.getJSON(ctx, "/markets", q, &markets); err != nil {
		return nil, err
	}
	if len(markets) == 0 {
		return nil, ErrNotFound
	}

	for i := range markets {
		if strings.EqualFold(markets[i].ConditionID, conditionID) {
			return &markets[i], nil
		}
	}
	return nil, ErrNotFound
}
