package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/polyinsider/whaleledger/internal/store"
)

// Embed colors.
const (
	ColorBuy  = 0x00FF00
	ColorSell = 0xFF0000
)

// DiscordTimeout bounds one webhook post.
const DiscordTimeout = 30 * time.Second

// DiscordSink posts alerts as webhook embeds.
type DiscordSink struct {
	url    string
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewDiscordSink creates a sink posting to webhookURL. A nil client gets
// DiscordTimeout.
func NewDiscordSink(webhookURL string, hc *http.Client, logger *slog.Logger) *DiscordSink {
	if hc == nil {
		hc = &http.Client{Timeout: DiscordTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordSink{
		url:    webhookURL,
		http:   hc,
		logger: logger.With("component", "discord"),
		now:    time.Now,
	}
}

type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func (s *DiscordSink) Name() string { return "discord" }

// Send posts one embed for the trade.
func (s *DiscordSink) Send(ctx context.Context, trade store.Trade, stats store.WalletStats) error {
	if err := s.post(ctx, webhookPayload{Embeds: []embed{s.buildEmbed(trade, stats)}}); err != nil {
		return err
	}
	s.logger.Debug("discord_alert_sent", "value_usd", trade.TradeValue)
	return nil
}

// SendTest posts a connectivity check message.
func (s *DiscordSink) SendTest(ctx context.Context) error {
	return s.post(ctx, webhookPayload{
		Content: "Polymarket whale ledger connected successfully!",
		Embeds: []embed{{
			Title:       "Test Alert",
			Description: "If you see this, the webhook is working correctly.",
			Color:       ColorBuy,
		}},
	})
}

func (s *DiscordSink) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

func (s *DiscordSink) buildEmbed(trade store.Trade, stats store.WalletStats) embed {
	color := ColorSell
	if trade.Side == store.SideBuy {
		color = ColorBuy
	}

	title := trade.MarketTitle
	if title == "" {
		title = "Unknown Market"
	}
	market := title
	if trade.EventSlug != "" {
		market = fmt.Sprintf("[%s](%s)", title, MarketURL(trade.EventSlug))
	}

	value := printer.Sprintf("$%.0f", trade.TradeValue)
	e := embed{
		Title: "Whale Trade: " + value,
		Color: color,
		Fields: []embedField{
			{Name: "Market", Value: market},
			{Name: "Trade", Value: TradeSummary(trade), Inline: true},
			{Name: "Value", Value: value, Inline: true},
			{Name: "Wallet", Value: "`" + ShortWallet(trade.WalletAddress) + "`", Inline: true},
		},
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}

	if len(stats.Flags) > 0 {
		e.Fields = append(e.Fields, embedField{Name: "Flags", Value: strings.Join(stats.Flags, "\n")})
	}
	if parts := StatsSummary(stats); len(parts) > 0 {
		e.Fields = append(e.Fields, embedField{Name: "Wallet Stats", Value: strings.Join(parts, " | ")})
	}
	return e
}

func (s *DiscordSink) post(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// MarketURL links to the market's event page.
func MarketURL(eventSlug string) string {
	return "https://polymarket.com/event/" + eventSlug
}
