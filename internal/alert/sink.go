// Package alert delivers whale trades, with the merged wallet stats, to
// notification sinks. Sink failures never affect the ledger.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/polyinsider/whaleledger/internal/metrics"
	"github.com/polyinsider/whaleledger/internal/polymarket"
	"github.com/polyinsider/whaleledger/internal/store"
)

// Sink receives one alert per whale trade.
type Sink interface {
	Name() string
	Send(ctx context.Context, trade store.Trade, stats store.WalletStats) error
	Close() error
}

var printer = message.NewPrinter(language.English)

// Multi fans an alert out to every sink. One sink failing does not stop the
// others; their errors are joined.
type Multi struct {
	sinks   []Sink
	metrics *metrics.Metrics
}

// NewMulti combines sinks. Nil sinks are skipped.
func NewMulti(m *metrics.Metrics, sinks ...Sink) *Multi {
	multi := &Multi{metrics: metrics.OrNew(m)}
	for _, s := range sinks {
		if s != nil {
			multi.sinks = append(multi.sinks, s)
		}
	}
	return multi
}

// Name lists the combined sinks.
func (m *Multi) Name() string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name()
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

// Len returns the number of sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Send delivers to every sink.
func (m *Multi) Send(ctx context.Context, trade store.Trade, stats store.WalletStats) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Send(ctx, trade, stats); err != nil {
			m.metrics.AlertsSent.WithLabelValues(s.Name(), "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		m.metrics.AlertsSent.WithLabelValues(s.Name(), "ok").Inc()
	}
	return errors.Join(errs...)
}

// Close closes every sink in order.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogSink writes alerts to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "alert")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, trade store.Trade, stats store.WalletStats) error {
	s.logger.Info("whale_alert",
		"wallet", trade.WalletAddress,
		"market", trade.MarketTitle,
		"trade", TradeSummary(trade),
		"value_usd", trade.TradeValue,
		"flags", strings.Join(stats.Flags, "; "),
		"stats", strings.Join(StatsSummary(stats), " | "),
	)
	return nil
}

func (s *LogSink) Close() error { return nil }

// TradeSummary renders a trade as "BUY 20,000 Yes @ $0.55".
func TradeSummary(t store.Trade) string {
	return printer.Sprintf("%s %.0f %s @ $%.2f", t.Side, t.Size, t.Outcome, t.Price)
}

// StatsSummary renders the wallet stats worth showing next to an alert.
// Unknown and zero values are left out.
func StatsSummary(stats store.WalletStats) []string {
	var parts []string

	if v := stats.LeaderboardVolume; v != nil && *v != 0 {
		parts = append(parts, printer.Sprintf("Volume: $%.0f", *v))
	}
	if r := stats.LeaderboardRank; r != nil && *r > 0 {
		parts = append(parts, printer.Sprintf("Rank: #%d", *r))
	}
	if n := stats.APITradeCount; n != nil && *n > 0 {
		// the history lookup is capped, so the cap means "at least"
		if *n >= polymarket.TradeHistoryLimit {
			parts = append(parts, printer.Sprintf("API Trades: %d+", polymarket.TradeHistoryLimit))
		} else {
			parts = append(parts, printer.Sprintf("API Trades: %d", *n))
		}
	}
	if pnl := stats.RealizedPnL; pnl != 0 {
		sign := "+"
		if pnl < 0 {
			sign, pnl = "-", -pnl
		}
		parts = append(parts, printer.Sprintf("Tracked P&L: $%s%.0f", sign, pnl))
	}
	return parts
}

// ShortWallet abbreviates long addresses for display.
func ShortWallet(addr string) string {
	if len(addr) > 14 {
		return addr[:8] + "..." + addr[len(addr)-6:]
	}
	return addr
}
