package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/polyinsider/whaleledger/internal/store"
)

// KafkaWriteTimeout bounds one publish.
const KafkaWriteTimeout = 5 * time.Second

// MessageWriter is the subset of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes alerts as JSON events keyed by wallet address.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaWriter returns a writer for topic on brokers, tuned for a trickle of
// small messages.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaSink wraps a writer. Closing the sink closes the writer.
func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

// Event is the JSON document published for each whale trade.
type Event struct {
	TradeID       int64     `json:"trade_id"`
	Timestamp     time.Time `json:"timestamp"`
	WalletAddress string    `json:"wallet_address"`
	ConditionID   string    `json:"condition_id"`
	EventSlug     string    `json:"event_slug,omitempty"`
	MarketTitle   string    `json:"market_title"`
	MarketURL     string    `json:"market_url,omitempty"`
	Side          string    `json:"side"`
	Outcome       string    `json:"outcome"`
	Size          float64   `json:"size"`
	Price         float64   `json:"price"`
	TradeValue    float64   `json:"trade_value"`
	TxHash        string    `json:"tx_hash,omitempty"`

	Wallet WalletEvent `json:"wallet"`
	Flags  []string    `json:"flags,omitempty"`
}

// WalletEvent carries the merged wallet stats. Unknown values are null.
type WalletEvent struct {
	TotalWhaleTrades  int        `json:"total_whale_trades"`
	TotalWhaleVolume  float64    `json:"total_whale_volume"`
	Wins              int        `json:"wins"`
	Losses            int        `json:"losses"`
	RealizedPnL       float64    `json:"realized_pnl"`
	WinRate           *float64   `json:"win_rate"`
	LeaderboardRank   *int       `json:"leaderboard_rank"`
	LeaderboardPnL    *float64   `json:"leaderboard_pnl"`
	LeaderboardVolume *float64   `json:"leaderboard_volume"`
	APITradeCount     *int       `json:"api_trade_count"`
	LastAPIFetch      *time.Time `json:"last_api_fetch"`
}

// NewEvent builds the published document.
func NewEvent(trade store.Trade, stats store.WalletStats) Event {
	ev := Event{
		TradeID:       trade.ID,
		Timestamp:     trade.Timestamp.UTC(),
		WalletAddress: trade.WalletAddress,
		ConditionID:   trade.ConditionID,
		EventSlug:     trade.EventSlug,
		MarketTitle:   trade.MarketTitle,
		Side:          string(trade.Side),
		Outcome:       trade.Outcome,
		Size:          trade.Size,
		Price:         trade.Price,
		TradeValue:    trade.TradeValue,
		TxHash:        trade.TxHash,
		Wallet: WalletEvent{
			TotalWhaleTrades:  stats.TotalWhaleTrades,
			TotalWhaleVolume:  stats.TotalWhaleVolume,
			Wins:              stats.Wins,
			Losses:            stats.Losses,
			RealizedPnL:       stats.RealizedPnL,
			WinRate:           stats.WinRate(),
			LeaderboardRank:   stats.LeaderboardRank,
			LeaderboardPnL:    stats.LeaderboardPnL,
			LeaderboardVolume: stats.LeaderboardVolume,
			APITradeCount:     stats.APITradeCount,
			LastAPIFetch:      stats.LastAPIFetch,
		},
		Flags: stats.Flags,
	}
	if trade.EventSlug != "" {
		ev.MarketURL = MarketURL(trade.EventSlug)
	}
	return ev
}

func (s *KafkaSink) Name() string { return "kafka" }

// Send publishes one event.
func (s *KafkaSink) Send(ctx context.Context, trade store.Trade, stats store.WalletStats) error {
	data, err := json.Marshal(NewEvent(trade, stats))
	if err != nil {
		return fmt.Errorf("serialize event failed: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, KafkaWriteTimeout)
	defer cancel()

	err = s.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(trade.WalletAddress),
		Value: data,
		Time:  trade.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
