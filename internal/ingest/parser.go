// Package ingest handles the real-time trade stream: connection upkeep,
// frame decoding and whale filtering.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/polyinsider/whaleledger/internal/polymarket"
	"github.com/polyinsider/whaleledger/internal/store"
)

// Topic and type of the trade activity stream.
const (
	ActivityTopic = "activity"
	TradesType    = "trades"
)

// ErrMalformed marks frames and trades that could not be decoded.
var ErrMalformed = errors.New("malformed")

// Frame is the envelope of every message pushed by the stream.
type Frame struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ActivityTrade is a trade as it appears on the activity topic.
type ActivityTrade struct {
	ProxyWallet     string            `json:"proxyWallet"`
	ConditionID     string            `json:"conditionId"`
	EventSlug       string            `json:"eventSlug"`
	Slug            string            `json:"slug"`
	Title           string            `json:"title"`
	Side            string            `json:"side"`
	Outcome         string            `json:"outcome"`
	Size            polymarket.Number `json:"size"`
	Price           polymarket.Number `json:"price"`
	TransactionHash string            `json:"transactionHash"`
	Timestamp       eventTime         `json:"timestamp"`
}

// SubscribeMessage is the control message sent after connecting.
type SubscribeMessage struct {
	Action        string         `json:"action"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// Subscription names one topic/type pair.
type Subscription struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
}

// NewTradesSubscription returns the subscription for the trade activity stream.
func NewTradesSubscription() SubscribeMessage {
	return SubscribeMessage{
		Action:        "subscribe",
		Subscriptions: []Subscription{{Topic: ActivityTopic, Type: TradesType}},
	}
}

// DecodeFrame returns the trades carried by a trade-topic frame. Frames for
// other topics and empty keepalives return no trades and no error. When a
// batch holds some invalid trades the valid ones are returned together with
// an error describing the rest.
func DecodeFrame(data []byte) ([]store.Trade, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w frame: %v", ErrMalformed, err)
	}
	if frame.Topic != ActivityTopic || frame.Type != TradesType {
		return nil, nil
	}

	raw, err := unwrapPayload(frame.Payload)
	if err != nil {
		return nil, err
	}

	trades := make([]store.Trade, 0, len(raw))
	var errs []error
	for i, r := range raw {
		var at ActivityTrade
		if err := json.Unmarshal(r, &at); err != nil {
			errs = append(errs, fmt.Errorf("%w trade %d: %v", ErrMalformed, i, err))
			continue
		}
		t, err := at.toTrade()
		if err != nil {
			errs = append(errs, fmt.Errorf("trade %d: %w", i, err))
			continue
		}
		trades = append(trades, t)
	}

	return trades, errors.Join(errs...)
}

// unwrapPayload splits a payload that is either one trade or an array.
func unwrapPayload(payload json.RawMessage) ([]json.RawMessage, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, fmt.Errorf("%w frame: trade frame without payload", ErrMalformed)
	}

	switch payload[0] {
	case '{':
		return []json.RawMessage{payload}, nil
	case '[':
		var batch []json.RawMessage
		if err := json.Unmarshal(payload, &batch); err != nil {
			return nil, fmt.Errorf("%w payload: %v", ErrMalformed, err)
		}
		return batch, nil
	default:
		return nil, fmt.Errorf("%w payload: unexpected %q", ErrMalformed, payload[0])
	}
}

// toTrade validates the record and converts it into a ledger trade.
func (a ActivityTrade) toTrade() (store.Trade, error) {
	if a.ProxyWallet == "" {
		return store.Trade{}, fmt.Errorf("%w: missing proxyWallet", ErrMalformed)
	}
	if a.ConditionID == "" {
		return store.Trade{}, fmt.Errorf("%w: missing conditionId", ErrMalformed)
	}
	side, err := store.ParseSide(a.Side)
	if err != nil {
		return store.Trade{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(a.Outcome) == "" {
		return store.Trade{}, fmt.Errorf("%w: missing outcome", ErrMalformed)
	}

	size, price := a.Size.Float64(), a.Price.Float64()
	if size <= 0 || price < 0 || price > 1 {
		return store.Trade{}, fmt.Errorf("%w: size %v price %v out of range", ErrMalformed, size, price)
	}

	ts := time.Time(a.Timestamp)
	if ts.IsZero() {
		ts = time.Now()
	}

	return store.Trade{
		Timestamp:     ts.UTC(),
		WalletAddress: a.ProxyWallet,
		ConditionID:   a.ConditionID,
		EventSlug:     coalesce(a.EventSlug, a.Slug),
		MarketTitle:   a.Title,
		Side:          side,
		Outcome:       strings.TrimSpace(a.Outcome),
		Size:          size,
		Price:         price,
		TradeValue:    size * price,
		TxHash:        a.TransactionHash,
	}, nil
}

// eventTime accepts unix seconds, unix milliseconds, numeric strings and
// RFC3339 strings.
type eventTime time.Time

func (e *eventTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	t, err := parseTimestamp(s)
	if err != nil {
		return err
	}
	*e = eventTime(t)
	return nil
}

// parseTimestamp tries unix seconds or milliseconds, then common formats.
func parseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}

	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if f > 1e12 {
			return time.UnixMilli(int64(f)), nil
		}
		return time.Unix(int64(f), 0), nil
	}

	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q: unrecognized format", v)
}

// coalesce returns the first non-empty string.
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
