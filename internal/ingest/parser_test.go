package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/polyinsider/whaleledger/internal/store"
)

func TestDecodeFrameSingleTrade(t *testing.T) {
	frame := `{"topic":"activity","type":"trades","payload":{
		"proxyWallet":"0xabc","conditionId":"0xc1","eventSlug":"will-it-rain",
		"title":"Will it rain?","side":"buy","outcome":"Yes",
		"size":"25000","price":0.42,"transactionHash":"0xtx","timestamp":1735689600}}`

	trades, err := DecodeFrame([]byte(frame))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}

	tr := trades[0]
	if tr.WalletAddress != "0xabc" || tr.ConditionID != "0xc1" || tr.EventSlug != "will-it-rain" {
		t.Errorf("unexpected identity fields: %+v", tr)
	}
	if tr.Side != store.SideBuy {
		t.Errorf("Side = %q, want BUY", tr.Side)
	}
	if tr.Size != 25000 || tr.Price != 0.42 {
		t.Errorf("size/price = %v/%v", tr.Size, tr.Price)
	}
	if tr.TradeValue != 25000*0.42 {
		t.Errorf("TradeValue = %v, want %v", tr.TradeValue, 25000*0.42)
	}
	if want := time.Unix(1735689600, 0).UTC(); !tr.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", tr.Timestamp, want)
	}
}

func TestDecodeFrameBatchWithInvalidTrade(t *testing.T) {
	frame := `{"topic":"activity","type":"trades","payload":[
		{"proxyWallet":"0x1","conditionId":"c","side":"SELL","outcome":"No","size":10,"price":"0.3","timestamp":1735689600123},
		{"conditionId":"c","side":"SELL","outcome":"No","size":10,"price":0.3},
		{"proxyWallet":"0x3","conditionId":"c","side":"SELL","outcome":"No","size":"ten","price":0.3}
	]}`

	trades, err := DecodeFrame([]byte(frame))
	if err == nil {
		t.Fatal("expected an error for the invalid trades")
	}
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("error should wrap ErrMalformed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected the valid trade to survive, got %d", len(trades))
	}
	if want := time.UnixMilli(1735689600123).UTC(); !trades[0].Timestamp.Equal(want) {
		t.Errorf("millisecond timestamp = %v, want %v", trades[0].Timestamp, want)
	}
}

func TestDecodeFrameIgnoresOtherTopics(t *testing.T) {
	for _, frame := range []string{
		`{"topic":"comments","type":"comment_created","payload":{}}`,
		`{"topic":"activity","type":"orders_matched","payload":{}}`,
		``,
		`   `,
	} {
		trades, err := DecodeFrame([]byte(frame))
		if err != nil || len(trades) != 0 {
			t.Errorf("DecodeFrame(%q) = %v, %v; want nothing", frame, trades, err)
		}
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	for _, frame := range []string{
		`not json`,
		`{"topic":"activity","type":"trades"}`,
		`{"topic":"activity","type":"trades","payload":"oops"}`,
		`{"topic":"activity","type":"trades","payload":[1,2}`,
	} {
		trades, err := DecodeFrame([]byte(frame))
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("DecodeFrame(%q) error = %v, want ErrMalformed", frame, err)
		}
		if len(trades) != 0 {
			t.Errorf("DecodeFrame(%q) returned trades", frame)
		}
	}
}

func TestToTradeValidation(t *testing.T) {
	valid := ActivityTrade{ProxyWallet: "0x1", ConditionID: "c", Side: "BUY", Outcome: "Yes", Size: 1, Price: 0.5}

	tests := []struct {
		name   string
		mutate func(*ActivityTrade)
	}{
		{"missing wallet", func(a *ActivityTrade) { a.ProxyWallet = "" }},
		{"missing market", func(a *ActivityTrade) { a.ConditionID = "" }},
		{"bad side", func(a *ActivityTrade) { a.Side = "HOLD" }},
		{"missing outcome", func(a *ActivityTrade) { a.Outcome = " " }},
		{"zero size", func(a *ActivityTrade) { a.Size = 0 }},
		{"price above one", func(a *ActivityTrade) { a.Price = 1.5 }},
	}

	if _, err := valid.toTrade(); err != nil {
		t.Fatalf("valid trade rejected: %v", err)
	}
	for _, tt := range tests {
		a := valid
		tt.mutate(&a)
		if _, err := a.toTrade(); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: error = %v, want ErrMalformed", tt.name, err)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"1735689600", time.Unix(1735689600, 0)},
		{"1735689600500", time.UnixMilli(1735689600500)},
		{"2025-01-01T00:00:00Z", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2025-01-01 00:00:00", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseTimestamp(tt.in)
		if err != nil {
			t.Errorf("parseTimestamp(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := parseTimestamp("yesterday"); err == nil {
		t.Error("parseTimestamp(yesterday) should fail")
	}
}
