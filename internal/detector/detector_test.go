package detector

import (
	"strings"
	"testing"
	"time"

	"github.com/polyinsider/whaleledger/internal/config"
	"github.com/polyinsider/whaleledger/internal/store"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func hasKind(flags []Flag, k Kind) bool {
	for _, f := range flags {
		if f.Kind == k {
			return true
		}
	}
	return false
}

func TestWalletFlagsNewWallet(t *testing.T) {
	tests := []struct {
		name  string
		count *int
		want  bool
	}{
		{"zero trades", intPtr(0), true},
		{"few trades", intPtr(5), true},
		{"established", intPtr(50), false},
		{"lookup failed", nil, false},
		{"at history limit", intPtr(100), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := store.Wallet{}
			w.APITradeCount = tt.count
			flags := WalletFlags(w)
			if got := hasKind(flags, KindNewWallet); got != tt.want {
				t.Errorf("new wallet flag = %v, want %v (flags %v)", got, tt.want, flags)
			}
		})
	}

	w := store.Wallet{}
	w.APITradeCount = intPtr(5)
	if got := WalletFlags(w)[0].Label; got != "NEW WALLET (5 previous trades)" {
		t.Errorf("label = %q", got)
	}
}

func TestWalletFlagsReputation(t *testing.T) {
	w := store.Wallet{TotalWhaleTrades: 6, Wins: 7, Losses: 3}
	w.LeaderboardPnL = floatPtr(150000)
	w.LeaderboardRank = intPtr(42)

	labels := Labels(WalletFlags(w))
	want := []string{
		"HIGH PNL ($150,000)",
		"TOP 42 on leaderboard",
		"70% WIN RATE (7W/3L tracked)",
		"REPEAT WHALE (6 whale trades tracked)",
	}
	if strings.Join(labels, "|") != strings.Join(want, "|") {
		t.Errorf("labels = %q, want %q", labels, want)
	}
}

func TestWalletFlagsThresholds(t *testing.T) {
	w := store.Wallet{TotalWhaleTrades: 5, Wins: 1, Losses: 1}
	w.LeaderboardPnL = floatPtr(30000)
	w.LeaderboardRank = intPtr(101)

	flags := WalletFlags(w)
	if !hasKind(flags, KindProfitable) || hasKind(flags, KindHighPnL) {
		t.Errorf("expected profitable only, got %v", flags)
	}
	if hasKind(flags, KindTopRanked) {
		t.Error("rank 101 is not top ranked")
	}
	if hasKind(flags, KindWinRate) || hasKind(flags, KindStrongWinRate) {
		t.Error("win rate needs at least 3 settled trades")
	}
	if hasKind(flags, KindRepeatWhale) {
		t.Error("5 whale trades is not a repeat whale")
	}

	w = store.Wallet{Wins: 2, Losses: 2}
	if flags := WalletFlags(w); !hasKind(flags, KindWinRate) {
		t.Errorf("50%% should raise the plain win rate flag, got %v", flags)
	}

	w = store.Wallet{Wins: 1, Losses: 3}
	if flags := WalletFlags(w); len(flags) != 0 {
		t.Errorf("expected no flags, got %v", flags)
	}
}

func TestDetectorBurst(t *testing.T) {
	cfg := &config.Config{
		BurstCount:  3,
		BurstWindow: 60 * time.Second,
	}
	d := NewDetector(cfg)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d.burstTracker.now = func() time.Time { return now }

	trade := store.Trade{WalletAddress: "0xBurst"}

	if flags := d.Detect(trade, store.Wallet{}); len(flags) != 0 {
		t.Errorf("Expected 0 flags on first trade, got %v", flags)
	}
	now = now.Add(10 * time.Second)
	if flags := d.Detect(trade, store.Wallet{}); len(flags) != 0 {
		t.Errorf("Expected 0 flags on second trade, got %v", flags)
	}
	now = now.Add(10 * time.Second)
	flags := d.Detect(trade, store.Wallet{})
	if len(flags) != 1 || flags[0].Kind != KindBurst {
		t.Fatalf("Expected burst flag on third trade, got %v", flags)
	}
	if flags[0].Label != "BURST (3 whale trades in 1m0s)" {
		t.Errorf("label = %q", flags[0].Label)
	}

	// other wallets are tracked separately
	if flags := d.Detect(store.Trade{WalletAddress: "0xOther"}, store.Wallet{}); len(flags) != 0 {
		t.Errorf("Expected 0 flags for another wallet, got %v", flags)
	}
}

func TestBurstTrackerWindow(t *testing.T) {
	b := NewBurstTracker(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	b.Record("0xa")
	now = now.Add(30 * time.Second)
	if n := b.Record("0xa"); n != 2 {
		t.Errorf("Record() = %d, want 2", n)
	}

	now = now.Add(31 * time.Second)
	if n := b.Record("0xa"); n != 2 {
		t.Errorf("first trade should have expired, Record() = %d, want 2", n)
	}

	b.Record("0xb")
	now = now.Add(2 * time.Minute)
	b.Cleanup()
	if n := b.Tracked(); n != 0 {
		t.Errorf("Tracked() after cleanup = %d, want 0", n)
	}
}
