package detector

import (
	"sync"
	"time"
)

// BurstTracker counts whale trades per wallet inside a sliding window.
type BurstTracker struct {
	mu     sync.Mutex
	trades map[string][]time.Time
	window time.Duration
	now    func() time.Time
}

// NewBurstTracker creates a new BurstTracker with the specified window.
func NewBurstTracker(window time.Duration) *BurstTracker {
	return &BurstTracker{
		trades: make(map[string][]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Window returns the sliding window length.
func (b *BurstTracker) Window() time.Duration {
	return b.window
}

// Record adds a trade for the given address and returns the number of trades
// within the window (including the new one).
func (b *BurstTracker) Record(address string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	cutoff := now.Add(-b.window)

	// timestamps are appended in order, so drop the expired prefix
	timestamps := b.trades[address]
	keep := 0
	for keep < len(timestamps) && !timestamps[keep].After(cutoff) {
		keep++
	}
	timestamps = append(timestamps[keep:], now)
	b.trades[address] = timestamps

	return len(timestamps)
}

// Cleanup removes entries for addresses with no recent trades.
// Should be called periodically to prevent memory leaks.
func (b *BurstTracker) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.window)
	for addr, timestamps := range b.trades {
		if len(timestamps) == 0 || !timestamps[len(timestamps)-1].After(cutoff) {
			delete(b.trades, addr)
		}
	}
}

// Tracked returns how many wallets are currently tracked.
func (b *BurstTracker) Tracked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.trades)
}
