package ui

import (
	"context"
	"errors"
	"time"

	"github.com/polyinsider/whaleledger/internal/ingest"
	"github.com/polyinsider/whaleledger/internal/resolve"
	"github.com/polyinsider/whaleledger/internal/store"
)

const (
	topWalletsShown = 10
	snapshotTimeout = 2 * time.Second
)

// Ledger is the read side of the store the dashboard polls.
type Ledger interface {
	Summary(ctx context.Context) (store.Summary, error)
	TopWallets(ctx context.Context, order store.WalletOrder, limit int) ([]store.Wallet, error)
	ListUnresolvedMarkets(ctx context.Context) ([]store.UnresolvedMarket, error)
}

// Sources are polled on every refresh. Any of them may be nil.
type Sources struct {
	Feed       interface{ Stats() ingest.Stats }
	Ledger     Ledger
	Reconciler interface{ Last() resolve.Report }

	// Queue reports the whale channel's length and capacity.
	Queue func() (depth, capacity int)
}

// Snapshot is everything the dashboard shows at one instant.
type Snapshot struct {
	Taken  time.Time
	Uptime time.Duration

	Feed       ingest.Stats
	QueueDepth int
	QueueCap   int

	Ledger     store.Summary
	Settlement resolve.Report
	TopWallets []store.Wallet
	Unresolved []store.UnresolvedMarket

	// Err joins the ledger reads that failed; their sections stay empty.
	Err error
}

// Collect reads every source once.
func (s Sources) Collect(ctx context.Context, started, now time.Time) Snapshot {
	snap := Snapshot{Taken: now, Uptime: now.Sub(started)}

	if s.Feed != nil {
		snap.Feed = s.Feed.Stats()
	}
	if s.Queue != nil {
		snap.QueueDepth, snap.QueueCap = s.Queue()
	}
	if s.Reconciler != nil {
		snap.Settlement = s.Reconciler.Last()
	}
	if s.Ledger == nil {
		return snap
	}

	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	var errs []error
	var err error
	if snap.Ledger, err = s.Ledger.Summary(ctx); err != nil {
		errs = append(errs, err)
	}
	if snap.TopWallets, err = s.Ledger.TopWallets(ctx, store.OrderRealizedPnL, topWalletsShown); err != nil {
		errs = append(errs, err)
	}
	if snap.Unresolved, err = s.Ledger.ListUnresolvedMarkets(ctx); err != nil {
		errs = append(errs, err)
	}
	snap.Err = errors.Join(errs...)
	return snap
}
