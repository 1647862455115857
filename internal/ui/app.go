// Package ui is the terminal dashboard. The App is also an alert sink: every
// whale trade handed to it shows up in the alerts list and the trades table.
package ui

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/polyinsider/whaleledger/internal/store"
)

const (
	DefaultRefreshRate = time.Second

	alertBuffer    = 64
	minRefreshRate = 100 * time.Millisecond
)

// App is the dashboard application.
type App struct {
	app    *tview.Application
	layout *tview.Flex

	alertsView     *WhaleAlertsView
	tradesView     *LiveTradesView
	statsView      *StatsDashboardView
	walletsView    *TopWalletsView
	unresolvedView *UnresolvedMarketsView

	sources Sources
	refresh time.Duration
	started time.Time
	now     func() time.Time

	alerts  chan whaleAlert
	dropped atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp builds the dashboard. Refresh rates below 100ms are raised.
func NewApp(sources Sources, refresh time.Duration) *App {
	if refresh <= 0 {
		refresh = DefaultRefreshRate
	}
	refresh = max(refresh, minRefreshRate)

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		app:            tview.NewApplication(),
		alertsView:     NewWhaleAlertsView(),
		tradesView:     NewLiveTradesView(),
		statsView:      NewStatsDashboardView(),
		walletsView:    NewTopWalletsView(),
		unresolvedView: NewUnresolvedMarketsView(),
		sources:        sources,
		refresh:        refresh,
		started:        time.Now(),
		now:            time.Now,
		alerts:         make(chan whaleAlert, alertBuffer),
		ctx:            ctx,
		cancel:         cancel,
	}

	a.setupLayout()
	a.setupKeyboard()
	return a
}

// setupLayout: alerts over trades on the left; stats, top wallets and open
// markets stacked on the right.
func (a *App) setupLayout() {
	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.alertsView.Widget(), 0, 3, false).
		AddItem(a.tradesView.Widget(), 0, 2, false)

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.statsView.Widget(), 0, 3, false).
		AddItem(a.walletsView.Widget(), 0, 2, false).
		AddItem(a.unresolvedView.Widget(), 0, 2, false)

	a.layout = tview.NewFlex().
		AddItem(left, 0, 2, false).
		AddItem(right, 0, 1, false)

	a.app.SetRoot(a.layout, true)
}

func (a *App) setupKeyboard() {
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			a.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				a.Stop()
				return nil
			case 'r', 'R':
				go a.refreshNow()
				return nil
			}
		}
		return event
	})
}

// Run draws the dashboard until ctx is cancelled or the user quits.
func (a *App) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			a.Stop()
		case <-a.ctx.Done():
		}
	}()
	go a.processAlerts()
	go a.updateLoop()

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("app run failed: %w", err)
	}
	return nil
}

// Stop ends Run.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// Done is closed once the dashboard has been stopped.
func (a *App) Done() <-chan struct{} {
	return a.ctx.Done()
}

func (a *App) Name() string { return "tui" }

// Send queues the alert for display. When the queue is full the alert is
// dropped and counted.
func (a *App) Send(ctx context.Context, trade store.Trade, stats store.WalletStats) error {
	select {
	case a.alerts <- whaleAlert{trade, stats}:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Close stops the dashboard.
func (a *App) Close() error {
	a.Stop()
	return nil
}

// Dropped returns how many alerts were discarded on a full queue.
func (a *App) Dropped() int64 {
	return a.dropped.Load()
}

func (a *App) processAlerts() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case al := <-a.alerts:
			a.app.QueueUpdateDraw(func() {
				a.alertsView.Add(al.trade, al.stats)
				a.tradesView.AddTrade(al.trade)
			})
		}
	}
}

func (a *App) updateLoop() {
	a.refreshNow()

	ticker := time.NewTicker(a.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.refreshNow()
		}
	}
}

func (a *App) refreshNow() {
	snap := a.sources.Collect(a.ctx, a.started, a.now())
	a.app.QueueUpdateDraw(func() {
		a.statsView.Update(snap)
		a.walletsView.Update(snap)
		a.unresolvedView.Update(snap)
	})
}
