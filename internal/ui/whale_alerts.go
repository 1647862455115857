package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/polyinsider/whaleledger/internal/alert"
	"github.com/polyinsider/whaleledger/internal/store"
)

type whaleAlert struct {
	trade store.Trade
	stats store.WalletStats
}

// WhaleAlertsView lists the latest alerts, newest first, with their flags.
type WhaleAlertsView struct {
	list     *tview.List
	alerts   []whaleAlert
	maxItems int
}

// NewWhaleAlertsView creates an empty alerts list.
func NewWhaleAlertsView() *WhaleAlertsView {
	list := tview.NewList().
		ShowSecondaryText(true)

	list.SetTitle(" Whale Alerts ").SetBorder(true)
	list.SetMainTextColor(tcell.ColorWhite)

	v := &WhaleAlertsView{
		list:     list,
		alerts:   make([]whaleAlert, 0, 50),
		maxItems: 50,
	}
	v.rebuildList()
	return v
}

// Widget returns the tview primitive.
func (v *WhaleAlertsView) Widget() tview.Primitive {
	return v.list
}

// Add puts an alert at the top of the list.
func (v *WhaleAlertsView) Add(trade store.Trade, stats store.WalletStats) {
	v.alerts = append([]whaleAlert{{trade, stats}}, v.alerts...)
	if len(v.alerts) > v.maxItems {
		v.alerts = v.alerts[:v.maxItems]
	}
	v.rebuildList()
}

// Refresh redraws the list.
func (v *WhaleAlertsView) Refresh() {
	v.rebuildList()
}

func (v *WhaleAlertsView) rebuildList() {
	v.list.Clear()

	if len(v.alerts) == 0 {
		v.list.AddItem("No whale trades yet", "", 0, nil)
		v.list.SetTitle(" Whale Alerts ")
		return
	}

	for _, a := range v.alerts {
		main, secondary := formatAlert(a.trade, a.stats)
		v.list.AddItem(main, secondary, 0, nil)
	}
	v.list.SetTitle(fmt.Sprintf(" Whale Alerts (%d) ", len(v.alerts)))
}

// formatAlert renders the two lines of a list entry.
func formatAlert(trade store.Trade, stats store.WalletStats) (string, string) {
	color := "red"
	if trade.Side == store.SideBuy {
		color = "green"
	}

	market := trade.MarketTitle
	if market == "" {
		market = "Unknown Market"
	}
	main := fmt.Sprintf("%s [%s]%s[-] %s",
		trade.Timestamp.Local().Format("15:04:05"),
		color, alert.TradeSummary(trade),
		truncate(market, 48),
	)

	parts := []string{alert.ShortWallet(trade.WalletAddress)}
	if len(stats.Flags) > 0 {
		parts = append(parts, "[yellow]"+strings.Join(stats.Flags, ", ")+"[-]")
	}
	parts = append(parts, alert.StatsSummary(stats)...)
	return main, strings.Join(parts, " | ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
