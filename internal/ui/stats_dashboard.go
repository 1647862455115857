package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/polyinsider/whaleledger/internal/ingest"
)

var printer = message.NewPrinter(language.English)

// StatsDashboardView shows feed health, ledger totals and the last
// settlement cycle.
type StatsDashboardView struct {
	textView *tview.TextView
}

// NewStatsDashboardView creates an empty dashboard.
func NewStatsDashboardView() *StatsDashboardView {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)

	textView.SetTitle(" Stats ").SetBorder(true)

	return &StatsDashboardView{
		textView: textView,
	}
}

// Widget returns the tview primitive.
func (v *StatsDashboardView) Widget() tview.Primitive {
	return v.textView
}

// Update redraws the dashboard from snap.
func (v *StatsDashboardView) Update(snap Snapshot) {
	v.textView.SetText(renderStats(snap))
}

func renderStats(snap Snapshot) string {
	var b strings.Builder

	stateColor := "red"
	switch snap.Feed.State {
	case ingest.StateStreaming, ingest.StateSubscribed:
		stateColor = "green"
	case ingest.StateConnecting:
		stateColor = "yellow"
	}

	fmt.Fprintf(&b, "[yellow]Feed[-]\n")
	fmt.Fprintf(&b, "Uptime: %s\n", formatDuration(snap.Uptime))
	fmt.Fprintf(&b, "Stream: [%s]%s[-]\n", stateColor, snap.Feed.State)
	fmt.Fprintf(&b, "Last data: %s\n", formatTimeAgo(snap.Feed.LastDataTime, snap.Taken))
	b.WriteString(printer.Sprintf("Messages: %d\n", snap.Feed.MessagesReceived))
	b.WriteString(printer.Sprintf("Whales: %d\n", snap.Feed.WhalesDetected))
	fmt.Fprintf(&b, "Decode failures: %d\n", snap.Feed.DecodeFailures)
	fmt.Fprintf(&b, "Reconnects: %d\n", snap.Feed.Reconnects)
	if snap.QueueCap > 0 {
		fmt.Fprintf(&b, "Queue: %d/%d (%.1f%%)\n", snap.QueueDepth, snap.QueueCap,
			float64(snap.QueueDepth)*100/float64(snap.QueueCap))
	}

	fmt.Fprintf(&b, "\n[yellow]Ledger[-]\n")
	b.WriteString(printer.Sprintf("Wallets: %d\n", snap.Ledger.Wallets))
	b.WriteString(printer.Sprintf("Trades: %d (%d open)\n", snap.Ledger.Trades, snap.Ledger.UnresolvedTrades))
	fmt.Fprintf(&b, "Open markets: %d\n", snap.Ledger.UnresolvedMarkets)
	b.WriteString(printer.Sprintf("Realized P&L: $%.0f\n", snap.Ledger.RealizedPnL))
	if snap.Err != nil {
		fmt.Fprintf(&b, "[red]%s[-]\n", truncate(snap.Err.Error(), 60))
	}

	fmt.Fprintf(&b, "\n[yellow]Settlement[-]\n")
	if r := snap.Settlement; r.Started.IsZero() {
		b.WriteString("Last cycle: never\n")
	} else {
		fmt.Fprintf(&b, "Last cycle: %s (%s)\n", formatTimeAgo(r.Started, snap.Taken), r.Duration.Round(time.Millisecond))
		fmt.Fprintf(&b, "Checked %d, resolved %d, settled %d, failed %d\n", r.Checked, r.Resolved, r.Settled, r.Failed)
	}

	return b.String()
}

// formatDuration renders a duration coarsely.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// formatTimeAgo renders t relative to now.
func formatTimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}

	elapsed := now.Sub(t)

	if elapsed < time.Minute {
		return fmt.Sprintf("%.0fs ago", elapsed.Seconds())
	}
	if elapsed < time.Hour {
		return fmt.Sprintf("%.0fm ago", elapsed.Minutes())
	}
	if elapsed < 24*time.Hour {
		return fmt.Sprintf("%.0fh ago", elapsed.Hours())
	}
	return fmt.Sprintf("%.0fd ago", elapsed.Hours()/24)
}
