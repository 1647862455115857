package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/polyinsider/whaleledger/internal/alert"
)

var walletHeaders = []string{"Wallet", "Trades", "Volume", "W/L", "P&L"}

// TopWalletsView ranks wallets by realized P&L on settled whale trades.
type TopWalletsView struct {
	table *tview.Table
}

// NewTopWalletsView creates an empty table.
func NewTopWalletsView() *TopWalletsView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Top Wallets ").SetBorder(true)
	setHeader(table, walletHeaders)

	return &TopWalletsView{
		table: table,
	}
}

// Widget returns the tview primitive.
func (v *TopWalletsView) Widget() tview.Primitive {
	return v.table
}

// Update redraws the ranking from snap.
func (v *TopWalletsView) Update(snap Snapshot) {
	v.table.Clear()
	setHeader(v.table, walletHeaders)

	if len(snap.TopWallets) == 0 {
		cell := tview.NewTableCell("No data yet...").
			SetAlign(tview.AlignCenter).
			SetExpansion(1)
		v.table.SetCell(1, 0, cell)
		return
	}

	for i, w := range snap.TopWallets {
		row := i + 1

		pnlColor := tcell.ColorWhite
		if w.RealizedPnL > 0 {
			pnlColor = tcell.ColorGreen
		} else if w.RealizedPnL < 0 {
			pnlColor = tcell.ColorRed
		}

		name := alert.ShortWallet(w.Address)
		if w.IsWatchlist {
			name = "*" + name
		}

		v.table.SetCell(row, 0, tview.NewTableCell(name).SetAlign(tview.AlignLeft))
		v.table.SetCell(row, 1, tview.NewTableCell(fmt.Sprintf("%d", w.TotalWhaleTrades)).SetAlign(tview.AlignRight))
		v.table.SetCell(row, 2, tview.NewTableCell(printer.Sprintf("$%.0f", w.TotalWhaleVolume)).SetAlign(tview.AlignRight))
		v.table.SetCell(row, 3, tview.NewTableCell(fmt.Sprintf("%d/%d", w.Wins, w.Losses)).SetAlign(tview.AlignRight))
		v.table.SetCell(row, 4, tview.NewTableCell(printer.Sprintf("$%.0f", w.RealizedPnL)).
			SetAlign(tview.AlignRight).
			SetTextColor(pnlColor))
	}
}
