package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/polyinsider/whaleledger/internal/alert"
	"github.com/polyinsider/whaleledger/internal/store"
)

var tradeHeaders = []string{"Time", "Market", "Side", "Outcome", "Price", "Value", "Wallet"}

// LiveTradesView is a scrolling table of recorded whale trades.
type LiveTradesView struct {
	table   *tview.Table
	trades  []store.Trade
	maxRows int
}

// NewLiveTradesView creates an empty table.
func NewLiveTradesView() *LiveTradesView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Whale Trades ").SetBorder(true)

	v := &LiveTradesView{
		table:   table,
		trades:  make([]store.Trade, 0, 100),
		maxRows: 100,
	}
	v.updateTable()
	return v
}

// Widget returns the tview primitive.
func (v *LiveTradesView) Widget() tview.Primitive {
	return v.table
}

// AddTrade puts a trade at the top of the table.
func (v *LiveTradesView) AddTrade(trade store.Trade) {
	v.trades = append([]store.Trade{trade}, v.trades...)
	if len(v.trades) > v.maxRows {
		v.trades = v.trades[:v.maxRows]
	}
	v.updateTable()
}

// Refresh redraws the table.
func (v *LiveTradesView) Refresh() {
	v.updateTable()
}

func (v *LiveTradesView) updateTable() {
	v.table.Clear()
	setHeader(v.table, tradeHeaders)

	for i, trade := range v.trades {
		row := i + 1

		sideColor := tcell.ColorRed
		if trade.Side == store.SideBuy {
			sideColor = tcell.ColorGreen
		}

		cells := []string{
			trade.Timestamp.Local().Format("15:04:05"),
			truncate(trade.MarketTitle, 40),
			string(trade.Side),
			trade.Outcome,
			fmt.Sprintf("%.3f", trade.Price),
			printer.Sprintf("$%.0f", trade.TradeValue),
			alert.ShortWallet(trade.WalletAddress),
		}
		for col, text := range cells {
			cell := tview.NewTableCell(text).SetAlign(tview.AlignLeft)
			if col == 2 {
				cell.SetTextColor(sideColor)
			}
			v.table.SetCell(row, col, cell)
		}
	}

	v.table.SetTitle(fmt.Sprintf(" Whale Trades (%d) ", len(v.trades)))
}

// setHeader writes a non-selectable header row.
func setHeader(table *tview.Table, headers []string) {
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false)
		table.SetCell(0, col, cell)
	}
}
