package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

var marketHeaders = []string{"Market", "Open trades"}

// UnresolvedMarketsView lists the markets waiting for settlement.
type UnresolvedMarketsView struct {
	table *tview.Table
}

// NewUnresolvedMarketsView creates an empty table.
func NewUnresolvedMarketsView() *UnresolvedMarketsView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Open Markets ").SetBorder(true)
	setHeader(table, marketHeaders)

	return &UnresolvedMarketsView{
		table: table,
	}
}

// Widget returns the tview primitive.
func (v *UnresolvedMarketsView) Widget() tview.Primitive {
	return v.table
}

// Update redraws the queue from snap.
func (v *UnresolvedMarketsView) Update(snap Snapshot) {
	v.table.Clear()
	setHeader(v.table, marketHeaders)

	for i, m := range snap.Unresolved {
		title := m.MarketTitle
		if title == "" {
			title = m.ConditionID
		}
		v.table.SetCell(i+1, 0, tview.NewTableCell(truncate(title, 50)).
			SetAlign(tview.AlignLeft).
			SetExpansion(1))
		v.table.SetCell(i+1, 1, tview.NewTableCell(fmt.Sprintf("%d", m.OpenTrades)).
			SetAlign(tview.AlignRight))
	}

	v.table.SetTitle(fmt.Sprintf(" Open Markets (%d) ", len(snap.Unresolved)))
}
