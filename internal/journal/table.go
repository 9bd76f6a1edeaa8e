package journal

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"snipebot-go/internal/position"
)

// RenderPositions prints a status table of the given positions. prices maps a
// token to its last observed price; tokens without one show "-".
func RenderPositions(w io.Writer, positions []position.Position, prices map[string]decimal.Decimal) {
	if len(positions) == 0 {
		fmt.Fprintln(w, "no active positions")
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("#", "Token", "Status", "Entry", "Size", "Last", "PnL", "Change")
	for i, pos := range positions {
		last, pnl, change := "-", "-", "-"
		if price, ok := prices[pos.TokenID]; ok && pos.Status != position.Opening {
			last = price.String()
			pnl = pos.PnL(price).StringFixed(4)
			change = pos.ChangePct(price).StringFixed(2) + "%"
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			label(pos),
			string(pos.Status),
			pos.EntryPrice.String(),
			pos.SizeBase.String(),
			last,
			pnl,
			change,
		)
	}
	table.Render()
}

func label(pos position.Position) string {
	if pos.Symbol != "" && pos.Symbol != pos.TokenID {
		return pos.Symbol
	}
	id := pos.TokenID
	if len(id) > 12 {
		return id[:4] + ".." + id[len(id)-4:]
	}
	return id
}
