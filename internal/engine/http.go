package engine

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

type positionView struct {
	ID          string           `json:"id"`
	Token       string           `json:"token"`
	Symbol      string           `json:"symbol,omitempty"`
	Status      string           `json:"status"`
	CloseReason string           `json:"close_reason,omitempty"`
	EntryPrice  decimal.Decimal  `json:"entry_price"`
	Size        decimal.Decimal  `json:"size"`
	BuyTx       string           `json:"buy_tx,omitempty"`
	OpenedAt    time.Time        `json:"opened_at"`
	LastPrice   *decimal.Decimal `json:"last_price,omitempty"`
	PnL         *decimal.Decimal `json:"pnl,omitempty"`
}

type positionsResponse struct {
	Active   int            `json:"active"`
	Capacity int            `json:"capacity"`
	Items    []positionView `json:"positions"`
}

// PositionsHandler serves the registry snapshot as JSON.
func (e *Engine) PositionsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap := e.Registry.Snapshot()
		last := e.Monitor.LastPrices()
		resp := positionsResponse{
			Active:   len(snap),
			Capacity: e.Registry.Capacity(),
			Items:    make([]positionView, 0, len(snap)),
		}
		for _, pos := range snap {
			v := positionView{
				ID:          pos.ID,
				Token:       pos.TokenID,
				Symbol:      pos.Symbol,
				Status:      string(pos.Status),
				CloseReason: string(pos.CloseReason),
				EntryPrice:  pos.EntryPrice,
				Size:        pos.SizeBase,
				BuyTx:       pos.BuyTx,
				OpenedAt:    pos.OpenedAt,
			}
			if px, ok := last[pos.TokenID]; ok && pos.EntryPrice.IsPositive() {
				pnl := pos.PnL(px)
				v.LastPrice, v.PnL = &px, &pnl
			}
			resp.Items = append(resp.Items, v)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}
