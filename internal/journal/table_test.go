package journal

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"snipebot-go/internal/position"
)

func TestRenderPositions(t *testing.T) {
	var buf bytes.Buffer
	RenderPositions(&buf, nil, nil)
	assert.Contains(t, buf.String(), "no active positions")

	buf.Reset()
	open := position.Position{
		TokenID:    "So11111111111111111111111111111111111111112",
		Status:     position.Open,
		EntryPrice: decimal.RequireFromString("2"),
		SizeBase:   decimal.NewFromInt(10),
	}
	opening := position.Position{TokenID: "NEW", Symbol: "NEW", Status: position.Opening}
	RenderPositions(&buf, []position.Position{open, opening}, map[string]decimal.Decimal{
		open.TokenID: decimal.RequireFromString("3"),
	})
	out := buf.String()
	assert.Contains(t, out, "So11..1112")
	assert.Contains(t, out, "10.0000")
	assert.Contains(t, out, "50.00%")
	assert.Contains(t, out, "Opening")
}
