package codec

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/schema"
)

func TestEncodeIsStableForMaps(t *testing.T) {
	snap := schema.AccountSnapshot{
		Equity: decimal.NewFromInt(10),
		Exposure: map[string]decimal.Decimal{
			"ETH": decimal.NewFromInt(2),
			"BTC": decimal.NewFromInt(1),
			"SOL": decimal.NewFromInt(3),
		},
	}
	first, err := Encode(snap)
	require.NoError(t, err)
	for range 10 {
		again, err := Encode(snap)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDecodeFill(t *testing.T) {
	in := schema.Fill{
		OrderID: "o-1",
		Symbol:  "BTC-USD",
		Side:    schema.SideSell,
		Qty:     decimal.RequireFromString("1.5"),
		Price:   decimal.RequireFromString("101.25"),
		Fee:     decimal.RequireFromString("0.15"),
		Time:    time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	payload, err := Encode(in)
	require.NoError(t, err)
	out, err := DecodeFill(payload)
	require.NoError(t, err)
	assert.Equal(t, in.OrderID, out.OrderID)
	assert.Equal(t, schema.SideSell, out.Side)
	assert.True(t, in.Qty.Equal(out.Qty))
	assert.True(t, in.Price.Equal(out.Price))
	assert.True(t, in.Time.Equal(out.Time))
}
