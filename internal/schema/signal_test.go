package schema

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSignalValidate(t *testing.T) {
	base := Signal{
		Symbol:     "BTC-USD",
		Side:       SideBuy,
		Entry:      d("100"),
		StopLoss:   d("98"),
		TakeProfit: d("104"),
		Confidence: 0.7,
		StrategyID: "ema",
		Timestamp:  time.Unix(0, 0),
	}
	assert.NoError(t, base.Validate())
	assert.True(t, base.StopDistance().Equal(d("2")))

	short := base
	short.Side = SideSell
	short.StopLoss, short.TakeProfit = d("102"), d("95")
	assert.NoError(t, short.Validate())

	cases := map[string]func(s *Signal){
		"long stop above entry":   func(s *Signal) { s.StopLoss = d("101") },
		"long target below entry": func(s *Signal) { s.TakeProfit = d("99") },
		"short with long levels":  func(s *Signal) { s.Side = SideSell },
		"confidence above one":    func(s *Signal) { s.Confidence = 1.2 },
		"confidence nan":          func(s *Signal) { s.Confidence = math.NaN() },
		"confidence inf":          func(s *Signal) { s.Confidence = math.Inf(1) },
		"missing symbol":          func(s *Signal) { s.Symbol = "" },
		"unknown side":            func(s *Signal) { s.Side = SideUnknown },
		"zero entry":              func(s *Signal) { s.Entry = decimal.Zero },
	}
	for name, mutate := range cases {
		sig := base
		mutate(&sig)
		assert.Errorf(t, sig.Validate(), "case %s", name)
	}
}

func TestSideAndModeText(t *testing.T) {
	var s Side
	assert.NoError(t, s.UnmarshalText([]byte("SHORT")))
	assert.Equal(t, SideSell, s)
	assert.Equal(t, SideBuy, s.Opposite())
	assert.Equal(t, SideSell, SideOf(d("-3")))

	m, err := ParseMode("paper")
	assert.NoError(t, err)
	assert.Equal(t, ModeSimulated, m)
	_, err = ParseMode("moon")
	assert.Error(t, err)

	assert.True(t, OrderFilled.Terminal())
	assert.False(t, OrderPartiallyFilled.Terminal())
}

func TestIntentText(t *testing.T) {
	for _, want := range []Intent{IntentOpen, IntentReduce} {
		b, err := want.MarshalText()
		assert.NoError(t, err)
		var got Intent
		assert.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, want, got)
	}
	var i Intent
	assert.Error(t, i.UnmarshalText([]byte("hedge")))
}
