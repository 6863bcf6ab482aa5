package allocator

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/clock"
	"tradecore/internal/schema"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

type fixedPolicy map[string]float64

func (fixedPolicy) Name() string { return "fixed" }

func (p fixedPolicy) Weights(symbols []string, _ map[string][]float64) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		out[s] = p[s]
	}
	return out
}

type account struct {
	snap schema.AccountSnapshot
}

func (a account) Snapshot() schema.AccountSnapshot {
	return a.snap
}

func position(symbol string, qty, mark float64) schema.Position {
	return schema.Position{Symbol: symbol, Qty: decimal.NewFromFloat(qty), Mark: decimal.NewFromFloat(mark)}
}

func TestDriftThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DriftThreshold = 0.02

	_, ok := plan(cfg, "BTC", 0.205, 0.20, 10_000, 100, t0)
	assert.False(t, ok, "drift 0.005 is below the threshold")

	sig, ok := plan(cfg, "BTC", 0.26, 0.20, 10_000, 100, t0)
	require.True(t, ok)
	assert.Equal(t, schema.SideBuy, sig.Side)
	assert.Equal(t, StrategyID, sig.StrategyID)
	assert.InDelta(t, 6, sig.QtyHint.InexactFloat64(), 1e-9)
	assert.InDelta(t, 98, sig.StopLoss.InexactFloat64(), 1e-9)
	assert.InDelta(t, 104, sig.TakeProfit.InexactFloat64(), 1e-9)
	require.NoError(t, sig.Validate())

	sig, ok = plan(cfg, "BTC", 0.10, 0.20, 10_000, 100, t0)
	require.True(t, ok)
	assert.Equal(t, schema.SideSell, sig.Side)
	assert.InDelta(t, 10, sig.QtyHint.InexactFloat64(), 1e-9)
	require.NoError(t, sig.Validate())
}

func TestCostAwareSkipsExpensiveTrades(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DriftThreshold = 0.02
	cfg.FeeBps = 1000

	_, ok := plan(cfg, "BTC", 0.2201, 0.20, 10_000, 100, t0)
	assert.False(t, ok)

	cfg.CostAware = false
	_, ok = plan(cfg, "BTC", 0.2201, 0.20, 10_000, 100, t0)
	assert.True(t, ok)
}

func TestRebalanceEmitsOnlyDriftedSymbols(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DriftThreshold = 0.02
	cfg.Symbols = []string{"BTC", "ETH", "SOL"}
	acct := account{snap: schema.AccountSnapshot{
		Equity:    decimal.NewFromInt(10_000),
		Positions: []schema.Position{position("BTC", 20, 100), position("ETH", 20, 100)},
	}}
	a, err := New(cfg, acct)
	require.NoError(t, err)
	a.WithClock(clock.NewManual(t0))
	a.policy = fixedPolicy{"BTC": 0.26, "ETH": 0.205, "SOL": 0.3}

	signals, err := a.Rebalance()
	require.NoError(t, err)
	require.Len(t, signals, 1, "SOL has no price and ETH is within the band")
	assert.Equal(t, "BTC", signals[0].Symbol)
	assert.Equal(t, t0, signals[0].Timestamp)
	assert.Equal(t, Target{"BTC": 0.26, "ETH": 0.205, "SOL": 0.3}, a.Target())

	a.Observe("SOL", decimal.NewFromInt(20))
	signals, err = a.Rebalance()
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, "SOL", signals[1].Symbol)
	assert.InDelta(t, 150, signals[1].QtyHint.InexactFloat64(), 1e-9)
}

func TestRebalanceNeedsEquity(t *testing.T) {
	a, err := New(DefaultConfig(), account{})
	require.NoError(t, err)
	_, err = a.Rebalance()
	require.Error(t, err)
}

func TestUnknownPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = "kelly"
	_, err := New(cfg, account{})
	require.Error(t, err)
}

func TestEqualWeight(t *testing.T) {
	w := EqualWeight{}.Weights([]string{"A", "B", "C", "D"}, nil)
	for _, v := range w {
		assert.InDelta(t, 0.25, v, 1e-12)
	}
}

func alternating(n int, amplitude float64) []float64 {
	out := []float64{100}
	for i := 1; i <= n; i++ {
		r := amplitude
		if i%2 == 0 {
			r = -amplitude
		}
		out = append(out, out[i-1]*(1+r))
	}
	return out
}

func TestRiskParityWeightsInverseVolatility(t *testing.T) {
	p := RiskParity{Lookback: 30, TargetAnnualVol: 0.25, PeriodsPerYear: 365}
	w := p.Weights([]string{"A", "B"}, map[string][]float64{
		"A": alternating(30, 0.01),
		"B": alternating(30, 0.02),
	})
	assert.InDelta(t, 2, w["A"]/w["B"], 0.01)
	assert.LessOrEqual(t, w["A"]+w["B"], 1.0)

	volA := 0.01 * math.Sqrt(365)
	portfolio := (2.0/3)*volA + (1.0/3)*2*volA
	assert.InDelta(t, (2.0/3)*0.25/portfolio, w["A"], 0.01)
}

func TestRiskParityShortHistoryUsesDefaultVol(t *testing.T) {
	p := RiskParity{Lookback: 30, TargetAnnualVol: 0.25, PeriodsPerYear: 365}
	w := p.Weights([]string{"A", "B"}, map[string][]float64{"A": {100, 101, 102}})
	assert.InDelta(t, 0.5, w["A"], 1e-12)
	assert.InDelta(t, 0.5, w["B"], 1e-12)
}

func TestMomentumFavoursRisingSymbols(t *testing.T) {
	rising := []float64{100, 101, 102, 103, 104, 105}
	falling := []float64{100, 99, 98, 97, 96, 95}
	p := Momentum{Lookback: 5}

	w := p.Weights([]string{"UP", "DOWN"}, map[string][]float64{"UP": rising, "DOWN": falling})
	assert.InDelta(t, 1, w["UP"], 1e-12)
	assert.InDelta(t, 0, w["DOWN"], 1e-12)

	w = p.Weights([]string{"X", "Y"}, map[string][]float64{"X": falling, "Y": falling})
	assert.InDelta(t, 0.5, w["X"], 1e-12)
	assert.InDelta(t, 0.5, w["Y"], 1e-12)
}

func TestRunOnceSubmitsSignals(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = PolicyEqualWeight
	cfg.DriftThreshold = 0.02
	a, err := New(cfg, account{snap: schema.AccountSnapshot{Equity: decimal.NewFromInt(1000)}})
	require.NoError(t, err)
	a.Observe("A", decimal.NewFromInt(10))
	a.Observe("B", decimal.NewFromInt(20))

	var got []schema.Signal
	n := a.RunOnce(func(sig schema.Signal) error {
		got = append(got, sig)
		return nil
	})
	assert.Equal(t, 2, n)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Symbol)
	assert.InDelta(t, 50, got[0].QtyHint.InexactFloat64(), 1e-9)
	assert.InDelta(t, 25, got[1].QtyHint.InexactFloat64(), 1e-9)
}
