package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/schema"
)

const stopStrategyID = "stop-monitor"

// StopConfig controls protective exits on open positions.
type StopConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	TrailingPct float64       `json:"trailingPct" yaml:"trailing_pct" validate:"gte=0,lt=1"`
	RetryAfter  time.Duration `json:"retryAfter" yaml:"retry_after" validate:"gte=0"`
}

type stopLevel struct {
	side    schema.Side
	stop    decimal.Decimal
	target  decimal.Decimal
	extreme decimal.Decimal
	firedAt time.Time
}

// StopMonitor remembers stop-loss and take-profit levels of admitted opens
// and produces close signals when marks cross them.
type StopMonitor struct {
	cfg StopConfig

	mu     sync.Mutex
	levels map[string]*stopLevel
}

// NewStopMonitor creates a monitor.
func NewStopMonitor(cfg StopConfig) *StopMonitor {
	if cfg.RetryAfter == 0 {
		cfg.RetryAfter = time.Minute
	}
	return &StopMonitor{cfg: cfg, levels: make(map[string]*stopLevel)}
}

// Track records the exits of an admitted open. Later opens replace earlier levels.
func (m *StopMonitor) Track(sig schema.Signal, order schema.SizedOrder) {
	if m == nil || !m.cfg.Enabled || order.Intent != schema.IntentOpen {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[sig.Symbol] = &stopLevel{
		side:    sig.Side,
		stop:    sig.StopLoss,
		target:  sig.TakeProfit,
		extreme: sig.Entry,
	}
}

// Check evaluates a mark against the levels of symbol. pos is the current
// position; a flat or flipped position drops the levels.
func (m *StopMonitor) Check(pos schema.Position, mark decimal.Decimal, now time.Time) (schema.Signal, bool) {
	if m == nil || !m.cfg.Enabled || !mark.IsPositive() {
		return schema.Signal{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	lvl, ok := m.levels[pos.Symbol]
	if !ok {
		return schema.Signal{}, false
	}
	if pos.Qty.IsZero() || schema.SideOf(pos.Qty) != lvl.side {
		delete(m.levels, pos.Symbol)
		return schema.Signal{}, false
	}
	if !lvl.firedAt.IsZero() && now.Sub(lvl.firedAt) < m.cfg.RetryAfter {
		return schema.Signal{}, false
	}

	trail := decimal.NewFromFloat(m.cfg.TrailingPct)
	var reason string
	switch lvl.side {
	case schema.SideBuy:
		lvl.extreme = decimal.Max(lvl.extreme, mark)
		stop := lvl.stop
		if trail.IsPositive() {
			stop = decimal.Max(stop, lvl.extreme.Mul(decimal.NewFromInt(1).Sub(trail)))
		}
		switch {
		case mark.LessThanOrEqual(stop):
			reason = exitReason(stop, lvl.stop, "stop_loss")
		case mark.GreaterThanOrEqual(lvl.target):
			reason = "take_profit"
		}
	case schema.SideSell:
		lvl.extreme = decimal.Min(lvl.extreme, mark)
		stop := lvl.stop
		if trail.IsPositive() {
			stop = decimal.Min(stop, lvl.extreme.Mul(decimal.NewFromInt(1).Add(trail)))
		}
		switch {
		case mark.GreaterThanOrEqual(stop):
			reason = exitReason(stop, lvl.stop, "stop_loss")
		case mark.LessThanOrEqual(lvl.target):
			reason = "take_profit"
		}
	}
	if reason == "" {
		return schema.Signal{}, false
	}
	lvl.firedAt = now
	return closeSignal(pos, mark, reason, now), true
}

// Forget drops the levels of symbol.
func (m *StopMonitor) Forget(symbol string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.levels, symbol)
	m.mu.Unlock()
}

func exitReason(effective, original decimal.Decimal, base string) string {
	if !effective.Equal(original) {
		return "trailing_stop"
	}
	return base
}

// closeSignal builds a full-close signal around mark with valid exit levels.
func closeSignal(pos schema.Position, mark decimal.Decimal, reason string, now time.Time) schema.Signal {
	band := mark.Mul(decimal.NewFromFloat(0.01))
	side := schema.SideOf(pos.Qty).Opposite()
	sig := schema.Signal{
		Symbol:     pos.Symbol,
		Side:       side,
		Entry:      mark,
		Confidence: 1,
		StrategyID: stopStrategyID,
		Reason:     reason,
		Timestamp:  now,
		QtyHint:    pos.Qty.Abs(),
	}
	if side == schema.SideSell {
		sig.StopLoss, sig.TakeProfit = mark.Add(band), mark.Sub(band)
	} else {
		sig.StopLoss, sig.TakeProfit = mark.Sub(band), mark.Add(band)
	}
	return sig
}
