package state

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradecore/internal/schema"
)

// Ledger is the account state: cash, positions and marks.
// It is owned by the execution router; other components read snapshots.
type Ledger struct {
	mu        sync.RWMutex
	cash      decimal.Decimal
	positions map[string]*schema.Position
	updatedAt time.Time
	perf      *Performance
}

// NewLedger creates a ledger holding only cash.
func NewLedger(cash decimal.Decimal) *Ledger {
	return &Ledger{
		cash:      cash,
		positions: make(map[string]*schema.Position),
		perf:      NewPerformance(0),
	}
}

// ApplyFill books one execution and returns the updated position and the
// realized PnL produced by it.
func (l *Ledger) ApplyFill(fill schema.Fill) (schema.Position, decimal.Decimal, error) {
	if !fill.Qty.IsPositive() || !fill.Price.IsPositive() {
		return schema.Position{}, decimal.Zero, errors.Errorf("invalid fill qty=%s price=%s", fill.Qty, fill.Price)
	}
	signed := fill.Qty.Mul(fill.Side.Sign())
	if signed.IsZero() {
		return schema.Position{}, decimal.Zero, errors.Errorf("invalid fill side %s", fill.Side)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.position(fill.Symbol)
	realized := decimal.Zero
	current := pos.Qty
	next := current.Add(signed)

	switch {
	case current.IsZero() || current.Sign() == signed.Sign():
		cost := current.Abs().Mul(pos.AvgPrice).Add(fill.Qty.Mul(fill.Price))
		pos.AvgPrice = cost.Div(next.Abs())
	default:
		closed := decimal.Min(fill.Qty, current.Abs())
		realized = fill.Price.Sub(pos.AvgPrice).Mul(closed).Mul(decimal.NewFromInt(int64(current.Sign())))
		switch {
		case next.IsZero():
			pos.AvgPrice = decimal.Zero
		case next.Sign() != current.Sign():
			pos.AvgPrice = fill.Price
		}
	}

	realized = realized.Sub(fill.Fee)
	pos.Qty = next
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.Mark = fill.Price
	pos.UnrealizedPnL = unrealized(*pos)

	l.cash = l.cash.Sub(signed.Mul(fill.Price)).Sub(fill.Fee)
	l.touch(fill.Time)
	if !current.IsZero() && current.Sign() != signed.Sign() {
		l.perf.RecordClose(realized)
	}
	l.perf.Sample(l.updatedAt, l.equityLocked())
	return *pos, realized, nil
}

// Mark re-prices a symbol and returns the new equity.
func (l *Ledger) Mark(symbol string, price decimal.Decimal, ts time.Time) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !price.IsPositive() {
		return l.equityLocked()
	}
	pos, ok := l.positions[symbol]
	if ok {
		pos.Mark = price
		pos.UnrealizedPnL = unrealized(*pos)
	}
	l.touch(ts)
	equity := l.equityLocked()
	if ok && !pos.Qty.IsZero() {
		l.perf.Sample(l.updatedAt, equity)
	}
	return equity
}

// Position returns a copy of the position for symbol.
func (l *Ledger) Position(symbol string) schema.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if pos, ok := l.positions[symbol]; ok {
		return *pos
	}
	return schema.Position{Symbol: symbol}
}

// Equity is cash plus marked positions.
func (l *Ledger) Equity() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.equityLocked()
}

// Snapshot returns a read-only copy of the account.
func (l *Ledger) Snapshot() schema.AccountSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := schema.AccountSnapshot{
		Time:          l.updatedAt,
		Cash:          l.cash,
		Positions:     make([]schema.Position, 0, len(l.positions)),
		Exposure:      make(map[string]decimal.Decimal, len(l.positions)),
		TotalExposure: decimal.Zero,
	}
	for _, pos := range l.positions {
		snap.Positions = append(snap.Positions, *pos)
		if pos.Qty.IsZero() {
			continue
		}
		exp := pos.Exposure()
		snap.Exposure[pos.Symbol] = exp
		snap.TotalExposure = snap.TotalExposure.Add(exp)
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		return snap.Positions[i].Symbol < snap.Positions[j].Symbol
	})
	snap.Equity = l.equityLocked()
	return snap
}

// Performance returns the equity curve report.
func (l *Ledger) Performance() Report {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.perf.Report()
}

// Count returns the number of tracked symbols.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

func (l *Ledger) position(symbol string) *schema.Position {
	pos, ok := l.positions[symbol]
	if !ok {
		pos = &schema.Position{Symbol: symbol}
		l.positions[symbol] = pos
	}
	return pos
}

func (l *Ledger) equityLocked() decimal.Decimal {
	equity := l.cash
	for _, pos := range l.positions {
		equity = equity.Add(pos.Qty.Mul(pos.Mark))
	}
	return equity
}

func (l *Ledger) touch(ts time.Time) {
	if ts.After(l.updatedAt) {
		l.updatedAt = ts
	}
}

func unrealized(pos schema.Position) decimal.Decimal {
	if pos.Qty.IsZero() {
		return decimal.Zero
	}
	return pos.Mark.Sub(pos.AvgPrice).Mul(pos.Qty)
}
