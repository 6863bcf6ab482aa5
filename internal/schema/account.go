package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the account's holding in one symbol.
type Position struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	Mark          decimal.Decimal `json:"mark"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
}

// IsFlat reports whether no quantity is held.
func (p Position) IsFlat() bool {
	return p.Qty.IsZero()
}

// Exposure is the absolute mark-to-market notional.
func (p Position) Exposure() decimal.Decimal {
	return p.Qty.Mul(p.Mark).Abs()
}

// AccountSnapshot is a read-only view of the account at one instant.
type AccountSnapshot struct {
	Time          time.Time                  `json:"time"`
	Equity        decimal.Decimal            `json:"equity"`
	Cash          decimal.Decimal            `json:"cash"`
	Positions     []Position                 `json:"positions"`
	Exposure      map[string]decimal.Decimal `json:"exposure"`
	TotalExposure decimal.Decimal            `json:"totalExposure"`
}

// Position returns the position for symbol, or a flat one.
func (a AccountSnapshot) Position(symbol string) Position {
	for _, p := range a.Positions {
		if p.Symbol == symbol {
			return p
		}
	}
	return Position{Symbol: symbol}
}

// Bar is one OHLCV candle.
type Bar struct {
	Symbol string          `json:"symbol"`
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}
