package schema

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Signal is a strategy's proposed trade. It is never mutated after creation.
type Signal struct {
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Entry      decimal.Decimal `json:"entry"`
	StopLoss   decimal.Decimal `json:"stopLoss"`
	TakeProfit decimal.Decimal `json:"takeProfit"`
	Confidence float64         `json:"confidence"`
	StrategyID string          `json:"strategyId"`
	Reason     string          `json:"reason,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`

	// QtyHint caps the admitted quantity when non-zero.
	QtyHint decimal.Decimal `json:"qtyHint,omitzero"`
}

// Validate reports why a signal is malformed, or nil.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if s.Side != SideBuy && s.Side != SideSell {
		return fmt.Errorf("unknown side")
	}
	if !s.Entry.IsPositive() || !s.StopLoss.IsPositive() || !s.TakeProfit.IsPositive() {
		return fmt.Errorf("entry, stop and target must be positive")
	}
	if math.IsNaN(s.Confidence) || math.IsInf(s.Confidence, 0) || s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence %v out of [0,1]", s.Confidence)
	}
	if s.QtyHint.IsNegative() {
		return fmt.Errorf("negative quantity hint")
	}
	switch s.Side {
	case SideBuy:
		if !(s.StopLoss.LessThan(s.Entry) && s.Entry.LessThan(s.TakeProfit)) {
			return fmt.Errorf("long requires stop %s < entry %s < target %s", s.StopLoss, s.Entry, s.TakeProfit)
		}
	case SideSell:
		if !(s.TakeProfit.LessThan(s.Entry) && s.Entry.LessThan(s.StopLoss)) {
			return fmt.Errorf("short requires target %s < entry %s < stop %s", s.TakeProfit, s.Entry, s.StopLoss)
		}
	}
	return nil
}

// StopDistance is |entry - stop|.
func (s Signal) StopDistance() decimal.Decimal {
	return s.Entry.Sub(s.StopLoss).Abs()
}

// Intent tells the risk engine whether a decision opens or reduces exposure.
type Intent uint8

const (
	IntentOpen Intent = iota
	IntentReduce
)

func (i Intent) String() string {
	if i == IntentReduce {
		return "reduce"
	}
	return "open"
}

func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Intent) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "open":
		*i = IntentOpen
	case "reduce":
		*i = IntentReduce
	default:
		return fmt.Errorf("unknown intent: %q", b)
	}
	return nil
}

// Decision is a resolved per-symbol signal forwarded by the aggregator.
type Decision struct {
	Signal Signal `json:"signal"`
	Intent Intent `json:"intent"`
	Seq    uint64 `json:"seq"`
}
