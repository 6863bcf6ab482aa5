package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the router-side lifecycle state of an order.
type OrderStatus uint8

const (
	OrderPending OrderStatus = iota
	OrderSubmitted
	OrderPartiallyFilled
	OrderFilled
	OrderRejected
	OrderCanceled
)

var orderStatusNames = [...]string{
	OrderPending:         "pending",
	OrderSubmitted:       "submitted",
	OrderPartiallyFilled: "partially_filled",
	OrderFilled:          "filled",
	OrderRejected:        "rejected",
	OrderCanceled:        "canceled",
}

func (s OrderStatus) String() string {
	if int(s) < len(orderStatusNames) {
		return orderStatusNames[s]
	}
	return "unknown"
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(b []byte) error {
	for i, name := range orderStatusNames {
		if name == string(b) {
			*s = OrderStatus(i)
			return nil
		}
	}
	*s = OrderPending
	return nil
}

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderRejected, OrderCanceled:
		return true
	default:
		return false
	}
}

// Open reports whether the order may still be canceled.
func (s OrderStatus) Open() bool {
	return !s.Terminal()
}

// SizedOrder is an admitted, sized signal ready for routing.
type SizedOrder struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Qty        decimal.Decimal `json:"qty"`
	RefPrice   decimal.Decimal `json:"refPrice"`
	Intent     Intent          `json:"intent"`
	StrategyID string          `json:"strategyId"`
	Seq        uint64          `json:"seq"`
	Reserved   decimal.Decimal `json:"reserved"`
	AdmittedAt time.Time       `json:"admittedAt"`
}

// Order is the router's record of one order.
type Order struct {
	ID         string          `json:"id"`
	VenueID    string          `json:"venueId,omitempty"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	RefPrice   decimal.Decimal `json:"refPrice"`
	FilledQty  decimal.Decimal `json:"filledQty"`
	AvgPrice   decimal.Decimal `json:"avgPrice"`
	Fee        decimal.Decimal `json:"fee"`
	Slippage   decimal.Decimal `json:"slippage"`
	Status     OrderStatus     `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	StrategyID string          `json:"strategyId,omitempty"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// IsMarket reports whether the order carries no limit price.
func (o Order) IsMarket() bool {
	return o.Price.IsZero()
}

// Remaining is the unfilled quantity.
func (o Order) Remaining() decimal.Decimal {
	return o.Qty.Sub(o.FilledQty)
}

// Fill is one incremental execution applied to the account.
type Fill struct {
	OrderID string          `json:"orderId"`
	Symbol  string          `json:"symbol"`
	Side    Side            `json:"side"`
	Qty     decimal.Decimal `json:"qty"`
	Price   decimal.Decimal `json:"price"`
	Fee     decimal.Decimal `json:"fee"`
	Time    time.Time       `json:"time"`
}
