package og

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradecore/internal/schema"
	"tradecore/pkg/exception"
)

// Update is the outcome of applying one event to the book.
type Update struct {
	Order   schema.Order
	Prev    schema.OrderStatus
	Fill    *schema.Fill
	Changed bool
}

// StateMachine keeps the lifecycle of every order by client order id.
// It is not locked; the router serializes access.
type StateMachine struct {
	orders  map[string]*schema.Order
	byVenue map[string]string
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		orders:  make(map[string]*schema.Order),
		byVenue: make(map[string]string),
	}
}

// Order returns a copy of the order with client id.
func (m *StateMachine) Order(id string) (schema.Order, bool) {
	o, ok := m.orders[id]
	if !ok {
		return schema.Order{}, false
	}
	return *o, true
}

// Resolve finds the client id of an event, falling back to the venue id.
func (m *StateMachine) Resolve(ev Event) (string, bool) {
	if ev.OrderID != "" {
		if _, ok := m.orders[ev.OrderID]; ok {
			return ev.OrderID, true
		}
	}
	if ev.VenueOrderID != "" {
		id, ok := m.byVenue[ev.VenueOrderID]
		return id, ok
	}
	return "", false
}

// Register adds a Pending order.
func (m *StateMachine) Register(o schema.Order) error {
	if o.ID == "" {
		return errors.Wrap(exception.ErrUnknownOrder, "empty order id")
	}
	if _, ok := m.orders[o.ID]; ok {
		return errors.Errorf("order %s already registered", o.ID)
	}
	o.Status = schema.OrderPending
	m.orders[o.ID] = &o
	return nil
}

// MarkSubmitted records the venue id after a successful placement. Events
// may have advanced the order already; the status only moves forward.
func (m *StateMachine) MarkSubmitted(id, venueID string, now time.Time) (Update, error) {
	o, ok := m.orders[id]
	if !ok {
		return Update{}, errors.Wrapf(exception.ErrUnknownOrder, "id: %s", id)
	}
	up := Update{Prev: o.Status}
	if venueID != "" && o.VenueID == "" {
		o.VenueID = venueID
		m.byVenue[venueID] = id
	}
	if o.Status == schema.OrderPending {
		o.Status = schema.OrderSubmitted
		o.UpdatedAt = now
		up.Changed = true
	}
	up.Order = *o
	return up, nil
}

// MarkAttempt counts a placement attempt.
func (m *StateMachine) MarkAttempt(id string) {
	if o, ok := m.orders[id]; ok {
		o.Attempts++
	}
}

// Terminate moves an open order to Rejected or Canceled locally.
func (m *StateMachine) Terminate(id string, status schema.OrderStatus, reason string, now time.Time) (Update, error) {
	o, ok := m.orders[id]
	if !ok {
		return Update{}, errors.Wrapf(exception.ErrUnknownOrder, "id: %s", id)
	}
	if o.Status.Terminal() {
		return Update{Order: *o, Prev: o.Status}, errors.Wrapf(exception.ErrOrderTerminal, "id: %s, status: %s", id, o.Status)
	}
	up := Update{Prev: o.Status, Changed: true}
	o.Status = status
	o.Reason = reason
	o.UpdatedAt = now
	up.Order = *o
	return up, nil
}

// Apply reconciles a venue event. Unknown or terminal orders and
// over-fills return ErrReconciliationMismatch and leave the book untouched.
// Stale events with a lower cumulative fill are ignored.
func (m *StateMachine) Apply(ev Event) (Update, error) {
	id, ok := m.Resolve(ev)
	if !ok {
		return Update{}, errors.Wrapf(exception.ErrReconciliationMismatch, "unknown order, id: %s, venue id: %s", ev.OrderID, ev.VenueOrderID)
	}
	o := m.orders[id]
	up := Update{Prev: o.Status}
	if o.Status.Terminal() {
		up.Order = *o
		return up, errors.Wrapf(exception.ErrReconciliationMismatch, "order %s already %s, event: %s", id, o.Status, ev.Status)
	}
	if ev.FilledQty.GreaterThan(o.Qty) {
		up.Order = *o
		return up, errors.Wrapf(exception.ErrReconciliationMismatch, "order %s over-filled, qty: %s, filled: %s", id, o.Qty, ev.FilledQty)
	}

	if ev.VenueOrderID != "" && o.VenueID == "" {
		o.VenueID = ev.VenueOrderID
		m.byVenue[ev.VenueOrderID] = id
	}

	if delta := ev.FilledQty.Sub(o.FilledQty); delta.IsPositive() {
		price := fillPrice(*o, ev, delta)
		fee := ev.FeePaid.Sub(o.Fee)
		if fee.IsNegative() {
			fee = decimal.Zero
		}
		o.FilledQty = ev.FilledQty
		o.AvgPrice = ev.AvgPrice
		o.Fee = o.Fee.Add(fee)
		if o.RefPrice.IsPositive() {
			o.Slippage = o.AvgPrice.Sub(o.RefPrice).Mul(o.Side.Sign())
		}
		up.Fill = &schema.Fill{
			OrderID: id,
			Symbol:  o.Symbol,
			Side:    o.Side,
			Qty:     delta,
			Price:   price,
			Fee:     fee,
			Time:    ev.Time,
		}
		up.Changed = true
	}

	next := nextStatus(*o, ev.Status)
	if next != o.Status {
		o.Status = next
		up.Changed = true
		if next == schema.OrderRejected || next == schema.OrderCanceled {
			o.Reason = ev.Reason
		}
	}
	if up.Changed {
		o.UpdatedAt = ev.Time
	}
	up.Order = *o
	return up, nil
}

// Open returns open orders ordered by creation.
func (m *StateMachine) Open() []schema.Order {
	out := make([]schema.Order, 0)
	for _, o := range m.orders {
		if o.Status.Open() {
			out = append(out, *o)
		}
	}
	sortOrders(out)
	return out
}

// All returns every order ordered by creation.
func (m *StateMachine) All() []schema.Order {
	out := make([]schema.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	sortOrders(out)
	return out
}

// Prune drops terminal orders updated before cutoff.
func (m *StateMachine) Prune(cutoff time.Time) int {
	n := 0
	for id, o := range m.orders {
		if o.Status.Terminal() && o.UpdatedAt.Before(cutoff) {
			delete(m.orders, id)
			if o.VenueID != "" {
				delete(m.byVenue, o.VenueID)
			}
			n++
		}
	}
	return n
}

// fillPrice derives the price of the increment from the cumulative averages.
func fillPrice(o schema.Order, ev Event, delta decimal.Decimal) decimal.Decimal {
	if o.FilledQty.IsZero() || !ev.AvgPrice.IsPositive() {
		return ev.AvgPrice
	}
	notional := ev.AvgPrice.Mul(ev.FilledQty).Sub(o.AvgPrice.Mul(o.FilledQty))
	price := notional.Div(delta)
	if !price.IsPositive() {
		return ev.AvgPrice
	}
	return price
}

// nextStatus moves forward only. A full cumulative fill is Filled whatever
// the reported status says.
func nextStatus(o schema.Order, reported schema.OrderStatus) schema.OrderStatus {
	if o.Qty.IsPositive() && o.FilledQty.GreaterThanOrEqual(o.Qty) {
		return schema.OrderFilled
	}
	switch reported {
	case schema.OrderFilled:
		if o.FilledQty.IsPositive() {
			return schema.OrderFilled
		}
		return o.Status
	case schema.OrderRejected:
		if o.FilledQty.IsPositive() {
			return schema.OrderCanceled
		}
		return schema.OrderRejected
	case schema.OrderCanceled:
		return schema.OrderCanceled
	}
	if o.FilledQty.IsPositive() {
		return schema.OrderPartiallyFilled
	}
	if reported == schema.OrderSubmitted && o.Status == schema.OrderPending {
		return schema.OrderSubmitted
	}
	return o.Status
}

func sortOrders(orders []schema.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}
