package og

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/schema"
	"tradecore/pkg/exception"
)

// PlaceRequest is one order placement. A zero Price means market.
type PlaceRequest struct {
	ClientOrderID string          `json:"clientOrderId"`
	Symbol        string          `json:"symbol"`
	Side          schema.Side     `json:"side"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
}

// Event is an order update reported by a venue. FilledQty and FeePaid are
// cumulative for the order, which makes duplicates harmless.
type Event struct {
	OrderID      string             `json:"orderId"`
	VenueOrderID string             `json:"venueOrderId"`
	Status       schema.OrderStatus `json:"status"`
	FilledQty    decimal.Decimal    `json:"filledQty"`
	AvgPrice     decimal.Decimal    `json:"avgPrice"`
	FeePaid      decimal.Decimal    `json:"feePaid"`
	Reason       string             `json:"reason,omitempty"`
	Time         time.Time          `json:"time"`
}

// Gateway is the venue-agnostic order gateway capability.
type Gateway interface {
	PlaceOrder(ctx context.Context, req PlaceRequest) (venueOrderID string, err error)
	CancelOrder(ctx context.Context, venueOrderID string) error
	Events() <-chan Event
}

// Drainer is implemented by gateways that can hand over queued events
// synchronously. Replay uses it instead of Events.
type Drainer interface {
	Drain() []Event
}

// ConnectivityReporter is implemented by gateways that know their link state.
type ConnectivityReporter interface {
	Connected() bool
}

// ErrorClass tells the router whether a failure may be retried.
type ErrorClass uint8

const (
	ClassNone ErrorClass = iota
	ClassTransient
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "none"
	}
}

// Error is a classified gateway failure.
type Error struct {
	Class ErrorClass
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Class.String() + " gateway failure"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable.
func Transient(op string, err error) error {
	if err == nil {
		err = exception.ErrGatewayTransient
	}
	return &Error{Class: ClassTransient, Op: op, Err: err}
}

// Fatal wraps err as not retryable.
func Fatal(op string, err error) error {
	if err == nil {
		err = exception.ErrGatewayFatal
	}
	return &Error{Class: ClassFatal, Op: op, Err: err}
}

// Classify maps an error from a gateway call to its retry class.
// Timeouts and network errors are transient, anything unclassified too.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassTransient
}
