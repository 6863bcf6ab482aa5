package og

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradecore/internal/chaos"
	"tradecore/internal/schema"
	"tradecore/pkg/exception"
)

var bpsDenominator = decimal.NewFromInt(10_000)

// FillModel haircuts fills by slippage and charges a fee, both in basis points.
type FillModel struct {
	SlippageBps float64 `json:"slippageBps" yaml:"slippage_bps" validate:"gte=0"`
	FeeBps      float64 `json:"feeBps" yaml:"fee_bps" validate:"gte=0"`
}

// Price moves ref against the taker: up for buys, down for sells.
func (m FillModel) Price(side schema.Side, ref decimal.Decimal) decimal.Decimal {
	slip := ref.Mul(decimal.NewFromFloat(m.SlippageBps)).Div(bpsDenominator)
	if side == schema.SideSell {
		return ref.Sub(slip)
	}
	return ref.Add(slip)
}

// Fee is the fee on qty at price.
func (m FillModel) Fee(qty, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).Mul(decimal.NewFromFloat(m.FeeBps)).Div(bpsDenominator)
}

// IDSource hands out venue order ids.
type IDSource interface {
	NextID() string
}

// SimConfig configures the simulated venue.
type SimConfig struct {
	Fill FillModel
	// IDs overrides random venue ids; replay passes a deterministic sequence.
	IDs IDSource
	// Chaos perturbs emitted events; nil disables it.
	Chaos *chaos.Engine[Event]
}

type simOrder struct {
	req     PlaceRequest
	venueID string
}

// SimGateway fills market orders at the next price it is advanced with.
// It serves replay (drained synchronously) and simulated trading (events
// channel).
type SimGateway struct {
	cfg SimConfig

	mu        sync.Mutex
	pending   []*simOrder
	queue     []Event
	inject    []error
	connected bool

	wake      chan struct{}
	out       chan Event
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewSimGateway creates a connected simulated gateway.
func NewSimGateway(cfg SimConfig) *SimGateway {
	// a lost terminal event would leave the order open forever
	cfg.Chaos.WithKeep(func(ev Event) bool { return ev.Status.Terminal() })
	return &SimGateway{
		cfg:       cfg,
		connected: true,
		wake:      make(chan struct{}, 1),
		out:       make(chan Event, 256),
		done:      make(chan struct{}),
	}
}

// PlaceOrder queues an order until the next Advance of its symbol.
func (g *SimGateway) PlaceOrder(ctx context.Context, req PlaceRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Transient("place order", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.inject) > 0 {
		err := g.inject[0]
		g.inject = g.inject[1:]
		return "", err
	}
	if !g.connected {
		return "", Transient("place order", exception.ErrGatewayDisconnected)
	}
	if !req.Qty.IsPositive() || req.Symbol == "" {
		return "", Fatal("place order", errors.Errorf("invalid order, symbol: %s, qty: %s", req.Symbol, req.Qty))
	}

	venueID := g.nextVenueID()
	g.pending = append(g.pending, &simOrder{req: req, venueID: venueID})
	g.emitLocked(Event{
		OrderID:      req.ClientOrderID,
		VenueOrderID: venueID,
		Status:       schema.OrderSubmitted,
	})
	return venueID, nil
}

// CancelOrder removes a resting order.
func (g *SimGateway) CancelOrder(ctx context.Context, venueOrderID string) error {
	if err := ctx.Err(); err != nil {
		return Transient("cancel order", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return Transient("cancel order", exception.ErrGatewayDisconnected)
	}
	for i, o := range g.pending {
		if o.venueID != venueOrderID {
			continue
		}
		g.pending = append(g.pending[:i], g.pending[i+1:]...)
		g.emitLocked(Event{
			OrderID:      o.req.ClientOrderID,
			VenueOrderID: o.venueID,
			Status:       schema.OrderCanceled,
			Reason:       "canceled by client",
		})
		return nil
	}
	return Fatal("cancel order", errors.Wrapf(exception.ErrUnknownOrder, "venue id: %s", venueOrderID))
}

// Advance fills resting orders of symbol at open, the first price seen
// after placement. Limit orders fill only when open is at or through the
// limit. It returns the number of fills.
func (g *SimGateway) Advance(symbol string, ts time.Time, open decimal.Decimal) int {
	if !open.IsPositive() {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	filled := 0
	kept := g.pending[:0]
	for _, o := range g.pending {
		if o.req.Symbol != symbol || !crosses(o.req, open) {
			kept = append(kept, o)
			continue
		}
		price := g.cfg.Fill.Price(o.req.Side, open)
		g.emitLocked(Event{
			OrderID:      o.req.ClientOrderID,
			VenueOrderID: o.venueID,
			Status:       schema.OrderFilled,
			FilledQty:    o.req.Qty,
			AvgPrice:     price,
			FeePaid:      g.cfg.Fill.Fee(o.req.Qty, price),
			Time:         ts,
		})
		filled++
	}
	for i := len(kept); i < len(g.pending); i++ {
		g.pending[i] = nil
	}
	g.pending = kept
	g.flushChaosLocked()
	return filled
}

// Resting is the number of unfilled orders.
func (g *SimGateway) Resting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Disconnect makes every call fail with a transient disconnect error.
func (g *SimGateway) Disconnect() {
	g.mu.Lock()
	g.connected = false
	g.mu.Unlock()
}

// Reconnect restores the link.
func (g *SimGateway) Reconnect() {
	g.mu.Lock()
	g.connected = true
	g.mu.Unlock()
}

func (g *SimGateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// Inject makes the next len(errs) placements fail with errs in order.
func (g *SimGateway) Inject(errs ...error) {
	g.mu.Lock()
	g.inject = append(g.inject, errs...)
	g.mu.Unlock()
}

// Drain returns queued events.
func (g *SimGateway) Drain() []Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.queue
	g.queue = nil
	return out
}

// Events starts forwarding queued events on first use.
func (g *SimGateway) Events() <-chan Event {
	g.startOnce.Do(func() {
		go g.forward()
	})
	return g.out
}

// Close stops the event forwarder.
func (g *SimGateway) Close() {
	g.closeOnce.Do(func() {
		close(g.done)
	})
}

func (g *SimGateway) forward() {
	defer close(g.out)
	for {
		select {
		case <-g.done:
			return
		case <-g.wake:
		}
		for _, ev := range g.Drain() {
			select {
			case g.out <- ev:
			case <-g.done:
				return
			}
		}
	}
}

func (g *SimGateway) emitLocked(ev Event) {
	g.queue = append(g.queue, g.cfg.Chaos.Process(ev)...)
	g.signalLocked()
}

func (g *SimGateway) flushChaosLocked() {
	if held := g.cfg.Chaos.Flush(); len(held) > 0 {
		g.queue = append(g.queue, held...)
		g.signalLocked()
	}
}

func (g *SimGateway) signalLocked() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *SimGateway) nextVenueID() string {
	if g.cfg.IDs != nil {
		return g.cfg.IDs.NextID()
	}
	return uuid.NewString()
}

func crosses(req PlaceRequest, open decimal.Decimal) bool {
	if req.Price.IsZero() {
		return true
	}
	if req.Side == schema.SideBuy {
		return open.LessThanOrEqual(req.Price)
	}
	return open.GreaterThanOrEqual(req.Price)
}
