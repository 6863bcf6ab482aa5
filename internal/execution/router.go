package execution

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"go.uber.org/multierr"

	"tradecore/internal/clock"
	"tradecore/internal/obs"
	"tradecore/internal/og"
	"tradecore/internal/schema"
	"tradecore/internal/state"
	"tradecore/pkg/exception"
)

const flattenStrategyID = "flatten"

// Risk is the slice of the risk engine the router reports to.
type Risk interface {
	Settle(orderID string, filled decimal.Decimal)
	Release(orderID string)
	RecordSubmitFailure(fatal bool, cause string)
	RecordSubmitSuccess()
	ReportConnectivity(ok bool)
	OnEquity(equity decimal.Decimal)
}

// Journal receives append-only audit records.
type Journal interface {
	Record(kind schema.RecordKind, subject string, payload any)
}

// IDSource hands out ids for router-originated orders.
type IDSource interface {
	NextID() string
}

// Anomaly is journaled for events that could not be reconciled.
type Anomaly struct {
	Kind   string   `json:"kind"`
	Event  og.Event `json:"event"`
	Detail string   `json:"detail"`
}

// Router owns the order book and the account ledger. Every mutation of
// either happens under mu; gateway calls never do.
type Router struct {
	cfg     Config
	gw      og.Gateway
	ledger  *state.Ledger
	risk    Risk
	journal Journal
	metrics *obs.Metrics
	clock   clock.Clock
	sleeper clock.Sleeper
	ids     IDSource

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	book     *og.StateMachine
	handles  map[string]*Handle
	lanes    map[string]*lane
	inflight map[string]bool
	cancelRq map[string]bool
	closed   bool

	fillListeners []func(schema.Fill, schema.Position)
}

// NewRouter wires a router around gw and ledger.
func NewRouter(cfg Config, gw og.Gateway, ledger *state.Ledger, risk Risk) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		cfg:      cfg.withDefaults(),
		gw:       gw,
		ledger:   ledger,
		risk:     risk,
		clock:    clock.Real{},
		sleeper:  clock.Real{},
		ids:      obs.NewSequence("flat", 0),
		baseCtx:  ctx,
		cancel:   cancel,
		book:     og.NewStateMachine(),
		handles:  make(map[string]*Handle),
		lanes:    make(map[string]*lane),
		inflight: make(map[string]bool),
		cancelRq: make(map[string]bool),
	}
}

// WithClock swaps the clock and the retry sleeper.
func (r *Router) WithClock(c clock.Clock, s clock.Sleeper) *Router {
	if c != nil {
		r.clock = c
	}
	if s != nil {
		r.sleeper = s
	}
	return r
}

func (r *Router) WithJournal(j Journal) *Router {
	r.journal = j
	return r
}

func (r *Router) WithMetrics(m *obs.Metrics) *Router {
	r.metrics = m
	return r
}

// WithIDs sets the id source for flatten orders.
func (r *Router) WithIDs(ids IDSource) *Router {
	if ids != nil {
		r.ids = ids
	}
	return r
}

// OnFill registers a listener called after each applied fill, outside the
// router lock. Register before routing starts.
func (r *Router) OnFill(fn func(schema.Fill, schema.Position)) {
	if fn != nil {
		r.fillListeners = append(r.fillListeners, fn)
	}
}

// Submit registers the order as Pending and dispatches it on the symbol's
// lane. Synchronous routers place it before returning.
func (r *Router) Submit(ctx context.Context, sized schema.SizedOrder) (*Handle, error) {
	now := r.clock.Now()
	order := schema.Order{
		ID:         sized.ID,
		Symbol:     sized.Symbol,
		Side:       sized.Side,
		Qty:        sized.Qty,
		RefPrice:   sized.RefPrice,
		StrategyID: sized.StrategyID,
		Status:     schema.OrderPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.risk.Release(sized.ID)
		return nil, exception.ErrRouterClosed
	}
	if err := r.book.Register(order); err != nil {
		// a registered duplicate still owns the reservation under this id
		_, owned := r.book.Order(sized.ID)
		r.mu.Unlock()
		if !owned {
			r.risk.Release(sized.ID)
		}
		return nil, err
	}
	h := newHandle(order)
	r.handles[order.ID] = h
	r.recordOrder(order)
	if !r.cfg.Synchronous {
		r.laneLocked(order.Symbol).push(order.ID)
	}
	r.mu.Unlock()

	if r.cfg.Synchronous {
		r.place(ctx, order.ID)
	}
	return h, nil
}

func (r *Router) laneLocked(symbol string) *lane {
	l, ok := r.lanes[symbol]
	if ok {
		return l
	}
	l = newLane()
	r.lanes[symbol] = l
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		l.run(r.baseCtx, r.place)
	}()
	return l
}

// place sends one order with bounded retries on transient failures.
func (r *Router) place(ctx context.Context, id string) {
	r.mu.Lock()
	order, ok := r.book.Order(id)
	if !ok || order.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	r.inflight[id] = true
	r.mu.Unlock()

	req := og.PlaceRequest{
		ClientOrderID: order.ID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Qty:           order.Qty,
		Price:         order.Price,
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		r.mu.Lock()
		r.book.MarkAttempt(id)
		canceled := r.cancelRq[id]
		r.mu.Unlock()
		if canceled {
			r.finish(id, schema.OrderCanceled, "canceled before placement", og.ClassNone)
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		venueID, err := r.gw.PlaceOrder(callCtx, req)
		cancel()
		if err == nil {
			r.submitted(ctx, id, venueID)
			return
		}

		lastErr = err
		class := og.Classify(err)
		r.reportLink()
		if ctx.Err() != nil {
			r.finish(id, schema.OrderRejected, "router stopped: "+err.Error(), og.ClassNone)
			return
		}
		if class != og.ClassTransient || attempt == r.cfg.MaxAttempts {
			break
		}
		wait := r.cfg.Backoff.Next(attempt)
		r.metrics.IncGatewayRetry()
		logs.Errorf("place order failed, retrying, id: %s, attempt: %d, wait: %s, err: %+v", id, attempt, wait, err)
		if err := r.sleeper.Sleep(ctx, wait); err != nil {
			r.finish(id, schema.OrderRejected, "router stopped", og.ClassNone)
			return
		}
	}

	class := og.Classify(lastErr)
	logs.Errorf("place order rejected, id: %s, class: %s, err: %+v", id, class, lastErr)
	r.finish(id, schema.OrderRejected, lastErr.Error(), class)
}

func (r *Router) submitted(ctx context.Context, id, venueID string) {
	r.mu.Lock()
	delete(r.inflight, id)
	cancelAfter := r.cancelRq[id]
	delete(r.cancelRq, id)
	up, err := r.book.MarkSubmitted(id, venueID, r.clock.Now())
	if err == nil && up.Changed {
		r.recordOrder(up.Order)
		if h, ok := r.handles[id]; ok {
			h.update(up.Order)
		}
	}
	r.mu.Unlock()

	r.risk.RecordSubmitSuccess()
	r.reportLink()
	if cancelAfter {
		if err := r.cancelAtVenue(ctx, venueID); err != nil {
			logs.Errorf("cancel after placement failed, id: %s, err: %+v", id, err)
		}
	}
}

// finish moves an order to a local terminal state and releases its
// reservation in the same critical section.
func (r *Router) finish(id string, status schema.OrderStatus, reason string, class og.ErrorClass) {
	r.mu.Lock()
	delete(r.inflight, id)
	delete(r.cancelRq, id)
	up, err := r.book.Terminate(id, status, reason, r.clock.Now())
	if err == nil {
		r.terminalLocked(up.Order)
	}
	r.mu.Unlock()

	if class == og.ClassNone {
		return
	}
	r.metrics.IncGatewayFailure(class.String())
	r.risk.RecordSubmitFailure(class == og.ClassFatal, reason)
}

func (r *Router) terminalLocked(o schema.Order) {
	r.risk.Release(o.ID)
	r.recordOrder(o)
	if h, ok := r.handles[o.ID]; ok {
		h.update(o)
		delete(r.handles, o.ID)
	}
	r.metrics.ObserveOrderFlow(r.clock.Now().Sub(o.CreatedAt))
}

// Cancel cancels an open order. Orders not yet sent are canceled locally;
// an order being sent is canceled at the venue once placement returns.
func (r *Router) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	order, ok := r.book.Order(id)
	if !ok {
		r.mu.Unlock()
		return errors.Wrapf(exception.ErrUnknownOrder, "id: %s", id)
	}
	if order.Status.Terminal() {
		r.mu.Unlock()
		return errors.Wrapf(exception.ErrOrderTerminal, "id: %s, status: %s", id, order.Status)
	}
	if order.VenueID == "" {
		if r.inflight[id] {
			r.cancelRq[id] = true
			r.mu.Unlock()
			return nil
		}
		up, err := r.book.Terminate(id, schema.OrderCanceled, "canceled before placement", r.clock.Now())
		if err == nil {
			r.terminalLocked(up.Order)
		}
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	return r.cancelAtVenue(ctx, order.VenueID)
}

func (r *Router) cancelAtVenue(ctx context.Context, venueID string) error {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	if err := r.gw.CancelOrder(callCtx, venueID); err != nil {
		return errors.Wrapf(err, "cancel venue order %s", venueID)
	}
	return nil
}

// CancelAll attempts to cancel every open order once. Failures are combined.
func (r *Router) CancelAll(ctx context.Context) error {
	var err error
	for _, o := range r.OpenOrders() {
		if cerr := r.Cancel(ctx, o.ID); cerr != nil {
			logs.Errorf("cancel order failed, id: %s, err: %+v", o.ID, cerr)
			err = multierr.Append(err, cerr)
		}
	}
	return err
}

// Flatten submits market orders closing every open position. They bypass
// admission since they only reduce exposure.
func (r *Router) Flatten(ctx context.Context) error {
	var err error
	for _, pos := range r.ledger.Snapshot().Positions {
		if pos.IsFlat() {
			continue
		}
		sized := schema.SizedOrder{
			ID:         r.ids.NextID(),
			Symbol:     pos.Symbol,
			Side:       schema.SideOf(pos.Qty).Opposite(),
			Qty:        pos.Qty.Abs(),
			RefPrice:   pos.Mark,
			Intent:     schema.IntentReduce,
			StrategyID: flattenStrategyID,
			AdmittedAt: r.clock.Now(),
		}
		if _, serr := r.Submit(ctx, sized); serr != nil {
			err = multierr.Append(err, errors.Wrapf(serr, "flatten %s", pos.Symbol))
		}
	}
	return err
}

// HandleEvent reconciles one gateway event against the book. Fills update
// the ledger and settle reservations before the handle completes.
func (r *Router) HandleEvent(ev og.Event) error {
	if ev.Time.IsZero() {
		ev.Time = r.clock.Now()
	}

	r.mu.Lock()
	up, err := r.book.Apply(ev)
	if err != nil {
		r.mu.Unlock()
		r.mismatch(ev, err)
		return err
	}

	var (
		pos    schema.Position
		equity decimal.Decimal
		filled bool
	)
	if up.Fill != nil {
		p, _, ferr := r.ledger.ApplyFill(*up.Fill)
		if ferr != nil {
			logs.Errorf("apply fill failed, order: %s, err: %+v", up.Fill.OrderID, ferr)
		} else {
			pos, equity, filled = p, r.ledger.Equity(), true
			r.risk.Settle(up.Fill.OrderID, up.Fill.Qty)
			r.record(schema.RecordFill, up.Fill.OrderID, *up.Fill)
			r.record(schema.RecordPosition, pos.Symbol, pos)
		}
	}
	if up.Order.Status.Terminal() && !up.Prev.Terminal() {
		r.terminalLocked(up.Order)
	} else if up.Changed {
		r.recordOrder(up.Order)
		if h, ok := r.handles[up.Order.ID]; ok {
			h.update(up.Order)
		}
	}
	r.mu.Unlock()

	if filled {
		r.risk.OnEquity(equity)
		r.metrics.SetEquity(equity.InexactFloat64())
		for _, fn := range r.fillListeners {
			fn(*up.Fill, pos)
		}
	}
	return nil
}

func (r *Router) mismatch(ev og.Event, err error) {
	r.metrics.IncReconciliationMismatch()
	logs.Errorf("reconciliation mismatch, order: %s, venue order: %s, status: %s, err: %+v", ev.OrderID, ev.VenueOrderID, ev.Status, err)
	r.record(schema.RecordAnomaly, ev.OrderID, Anomaly{Kind: "reconciliation_mismatch", Event: ev, Detail: err.Error()})
	if r.cfg.EscalateMismatches {
		r.risk.RecordSubmitFailure(false, "reconciliation mismatch")
	}
}

// Run consumes gateway events until ctx is done or the stream closes.
func (r *Router) Run(ctx context.Context) error {
	events := r.gw.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			_ = r.HandleEvent(ev)
		}
	}
}

// Pump applies every event the gateway has queued, synchronously. It is a
// no-op for gateways without a Drainer.
func (r *Router) Pump() int {
	d, ok := r.gw.(og.Drainer)
	if !ok {
		return 0
	}
	n := 0
	for {
		events := d.Drain()
		if len(events) == 0 {
			return n
		}
		for _, ev := range events {
			_ = r.HandleEvent(ev)
			n++
		}
	}
}

// MonitorConnectivity reports the gateway link state to risk every interval.
func (r *Router) MonitorConnectivity(ctx context.Context, interval time.Duration) error {
	if _, ok := r.gw.(og.ConnectivityReporter); !ok {
		return nil
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.reportLink()
		}
	}
}

func (r *Router) reportLink() {
	if cr, ok := r.gw.(og.ConnectivityReporter); ok {
		r.risk.ReportConnectivity(cr.Connected())
	}
}

// OnMark re-marks a position and pushes the new equity to risk.
func (r *Router) OnMark(symbol string, price decimal.Decimal, ts time.Time) decimal.Decimal {
	r.mu.Lock()
	equity := r.ledger.Mark(symbol, price, ts)
	exposure := r.ledger.Snapshot().TotalExposure
	r.mu.Unlock()

	r.risk.OnEquity(equity)
	r.metrics.SetEquity(equity.InexactFloat64())
	r.metrics.SetExposure(exposure.InexactFloat64())
	return equity
}

// Snapshot is the read-only account view used by risk and the allocator.
func (r *Router) Snapshot() schema.AccountSnapshot {
	return r.ledger.Snapshot()
}

// Position returns the current position of symbol.
func (r *Router) Position(symbol string) schema.Position {
	return r.ledger.Position(symbol)
}

// Order returns the order with client id.
func (r *Router) Order(id string) (schema.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.book.Order(id)
}

// Orders returns every known order in creation order.
func (r *Router) Orders() []schema.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.book.All()
}

// OpenOrders returns the orders that are not terminal.
func (r *Router) OpenOrders() []schema.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.book.Open()
}

// Close stops the lanes and refuses new orders.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

func (r *Router) recordOrder(o schema.Order) {
	r.metrics.IncOrder(o.Status.String())
	r.record(schema.RecordOrder, o.ID, o)
}

func (r *Router) record(kind schema.RecordKind, subject string, payload any) {
	if r.journal == nil {
		return
	}
	r.journal.Record(kind, subject, payload)
}
