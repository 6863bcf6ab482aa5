package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/clock"
	"tradecore/internal/obs"
	"tradecore/internal/schema"
)

const minuteWindow = time.Minute

// AccountView is the read-only account access the engine needs.
type AccountView interface {
	Snapshot() schema.AccountSnapshot
}

// IDSource hands out unique order ids.
type IDSource interface {
	NextID() string
}

// Journal receives append-only audit records.
type Journal interface {
	Record(kind schema.RecordKind, subject string, payload any)
}

type reservation struct {
	symbol    string
	perUnit   decimal.Decimal
	remaining decimal.Decimal
}

// pendingReduce is the unfilled part of an admitted reduce order.
type pendingReduce struct {
	symbol    string
	remaining decimal.Decimal
}

// Engine is the admission gate. All state below mu is the RiskState and is
// only mutated while holding it.
type Engine struct {
	account AccountView
	clock   clock.Clock
	ids     IDSource
	journal Journal
	metrics *obs.Metrics

	mu  sync.Mutex
	cfg Config

	admissions []time.Time
	day        time.Time
	dayCount   int

	peakEquity decimal.Decimal
	lastEquity decimal.Decimal

	breaker       breakerState
	failureStreak int
	failures      []time.Time
	downSince     time.Time

	reservations  map[string]reservation
	reservedBySym map[string]decimal.Decimal
	reservedTotal decimal.Decimal
	reducing      map[string]pendingReduce
	reducingBySym map[string]decimal.Decimal
	symbolSeq     map[string]uint64

	listeners []func(Trigger)
}

// NewEngine creates an engine reading the account through account.
func NewEngine(cfg Config, account AccountView) *Engine {
	return &Engine{
		account:       account,
		clock:         clock.Real{},
		ids:           obs.NewSequence("ord", 0),
		cfg:           cfg,
		reservations:  make(map[string]reservation),
		reservedBySym: make(map[string]decimal.Decimal),
		reducing:      make(map[string]pendingReduce),
		reducingBySym: make(map[string]decimal.Decimal),
		symbolSeq:     make(map[string]uint64),
	}
}

// WithClock swaps the clock implementation.
func (e *Engine) WithClock(c clock.Clock) *Engine {
	if c != nil {
		e.clock = c
	}
	return e
}

// WithIDs swaps the order id source.
func (e *Engine) WithIDs(ids IDSource) *Engine {
	if ids != nil {
		e.ids = ids
	}
	return e
}

// WithJournal attaches the audit journal.
func (e *Engine) WithJournal(j Journal) *Engine {
	e.journal = j
	return e
}

// WithMetrics attaches metrics.
func (e *Engine) WithMetrics(m *obs.Metrics) *Engine {
	e.metrics = m
	return e
}

// OnTrigger registers a listener invoked after every breaker trip, outside
// the engine lock.
func (e *Engine) OnTrigger(fn func(Trigger)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// UpdateConfig swaps limits at runtime. Counters and reservations are kept.
func (e *Engine) UpdateConfig(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Config returns the active limits.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Evaluate admits and sizes a decision, or returns a *Rejection.
func (e *Engine) Evaluate(d schema.Decision) (schema.SizedOrder, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveRiskEval(time.Since(start)) }()

	order, rej, fired, listeners := e.evaluate(d)
	notify(listeners, fired)
	if rej != nil {
		e.metrics.IncRejection(rej.Reason.String())
		return schema.SizedOrder{}, rej
	}
	e.metrics.IncAdmission()
	return order, nil
}

func (e *Engine) evaluate(d schema.Decision) (schema.SizedOrder, *Rejection, []Trigger, []func(Trigger)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, rej, fired := e.evaluateLocked(d)
	return order, rej, fired, e.listeners
}

func (e *Engine) evaluateLocked(d schema.Decision) (schema.SizedOrder, *Rejection, []Trigger) {
	sig := d.Signal
	now := e.clock.Now()

	if err := sig.Validate(); err != nil {
		rej := reject(ReasonInvalidSignal, sig.Symbol, "signal", "%v", err)
		e.record(schema.RecordRejection, sig.Symbol, rej)
		return schema.SizedOrder{}, rej, nil
	}

	acct := e.account.Snapshot()
	fired := e.observeEquityLocked(now, acct.Equity)
	fired = append(fired, e.refreshLocked(now)...)

	if e.breaker.status == BreakerTriggered {
		rej := reject(ReasonCircuitBreakerOpen, sig.Symbol, e.breaker.reason, "trading halted until %s", e.breaker.cooldownUntil.Format(time.RFC3339))
		if e.breaker.latched {
			rej.Detail = "trading halted by kill switch"
		}
		e.record(schema.RecordRejection, sig.Symbol, rej)
		return schema.SizedOrder{}, rej, fired
	}

	e.admissions = pruneThrough(e.admissions, now.Add(-minuteWindow))
	if len(e.admissions) >= e.cfg.MaxTradesPerMinute {
		rej := reject(ReasonRateLimited, sig.Symbol, "max_trades_per_minute", "%d trades in the minute before %s", len(e.admissions), now.Format(time.RFC3339))
		e.record(schema.RecordRejection, sig.Symbol, rej)
		return schema.SizedOrder{}, rej, fired
	}
	if e.dayCount >= e.cfg.MaxTradesPerDay {
		rej := reject(ReasonRateLimited, sig.Symbol, "max_trades_per_day", "%d trades on %s", e.dayCount, e.day.Format(time.DateOnly))
		e.record(schema.RecordRejection, sig.Symbol, rej)
		return schema.SizedOrder{}, rej, fired
	}

	pos := acct.Position(sig.Symbol)
	intent := d.Intent
	if intent == schema.IntentReduce && schema.SideOf(pos.Qty) != sig.Side.Opposite() {
		intent = schema.IntentOpen
	}

	var qty, reserved decimal.Decimal
	if intent == schema.IntentReduce {
		// open reduce orders already claim part of the position
		pending := e.reducingBySym[sig.Symbol]
		qty = pos.Qty.Abs().Sub(pending)
		if sig.QtyHint.IsPositive() && sig.QtyHint.LessThan(qty) {
			qty = sig.QtyHint.Truncate(e.cfg.QtyPrecision)
		}
		if !qty.IsPositive() {
			rej := reject(ReasonSizingFailed, sig.Symbol, "position", "nothing left to reduce: position %s, pending reduce %s", pos.Qty.Abs(), pending)
			e.record(schema.RecordRejection, sig.Symbol, rej)
			return schema.SizedOrder{}, rej, fired
		}
	} else {
		var rej *Rejection
		qty, rej = e.sizeLocked(sig, acct.Equity)
		if rej == nil {
			rej = e.checkExposureLocked(sig, qty, acct)
		}
		if rej != nil {
			e.record(schema.RecordRejection, sig.Symbol, rej)
			return schema.SizedOrder{}, rej, fired
		}
		reserved = qty.Mul(sig.Entry)
	}

	e.admissions = append(e.admissions, now)
	e.dayCount++
	e.symbolSeq[sig.Symbol]++

	order := schema.SizedOrder{
		ID:         e.ids.NextID(),
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Qty:        qty,
		RefPrice:   sig.Entry,
		Intent:     intent,
		StrategyID: sig.StrategyID,
		Seq:        e.symbolSeq[sig.Symbol],
		Reserved:   reserved,
		AdmittedAt: now,
	}
	if reserved.IsPositive() {
		e.reservations[order.ID] = reservation{symbol: sig.Symbol, perUnit: sig.Entry, remaining: qty}
		e.reservedBySym[sig.Symbol] = e.reservedBySym[sig.Symbol].Add(reserved)
		e.reservedTotal = e.reservedTotal.Add(reserved)
	}
	if intent == schema.IntentReduce {
		e.reducing[order.ID] = pendingReduce{symbol: sig.Symbol, remaining: qty}
		e.reducingBySym[sig.Symbol] = e.reducingBySym[sig.Symbol].Add(qty)
	}
	e.record(schema.RecordDecision, order.ID, order)
	return order, nil, fired
}

// sizeLocked computes equity * risk_per_trade / |entry - stop|.
func (e *Engine) sizeLocked(sig schema.Signal, equity decimal.Decimal) (decimal.Decimal, *Rejection) {
	if !equity.IsPositive() {
		return decimal.Zero, reject(ReasonSizingFailed, sig.Symbol, "equity", "equity %s is not positive", equity)
	}
	riskAmount := equity.Mul(decimal.NewFromFloat(e.cfg.RiskPerTrade))
	if e.cfg.ScaleByConfidence {
		riskAmount = riskAmount.Mul(decimal.NewFromFloat(sig.Confidence))
	}
	qty := riskAmount.Div(sig.StopDistance()).Truncate(e.cfg.QtyPrecision)
	if sig.QtyHint.IsPositive() && sig.QtyHint.LessThan(qty) {
		qty = sig.QtyHint.Truncate(e.cfg.QtyPrecision)
	}
	if !qty.IsPositive() {
		return decimal.Zero, reject(ReasonSizingFailed, sig.Symbol, "risk_per_trade", "risk amount %s over stop distance %s rounds to zero", riskAmount, sig.StopDistance())
	}
	return qty, nil
}

// checkExposureLocked projects exposure including live reservations.
func (e *Engine) checkExposureLocked(sig schema.Signal, qty decimal.Decimal, acct schema.AccountSnapshot) *Rejection {
	notional := qty.Mul(sig.Entry)

	symLimit := acct.Equity.Mul(decimal.NewFromFloat(e.cfg.MaxPositionExposurePct))
	symProjected := acct.Exposure[sig.Symbol].Add(e.reservedBySym[sig.Symbol]).Add(notional)
	if symProjected.GreaterThan(symLimit) {
		return reject(ReasonExposureLimitExceeded, sig.Symbol, "max_position_exposure_pct",
			"projected %s exceeds %s", symProjected.StringFixed(2), symLimit.StringFixed(2))
	}

	totalLimit := acct.Equity.Mul(decimal.NewFromFloat(e.cfg.MaxTotalExposurePct))
	totalProjected := acct.TotalExposure.Add(e.reservedTotal).Add(notional)
	if totalProjected.GreaterThan(totalLimit) {
		return reject(ReasonExposureLimitExceeded, sig.Symbol, "max_total_exposure_pct",
			"projected %s exceeds %s", totalProjected.StringFixed(2), totalLimit.StringFixed(2))
	}
	return nil
}

// Settle consumes the reservation or pending reduce of orderID by a filled
// quantity.
func (e *Engine) Settle(orderID string, filled decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !filled.IsPositive() {
		return
	}
	e.settleReduceLocked(orderID, filled)
	res, ok := e.reservations[orderID]
	if !ok {
		return
	}
	used := decimal.Min(filled, res.remaining)
	e.unreserveLocked(res.symbol, used.Mul(res.perUnit))
	res.remaining = res.remaining.Sub(used)
	if res.remaining.IsPositive() {
		e.reservations[orderID] = res
		return
	}
	delete(e.reservations, orderID)
}

// Release drops whatever is left of the reservation or pending reduce of
// orderID.
func (e *Engine) Release(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if red, ok := e.reducing[orderID]; ok {
		e.settleReduceLocked(orderID, red.remaining)
	}
	res, ok := e.reservations[orderID]
	if !ok {
		return
	}
	e.unreserveLocked(res.symbol, res.remaining.Mul(res.perUnit))
	delete(e.reservations, orderID)
}

func (e *Engine) unreserveLocked(symbol string, amount decimal.Decimal) {
	left := e.reservedBySym[symbol].Sub(amount)
	if !left.IsPositive() {
		delete(e.reservedBySym, symbol)
	} else {
		e.reservedBySym[symbol] = left
	}
	e.reservedTotal = e.reservedTotal.Sub(amount)
	if e.reservedTotal.IsNegative() {
		e.reservedTotal = decimal.Zero
	}
}

func (e *Engine) settleReduceLocked(orderID string, filled decimal.Decimal) {
	red, ok := e.reducing[orderID]
	if !ok {
		return
	}
	used := decimal.Min(filled, red.remaining)
	red.remaining = red.remaining.Sub(used)
	if red.remaining.IsPositive() {
		e.reducing[orderID] = red
	} else {
		delete(e.reducing, orderID)
	}
	left := e.reducingBySym[red.symbol].Sub(used)
	if left.IsPositive() {
		e.reducingBySym[red.symbol] = left
	} else {
		delete(e.reducingBySym, red.symbol)
	}
}

// pruneThrough drops timestamps at or before cutoff, keeping (cutoff, now].
func pruneThrough(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

func (e *Engine) record(kind schema.RecordKind, subject string, payload any) {
	if e.journal == nil {
		return
	}
	e.journal.Record(kind, subject, payload)
}
