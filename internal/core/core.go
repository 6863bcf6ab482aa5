/*
Core wires the trading control path.

# Flow
  - strategies submit signals to the aggregator
  - the aggregator coalesces them per symbol and dispatches one decision at a time
  - the risk engine admits and sizes each decision
  - the router places admitted orders on the gateway and reconciles its events into the ledger
  - the allocator and the stop monitor feed their own signals back into the aggregator

# Modes
  - replay: synchronous, driven bar by bar by Replay
  - simulated: SimGateway with its event stream
  - live: execution bridge
*/
package core

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"tradecore/internal/aggregator"
	"tradecore/internal/allocator"
	"tradecore/internal/clock"
	"tradecore/internal/execution"
	"tradecore/internal/journal"
	"tradecore/internal/obs"
	"tradecore/internal/og"
	"tradecore/internal/ops"
	"tradecore/internal/risk"
	"tradecore/internal/schema"
	"tradecore/internal/state"
)

// IDSource hands out order ids.
type IDSource interface {
	NextID() string
}

// Config is everything New needs besides the gateway.
type Config struct {
	Mode        schema.Mode
	InitialCash decimal.Decimal

	Risk       risk.Config
	Stops      risk.StopConfig
	Execution  execution.Config
	Aggregator aggregator.Config
	Allocator  allocator.Config

	// Ledger continues a recovered account; nil starts from InitialCash.
	Ledger  *state.Ledger
	Journal *journal.Journal
	Metrics *obs.Metrics
	Clock   clock.Clock
	Sleeper clock.Sleeper
	IDs     IDSource
	// FlattenIDs names orders the router creates on its own.
	FlattenIDs IDSource
}

// ConfigFrom maps a loaded config file.
func ConfigFrom(l ops.Loaded) Config {
	return Config{
		Mode:        l.Mode,
		InitialCash: l.InitialCash,
		Risk:        l.Risk,
		Stops:       l.Stops,
		Execution:   l.Execution,
		Aggregator:  l.Aggregator,
		Allocator:   l.Allocator,
	}
}

// Status is the control-plane view of the core.
type Status struct {
	Mode                    string                 `json:"mode"`
	CanTrade                bool                   `json:"canTrade"`
	CircuitBreakerTriggered bool                   `json:"circuitBreakerTriggered"`
	Breaker                 risk.Snapshot          `json:"breaker"`
	Account                 schema.AccountSnapshot `json:"account"`
	OpenOrders              int                    `json:"openOrders"`
	PendingSignals          int                    `json:"pendingSignals"`
	Target                  allocator.Target       `json:"target,omitempty"`
	JournalSeq              uint64                 `json:"journalSeq"`
	Performance             state.Report           `json:"performance"`
}

// Core owns one instance of every component.
type Core struct {
	mode    schema.Mode
	clock   clock.Clock
	gw      og.Gateway
	sim     *og.SimGateway
	ledger  *state.Ledger
	risk    *risk.Engine
	router  *execution.Router
	agg     *aggregator.Aggregator
	alloc   *allocator.Allocator
	stops   *risk.StopMonitor
	journal *journal.Journal
	metrics *obs.Metrics

	// dispatchMu keeps admission and submission of one decision together so
	// orders reach the router in admission order.
	dispatchMu sync.Mutex

	trigMu   sync.Mutex
	deferred []risk.Trigger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires the components around gw.
func New(cfg Config, gw og.Gateway) (*Core, error) {
	if cfg.Mode == schema.ModeUnknown {
		return nil, errors.New("core mode is unknown")
	}
	if gw == nil {
		return nil, errors.New("core gateway is nil")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = clock.Real{}
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = state.NewLedger(cfg.InitialCash)
	}

	replay := cfg.Mode == schema.ModeReplay
	execCfg := cfg.Execution
	execCfg.Synchronous = replay
	if replay {
		execCfg.Backoff.Jitter = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Core{
		mode:    cfg.Mode,
		clock:   cfg.Clock,
		gw:      gw,
		ledger:  ledger,
		stops:   risk.NewStopMonitor(cfg.Stops),
		journal: cfg.Journal,
		metrics: cfg.Metrics,
		baseCtx: ctx,
		cancel:  cancel,
	}
	c.sim, _ = gw.(*og.SimGateway)

	var j execution.Journal
	if cfg.Journal != nil {
		j = cfg.Journal
	}

	c.risk = risk.NewEngine(cfg.Risk, ledger).
		WithClock(cfg.Clock).
		WithIDs(cfg.IDs).
		WithMetrics(cfg.Metrics)
	if j != nil {
		c.risk.WithJournal(j)
	}
	c.risk.OnTrigger(c.onTrigger)

	c.router = execution.NewRouter(execCfg, gw, ledger, c.risk).
		WithClock(cfg.Clock, cfg.Sleeper).
		WithIDs(cfg.FlattenIDs).
		WithJournal(j).
		WithMetrics(cfg.Metrics)
	c.router.OnFill(func(_ schema.Fill, pos schema.Position) {
		if pos.IsFlat() {
			c.stops.Forget(pos.Symbol)
		}
	})

	c.agg = aggregator.NewAggregator(cfg.Aggregator, c.router, c.dispatch).
		WithJournal(j).
		WithMetrics(cfg.Metrics)

	if cfg.Allocator.Enabled {
		alloc, err := allocator.New(cfg.Allocator, c.router)
		if err != nil {
			cancel()
			return nil, err
		}
		c.alloc = alloc.WithClock(cfg.Clock).WithMetrics(cfg.Metrics)
	}

	logs.Infof("core ready, mode: %s, equity: %s, allocator: %t", cfg.Mode, ledger.Equity(), c.alloc != nil)
	return c, nil
}

// Submit hands a strategy signal to the aggregator.
func (c *Core) Submit(sig schema.Signal) error {
	defer c.flushJournal()
	return c.agg.Submit(sig)
}

// dispatch admits one decision and routes the sized order.
func (c *Core) dispatch(ctx context.Context, d schema.Decision) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	order, err := c.risk.Evaluate(d)
	if err != nil {
		var rej *risk.Rejection
		if stderrors.As(err, &rej) {
			logs.Infof("decision rejected, seq: %d, symbol: %s, reason: %s, limit: %s, detail: %s", d.Seq, rej.Symbol, rej.Reason, rej.Limit, rej.Detail)
			return
		}
		logs.Errorf("evaluate decision failed, seq: %d, symbol: %s, err: %+v", d.Seq, d.Signal.Symbol, err)
		return
	}
	if _, err := c.router.Submit(ctx, order); err != nil {
		logs.Errorf("route order failed, id: %s, symbol: %s, err: %+v", order.ID, order.Symbol, err)
		return
	}
	c.stops.Track(d.Signal, order)
}

// OnBar feeds one bar of market data: simulated fills at the open, then a
// mark at the close, allocator history and stop checks.
func (c *Core) OnBar(_ context.Context, bar schema.Bar) {
	if c.sim != nil {
		c.sim.Advance(bar.Symbol, bar.Time, bar.Open)
	}
	if c.mode == schema.ModeReplay {
		c.router.Pump()
	}
	c.OnMark(bar.Symbol, bar.Close, bar.Time)
	c.flushJournal()
}

// OnMark re-marks symbol at price.
func (c *Core) OnMark(symbol string, price decimal.Decimal, ts time.Time) {
	if !price.IsPositive() {
		return
	}
	c.router.OnMark(symbol, price, ts)
	if c.alloc != nil {
		c.alloc.Observe(symbol, price)
	}
	if sig, ok := c.stops.Check(c.router.Position(symbol), price, ts); ok {
		logs.Infof("exit triggered, symbol: %s, reason: %s, mark: %s", symbol, sig.Reason, price)
		if err := c.agg.Submit(sig); err != nil {
			logs.Errorf("submit exit signal failed, symbol: %s, err: %+v", symbol, err)
		}
	}
}

// Tick closes the aggregation window now and, in replay, applies the
// resulting gateway events and deferred breaker responses.
func (c *Core) Tick(ctx context.Context) int {
	n := len(c.agg.Flush(ctx))
	if c.mode != schema.ModeReplay {
		return n
	}
	c.router.Pump()
	for _, t := range c.takeDeferred() {
		c.respond(ctx, t)
	}
	c.router.Pump()
	c.flushJournal()
	return n
}

// Rebalance runs the allocator once.
func (c *Core) Rebalance() int {
	if c.alloc == nil {
		return 0
	}
	return c.alloc.RunOnce(c.Submit)
}

// TriggerKillSwitch halts new admissions before it returns. Open orders are
// canceled, and positions flattened when configured, afterwards.
func (c *Core) TriggerKillSwitch(reason string) risk.Trigger {
	logs.Errorf("kill switch triggered, reason: %s", reason)
	defer c.flushJournal()
	return c.risk.TriggerKillSwitch(reason)
}

// ResetCircuitBreaker reopens trading once the cooldown has elapsed.
func (c *Core) ResetCircuitBreaker() error {
	defer c.flushJournal()
	if err := c.risk.Reset(); err != nil {
		return err
	}
	logs.Info("circuit breaker reset")
	return nil
}

// flushJournal writes the records a synchronous journal holds back. It runs
// after the risk and router locks are released.
func (c *Core) flushJournal() {
	if c.mode == schema.ModeReplay {
		c.journal.Flush()
	}
}

// CanTrade reports whether admissions are open.
func (c *Core) CanTrade() bool {
	return c.risk.CanTrade()
}

// Status is a consistent-enough copy of every component's state.
func (c *Core) Status() Status {
	snap := c.risk.Snapshot()
	st := Status{
		Mode:                    c.mode.String(),
		CanTrade:                snap.CanTrade,
		CircuitBreakerTriggered: snap.Status == risk.BreakerTriggered,
		Breaker:                 snap,
		Account:                 c.router.Snapshot(),
		OpenOrders:              len(c.router.OpenOrders()),
		PendingSignals:          c.agg.Pending(),
		Performance:             c.ledger.Performance(),
	}
	if c.alloc != nil {
		st.Target = c.alloc.Target()
	}
	if c.journal != nil {
		st.JournalSeq = c.journal.Seq()
	}
	return st
}

// Orders returns every order the router knows.
func (c *Core) Orders() []schema.Order {
	return c.router.Orders()
}

// Cancel cancels one order.
func (c *Core) Cancel(ctx context.Context, id string) error {
	return c.router.Cancel(ctx, id)
}

// Ledger exposes the account ledger for checkpoints and reports.
func (c *Core) Ledger() *state.Ledger {
	return c.ledger
}

// Apply pushes a reloaded config into the running components.
func (c *Core) Apply(l ops.Loaded) {
	c.risk.UpdateConfig(l.Risk)
	if c.alloc != nil {
		if err := c.alloc.UpdateConfig(l.Allocator); err != nil {
			logs.Errorf("apply allocator config failed, err: %+v", err)
		}
	}
	logs.Infof("config applied, path: %s", l.Path)
}

// Run drives the asynchronous modes until ctx is done.
func (c *Core) Run(ctx context.Context) error {
	if c.mode == schema.ModeReplay {
		return errors.New("replay is driven by Replay")
	}
	eg, ctx := errgroup.WithContext(ctx)
	if r, ok := c.gw.(interface{ Run(context.Context) error }); ok {
		eg.Go(func() error { return r.Run(ctx) })
	}
	eg.Go(func() error { return c.router.Run(ctx) })
	eg.Go(func() error { return c.agg.Run(ctx) })
	eg.Go(func() error { return c.router.MonitorConnectivity(ctx, time.Second) })
	if c.alloc != nil {
		eg.Go(func() error { return c.alloc.Run(ctx, c.Submit) })
	}
	err := eg.Wait()
	c.wg.Wait()
	return err
}

// Close stops routing and waits for breaker responses in flight.
func (c *Core) Close() {
	c.cancel()
	c.wg.Wait()
	c.router.Close()
	if c.sim != nil && c.mode != schema.ModeReplay {
		c.sim.Close()
	}
}

func (c *Core) onTrigger(t risk.Trigger) {
	logs.Errorf("circuit breaker triggered, reason: %s, detail: %s, cooldown until: %s", t.Reason, t.Detail, t.CooldownUntil.Format(time.RFC3339))
	if c.mode == schema.ModeReplay {
		c.trigMu.Lock()
		c.deferred = append(c.deferred, t)
		c.trigMu.Unlock()
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.respond(c.baseCtx, t)
	}()
}

func (c *Core) takeDeferred() []risk.Trigger {
	c.trigMu.Lock()
	defer c.trigMu.Unlock()
	out := c.deferred
	c.deferred = nil
	return out
}

// respond cancels open orders and flattens when the trigger asks for it.
func (c *Core) respond(ctx context.Context, t risk.Trigger) {
	if err := c.router.CancelAll(ctx); err != nil {
		logs.Errorf("cancel open orders after %s failed, err: %+v", t.Reason, err)
	}
	if !t.Flatten {
		return
	}
	if err := c.router.Flatten(ctx); err != nil {
		logs.Errorf("flatten after %s failed, err: %+v", t.Reason, err)
	}
}
