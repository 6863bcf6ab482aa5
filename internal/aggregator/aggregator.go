package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/obs"
	"tradecore/internal/schema"
	"tradecore/pkg/exception"
)

// Config controls the coalescing window.
type Config struct {
	Window time.Duration `json:"window" yaml:"window" validate:"gte=0"`
}

// DefaultConfig flushes once per second.
func DefaultConfig() Config {
	return Config{Window: time.Second}
}

// PositionView answers whether a decision opposes an open position.
type PositionView interface {
	Position(symbol string) schema.Position
}

// Journal receives append-only audit records.
type Journal interface {
	Record(kind schema.RecordKind, subject string, payload any)
}

// Dispatch receives decisions one at a time, in tick order.
type Dispatch func(ctx context.Context, d schema.Decision)

// Invalid is journaled for every dropped signal.
type Invalid struct {
	Signal schema.Signal `json:"signal"`
	Reason string        `json:"reason"`
}

type candidate struct {
	sig     schema.Signal
	arrival uint64
}

// Aggregator coalesces concurrent signals into at most one decision per
// symbol per tick.
type Aggregator struct {
	cfg       Config
	positions PositionView
	dispatch  Dispatch
	journal   Journal
	metrics   *obs.Metrics

	mu      sync.Mutex
	order   []string
	pending map[string]candidate
	arrival uint64
	seq     uint64
}

// NewAggregator creates an aggregator forwarding decisions to dispatch.
func NewAggregator(cfg Config, positions PositionView, dispatch Dispatch) *Aggregator {
	return &Aggregator{
		cfg:       cfg,
		positions: positions,
		dispatch:  dispatch,
		pending:   make(map[string]candidate),
	}
}

func (a *Aggregator) WithJournal(j Journal) *Aggregator {
	a.journal = j
	return a
}

func (a *Aggregator) WithMetrics(m *obs.Metrics) *Aggregator {
	a.metrics = m
	return a
}

// Submit buffers a signal for the current tick. Malformed signals are
// dropped and reported back to the producer.
func (a *Aggregator) Submit(sig schema.Signal) error {
	if err := sig.Validate(); err != nil {
		a.metrics.IncSignal("invalid")
		logs.Errorf("drop invalid signal, symbol: %s, strategy: %s, err: %+v", sig.Symbol, sig.StrategyID, err)
		if a.journal != nil {
			a.journal.Record(schema.RecordRejection, sig.Symbol, Invalid{Signal: sig, Reason: err.Error()})
		}
		return errors.Wrap(exception.ErrInvalidSignal, err.Error())
	}
	a.metrics.IncSignal("accepted")

	a.mu.Lock()
	defer a.mu.Unlock()
	a.arrival++
	next := candidate{sig: sig, arrival: a.arrival}
	cur, ok := a.pending[sig.Symbol]
	if !ok {
		a.order = append(a.order, sig.Symbol)
		a.pending[sig.Symbol] = next
		return nil
	}
	if wins(next, cur) {
		a.pending[sig.Symbol] = next
	}
	return nil
}

// wins reports whether next replaces cur: higher confidence, then the more
// recently produced signal, then the later arrival.
func wins(next, cur candidate) bool {
	if next.sig.Confidence != cur.sig.Confidence {
		return next.sig.Confidence > cur.sig.Confidence
	}
	if !next.sig.Timestamp.Equal(cur.sig.Timestamp) {
		return next.sig.Timestamp.After(cur.sig.Timestamp)
	}
	return next.arrival > cur.arrival
}

// Flush closes the tick and forwards its decisions in the order each symbol
// first appeared.
func (a *Aggregator) Flush(ctx context.Context) []schema.Decision {
	a.mu.Lock()
	order, pending := a.order, a.pending
	a.order = nil
	a.pending = make(map[string]candidate, len(pending))
	decisions := make([]schema.Decision, 0, len(order))
	for _, symbol := range order {
		a.seq++
		sig := pending[symbol].sig
		decisions = append(decisions, schema.Decision{
			Signal: sig,
			Intent: a.intent(sig),
			Seq:    a.seq,
		})
	}
	a.mu.Unlock()

	if a.dispatch != nil {
		for _, d := range decisions {
			if ctx.Err() != nil {
				logs.Errorf("flush interrupted, dropped: %d, err: %+v", len(decisions), ctx.Err())
				break
			}
			a.dispatch(ctx, d)
		}
	}
	return decisions
}

func (a *Aggregator) intent(sig schema.Signal) schema.Intent {
	if a.positions == nil {
		return schema.IntentOpen
	}
	pos := a.positions.Position(sig.Symbol)
	if pos.IsFlat() {
		return schema.IntentOpen
	}
	if schema.SideOf(pos.Qty) != sig.Side {
		return schema.IntentReduce
	}
	return schema.IntentOpen
}

// Pending is the number of symbols buffered in the current tick.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}

// Run flushes every window until ctx is done.
func (a *Aggregator) Run(ctx context.Context) error {
	window := a.cfg.Window
	if window <= 0 {
		window = DefaultConfig().Window
	}
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	logs.Infof("aggregator started, window: %s", window)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.Flush(ctx)
		}
	}
}
