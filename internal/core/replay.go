package core

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/clock"
	"tradecore/internal/feed"
	"tradecore/internal/obs"
	"tradecore/internal/og"
	"tradecore/internal/schema"
	"tradecore/internal/state"
)

// ReplayResult summarizes a finished replay.
type ReplayResult struct {
	Bars        int                    `json:"bars"`
	Signals     int                    `json:"signals"`
	Decisions   int                    `json:"decisions"`
	Rebalances  int                    `json:"rebalances"`
	Orders      []schema.Order         `json:"orders"`
	Account     schema.AccountSnapshot `json:"account"`
	Performance state.Report           `json:"performance"`
	Breaker     bool                   `json:"breakerTriggered"`
	JournalSeq  uint64                 `json:"journalSeq"`
}

// Replay drives a core over recorded bars and signals on a manual clock.
// Two replays of the same inputs and config journal identical records.
type Replay struct {
	core    *Core
	sim     *og.SimGateway
	clock   *clock.Manual
	bars    []schema.Bar
	signals []schema.Signal

	next          int
	decisions     int
	rebalances    int
	lastRebalance time.Time
}

// NewReplay builds a replay core. cfg.Mode, clock, sleeper and id sources
// are overridden; the journal, when set, is stamped with the replay clock.
func NewReplay(cfg Config, fill og.FillModel, bars []schema.Bar, signals []schema.Signal) (*Replay, error) {
	if len(bars) == 0 && len(signals) == 0 {
		return nil, errors.New("nothing to replay")
	}
	feed.SortBars(bars)

	start := time.Unix(0, 0).UTC()
	switch {
	case len(bars) > 0:
		start = bars[0].Time
	case len(signals) > 0:
		start = signals[0].Timestamp
	}
	clk := clock.NewManual(start)

	sim := og.NewSimGateway(og.SimConfig{
		Fill: fill,
		IDs:  obs.NewSequence("sim", 0),
	})

	cfg.Mode = schema.ModeReplay
	cfg.Clock = clk
	cfg.Sleeper = clk
	cfg.IDs = obs.NewSequence("ord", 0)
	cfg.FlattenIDs = obs.NewSequence("flat", 0)
	if cfg.Journal != nil {
		cfg.Journal.WithClock(clk)
	}

	c, err := New(cfg, sim)
	if err != nil {
		return nil, err
	}
	return &Replay{
		core:    c,
		sim:     sim,
		clock:   clk,
		bars:    bars,
		signals: signals,
	}, nil
}

// Core returns the driven core.
func (r *Replay) Core() *Core {
	return r.core
}

// Run plays every bar, then submits signals left after the last one.
func (r *Replay) Run(ctx context.Context) (ReplayResult, error) {
	player := feed.NewPlayer(r.bars, 0).WithSleeper(r.clock)
	if err := player.Run(ctx, r.step); err != nil {
		return ReplayResult{}, errors.Wrap(err, "replay bars")
	}
	for r.next < len(r.signals) {
		r.clock.Set(r.signals[r.next].Timestamp)
		r.submitDue(r.signals[r.next].Timestamp)
		r.decisions += r.core.Tick(ctx)
	}
	r.decisions += r.core.Tick(ctx)

	c := r.core
	res := ReplayResult{
		Bars:        len(r.bars),
		Signals:     len(r.signals),
		Decisions:   r.decisions,
		Rebalances:  r.rebalances,
		Orders:      c.Orders(),
		Account:     c.router.Snapshot(),
		Performance: c.ledger.Performance(),
		Breaker:     !c.CanTrade(),
	}
	if c.journal != nil {
		res.JournalSeq = c.journal.Seq()
	}
	logs.Infof("replay finished, bars: %d, signals: %d, decisions: %d, orders: %d, equity: %s",
		res.Bars, res.Signals, res.Decisions, len(res.Orders), res.Account.Equity)
	return res, nil
}

func (r *Replay) step(ctx context.Context, bar schema.Bar) error {
	r.clock.Set(bar.Time)
	r.core.OnBar(ctx, bar)
	r.submitDue(bar.Time)
	r.rebalance(bar.Time)
	r.decisions += r.core.Tick(ctx)
	return nil
}

// submitDue submits every signal produced at or before now.
func (r *Replay) submitDue(now time.Time) {
	for r.next < len(r.signals) && !r.signals[r.next].Timestamp.After(now) {
		sig := r.signals[r.next]
		r.next++
		if err := r.core.Submit(sig); err != nil {
			logs.Errorf("replay signal dropped, index: %d, symbol: %s, err: %+v", r.next-1, sig.Symbol, err)
		}
	}
}

// rebalance runs the allocator once per interval of replay time. The first
// bar only starts the interval.
func (r *Replay) rebalance(now time.Time) {
	alloc := r.core.alloc
	if alloc == nil {
		return
	}
	if r.lastRebalance.IsZero() {
		r.lastRebalance = now
		return
	}
	if now.Sub(r.lastRebalance) < alloc.Config().Interval {
		return
	}
	r.lastRebalance = now
	r.core.Rebalance()
	r.rebalances++
}
