package allocator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/clock"
	"tradecore/internal/obs"
	"tradecore/internal/schema"
)

const StrategyID = "allocator"

// AccountView is the read-only account access the allocator needs.
type AccountView interface {
	Snapshot() schema.AccountSnapshot
}

// Target maps symbol to weight of equity. It is replaced wholesale on every
// rebalance.
type Target map[string]float64

// Allocator computes target weights and emits signals for symbols that
// drifted away from them.
type Allocator struct {
	account AccountView
	clock   clock.Clock
	metrics *obs.Metrics

	mu      sync.Mutex
	cfg     Config
	policy  Policy
	history map[string][]float64
	target  Target
}

// New resolves the configured policy.
func New(cfg Config, account AccountView) (*Allocator, error) {
	cfg = cfg.withDefaults()
	policy, err := NewPolicy(cfg)
	if err != nil {
		return nil, err
	}
	return &Allocator{
		account: account,
		clock:   clock.Real{},
		cfg:     cfg,
		policy:  policy,
		history: make(map[string][]float64),
		target:  Target{},
	}, nil
}

func (a *Allocator) WithClock(c clock.Clock) *Allocator {
	if c != nil {
		a.clock = c
	}
	return a
}

func (a *Allocator) WithMetrics(m *obs.Metrics) *Allocator {
	a.metrics = m
	return a
}

// UpdateConfig swaps the configuration and re-resolves the policy.
func (a *Allocator) UpdateConfig(cfg Config) error {
	cfg = cfg.withDefaults()
	policy, err := NewPolicy(cfg)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.cfg = cfg
	a.policy = policy
	a.mu.Unlock()
	return nil
}

func (a *Allocator) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Observe appends a close to the symbol's history.
func (a *Allocator) Observe(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	keep := 4*a.cfg.Lookback + 8
	h := append(a.history[symbol], price.InexactFloat64())
	if len(h) > keep {
		h = append(h[:0:0], h[len(h)-keep:]...)
	}
	a.history[symbol] = h
}

// Target returns the weights of the last rebalance.
func (a *Allocator) Target() Target {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(Target, len(a.target))
	for k, v := range a.target {
		out[k] = v
	}
	return out
}

// Rebalance recomputes the target and returns the signals needed to reach
// it. Small drifts and trades that cost more than they recover are skipped.
func (a *Allocator) Rebalance() ([]schema.Signal, error) {
	snap := a.account.Snapshot()
	if !snap.Equity.IsPositive() {
		return nil, errors.Errorf("rebalance needs positive equity, equity: %s", snap.Equity)
	}

	a.mu.Lock()
	cfg, policy := a.cfg, a.policy
	symbols := a.symbolsLocked()
	closes := make(map[string][]float64, len(symbols))
	last := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		h := a.history[s]
		closes[s] = append([]float64(nil), h...)
		if len(h) > 0 {
			last[s] = h[len(h)-1]
		}
	}
	target := Target(policy.Weights(symbols, closes))
	a.target = target
	a.mu.Unlock()

	equity := snap.Equity.InexactFloat64()
	now := a.clock.Now()
	signals := make([]schema.Signal, 0)
	for _, s := range symbols {
		pos := snap.Position(s)
		price := last[s]
		if price <= 0 {
			price = pos.Mark.InexactFloat64()
		}
		if price <= 0 {
			logs.Errorf("rebalance skips symbol without price, symbol: %s", s)
			continue
		}
		current := pos.Qty.InexactFloat64() * price / equity
		sig, ok := plan(cfg, s, target[s], current, equity, price, now)
		if !ok {
			continue
		}
		a.metrics.IncRebalanceSignal(s)
		signals = append(signals, sig)
	}
	logs.Infof("rebalance done, policy: %s, symbols: %d, signals: %d", policy.Name(), len(symbols), len(signals))
	return signals, nil
}

func (a *Allocator) symbolsLocked() []string {
	if len(a.cfg.Symbols) > 0 {
		return append([]string(nil), a.cfg.Symbols...)
	}
	out := make([]string, 0, len(a.history))
	for s := range a.history {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// plan decides whether one symbol is rebalanced from weight current to
// target.
func plan(cfg Config, symbol string, target, current, equity, price float64, now time.Time) (schema.Signal, bool) {
	drift := math.Abs(target - current)
	if drift < cfg.DriftThreshold {
		return schema.Signal{}, false
	}
	delta := (target - current) * equity
	if cfg.CostAware {
		cost := math.Abs(delta) * (cfg.FeeBps + cfg.SlippageBps) / 10_000
		benefit := (drift - cfg.DriftThreshold) * equity
		if cost > benefit {
			logs.Infof("rebalance skips costly trade, symbol: %s, cost: %.4f, benefit: %.4f", symbol, cost, benefit)
			return schema.Signal{}, false
		}
	}

	side := schema.SideBuy
	stop, take := 1-cfg.StopPct, 1+2*cfg.StopPct
	if delta < 0 {
		side = schema.SideSell
		stop, take = 1+cfg.StopPct, 1-2*cfg.StopPct
	}
	entry := decimal.NewFromFloat(price)
	return schema.Signal{
		Symbol:     symbol,
		Side:       side,
		Entry:      entry,
		StopLoss:   entry.Mul(decimal.NewFromFloat(stop)),
		TakeProfit: entry.Mul(decimal.NewFromFloat(take)),
		Confidence: 1,
		StrategyID: StrategyID,
		Reason:     fmt.Sprintf("rebalance %.4f -> %.4f", current, target),
		Timestamp:  now,
		QtyHint:    decimal.NewFromFloat(math.Abs(delta) / price),
	}, true
}

// Run rebalances every interval and hands the signals to submit.
func (a *Allocator) Run(ctx context.Context, submit func(schema.Signal) error) error {
	interval := a.Config().Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logs.Infof("allocator started, interval: %s", interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.RunOnce(submit)
		}
	}
}

// RunOnce rebalances now. Submission failures are logged.
func (a *Allocator) RunOnce(submit func(schema.Signal) error) int {
	signals, err := a.Rebalance()
	if err != nil {
		logs.Errorf("rebalance failed, err: %+v", err)
		return 0
	}
	sent := 0
	for _, sig := range signals {
		if err := submit(sig); err != nil {
			logs.Errorf("submit rebalance signal failed, symbol: %s, err: %+v", sig.Symbol, err)
			continue
		}
		sent++
	}
	return sent
}
