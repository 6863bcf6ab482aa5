package risk

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/schema"
	"tradecore/pkg/exception"
)

// BreakerStatus is the circuit breaker state.
type BreakerStatus uint8

const (
	BreakerNormal BreakerStatus = iota
	BreakerTriggered
)

func (s BreakerStatus) String() string {
	if s == BreakerTriggered {
		return "triggered"
	}
	return "normal"
}

func (s BreakerStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *BreakerStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "normal":
		*s = BreakerNormal
	case "triggered":
		*s = BreakerTriggered
	default:
		return errors.Errorf("unknown breaker status: %q", b)
	}
	return nil
}

// Breaker trip conditions, also used as rejection limits.
const (
	TripDrawdown       = "max_daily_drawdown"
	TripFailureStreak  = "max_consecutive_failures"
	TripFailureRate    = "max_failed_orders_per_hour"
	TripConnectivity   = "gateway_connectivity"
	TripKillSwitch     = "kill_switch"
	transitionReset    = "reset"
	transitionAutoOpen = "cooldown_elapsed"
)

type breakerState struct {
	status        BreakerStatus
	reason        string
	detail        string
	triggeredAt   time.Time
	cooldownUntil time.Time
	latched       bool
}

// Trigger describes one breaker trip handed to listeners.
type Trigger struct {
	Reason        string    `json:"reason"`
	Detail        string    `json:"detail"`
	At            time.Time `json:"at"`
	CooldownUntil time.Time `json:"cooldownUntil"`
	Flatten       bool      `json:"flatten"`
	Manual        bool      `json:"manual"`
}

// Transition is the audit record of a breaker state change.
type Transition struct {
	From          BreakerStatus `json:"from"`
	To            BreakerStatus `json:"to"`
	Reason        string        `json:"reason"`
	Detail        string        `json:"detail"`
	At            time.Time     `json:"at"`
	CooldownUntil time.Time     `json:"cooldownUntil,omitzero"`
	Equity        string        `json:"equity"`
}

// Snapshot is a read-only view of the risk state.
type Snapshot struct {
	Status           BreakerStatus   `json:"status"`
	CanTrade         bool            `json:"canTrade"`
	Reason           string          `json:"reason,omitempty"`
	Detail           string          `json:"detail,omitempty"`
	TriggeredAt      time.Time       `json:"triggeredAt,omitzero"`
	CooldownUntil    time.Time       `json:"cooldownUntil,omitzero"`
	Latched          bool            `json:"latched"`
	MinuteCount      int             `json:"minuteCount"`
	DayCount         int             `json:"dayCount"`
	PeakEquity       decimal.Decimal `json:"peakEquity"`
	LastEquity       decimal.Decimal `json:"lastEquity"`
	Drawdown         float64         `json:"drawdown"`
	FailureStreak    int             `json:"failureStreak"`
	Reserved         decimal.Decimal `json:"reserved"`
	OpenReservations int             `json:"openReservations"`
	PendingReduce    int             `json:"pendingReduce"`
}

// OnEquity feeds an equity update and evaluates the drawdown trigger.
func (e *Engine) OnEquity(equity decimal.Decimal) {
	e.mu.Lock()
	now := e.clock.Now()
	fired := e.observeEquityLocked(now, equity)
	fired = append(fired, e.refreshLocked(now)...)
	listeners := e.listeners
	e.mu.Unlock()
	notify(listeners, fired)
}

// RecordSubmitFailure counts a failed order submission.
func (e *Engine) RecordSubmitFailure(fatal bool, cause string) {
	e.mu.Lock()
	now := e.clock.Now()
	e.failureStreak++
	e.failures = append(pruneBefore(e.failures, now.Add(-time.Hour)), now)

	var fired []Trigger
	switch {
	case e.cfg.MaxConsecutiveFailures > 0 && e.failureStreak >= e.cfg.MaxConsecutiveFailures:
		fired = e.tripLocked(now, TripFailureStreak, cause, false)
	case e.cfg.MaxFailedOrdersPerHour > 0 && len(e.failures) >= e.cfg.MaxFailedOrdersPerHour:
		fired = e.tripLocked(now, TripFailureRate, cause, false)
	}
	streak := e.failureStreak
	listeners := e.listeners
	e.mu.Unlock()

	if fatal {
		logs.Errorf("fatal gateway failure counted toward breaker, streak: %d, cause: %s", streak, cause)
	}
	notify(listeners, fired)
}

// RecordSubmitSuccess resets the consecutive failure streak.
func (e *Engine) RecordSubmitSuccess() {
	e.mu.Lock()
	e.failureStreak = 0
	e.mu.Unlock()
}

// ReportConnectivity records the gateway link state.
func (e *Engine) ReportConnectivity(ok bool) {
	e.mu.Lock()
	now := e.clock.Now()
	if ok {
		e.downSince = time.Time{}
	} else if e.downSince.IsZero() {
		e.downSince = now
	}
	fired := e.refreshLocked(now)
	listeners := e.listeners
	e.mu.Unlock()
	notify(listeners, fired)
}

// TriggerKillSwitch halts admissions immediately. The halt is latched and
// only a manual Reset after cooldown lifts it.
func (e *Engine) TriggerKillSwitch(reason string) Trigger {
	e.mu.Lock()
	now := e.clock.Now()
	if reason == "" {
		reason = "manual"
	}
	if e.breaker.status == BreakerTriggered {
		e.breaker.latched = true
		e.breaker.reason = TripKillSwitch
		e.breaker.detail = reason
		e.record(schema.RecordBreaker, TripKillSwitch, e.transition(now, BreakerTriggered, BreakerTriggered, TripKillSwitch, reason))
	} else {
		e.tripLocked(now, TripKillSwitch, reason, true)
	}
	trig := Trigger{
		Reason:        TripKillSwitch,
		Detail:        reason,
		At:            now,
		CooldownUntil: e.breaker.cooldownUntil,
		Flatten:       e.cfg.FlattenOnTrigger,
		Manual:        true,
	}
	listeners := e.listeners
	e.mu.Unlock()

	e.metrics.SetBreaker(true)
	notify(listeners, []Trigger{trig})
	return trig
}

// Reset reopens a triggered breaker once the cooldown has elapsed.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	if e.breaker.status == BreakerNormal {
		return nil
	}
	if now.Before(e.breaker.cooldownUntil) {
		return errors.Wrapf(exception.ErrCooldownActive, "cooldown until %s", e.breaker.cooldownUntil.Format(time.RFC3339))
	}
	e.reopenLocked(now, transitionReset)
	return nil
}

// CanTrade reports whether a new admission could pass the breaker check.
func (e *Engine) CanTrade() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canTradeLocked(e.clock.Now())
}

// Snapshot returns a copy of the risk state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	return Snapshot{
		Status:           e.breaker.status,
		CanTrade:         e.canTradeLocked(now),
		Reason:           e.breaker.reason,
		Detail:           e.breaker.detail,
		TriggeredAt:      e.breaker.triggeredAt,
		CooldownUntil:    e.breaker.cooldownUntil,
		Latched:          e.breaker.latched,
		MinuteCount:      len(pruneThrough(e.admissions, now.Add(-minuteWindow))),
		DayCount:         e.dayCount,
		PeakEquity:       e.peakEquity,
		LastEquity:       e.lastEquity,
		Drawdown:         e.drawdownLocked(),
		FailureStreak:    e.failureStreak,
		Reserved:         e.reservedTotal,
		OpenReservations: len(e.reservations),
		PendingReduce:    len(e.reducing),
	}
}

func (e *Engine) canTradeLocked(now time.Time) bool {
	if e.breaker.status == BreakerNormal {
		return true
	}
	return !e.breaker.latched && !now.Before(e.breaker.cooldownUntil)
}

// observeEquityLocked rolls the trading day and checks drawdown from the
// day's peak.
func (e *Engine) observeEquityLocked(now time.Time, equity decimal.Decimal) []Trigger {
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(e.day) {
		e.day = day
		e.dayCount = 0
		e.peakEquity = equity
	}
	e.lastEquity = equity
	if equity.GreaterThan(e.peakEquity) {
		e.peakEquity = equity
	}
	e.metrics.SetEquity(equity.InexactFloat64())

	if e.breaker.status == BreakerTriggered {
		return nil
	}
	if dd := e.drawdownLocked(); dd >= e.cfg.MaxDailyDrawdown && e.cfg.MaxDailyDrawdown > 0 {
		detail := "drawdown " + decimal.NewFromFloat(dd).StringFixed(4) + " from peak " + e.peakEquity.String()
		return e.tripLocked(now, TripDrawdown, detail, false)
	}
	return nil
}

func (e *Engine) drawdownLocked() float64 {
	if !e.peakEquity.IsPositive() {
		return 0
	}
	dd, _ := e.peakEquity.Sub(e.lastEquity).Div(e.peakEquity).Float64()
	return dd
}

// refreshLocked applies time-based transitions: sustained disconnects trip
// the breaker and an elapsed cooldown reopens it.
func (e *Engine) refreshLocked(now time.Time) []Trigger {
	if e.breaker.status == BreakerNormal {
		if !e.downSince.IsZero() && now.Sub(e.downSince) >= e.cfg.ConnectivityGrace {
			detail := "gateway unreachable since " + e.downSince.Format(time.RFC3339)
			return e.tripLocked(now, TripConnectivity, detail, false)
		}
		return nil
	}
	if !e.breaker.latched && !now.Before(e.breaker.cooldownUntil) {
		e.reopenLocked(now, transitionAutoOpen)
	}
	return nil
}

func (e *Engine) tripLocked(now time.Time, reason, detail string, latched bool) []Trigger {
	if e.breaker.status == BreakerTriggered {
		return nil
	}
	e.breaker = breakerState{
		status:        BreakerTriggered,
		reason:        reason,
		detail:        detail,
		triggeredAt:   now,
		cooldownUntil: now.Add(e.cfg.Cooldown),
		latched:       latched,
	}
	e.record(schema.RecordBreaker, reason, e.transition(now, BreakerNormal, BreakerTriggered, reason, detail))
	e.metrics.SetBreaker(true)
	e.metrics.IncBreakerTrip(reason)
	logs.Errorf("circuit breaker triggered, reason: %s, detail: %s, cooldown until: %s", reason, detail, e.breaker.cooldownUntil.Format(time.RFC3339))
	if latched {
		return nil
	}
	return []Trigger{{
		Reason:        reason,
		Detail:        detail,
		At:            now,
		CooldownUntil: e.breaker.cooldownUntil,
		Flatten:       e.cfg.FlattenOnTrigger,
	}}
}

func (e *Engine) reopenLocked(now time.Time, how string) {
	prev := e.breaker
	e.breaker = breakerState{status: BreakerNormal}
	e.failureStreak = 0
	e.failures = nil
	e.downSince = time.Time{}
	if e.lastEquity.IsPositive() {
		e.peakEquity = e.lastEquity
	}
	e.record(schema.RecordBreaker, how, e.transition(now, BreakerTriggered, BreakerNormal, how, prev.reason))
	e.metrics.SetBreaker(false)
	logs.Infof("circuit breaker reopened, how: %s, previous reason: %s", how, prev.reason)
}

func (e *Engine) transition(now time.Time, from, to BreakerStatus, reason, detail string) Transition {
	t := Transition{
		From:   from,
		To:     to,
		Reason: reason,
		Detail: detail,
		At:     now,
		Equity: e.lastEquity.String(),
	}
	if to == BreakerTriggered {
		t.CooldownUntil = e.breaker.cooldownUntil
	}
	return t
}

func notify(listeners []func(Trigger), fired []Trigger) {
	for _, trig := range fired {
		for _, fn := range listeners {
			fn(trig)
		}
	}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}
