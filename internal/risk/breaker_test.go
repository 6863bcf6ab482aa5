package risk

import (
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/schema"
)

type triggerLog struct {
	mu   sync.Mutex
	seen []Trigger
}

func (l *triggerLog) add(t Trigger) {
	l.mu.Lock()
	l.seen = append(l.seen, t)
	l.mu.Unlock()
}

func (l *triggerLog) all() []Trigger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Trigger(nil), l.seen...)
}

func TestDrawdownTripsBreaker(t *testing.T) {
	acct := newFakeAccount(20000)
	j := &recordingJournal{}
	e, clk := newTestEngine(testConfig(), acct)
	e.WithJournal(j)
	triggers := &triggerLog{}
	e.OnTrigger(triggers.add)

	_, err := e.Evaluate(open(longSignal("BTCUSDT", 100, 98)))
	require.NoError(t, err)

	e.OnEquity(decimal.NewFromInt(19500))
	assert.True(t, e.CanTrade())

	acct.setEquity(19200)
	e.OnEquity(decimal.NewFromInt(19200))
	assert.False(t, e.CanTrade())

	fired := triggers.all()
	require.Len(t, fired, 1)
	assert.Equal(t, TripDrawdown, fired[0].Reason)
	assert.Equal(t, t0.Add(time.Hour), fired[0].CooldownUntil)
	assert.Equal(t, 1, j.count(schema.RecordBreaker))

	snap := e.Snapshot()
	assert.Equal(t, BreakerTriggered, snap.Status)
	assert.InDelta(t, 0.04, snap.Drawdown, 1e-9)

	for i := 0; i < 3; i++ {
		_, err = e.Evaluate(open(longSignal("ETHUSDT", 100, 98)))
		rej := requireRejection(t, err, ReasonCircuitBreakerOpen)
		assert.Equal(t, TripDrawdown, rej.Limit)
	}

	require.Error(t, e.Reset(), "cooldown still active")

	clk.Advance(time.Hour)
	_, err = e.Evaluate(open(longSignal("ETHUSDT", 100, 98)))
	require.NoError(t, err)

	snap = e.Snapshot()
	assert.Equal(t, BreakerNormal, snap.Status)
	assert.True(t, snap.PeakEquity.Equal(decimal.NewFromInt(19200)), "peak rebased after reopen")
	assert.Len(t, triggers.all(), 1)
}

func TestManualResetAfterCooldown(t *testing.T) {
	acct := newFakeAccount(20000)
	e, clk := newTestEngine(testConfig(), acct)
	e.OnEquity(decimal.NewFromInt(20000))
	e.OnEquity(decimal.NewFromInt(19000))
	require.False(t, e.CanTrade())

	clk.Advance(59 * time.Minute)
	require.Error(t, e.Reset())
	assert.False(t, e.CanTrade())

	clk.Advance(time.Minute)
	assert.True(t, e.CanTrade(), "cooldown elapsed")
	require.NoError(t, e.Reset())
	assert.Equal(t, BreakerNormal, e.Snapshot().Status)
	require.NoError(t, e.Reset(), "reset of a normal breaker is a no-op")
}

func TestDrawdownPeakResetsAtDayBoundary(t *testing.T) {
	e, clk := newTestEngine(testConfig(), newFakeAccount(20000))
	e.OnEquity(decimal.NewFromInt(20000))
	e.OnEquity(decimal.NewFromInt(19300))
	require.True(t, e.CanTrade())

	clk.Set(time.Date(2024, 3, 5, 0, 0, 1, 0, time.UTC))
	e.OnEquity(decimal.NewFromInt(19000))
	assert.True(t, e.CanTrade())
	assert.True(t, e.Snapshot().PeakEquity.Equal(decimal.NewFromInt(19000)))
}

func TestKillSwitchIsImmediateAndLatched(t *testing.T) {
	e, clk := newTestEngine(testConfig(), newFakeAccount(20000))
	triggers := &triggerLog{}
	e.OnTrigger(triggers.add)

	trig := e.TriggerKillSwitch("operator")
	assert.True(t, trig.Manual)
	assert.False(t, e.CanTrade())
	require.Len(t, triggers.all(), 1)
	assert.Equal(t, TripKillSwitch, triggers.all()[0].Reason)

	_, err := e.Evaluate(open(longSignal("BTCUSDT", 100, 98)))
	rej := requireRejection(t, err, ReasonCircuitBreakerOpen)
	assert.Equal(t, TripKillSwitch, rej.Limit)

	clk.Advance(2 * time.Hour)
	assert.False(t, e.CanTrade(), "kill switch does not auto reopen")
	_, err = e.Evaluate(open(longSignal("BTCUSDT", 100, 98)))
	requireRejection(t, err, ReasonCircuitBreakerOpen)

	require.NoError(t, e.Reset())
	assert.True(t, e.CanTrade())
	_, err = e.Evaluate(open(longSignal("BTCUSDT", 100, 98)))
	require.NoError(t, err)
}

func TestKillSwitchLatchesAlreadyTriggeredBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 1
	e, clk := newTestEngine(cfg, newFakeAccount(20000))

	e.RecordSubmitFailure(false, "timeout")
	require.False(t, e.CanTrade())
	e.TriggerKillSwitch("")

	clk.Advance(2 * time.Hour)
	snap := e.Snapshot()
	assert.True(t, snap.Latched)
	assert.Equal(t, TripKillSwitch, snap.Reason)
	assert.Equal(t, "manual", snap.Detail)
	assert.False(t, snap.CanTrade)
}

func TestFailureStreakTripsBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 3
	cfg.MaxFailedOrdersPerHour = 0
	e, _ := newTestEngine(cfg, newFakeAccount(20000))

	e.RecordSubmitFailure(false, "timeout")
	e.RecordSubmitFailure(false, "timeout")
	e.RecordSubmitSuccess()
	e.RecordSubmitFailure(false, "timeout")
	e.RecordSubmitFailure(true, "unauthorized")
	assert.True(t, e.CanTrade())
	assert.Equal(t, 2, e.Snapshot().FailureStreak)

	e.RecordSubmitFailure(true, "unauthorized")
	snap := e.Snapshot()
	assert.False(t, snap.CanTrade)
	assert.Equal(t, TripFailureStreak, snap.Reason)
}

func TestFailureRateTripsBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 0
	cfg.MaxFailedOrdersPerHour = 3
	e, clk := newTestEngine(cfg, newFakeAccount(20000))

	e.RecordSubmitFailure(false, "timeout")
	e.RecordSubmitSuccess()
	clk.Advance(61 * time.Minute)
	e.RecordSubmitFailure(false, "timeout")
	e.RecordSubmitSuccess()
	e.RecordSubmitFailure(false, "timeout")
	assert.True(t, e.CanTrade(), "first failure fell out of the hour")

	e.RecordSubmitFailure(false, "timeout")
	assert.Equal(t, TripFailureRate, e.Snapshot().Reason)
	assert.False(t, e.CanTrade())
}

func TestSustainedDisconnectTripsBreaker(t *testing.T) {
	e, clk := newTestEngine(testConfig(), newFakeAccount(20000))

	e.ReportConnectivity(false)
	clk.Advance(10 * time.Second)
	e.ReportConnectivity(true)
	e.ReportConnectivity(false)
	clk.Advance(20 * time.Second)
	_, err := e.Evaluate(open(longSignal("BTCUSDT", 100, 98)))
	require.NoError(t, err, "link recovered in between")

	clk.Advance(10 * time.Second)
	_, err = e.Evaluate(open(longSignal("ETHUSDT", 100, 98)))
	rej := requireRejection(t, err, ReasonCircuitBreakerOpen)
	assert.Equal(t, TripConnectivity, rej.Limit)
}

func TestListenerRunsOutsideLock(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 1
	e, _ := newTestEngine(cfg, newFakeAccount(20000))

	var snap Snapshot
	e.OnTrigger(func(Trigger) {
		snap = e.Snapshot()
	})
	e.RecordSubmitFailure(false, "timeout")
	assert.Equal(t, BreakerTriggered, snap.Status)
}

func TestSnapshotDecodesFromJSON(t *testing.T) {
	e, _ := newTestEngine(testConfig(), newFakeAccount(20000))
	e.TriggerKillSwitch("operator")

	b, err := sonic.ConfigStd.Marshal(e.Snapshot())
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, sonic.ConfigStd.Unmarshal(b, &snap))
	assert.Equal(t, BreakerTriggered, snap.Status)
	assert.True(t, snap.Latched)

	var reason Reason
	require.NoError(t, reason.UnmarshalText([]byte("exposure_limit_exceeded")))
	assert.Equal(t, ReasonExposureLimitExceeded, reason)
	assert.Error(t, reason.UnmarshalText([]byte("bogus")))
	assert.Error(t, snap.Status.UnmarshalText([]byte("half_open")))
}
