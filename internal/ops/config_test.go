package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/schema"
)

const yamlConfig = `
mode: simulated
initial_cash: 20000
symbols: [BTCUSDT, ETHUSDT]
risk:
  risk_per_trade: 0.02
  max_trades_per_minute: 3
  cooldown: 30m
execution:
  max_attempts: 5
  fees:
    simulated: {fee_bps: 4, slippage_bps: 1}
allocator:
  enabled: true
  policy: equal_weight
journal:
  wal_dir: /tmp/tradecore
`

func TestParseYAMLOverDefaults(t *testing.T) {
	loaded, err := Parse([]byte(yamlConfig), ".yaml")
	require.NoError(t, err)

	assert.Equal(t, schema.ModeSimulated, loaded.Mode)
	assert.Equal(t, "20000", loaded.InitialCash.String())
	assert.Equal(t, 0.02, loaded.Risk.RiskPerTrade)
	assert.Equal(t, 3, loaded.Risk.MaxTradesPerMinute)
	assert.Equal(t, 30*time.Minute, loaded.Risk.Cooldown)
	// untouched limits keep their defaults
	assert.Equal(t, 1200, loaded.Risk.MaxTradesPerDay)
	assert.Equal(t, 0.04, loaded.Risk.MaxDailyDrawdown)

	assert.Equal(t, 5, loaded.Execution.MaxAttempts)
	assert.Equal(t, 4.0, loaded.FillModel().FeeBps)
	assert.Equal(t, 1.0, loaded.FillModel().SlippageBps)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, loaded.Allocator.Symbols)
	assert.Equal(t, filepath.Join("/tmp/tradecore", "ledger.json"), loaded.Journal.SnapshotPath)
}

func TestParseJSON(t *testing.T) {
	loaded, err := Parse([]byte(`{"mode":"replay","initialCash":5000,"risk":{"maxTradesPerDay":10}}`), ".json")
	require.NoError(t, err)
	assert.Equal(t, schema.ModeReplay, loaded.Mode)
	assert.Equal(t, 10, loaded.Risk.MaxTradesPerDay)
	assert.Equal(t, 6, loaded.Risk.MaxTradesPerMinute)
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"unknown mode":        "mode: paper\n",
		"negative cash":       "initial_cash: -1\n",
		"bad policy":          "allocator: {policy: magic}\n",
		"position over total": "risk: {max_position_exposure_pct: 0.9, max_total_exposure_pct: 0.5}\n",
		"live without bridge": "mode: live\n",
		"bad sql driver":      "journal: {sql: {driver: oracle}}\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data), ".yml")
			require.Error(t, err)
		})
	}
}

func TestLiveModeWithBridge(t *testing.T) {
	data := "mode: live\nbridge:\n  base_url: http://localhost:9000\n  events_url: ws://localhost:9000/events\n"
	loaded, err := Parse([]byte(data), ".yaml")
	require.NoError(t, err)
	assert.Equal(t, schema.ModeLive, loaded.Mode)
	assert.Equal(t, "http://localhost:9000", loaded.Bridge.BaseURL)
}

func TestLoadAndWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: replay\n"), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, loaded.Path)

	updates := make(chan Loaded, 4)
	ctx := t.Context()
	go Watch(ctx, path, 10*time.Millisecond, func(l Loaded) { updates <- l })

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("mode: replay\nrisk: {max_trades_per_minute: 2}\n"), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case l := <-updates:
		assert.Equal(t, 2, l.Risk.MaxTradesPerMinute)
	case <-time.After(2 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestWatchKeepsPreviousConfigOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: replay\n"), 0o644))

	updates := make(chan Loaded, 4)
	go Watch(t.Context(), path, 10*time.Millisecond, func(l Loaded) { updates <- l })

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("mode: nope\n"), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case <-updates:
		t.Fatal("invalid config must not be applied")
	case <-time.After(100 * time.Millisecond):
	}
}
