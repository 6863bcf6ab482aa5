package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/core"
	"tradecore/internal/obs"
	"tradecore/internal/og"
	"tradecore/internal/ops"
	"tradecore/internal/schema"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func newTestControl(t *testing.T) http.Handler {
	t.Helper()
	metrics := obs.NewMetrics()
	audit, err := core.OpenJournal(ops.JournalConfig{MemoryCapacity: 64}, schema.ModeReplay, metrics)
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Journal.Close() })

	loaded, err := ops.Resolve(ops.Default())
	require.NoError(t, err)
	cfg := core.ConfigFrom(loaded)
	cfg.Journal = audit.Journal
	cfg.Metrics = metrics

	t0 := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	bars := []schema.Bar{{Symbol: "BTCUSDT", Time: t0, Open: decimal.NewFromInt(100), High: decimal.NewFromInt(100), Low: decimal.NewFromInt(100), Close: decimal.NewFromInt(100)}}
	replay, err := core.NewReplay(cfg, og.FillModel{}, bars, nil)
	require.NoError(t, err)
	_, err = replay.Run(t.Context())
	require.NoError(t, err)
	t.Cleanup(replay.Core().Close)

	return newControl(replay.Core(), audit, metrics).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func TestControlSubmitSignal(t *testing.T) {
	h := newTestControl(t)

	code, _ := do(t, h, http.MethodPost, "/api/v1/signals",
		`{"symbol":"BTCUSDT","side":"buy","entry":"100","stopLoss":"95","takeProfit":"110","confidence":0.7,"strategyId":"manual"}`)
	assert.Equal(t, http.StatusAccepted, code)

	code, env := do(t, h, http.MethodPost, "/api/v1/signals",
		`{"symbol":"BTCUSDT","side":"buy","entry":"100","stopLoss":"105","takeProfit":"110","confidence":0.7}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.NotEmpty(t, env.Error)

	code, _ = do(t, h, http.MethodPost, "/api/v1/signals", `{"side":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, h, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, code)
	var st core.Status
	require.NoError(t, sonic.Unmarshal(env.Data, &st))
	assert.Equal(t, 1, st.PendingSignals)
	assert.True(t, st.CanTrade)
}

func TestControlKillSwitch(t *testing.T) {
	h := newTestControl(t)

	code, _ := do(t, h, http.MethodPost, "/api/v1/kill-switch", `{"reason":"drill"}`)
	require.Equal(t, http.StatusOK, code)

	code, env := do(t, h, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, code)
	var st core.Status
	require.NoError(t, sonic.Unmarshal(env.Data, &st))
	assert.False(t, st.CanTrade)
	assert.True(t, st.CircuitBreakerTriggered)

	// the replay clock does not move, so the cooldown is still running
	code, _ = do(t, h, http.MethodPost, "/api/v1/circuit-breaker/reset", "")
	assert.NotEqual(t, http.StatusOK, code)

	code, env = do(t, h, http.MethodGet, "/api/v1/journal?n=10", "")
	require.Equal(t, http.StatusOK, code)
	var records []map[string]any
	require.NoError(t, sonic.Unmarshal(env.Data, &records))
	require.NotEmpty(t, records)
	assert.Equal(t, "breaker", records[len(records)-1]["kind"])
}

func TestControlHealthAndMetrics(t *testing.T) {
	h := newTestControl(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestControlCancelUnknownOrder(t *testing.T) {
	h := newTestControl(t)
	code, env := do(t, h, http.MethodDelete, "/api/v1/orders/nope", "")
	assert.NotEqual(t, http.StatusAccepted, code)
	assert.NotEmpty(t, env.Error)
}
