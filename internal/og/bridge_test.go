package og

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/schema"
)

func newSidecar(t *testing.T, events []Event) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req PlaceRequest
		if err := sonic.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch req.Symbol {
		case "BUSY":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "DENIED":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			assert.Equal(t, "key", r.Header.Get("X-API-KEY"))
			_, _ = w.Write([]byte(`{"venueOrderId":"v-` + req.ClientOrderID + `"}`))
		}
	})
	mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if strings.HasSuffix(r.URL.Path, "missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, ev := range events {
			data, _ := sonic.Marshal(ev)
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		_, _, _ = conn.ReadMessage()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestBridge(srv *httptest.Server) *Bridge {
	return NewBridge(BridgeConfig{
		BaseURL:   srv.URL + "/",
		EventsURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/events",
		APIKey:    "key",
	})
}

func TestBridgePlaceAndCancel(t *testing.T) {
	b := newTestBridge(newSidecar(t, nil))
	ctx := context.Background()

	venueID, err := b.PlaceOrder(ctx, PlaceRequest{ClientOrderID: "ord-1", Symbol: "BTCUSDT", Side: schema.SideBuy, Qty: dec(1)})
	require.NoError(t, err)
	assert.Equal(t, "v-ord-1", venueID)

	_, err = b.PlaceOrder(ctx, PlaceRequest{ClientOrderID: "ord-2", Symbol: "BUSY", Side: schema.SideBuy, Qty: dec(1)})
	assert.Equal(t, ClassTransient, Classify(err))

	_, err = b.PlaceOrder(ctx, PlaceRequest{ClientOrderID: "ord-3", Symbol: "DENIED", Side: schema.SideBuy, Qty: dec(1)})
	assert.Equal(t, ClassFatal, Classify(err))

	require.NoError(t, b.CancelOrder(ctx, "v-ord-1"))
	assert.Equal(t, ClassFatal, Classify(b.CancelOrder(ctx, "missing")))
}

func TestBridgeStreamsEvents(t *testing.T) {
	sent := []Event{
		{OrderID: "ord-1", VenueOrderID: "v-1", Status: schema.OrderSubmitted},
		{OrderID: "ord-1", VenueOrderID: "v-1", Status: schema.OrderFilled, FilledQty: dec(2), AvgPrice: dec(101.5), FeePaid: dec(0.2)},
	}
	b := newTestBridge(newSidecar(t, sent))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	var got []Event
	timeout := time.After(3 * time.Second)
	for len(got) < len(sent) {
		select {
		case ev := <-b.Events():
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("received %d events", len(got))
		}
	}
	assert.True(t, b.Connected())
	assert.Equal(t, schema.OrderFilled, got[1].Status)
	assert.True(t, got[1].AvgPrice.Equal(dec(101.5)))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("bridge did not stop")
	}
	assert.False(t, b.Connected())
}
