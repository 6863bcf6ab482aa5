package og

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/chaos"
	"tradecore/internal/obs"
	"tradecore/internal/schema"
)

func TestFillModel(t *testing.T) {
	m := FillModel{SlippageBps: 2, FeeBps: 10}
	assert.True(t, m.Price(schema.SideBuy, dec(100)).Equal(dec(100.02)))
	assert.True(t, m.Price(schema.SideSell, dec(100)).Equal(dec(99.98)))
	assert.True(t, m.Fee(dec(30), dec(100)).Equal(dec(3)))
}

func TestSimGatewayFillsAtNextOpen(t *testing.T) {
	g := NewSimGateway(SimConfig{Fill: FillModel{SlippageBps: 2, FeeBps: 10}, IDs: obs.NewSequence("sim", 0)})
	ctx := context.Background()

	venueID, err := g.PlaceOrder(ctx, PlaceRequest{ClientOrderID: "ord-1", Symbol: "BTCUSDT", Side: schema.SideBuy, Qty: dec(30)})
	require.NoError(t, err)
	assert.Equal(t, "sim-000001", venueID)
	assert.Equal(t, 0, g.Advance("ETHUSDT", t0, dec(50)))
	assert.Equal(t, 1, g.Resting())

	assert.Equal(t, 1, g.Advance("BTCUSDT", t0, dec(100)))
	events := g.Drain()
	require.Len(t, events, 2)
	assert.Equal(t, schema.OrderSubmitted, events[0].Status)
	fill := events[1]
	assert.Equal(t, schema.OrderFilled, fill.Status)
	assert.Equal(t, "ord-1", fill.OrderID)
	assert.True(t, fill.FilledQty.Equal(dec(30)))
	assert.True(t, fill.AvgPrice.Equal(dec(100.02)))
	assert.True(t, fill.FeePaid.Equal(dec(3.0006)))
	assert.Equal(t, t0, fill.Time)
	assert.Empty(t, g.Drain())
}

func TestSimGatewayLimitOrders(t *testing.T) {
	g := NewSimGateway(SimConfig{})
	_, err := g.PlaceOrder(context.Background(), PlaceRequest{ClientOrderID: "a", Symbol: "X", Side: schema.SideBuy, Qty: dec(1), Price: dec(90)})
	require.NoError(t, err)
	assert.Equal(t, 0, g.Advance("X", t0, dec(95)))
	assert.Equal(t, 1, g.Advance("X", t0, dec(89)))
}

func TestSimGatewayCancel(t *testing.T) {
	g := NewSimGateway(SimConfig{})
	ctx := context.Background()
	venueID, err := g.PlaceOrder(ctx, PlaceRequest{ClientOrderID: "a", Symbol: "X", Side: schema.SideSell, Qty: dec(1)})
	require.NoError(t, err)
	require.NoError(t, g.CancelOrder(ctx, venueID))
	assert.Equal(t, 0, g.Resting())

	err = g.CancelOrder(ctx, venueID)
	assert.Equal(t, ClassFatal, Classify(err))

	events := g.Drain()
	require.Len(t, events, 2)
	assert.Equal(t, schema.OrderCanceled, events[1].Status)
}

func TestSimGatewayDisconnectAndInjectedErrors(t *testing.T) {
	g := NewSimGateway(SimConfig{})
	ctx := context.Background()
	req := PlaceRequest{ClientOrderID: "a", Symbol: "X", Side: schema.SideBuy, Qty: dec(1)}

	g.Disconnect()
	assert.False(t, g.Connected())
	_, err := g.PlaceOrder(ctx, req)
	assert.Equal(t, ClassTransient, Classify(err))
	g.Reconnect()

	g.Inject(Fatal("place order", errors.New("unauthorized")))
	_, err = g.PlaceOrder(ctx, req)
	assert.Equal(t, ClassFatal, Classify(err))

	_, err = g.PlaceOrder(ctx, PlaceRequest{ClientOrderID: "b", Symbol: "X", Side: schema.SideBuy})
	assert.Equal(t, ClassFatal, Classify(err))

	_, err = g.PlaceOrder(ctx, req)
	require.NoError(t, err)
}

func TestSimGatewayEventsChannel(t *testing.T) {
	g := NewSimGateway(SimConfig{})
	defer g.Close()
	events := g.Events()

	_, err := g.PlaceOrder(context.Background(), PlaceRequest{ClientOrderID: "a", Symbol: "X", Side: schema.SideBuy, Qty: dec(1)})
	require.NoError(t, err)
	g.Advance("X", t0, dec(10))

	var got []Event
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("received %d events", len(got))
		}
	}
	assert.Equal(t, schema.OrderFilled, got[1].Status)
}

func TestSimGatewayChaosDuplicates(t *testing.T) {
	engine, err := chaos.NewEngine[Event](chaos.Config{Seed: 3, DuplicateRate: 1}, nil)
	require.NoError(t, err)
	g := NewSimGateway(SimConfig{Chaos: engine})

	_, err = g.PlaceOrder(context.Background(), PlaceRequest{ClientOrderID: "a", Symbol: "X", Side: schema.SideBuy, Qty: dec(1)})
	require.NoError(t, err)
	g.Advance("X", t0, dec(10))
	assert.Len(t, g.Drain(), 4)
}

func TestSimGatewayChaosNeverDropsTerminalEvents(t *testing.T) {
	engine, err := chaos.NewEngine[Event](chaos.Config{Seed: 3, DropRate: 1}, nil)
	require.NoError(t, err)
	g := NewSimGateway(SimConfig{Chaos: engine})

	_, err = g.PlaceOrder(context.Background(), PlaceRequest{ClientOrderID: "a", Symbol: "X", Side: schema.SideBuy, Qty: dec(1)})
	require.NoError(t, err)
	g.Advance("X", t0, dec(10))
	got := g.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, schema.OrderFilled, got[0].Status)
	assert.Equal(t, "a", got[0].OrderID)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassNone, Classify(nil))
	assert.Equal(t, ClassTransient, Classify(context.DeadlineExceeded))
	assert.Equal(t, ClassTransient, Classify(errors.New("connection reset")))
	assert.Equal(t, ClassFatal, Classify(Fatal("x", nil)))
	assert.Equal(t, ClassTransient, Classify(Transient("x", nil)))
}
