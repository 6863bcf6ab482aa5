package journal

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"tradecore/internal/clock"
	"tradecore/internal/codec"
	"tradecore/internal/obs"
	"tradecore/internal/recorder"
	"tradecore/internal/schema"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type failingSink struct {
	closeErr error
}

func (failingSink) Name() string { return "failing" }

func (failingSink) Write(context.Context, []Entry) error { return errors.New("sink down") }

func (s failingSink) Close() error { return s.closeErr }

func TestSynchronousJournalSequencesRecords(t *testing.T) {
	mem := NewMemorySink(10)
	j := New(Config{Synchronous: true}, mem).WithClock(clock.NewManual(t0))

	j.Record(schema.RecordOrder, "ord-000001", map[string]string{"status": "pending"})
	j.Record(schema.RecordFill, "ord-000001", schema.Fill{OrderID: "ord-000001"})
	assert.Empty(t, mem.Recent(0), "records wait for the next flush")
	assert.Equal(t, 2, j.Flush())

	got := mem.Recent(0)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, uint64(2), got[1].Seq)
	assert.Equal(t, schema.RecordFill, got[1].Kind)
	assert.Equal(t, t0, got[1].Time)
	assert.JSONEq(t, `{"status":"pending"}`, string(got[0].Payload))
	assert.Equal(t, uint64(2), j.Seq())
}

type countingSink struct {
	mu      sync.Mutex
	batches []int
}

func (*countingSink) Name() string { return "counting" }

func (s *countingSink) Write(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, len(entries))
	return nil
}

func (*countingSink) Close() error { return nil }

func TestSynchronousRecordDefersSinkWrites(t *testing.T) {
	sink := &countingSink{}
	j := New(Config{Synchronous: true}, sink)

	for i := 0; i < 3; i++ {
		j.Record(schema.RecordOrder, "ord-000001", map[string]int{"n": i})
	}
	assert.Empty(t, sink.batches)

	assert.Equal(t, 3, j.Flush())
	assert.Equal(t, []int{3}, sink.batches)
	assert.Equal(t, 0, j.Flush())
	assert.Equal(t, []int{3}, sink.batches)

	var nilJournal *Journal
	assert.Equal(t, 0, nilJournal.Flush())
}

func TestAsyncJournalRunDrainsOnStop(t *testing.T) {
	mem := NewMemorySink(100)
	j := New(DefaultConfig(), mem)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	for i := 0; i < 20; i++ {
		j.Record(schema.RecordSignal, "BTCUSDT", i)
	}
	require.Eventually(t, func() bool { return mem.Total() == 20 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	recent := mem.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, uint64(20), recent[2].Seq)
}

func TestJournalDropsWhenQueueFull(t *testing.T) {
	m := obs.NewMetrics()
	mem := NewMemorySink(10)
	j := New(Config{QueueSize: 1}, mem).WithMetrics(m)

	j.Record(schema.RecordOrder, "a", 1)
	j.Record(schema.RecordOrder, "b", 2)
	assert.Equal(t, uint64(1), m.Snapshot().JournalDrops)

	assert.Equal(t, 1, j.Flush())
	require.Len(t, mem.Recent(0), 1)
	assert.Equal(t, "a", mem.Recent(0)[0].Subject)
}

func TestJournalSinkFailuresAreCountedAndCloseCombinesErrors(t *testing.T) {
	m := obs.NewMetrics()
	mem := NewMemorySink(10)
	j := New(Config{Synchronous: true}, failingSink{closeErr: errors.New("close a")}, mem, failingSink{closeErr: errors.New("close b")}).WithMetrics(m)

	j.Record(schema.RecordBreaker, "breaker", "tripped")
	j.Flush()
	assert.Equal(t, uint64(2), m.Snapshot().JournalDrops)
	assert.Len(t, mem.Recent(0), 1, "a failing sink does not block the others")

	err := j.Close()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)

	j.Record(schema.RecordBreaker, "breaker", "after close")
	j.Flush()
	assert.Len(t, mem.Recent(0), 2, "synchronous journal writes without the queue")
}

func TestMemorySinkKeepsNewest(t *testing.T) {
	mem := NewMemorySink(2)
	require.NoError(t, mem.Write(context.Background(), []Entry{{Seq: 1}, {Seq: 2}, {Seq: 3}}))
	got := mem.Recent(5)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].Seq)
	assert.Equal(t, uint64(3), mem.Total())
}

func TestEnvelope(t *testing.T) {
	e := Entry{Seq: 7, Kind: schema.RecordOrder, Subject: "ord-1", Time: t0, Payload: []byte(`{"qty":"2"}`)}
	data, err := e.Envelope()
	require.NoError(t, err)

	var out struct {
		Seq     uint64         `json:"seq"`
		Kind    string         `json:"kind"`
		Subject string         `json:"subject"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, sonic.Unmarshal(data, &out))
	assert.Equal(t, uint64(7), out.Seq)
	assert.Equal(t, "order", out.Kind)
	assert.Equal(t, "2", out.Payload["qty"])
}

func TestWALSinkIsRecoverable(t *testing.T) {
	dir := t.TempDir()
	wal, err := NewWALSink(recorder.DefaultConfig(dir))
	require.NoError(t, err)
	j := New(Config{Synchronous: true}, wal).WithClock(clock.NewManual(t0))

	fill := schema.Fill{OrderID: "ord-1", Symbol: "BTCUSDT", Side: schema.SideBuy}
	j.Record(schema.RecordOrder, "ord-1", schema.Order{ID: "ord-1"})
	j.Record(schema.RecordFill, "ord-1", fill)
	require.NoError(t, j.Close())

	var kinds []schema.RecordKind
	err = recorder.Scan(t.Context(), recorder.ScanConfig{Dir: dir}, func(h schema.RecordHeader, payload []byte) error {
		kinds = append(kinds, h.Kind)
		if h.Kind == schema.RecordFill {
			got, err := codec.DecodeFill(payload)
			require.NoError(t, err)
			assert.Equal(t, "ord-1", got.OrderID)
			assert.Equal(t, t0.UnixNano(), h.Time)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []schema.RecordKind{schema.RecordOrder, schema.RecordFill}, kinds)
}

func TestLogSinkWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	sink := newLogSink(zapcore.AddSync(&buf))
	require.NoError(t, sink.Write(context.Background(), []Entry{
		{Seq: 1, Kind: schema.RecordRejection, Subject: "ETHUSDT", Time: t0, Payload: []byte(`{"reason":"rate_limited"}`)},
		{Seq: 2, Kind: schema.RecordBreaker, Subject: "breaker", Time: t0, Payload: []byte(`"triggered"`)},
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var first map[string]any
	require.NoError(t, sonic.UnmarshalString(lines[0], &first))
	assert.Equal(t, "rejection", first["kind"])
	assert.Equal(t, "ETHUSDT", first["subject"])
	assert.Equal(t, map[string]any{"reason": "rate_limited"}, first["payload"])
}

func TestKafkaMessagesKeyedBySubject(t *testing.T) {
	msgs, err := kafkaMessages([]Entry{
		{Seq: 1, Kind: schema.RecordOrder, Subject: "ord-1", Time: t0, Payload: []byte(`{}`)},
		{Seq: 2, Kind: schema.RecordFill, Subject: "ord-1", Time: t0, Payload: []byte(`{}`)},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("ord-1"), msgs[0].Key)
	assert.Equal(t, "fill", string(msgs[1].Headers[0].Value))
	assert.Contains(t, string(msgs[1].Value), `"seq":2`)
}

func TestRedisLatestKeys(t *testing.T) {
	s := newRedisSink(RedisConfig{}, nil)
	key, ok := s.latestKey(Entry{Kind: schema.RecordOrder, Subject: "ord-1"})
	require.True(t, ok)
	assert.Equal(t, "tradecore:order:ord-1", key)

	_, ok = s.latestKey(Entry{Kind: schema.RecordFill, Subject: "ord-1"})
	assert.False(t, ok)
	assert.Equal(t, "tradecore:journal", s.cfg.Stream)
}
