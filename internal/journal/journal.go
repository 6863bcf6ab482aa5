package journal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"tradecore/internal/bus"
	"tradecore/internal/clock"
	"tradecore/internal/codec"
	"tradecore/internal/obs"
	"tradecore/internal/schema"
)

// Config controls the journal queue.
type Config struct {
	QueueSize    int           `json:"queueSize" yaml:"queue_size" validate:"gte=0"`
	WriteTimeout time.Duration `json:"writeTimeout" yaml:"write_timeout" validate:"gte=0"`

	// Synchronous keeps records in order without the queue; they reach the
	// sinks on the next Flush, outside the caller's locks. Replay sets it.
	Synchronous bool `json:"-" yaml:"-"`
}

// DefaultConfig buffers 8192 records.
func DefaultConfig() Config {
	return Config{QueueSize: 8192, WriteTimeout: 5 * time.Second}
}

// Entry is one sequenced audit record. Payload is JSON.
type Entry struct {
	Seq     uint64
	Kind    schema.RecordKind
	Subject string
	Time    time.Time
	Payload []byte
}

type envelope struct {
	Seq     uint64          `json:"seq"`
	Kind    string          `json:"kind"`
	Subject string          `json:"subject"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// Envelope encodes the entry with its metadata as one JSON document.
func (e Entry) Envelope() ([]byte, error) {
	return codec.Encode(envelope{
		Seq:     e.Seq,
		Kind:    e.Kind.String(),
		Subject: e.Subject,
		Time:    e.Time,
		Payload: json.RawMessage(e.Payload),
	})
}

// Sink is a write-only destination for entries.
type Sink interface {
	Name() string
	Write(ctx context.Context, entries []Entry) error
	Close() error
}

// Runner is implemented by sinks with background work such as periodic
// flushing.
type Runner interface {
	Run(ctx context.Context) error
}

// Journal sequences records and fans them out to its sinks. Record never
// blocks on a sink; when the queue is full the record is dropped and
// counted.
type Journal struct {
	cfg     Config
	clock   clock.Clock
	metrics *obs.Metrics
	sinks   []Sink
	queue   *bus.Queue[Entry]

	mu      sync.Mutex
	seq     uint64
	pending []Entry

	// flushMu keeps batches in sequence order across concurrent flushes.
	flushMu sync.Mutex
}

// New creates a journal writing to sinks.
func New(cfg Config, sinks ...Sink) *Journal {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Journal{
		cfg:   cfg,
		clock: clock.Real{},
		sinks: sinks,
		queue: bus.NewQueue[Entry](cfg.QueueSize),
	}
}

func (j *Journal) WithClock(c clock.Clock) *Journal {
	if c != nil {
		j.clock = c
	}
	return j
}

func (j *Journal) WithMetrics(m *obs.Metrics) *Journal {
	j.metrics = m
	return j
}

// Seq is the last assigned sequence number.
func (j *Journal) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Resume continues numbering after seq, e.g. after recovery.
func (j *Journal) Resume(seq uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if seq > j.seq {
		j.seq = seq
	}
}

// Record appends one record.
func (j *Journal) Record(kind schema.RecordKind, subject string, payload any) {
	if j == nil {
		return
	}
	data, err := codec.Encode(payload)
	if err != nil {
		logs.Errorf("encode journal record failed, kind: %s, subject: %s, err: %+v", kind, subject, err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	entry := Entry{Seq: j.seq, Kind: kind, Subject: subject, Time: j.clock.Now(), Payload: data}
	if j.cfg.Synchronous {
		j.pending = append(j.pending, entry)
		return
	}
	if err := j.queue.TryPublish(entry); err != nil {
		j.metrics.IncJournalDrop()
		logs.Errorf("journal record dropped, seq: %d, kind: %s, err: %+v", entry.Seq, kind, err)
	}
}

// Run writes queued records until ctx is done, then drains what is left.
// Sinks implementing Runner run alongside.
func (j *Journal) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, s := range j.sinks {
		r, ok := s.(Runner)
		if !ok {
			continue
		}
		eg.Go(func() error {
			return r.Run(ctx)
		})
	}
	eg.Go(func() error {
		j.queue.Run(ctx, func(e Entry) {
			j.write([]Entry{e})
		})
		j.Flush()
		return nil
	})
	return eg.Wait()
}

// Flush writes every queued or pending record now. Call it without holding
// locks that record into the journal.
func (j *Journal) Flush() int {
	if j == nil {
		return 0
	}
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	j.mu.Lock()
	batch := j.pending
	j.pending = nil
	j.mu.Unlock()

	j.queue.Drain(func(e Entry) {
		batch = append(batch, e)
	})
	if len(batch) > 0 {
		j.write(batch)
	}
	return len(batch)
}

// Close stops accepting records, writes the backlog and closes the sinks.
func (j *Journal) Close() error {
	j.queue.Close()
	j.Flush()
	var err error
	for _, s := range j.sinks {
		if cerr := s.Close(); cerr != nil {
			err = multierr.Append(err, errors.Wrapf(cerr, "close sink %s", s.Name()))
		}
	}
	return err
}

func (j *Journal) write(entries []Entry) {
	for _, s := range j.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), j.cfg.WriteTimeout)
		err := s.Write(ctx, entries)
		cancel()
		if err != nil {
			j.metrics.IncJournalDrop()
			logs.Errorf("journal sink write failed, sink: %s, records: %d, err: %+v", s.Name(), len(entries), err)
		}
	}
}
