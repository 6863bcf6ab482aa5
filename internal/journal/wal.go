package journal

import (
	"context"

	"tradecore/internal/recorder"
	"tradecore/internal/schema"
)

// WALSink appends entries to the segment recorder, which state.Recover
// replays at startup.
type WALSink struct {
	w *recorder.Writer
}

// NewWALSink opens a segment writer.
func NewWALSink(cfg recorder.Config) (*WALSink, error) {
	w, err := recorder.NewWriter(cfg)
	if err != nil {
		return nil, err
	}
	return &WALSink{w: w}, nil
}

func (s *WALSink) Name() string { return "wal" }

func (s *WALSink) Write(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := s.w.Append(schema.NewHeader(e.Kind, e.Seq, e.Time.UnixNano()), e.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Run flushes the segment on the recorder's intervals.
func (s *WALSink) Run(ctx context.Context) error {
	return s.w.Run(ctx)
}

func (s *WALSink) Flush() error {
	return s.w.Flush()
}

func (s *WALSink) Close() error {
	return s.w.Close()
}
