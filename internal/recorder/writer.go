package recorder

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tradecore/internal/schema"
)

var (
	ErrClosed          = errors.New("journal segment writer closed")
	ErrPayloadTooLarge = errors.New("journal segment payload too large")
)

const maxPayloadLen = uint64(^uint32(0))

// Writer appends records to rotating segment files. Safe for concurrent use.
type Writer struct {
	cfg Config

	mu        sync.Mutex
	seg       *segment
	segID     uint64
	headerBuf []byte
	closed    bool
	now       func() time.Time
}

type segment struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}

// NewWriter creates a writer and ensures the directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{
		cfg:       cfg,
		headerBuf: make([]byte, recordHeaderSize),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Append writes one record. The payload is copied into the segment buffer.
func (w *Writer) Append(header schema.RecordHeader, payload []byte) error {
	if uint64(len(payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}
	if header.Version == 0 {
		header.Version = schema.SchemaVersion
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	size := int64(recordHeaderSize + len(payload) + recordChecksumSize)
	now := w.now()
	if w.shouldRotate(now, size) {
		if err := w.closeSegment(); err != nil {
			return err
		}
		if err := w.openSegment(now); err != nil {
			return err
		}
	}

	encodeHeader(w.headerBuf, header, len(payload))
	var sum [recordChecksumSize]byte
	binary.LittleEndian.PutUint32(sum[:], checksum(w.headerBuf, payload))

	if _, err := w.seg.buf.Write(w.headerBuf); err != nil {
		return err
	}
	if _, err := w.seg.buf.Write(payload); err != nil {
		return err
	}
	if _, err := w.seg.buf.Write(sum[:]); err != nil {
		return err
	}
	w.seg.size += size
	return nil
}

// Flush pushes buffered bytes to the file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seg == nil {
		return nil
	}
	return w.seg.buf.Flush()
}

// Sync flushes and fsyncs the current segment.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seg == nil {
		return nil
	}
	if err := w.seg.buf.Flush(); err != nil {
		return err
	}
	return w.seg.file.Sync()
}

// Run flushes and syncs on the configured intervals until ctx is done.
func (w *Writer) Run(ctx context.Context) error {
	var flushC, syncC <-chan time.Time
	if w.cfg.FlushInterval > 0 {
		t := time.NewTicker(w.cfg.FlushInterval)
		defer t.Stop()
		flushC = t.C
	}
	if w.cfg.SyncInterval > 0 {
		t := time.NewTicker(w.cfg.SyncInterval)
		defer t.Stop()
		syncC = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-flushC:
			if err := w.Flush(); err != nil {
				return err
			}
		case <-syncC:
			if err := w.Sync(); err != nil {
				return err
			}
		}
	}
}

// Close flushes, syncs and closes the current segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeSegment()
}

func (w *Writer) shouldRotate(now time.Time, next int64) bool {
	if w.seg == nil {
		return true
	}
	if w.seg.size > 0 && w.seg.size+next > w.cfg.SegmentMaxBytes {
		return true
	}
	return w.cfg.SegmentMaxDuration > 0 && now.Sub(w.seg.openedAt) >= w.cfg.SegmentMaxDuration
}

func (w *Writer) closeSegment() error {
	seg := w.seg
	if seg == nil {
		return nil
	}
	w.seg = nil
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

func (w *Writer) openSegment(now time.Time) error {
	ts := now.Format("20060102-150405")
	for {
		w.segID++
		name := fmt.Sprintf("%s-%s-%06d%s", w.cfg.FilePrefix, ts, w.segID, segmentExt)
		file, err := os.OpenFile(filepath.Join(w.cfg.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return err
		}
		w.seg = &segment{
			file:     file,
			buf:      bufio.NewWriterSize(file, w.cfg.BufferSize),
			openedAt: now,
		}
		return nil
	}
}
