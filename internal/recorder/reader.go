package recorder

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tradecore/internal/schema"
)

var ErrChecksumMismatch = errors.New("journal segment checksum mismatch")

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes records sequentially.
type Reader struct {
	r         *bufio.Reader
	opts      ReaderOptions
	headerBuf []byte
	payload   []byte
}

// NewReader wraps r with record decoding.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		r:         bufio.NewReader(r),
		opts:      opts,
		headerBuf: make([]byte, recordHeaderSize),
	}
}

// Next returns the next record. The payload is only valid until the next call.
func (r *Reader) Next() (schema.RecordHeader, []byte, error) {
	n, err := io.ReadFull(r.r, r.headerBuf)
	if err != nil {
		if err == io.EOF && n == 0 {
			return schema.RecordHeader{}, nil, io.EOF
		}
		return schema.RecordHeader{}, nil, err
	}
	header, payloadLen, err := decodeHeader(r.headerBuf)
	if err != nil {
		return header, nil, err
	}
	if r.opts.MaxPayloadSize > 0 && payloadLen > uint32(r.opts.MaxPayloadSize) {
		return header, nil, ErrPayloadTooLarge
	}

	if cap(r.payload) < int(payloadLen) {
		r.payload = make([]byte, payloadLen)
	}
	r.payload = r.payload[:payloadLen]
	if _, err := io.ReadFull(r.r, r.payload); err != nil {
		return header, nil, err
	}

	var sum [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, sum[:]); err != nil {
		return header, nil, err
	}
	if !r.opts.DisableChecksum && checksum(r.headerBuf, r.payload) != binary.LittleEndian.Uint32(sum[:]) {
		return header, nil, ErrChecksumMismatch
	}
	return header, r.payload, nil
}

// ScanConfig selects the segments to read.
type ScanConfig struct {
	Dir             string
	FilePrefix      string
	DisableChecksum bool
	MaxPayloadSize  int
}

// Segments lists segment files in write order.
func Segments(dir, prefix string) ([]string, error) {
	if prefix == "" {
		prefix = defaultFilePrefix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, segmentExt) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// Scan calls handler for every record of every segment in order.
func Scan(ctx context.Context, cfg ScanConfig, handler func(schema.RecordHeader, []byte) error) error {
	if handler == nil {
		return errors.New("scan handler is nil")
	}
	if cfg.Dir == "" {
		return errors.New("scan dir is empty")
	}
	files, err := Segments(cfg.Dir, cfg.FilePrefix)
	if err != nil {
		return err
	}
	opts := ReaderOptions{DisableChecksum: cfg.DisableChecksum, MaxPayloadSize: cfg.MaxPayloadSize}
	for _, path := range files {
		if err := scanFile(ctx, path, opts, handler); err != nil {
			return err
		}
	}
	return nil
}

func scanFile(ctx context.Context, path string, opts ReaderOptions, handler func(schema.RecordHeader, []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := NewReader(file, opts)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, payload, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := handler(header, payload); err != nil {
			return err
		}
	}
}
