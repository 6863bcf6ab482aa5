package recorder

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/schema"
)

func TestWriterScanRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SegmentMaxBytes = 128
	w, err := NewWriter(cfg)
	require.NoError(t, err)

	payloads := []string{`{"a":1}`, `{"b":2}`, `{"c":"three"}`, ``, `{"d":4}`}
	for i, p := range payloads {
		require.NoError(t, w.Append(schema.NewHeader(schema.RecordOrder, uint64(i+1), int64(i)), []byte(p)))
	}
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Append(schema.NewHeader(schema.RecordOrder, 9, 9), nil), ErrClosed)

	files, err := Segments(dir, "")
	require.NoError(t, err)
	assert.Greater(t, len(files), 1, "small segments must rotate")

	var got []string
	var seqs []uint64
	err = Scan(t.Context(), ScanConfig{Dir: dir}, func(h schema.RecordHeader, payload []byte) error {
		assert.Equal(t, schema.RecordOrder, h.Kind)
		assert.Equal(t, schema.SchemaVersion, h.Version)
		seqs = append(seqs, h.Seq)
		got = append(got, string(payload))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, payloads, got)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs)
}

func TestScanDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, w.Append(schema.NewHeader(schema.RecordFill, 1, 1), []byte(`{"qty":"1"}`)))
	require.NoError(t, w.Close())

	files, err := Segments(dir, "")
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	data[recordHeaderSize] ^= 0xFF
	require.NoError(t, os.WriteFile(files[0], data, 0o644))

	err = Scan(t.Context(), ScanConfig{Dir: dir}, func(schema.RecordHeader, []byte) error { return nil })
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	err = Scan(t.Context(), ScanConfig{Dir: dir, DisableChecksum: true}, func(schema.RecordHeader, []byte) error { return nil })
	assert.NoError(t, err)
}
