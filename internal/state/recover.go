package state

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradecore/internal/codec"
	"tradecore/internal/recorder"
	"tradecore/internal/schema"
)

// RecoverConfig controls snapshot + journal recovery.
type RecoverConfig struct {
	JournalDir      string
	SnapshotPath    string
	FilePrefix      string
	InitialCash     decimal.Decimal
	DisableChecksum bool
	MaxPayloadSize  int
}

// RecoverResult contains the rebuilt ledger and metadata.
type RecoverResult struct {
	Ledger  *Ledger
	LastSeq uint64
	Fills   int
}

// Recover loads a snapshot (if any) and replays fill records after it.
func Recover(ctx context.Context, cfg RecoverConfig) (RecoverResult, error) {
	if cfg.JournalDir == "" {
		return RecoverResult{}, errors.New("journal dir is empty")
	}
	ledger := NewLedger(cfg.InitialCash)
	var lastSeq uint64
	if cfg.SnapshotPath != "" {
		snapshot, err := ReadSnapshot(cfg.SnapshotPath)
		if err != nil {
			return RecoverResult{}, err
		}
		ledger.ApplySnapshot(snapshot)
		lastSeq = snapshot.LastSeq
	}

	fills := 0
	floor := lastSeq
	err := recorder.Scan(ctx, recorder.ScanConfig{
		Dir:             cfg.JournalDir,
		FilePrefix:      cfg.FilePrefix,
		DisableChecksum: cfg.DisableChecksum,
		MaxPayloadSize:  cfg.MaxPayloadSize,
	}, func(header schema.RecordHeader, payload []byte) error {
		if floor > 0 && header.Seq <= floor {
			return nil
		}
		if header.Seq > lastSeq {
			lastSeq = header.Seq
		}
		if header.Kind != schema.RecordFill {
			return nil
		}
		fill, err := codec.DecodeFill(payload)
		if err != nil {
			return errors.Wrapf(err, "decode fill seq=%d", header.Seq)
		}
		if _, _, err := ledger.ApplyFill(fill); err != nil {
			return errors.Wrapf(err, "apply fill seq=%d", header.Seq)
		}
		fills++
		return nil
	})
	if err != nil {
		return RecoverResult{}, err
	}
	return RecoverResult{Ledger: ledger, LastSeq: lastSeq, Fills: fills}, nil
}
