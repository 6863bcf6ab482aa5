package core

import (
	"context"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"go.uber.org/multierr"

	"tradecore/internal/journal"
	"tradecore/internal/obs"
	"tradecore/internal/ops"
	"tradecore/internal/recorder"
	"tradecore/internal/schema"
	"tradecore/internal/state"
	"tradecore/internal/store"
)

// Audit is the journal with the sinks the control surface reads back.
type Audit struct {
	Journal *journal.Journal
	Memory  *journal.MemorySink
	SQL     *store.Store
}

// OpenJournal attaches every configured sink. Replay writes synchronously.
func OpenJournal(cfg ops.JournalConfig, mode schema.Mode, metrics *obs.Metrics) (Audit, error) {
	var (
		audit Audit
		sinks []journal.Sink
		err   error
	)
	closeAll := func() error {
		var cerr error
		for _, s := range sinks {
			cerr = multierr.Append(cerr, s.Close())
		}
		return cerr
	}

	audit.Memory = journal.NewMemorySink(cfg.MemoryCapacity)
	sinks = append(sinks, audit.Memory)

	if cfg.WALDir != "" {
		wal, werr := journal.NewWALSink(recorder.DefaultConfig(cfg.WALDir))
		if werr != nil {
			return Audit{}, multierr.Append(errors.Wrap(werr, "open wal sink"), closeAll())
		}
		sinks = append(sinks, wal)
	}
	if cfg.Audit.Path != "" {
		sinks = append(sinks, journal.NewLogSink(cfg.Audit))
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic != "" {
		sinks = append(sinks, journal.NewKafkaSink(cfg.Kafka))
	}
	if cfg.Redis.Addr != "" {
		sinks = append(sinks, journal.NewRedisSink(cfg.Redis))
	}
	if cfg.SQL.DSN != "" {
		audit.SQL, err = store.Open(cfg.SQL)
		if err != nil {
			return Audit{}, multierr.Append(errors.Wrap(err, "open sql sink"), closeAll())
		}
		sinks = append(sinks, audit.SQL)
	}

	qcfg := cfg.Queue
	qcfg.Synchronous = mode == schema.ModeReplay
	audit.Journal = journal.New(qcfg, sinks...).WithMetrics(metrics)

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	logs.Infof("journal ready, sinks: %v, synchronous: %t", names, qcfg.Synchronous)
	return audit, nil
}

// Recover rebuilds the ledger from the snapshot and the WAL tail. It
// returns a fresh ledger when nothing was journaled yet.
func Recover(ctx context.Context, cfg ops.JournalConfig, cash decimal.Decimal) (*state.Ledger, uint64, error) {
	if cfg.WALDir == "" {
		return state.NewLedger(cash), 0, nil
	}
	if _, err := os.Stat(cfg.WALDir); os.IsNotExist(err) {
		return state.NewLedger(cash), 0, nil
	}
	snapshot := cfg.SnapshotPath
	if snapshot != "" {
		if _, err := os.Stat(snapshot); err != nil {
			snapshot = ""
		}
	}
	res, err := state.Recover(ctx, state.RecoverConfig{
		JournalDir:   cfg.WALDir,
		SnapshotPath: snapshot,
		InitialCash:  cash,
	})
	if err != nil {
		return nil, 0, errors.Wrapf(err, "recover ledger from %s", cfg.WALDir)
	}
	logs.Infof("ledger recovered, fills: %d, last seq: %d, equity: %s", res.Fills, res.LastSeq, res.Ledger.Equity())
	return res.Ledger, res.LastSeq, nil
}

// Checkpoint writes a ledger snapshot tagged with the journal sequence.
func (c *Core) Checkpoint(path string) error {
	if path == "" {
		return nil
	}
	var seq uint64
	if c.journal != nil {
		c.journal.Flush()
		seq = c.journal.Seq()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create snapshot dir")
	}
	if err := state.WriteSnapshot(path, c.ledger.SnapshotWithMeta(seq)); err != nil {
		return errors.Wrap(err, "write ledger snapshot")
	}
	logs.Infof("ledger checkpoint written, path: %s, seq: %d", path, seq)
	return nil
}
