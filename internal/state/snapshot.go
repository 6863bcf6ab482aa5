package state

import (
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradecore/internal/schema"
)

// Snapshot captures the ledger at a point in time.
type Snapshot struct {
	Timestamp int64             `json:"timestamp"`
	LastSeq   uint64            `json:"lastSeq"`
	Cash      decimal.Decimal   `json:"cash"`
	Positions []schema.Position `json:"positions"`
}

// SnapshotWithMeta builds a snapshot tagged with the last journal sequence.
func (l *Ledger) SnapshotWithMeta(lastSeq uint64) Snapshot {
	acct := l.Snapshot()
	return Snapshot{
		Timestamp: time.Now().UTC().UnixNano(),
		LastSeq:   lastSeq,
		Cash:      acct.Cash,
		Positions: acct.Positions,
	}
}

// ApplySnapshot replaces cash and positions with the snapshot contents.
func (l *Ledger) ApplySnapshot(snapshot Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = snapshot.Cash
	l.positions = make(map[string]*schema.Position, len(snapshot.Positions))
	for _, p := range snapshot.Positions {
		pos := p
		l.positions[pos.Symbol] = &pos
	}
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// CompareSnapshots checks that two snapshots hold the same cash and positions.
func CompareSnapshots(expected, actual Snapshot) error {
	if !expected.Cash.Equal(actual.Cash) {
		return errors.Errorf("snapshot cash mismatch: expected=%s actual=%s", expected.Cash, actual.Cash)
	}
	want := make(map[string]schema.Position, len(expected.Positions))
	for _, p := range expected.Positions {
		if !p.Qty.IsZero() {
			want[p.Symbol] = p
		}
	}
	seen := 0
	for _, p := range actual.Positions {
		if p.Qty.IsZero() {
			continue
		}
		w, ok := want[p.Symbol]
		if !ok {
			return errors.Errorf("snapshot unexpected symbol: %s", p.Symbol)
		}
		if !w.Qty.Equal(p.Qty) || !w.AvgPrice.Equal(p.AvgPrice) {
			return errors.Errorf("snapshot position mismatch: symbol=%s expected=%s@%s actual=%s@%s",
				p.Symbol, w.Qty, w.AvgPrice, p.Qty, p.AvgPrice)
		}
		seen++
	}
	if seen != len(want) {
		return errors.Errorf("snapshot length mismatch: expected=%d actual=%d", len(want), seen)
	}
	return nil
}
