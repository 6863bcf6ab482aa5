package journal

import (
	"context"
	"sync"
)

// MemorySink keeps the most recent entries, newest last.
type MemorySink struct {
	mu      sync.Mutex
	cap     int
	entries []Entry
	total   uint64
}

// NewMemorySink keeps up to capacity entries.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemorySink{cap: capacity}
}

func (m *MemorySink) Name() string { return "memory" }

func (m *MemorySink) Write(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	m.total += uint64(len(entries))
	if over := len(m.entries) - m.cap; over > 0 {
		m.entries = append(m.entries[:0:0], m.entries[over:]...)
	}
	return nil
}

func (m *MemorySink) Close() error { return nil }

// Recent returns up to n of the newest entries.
func (m *MemorySink) Recent(n int) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.entries) {
		n = len(m.entries)
	}
	return append([]Entry(nil), m.entries[len(m.entries)-n:]...)
}

// Total is the number of entries ever written.
func (m *MemorySink) Total() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}
