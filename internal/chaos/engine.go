package chaos

import (
	"math/rand"
	"time"

	"github.com/yanun0323/errors"
)

// Config controls chaos injection behavior.
type Config struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Seed          int64         `json:"seed" yaml:"seed"`
	DropRate      float64       `json:"dropRate" yaml:"drop_rate"`
	DuplicateRate float64       `json:"duplicateRate" yaml:"duplicate_rate"`
	ReorderWindow int           `json:"reorderWindow" yaml:"reorder_window"`
	MaxDelay      time.Duration `json:"maxDelay" yaml:"max_delay"`
}

// Engine drops, duplicates, delays and reorders values of T. It is not safe
// for concurrent use; callers serialize Process and Flush.
type Engine[T any] struct {
	cfg     Config
	rng     *rand.Rand
	delay   func(T, time.Duration) T
	keep    func(T) bool
	pending []T
}

// NewEngine creates a chaos engine with validation. delay shifts the
// timestamp of a value and may be nil when MaxDelay is unused.
func NewEngine[T any](cfg Config, delay func(T, time.Duration) T) (*Engine[T], error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine[T]{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		delay: delay,
	}, nil
}

// WithKeep marks values that are never dropped. They may still be delayed,
// duplicated or reordered.
func (e *Engine[T]) WithKeep(keep func(T) bool) *Engine[T] {
	if e != nil {
		e.keep = keep
	}
	return e
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return errors.New("dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return errors.New("duplicateRate must be between 0 and 1")
	}
	if c.ReorderWindow < 0 {
		return errors.New("reorderWindow must be >= 0")
	}
	if c.MaxDelay < 0 {
		return errors.New("maxDelay must be >= 0")
	}
	return nil
}

// Process applies chaos to a single value and returns any output values.
func (e *Engine[T]) Process(v T) []T {
	if e == nil {
		return []T{v}
	}
	if e.shouldDrop() && (e.keep == nil || !e.keep(v)) {
		return nil
	}
	v = e.applyDelay(v)
	if e.cfg.ReorderWindow <= 1 {
		return e.applyDuplicate(v)
	}
	e.pending = append(e.pending, v)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	return e.applyDuplicate(e.take())
}

// Flush returns any buffered values.
func (e *Engine[T]) Flush() []T {
	if e == nil || len(e.pending) == 0 {
		return nil
	}
	out := make([]T, 0, len(e.pending))
	for len(e.pending) > 0 {
		out = append(out, e.applyDuplicate(e.take())...)
	}
	return out
}

// Pending reports how many values are held back for reordering.
func (e *Engine[T]) Pending() int {
	if e == nil {
		return 0
	}
	return len(e.pending)
}

func (e *Engine[T]) take() T {
	idx := e.rng.Intn(len(e.pending))
	v := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return v
}

func (e *Engine[T]) shouldDrop() bool {
	return e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate
}

func (e *Engine[T]) applyDuplicate(v T) []T {
	out := []T{v}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		out = append(out, v)
	}
	return out
}

func (e *Engine[T]) applyDelay(v T) T {
	if e.cfg.MaxDelay <= 0 || e.delay == nil {
		return v
	}
	delay := time.Duration(e.rng.Int63n(e.cfg.MaxDelay.Nanoseconds() + 1))
	if delay == 0 {
		return v
	}
	return e.delay(v, delay)
}
