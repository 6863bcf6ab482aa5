package execution

import (
	"context"
	"sync"

	"tradecore/internal/schema"
)

// Handle follows one routed order until it is terminal.
type Handle struct {
	ID string

	once  sync.Once
	done  chan struct{}
	mu    sync.Mutex
	order schema.Order
}

func newHandle(o schema.Order) *Handle {
	return &Handle{ID: o.ID, done: make(chan struct{}), order: o}
}

// Done is closed once the order is terminal and its fills are applied.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Order returns the latest known state.
func (h *Handle) Order() schema.Order {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.order
}

// Wait blocks until the order is terminal or ctx is done.
func (h *Handle) Wait(ctx context.Context) (schema.Order, error) {
	select {
	case <-h.done:
		return h.Order(), nil
	case <-ctx.Done():
		return h.Order(), ctx.Err()
	}
}

func (h *Handle) update(o schema.Order) {
	h.mu.Lock()
	h.order = o
	h.mu.Unlock()
	if o.Status.Terminal() {
		h.once.Do(func() { close(h.done) })
	}
}
