package execution

import (
	"context"
	"sync"
)

// lane places the orders of one symbol in submission order.
type lane struct {
	mu    sync.Mutex
	queue []string
	wake  chan struct{}
}

func newLane() *lane {
	return &lane{wake: make(chan struct{}, 1)}
}

func (l *lane) push(id string) {
	l.mu.Lock()
	l.queue = append(l.queue, id)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *lane) pop() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return "", false
	}
	id := l.queue[0]
	l.queue[0] = ""
	l.queue = l.queue[1:]
	return id, true
}

func (l *lane) run(ctx context.Context, place func(context.Context, string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
		for {
			id, ok := l.pop()
			if !ok {
				break
			}
			place(ctx, id)
		}
	}
}
