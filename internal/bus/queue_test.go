package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/pkg/exception"
)

func TestQueueFullAndClosed(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.TryPublish(1))
	require.NoError(t, q.TryPublish(2))
	assert.True(t, errors.Is(q.TryPublish(3), exception.ErrQueueFull))
	assert.Equal(t, 2, q.Len())

	q.Close()
	q.Close()
	assert.True(t, errors.Is(q.TryPublish(4), exception.ErrQueueClosed))

	var got []int
	q.Run(context.Background(), func(v int) { got = append(got, v) })
	assert.Equal(t, []int{1, 2}, got)
}

func TestQueueDrain(t *testing.T) {
	q := NewQueue[string](4)
	require.NoError(t, q.TryPublish("a"))
	require.NoError(t, q.TryPublish("b"))

	var got []string
	assert.Equal(t, 2, q.Drain(func(v string) { got = append(got, v) }))
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 0, q.Drain(func(string) {}))
}

func TestQueueRunStopsOnContext(t *testing.T) {
	q := NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Run(ctx, func(int) { t.Fatal("unexpected value") })
}
