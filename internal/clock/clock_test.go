package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewManual(start)
	assert.Equal(t, start, c.Now())

	c.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start.Add(time.Minute), c.Now(), "set must not move backwards")

	require.NoError(t, c.Sleep(t.Context(), time.Second))
	assert.Equal(t, start.Add(time.Minute+time.Second), c.Now())
}
