package sequence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayQueuePopReadyOrder(t *testing.T) {
	base := time.Unix(1000, 0)
	q := NewDelayQueue[string]()
	q.Push("late", base.Add(3*time.Second))
	q.Push("early", base.Add(time.Second))
	q.Push("tie-1", base.Add(2*time.Second))
	q.Push("tie-2", base.Add(2*time.Second))

	assert.Empty(t, q.PopReady(base))

	next, ok := q.NextReady()
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Second), next)

	assert.Equal(t, []string{"early", "tie-1", "tie-2"}, q.PopReady(base.Add(2*time.Second)))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, []string{"late"}, q.PopReady(base.Add(time.Hour)))
	assert.True(t, q.IsEmpty())

	_, ok = q.NextReady()
	assert.False(t, ok)
}

func TestDelayQueueClear(t *testing.T) {
	base := time.Unix(0, 0)
	q := NewDelayQueue[int]()
	q.Push(2, base.Add(time.Second))
	q.Push(1, base)
	assert.Equal(t, []int{1, 2}, q.Values())

	q.Clear()
	assert.True(t, q.IsEmpty())
	assert.Empty(t, q.PopReady(base.Add(time.Hour)))
}
