package audit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendRecordsActor(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	l := New(10, WithActor(func() string { return "u-1" }), WithClock(func() time.Time { return ts }))

	e := l.Append(ActionStateChange, "clients", map[string]any{"newCount": 1})
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "u-1", e.ActorID)
	assert.Equal(t, ts, e.Timestamp)
	assert.Equal(t, 1, l.Len())
}

func TestAppendDefaultsToAnonymous(t *testing.T) {
	l := New(2)
	e := l.Append(ActionConflict, "leads", nil)
	assert.Equal(t, "anonymous", e.ActorID)
}

func TestRingEvictsOldestFirst(t *testing.T) {
	l := New(DefaultCapacity)
	for i := 0; i < DefaultCapacity+250; i++ {
		l.Append(ActionStateChange, "clients", map[string]any{"seq": i})
	}

	entries := l.Entries()
	require.Len(t, entries, DefaultCapacity)
	assert.Equal(t, 250, entries[0].Details["seq"])
	assert.Equal(t, DefaultCapacity+249, entries[len(entries)-1].Details["seq"])
}

func TestEntriesOrderBeforeWrap(t *testing.T) {
	l := New(4)
	for i := 0; i < 3; i++ {
		l.Append(fmt.Sprintf("A%d", i), "x", nil)
	}
	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "A0", entries[0].Action)
	assert.Equal(t, "A2", entries[2].Action)
}

func TestReset(t *testing.T) {
	l := New(3)
	l.Append(ActionStateChange, "x", nil)
	l.Reset()
	assert.Zero(t, l.Len())
	assert.Empty(t, l.Entries())
	assert.Equal(t, 3, l.Capacity())
}

func TestNonPositiveCapacityUsesDefault(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Capacity())
}
