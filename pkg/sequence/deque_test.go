package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeque(t *testing.T) {
	d := NewDeque[string]()
	_, ok := d.PopFront()
	assert.False(t, ok)

	d.PushBack("b")
	d.PushBack("c")
	d.PushFront("a")
	assert.Equal(t, []string{"a", "b", "c"}, d.Values())

	v, ok := d.PopFront()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 2, d.Len())

	d.PushFront(v)
	assert.Equal(t, []string{"a", "b", "c"}, d.Values())

	d.Clear()
	assert.Zero(t, d.Len())
	assert.Empty(t, d.Values())
}
