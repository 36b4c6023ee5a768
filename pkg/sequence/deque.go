package sequence

import "slices"

// Deque is a FIFO queue that also accepts pushes at the head.
// It is not safe for concurrent use.
type Deque[T any] struct {
	items []T
}

func NewDeque[T any]() *Deque[T] {
	return &Deque[T]{}
}

func (d *Deque[T]) PushBack(v T) {
	d.items = append(d.items, v)
}

func (d *Deque[T]) PushFront(v T) {
	d.items = slices.Insert(d.items, 0, v)
}

func (d *Deque[T]) PopFront() (T, bool) {
	var zero T
	if len(d.items) == 0 {
		return zero, false
	}
	v := d.items[0]
	d.items[0] = zero
	d.items = d.items[1:]
	return v, true
}

// Values returns a copy of the elements, head first.
func (d *Deque[T]) Values() []T {
	return slices.Clone(d.items)
}

func (d *Deque[T]) Len() int {
	return len(d.items)
}

func (d *Deque[T]) Clear() {
	clear(d.items)
	d.items = d.items[:0]
}
