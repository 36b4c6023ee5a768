package sequence

import (
	"container/heap"
	"time"
)

type delayItem[T any] struct {
	value   T
	readyAt time.Time
	seq     uint64
}

type delayHeap[T any] struct {
	items []*delayItem[T]
}

func (h *delayHeap[T]) Len() int {
	return len(h.items)
}

// Less orders by ready time, ties broken by insertion order.
func (h *delayHeap[T]) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.readyAt.Equal(b.readyAt) {
		return a.seq < b.seq
	}
	return a.readyAt.Before(b.readyAt)
}

func (h *delayHeap[T]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *delayHeap[T]) Push(x any) {
	h.items = append(h.items, x.(*delayItem[T]))
}

func (h *delayHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	h.items = old[0 : n-1]
	return item
}

// DelayQueue is a min-heap of values keyed by the time they become ready.
// It is not safe for concurrent use.
type DelayQueue[T any] struct {
	h   delayHeap[T]
	seq uint64
}

func NewDelayQueue[T any]() *DelayQueue[T] {
	q := &DelayQueue[T]{}
	heap.Init(&q.h)
	return q
}

// Push parks value until readyAt.
func (q *DelayQueue[T]) Push(value T, readyAt time.Time) {
	q.seq++
	heap.Push(&q.h, &delayItem[T]{value: value, readyAt: readyAt, seq: q.seq})
}

// PopReady removes and returns every value ready at now, earliest first.
func (q *DelayQueue[T]) PopReady(now time.Time) []T {
	var out []T
	for q.h.Len() > 0 && !q.h.items[0].readyAt.After(now) {
		out = append(out, heap.Pop(&q.h).(*delayItem[T]).value)
	}
	return out
}

// NextReady returns the earliest ready time.
func (q *DelayQueue[T]) NextReady() (time.Time, bool) {
	if q.h.Len() == 0 {
		return time.Time{}, false
	}
	return q.h.items[0].readyAt, true
}

// Values returns the parked values in heap order.
func (q *DelayQueue[T]) Values() []T {
	out := make([]T, len(q.h.items))
	for i, item := range q.h.items {
		out[i] = item.value
	}
	return out
}

func (q *DelayQueue[T]) Len() int {
	return q.h.Len()
}

func (q *DelayQueue[T]) IsEmpty() bool {
	return q.h.Len() == 0
}

// Clear drops every parked value.
func (q *DelayQueue[T]) Clear() {
	clear(q.h.items)
	q.h.items = q.h.items[:0]
}
