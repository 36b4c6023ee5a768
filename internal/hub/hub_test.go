package hub

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testObserver struct {
	publishCount   int
	deliveredCount int
	lastErr        error
}

func (o *testObserver) OnPublish(_, _ string) {
	o.publishCount++
}

func (o *testObserver) OnDelivered(_, _ string, handlers int, err error, _ int64) {
	o.deliveredCount += handlers
	o.lastErr = err
}

func TestPublishDeliversToTypeSubscribers(t *testing.T) {
	h := New()
	var got []Notification
	h.Subscribe("clients", func(n Notification) error {
		got = append(got, n)
		return nil
	})
	h.Subscribe("leads", func(n Notification) error {
		t.Fatal("leads handler must not run")
		return nil
	})

	require.NoError(t, h.Publish(Notification{Type: TypeStateChange, EntityType: "clients"}))
	require.Len(t, got, 1)
	assert.Equal(t, TypeStateChange, got[0].Type)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestDeliveryOrderFollowsSubscriptionOrder(t *testing.T) {
	h := New()
	var order []string
	h.Subscribe(Wildcard, func(Notification) error { order = append(order, "all"); return nil })
	h.Subscribe("clients", func(Notification) error { order = append(order, "first"); return nil })
	h.Subscribe("clients", func(Notification) error { order = append(order, "second"); return nil })

	require.NoError(t, h.Publish(Notification{EntityType: "clients"}))
	assert.Equal(t, []string{"first", "second", "all"}, order)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := New()
	calls := 0
	sub := h.Subscribe("clients", func(Notification) error { calls++; return nil })

	require.NoError(t, h.Publish(Notification{EntityType: "clients"}))
	require.NoError(t, h.Unsubscribe("clients", sub))
	require.NoError(t, h.Publish(Notification{EntityType: "clients"}))

	assert.Equal(t, 1, calls)
	assert.False(t, sub.IsActive())
	assert.Zero(t, h.Count("clients"))
	assert.NoError(t, sub.Cancel(), "second cancel is a no-op")
}

func TestUnsubscribeWrongType(t *testing.T) {
	h := New()
	sub := h.Subscribe("clients", func(Notification) error { return nil })
	assert.Error(t, h.Unsubscribe("leads", sub))
	assert.True(t, sub.IsActive())
	assert.NoError(t, h.Unsubscribe("leads", nil))
}

func TestHandlerErrorsAreJoined(t *testing.T) {
	h := New()
	errA := errors.New("a")
	errB := errors.New("b")
	h.Subscribe("clients", func(Notification) error { return errA })
	h.Subscribe("clients", func(Notification) error { return errB })

	err := h.Publish(Notification{EntityType: "clients"})
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	h := New()
	obs := &testObserver{}
	h.AddObserver(obs)
	after := false
	h.Subscribe("clients", func(Notification) error { panic("boom") })
	h.Subscribe("clients", func(Notification) error { after = true; return nil })

	err := h.Publish(Notification{EntityType: "clients"})
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.True(t, after, "later handlers still run")

	m := h.Metrics()
	assert.Equal(t, uint64(1), m.Panics)
	assert.Equal(t, uint64(1), m.Errors)
	assert.Equal(t, 2, obs.deliveredCount)
}

func TestMetricsOnlyWithObservers(t *testing.T) {
	h := New()
	h.Subscribe("clients", func(Notification) error { return nil })
	require.NoError(t, h.Publish(Notification{EntityType: "clients"}))
	assert.Zero(t, h.Metrics().Published)

	obs := &testObserver{}
	h.AddObserver(obs)
	require.NoError(t, h.Publish(Notification{EntityType: "clients"}))
	assert.Equal(t, uint64(1), h.Metrics().Published)
	assert.Equal(t, 1, obs.publishCount)

	h.RemoveObserver(obs)
	require.NoError(t, h.Publish(Notification{EntityType: "clients"}))
	assert.Equal(t, 1, obs.publishCount)
}

func TestReset(t *testing.T) {
	h := New()
	sub := h.Subscribe("clients", func(Notification) error { return nil })
	h.Reset()
	assert.False(t, sub.IsActive())
	assert.Zero(t, h.Count("clients"))
}
