package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/model"
	"calsync/internal/notify"
)

func message(t *testing.T, summary string) notify.Message {
	start := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	m, err := notify.Encode(notify.NewEvent{Event: model.CalendarEvent{
		UID: "a", Start: start, End: start.Add(time.Hour), Created: start, Summary: summary,
	}})
	require.NoError(t, err)
	return m
}

func TestDeliver_OrderAndErrors(t *testing.T) {
	b := New()
	var calls []string
	boom := errors.New("boom")

	b.Subscribe(notify.KindNew, func(Event) error { calls = append(calls, "first"); return boom })
	b.Subscribe(notify.KindNew, func(Event) error { calls = append(calls, "second"); panic("oops") })
	b.Subscribe(notify.KindNew, func(Event) error { calls = append(calls, "third"); return nil })
	b.Subscribe(notify.KindDeleted, func(Event) error { calls = append(calls, "other"); return nil })

	err := b.Deliver(context.Background(), message(t, "A"))
	assert.Equal(t, []string{"first", "second", "third"}, calls)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "handler panic")
}

func TestDeliver_CancelledContext(t *testing.T) {
	b := New()
	called := false
	b.Subscribe(notify.KindNew, func(Event) error { called = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Deliver(ctx, message(t, "A")), context.Canceled)
	assert.False(t, called)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	b := New()
	unsub := b.Subscribe(notify.KindNew, func(Event) error { return nil })
	assert.Equal(t, 1, b.Subscribers(notify.KindNew))
	unsub()
	assert.Equal(t, 0, b.Subscribers(notify.KindNew))
}

type countingHandler struct{ n map[notify.Kind]int }

func (h *countingHandler) HandleNew(context.Context, notify.NewEvent) error {
	h.n[notify.KindNew]++
	return nil
}

func (h *countingHandler) HandleUpdated(context.Context, notify.UpdatedEvent) error {
	h.n[notify.KindUpdated]++
	return nil
}

func (h *countingHandler) HandleDeleted(context.Context, notify.DeletedEvent) error {
	h.n[notify.KindDeleted]++
	return nil
}

func (h *countingHandler) HandleTomorrow(context.Context, notify.EventTomorrow) error {
	h.n[notify.KindTomorrow]++
	return nil
}

func TestSubscribeHandler(t *testing.T) {
	b := New()
	h := &countingHandler{n: make(map[notify.Kind]int)}
	unsub := SubscribeHandler(b, h)

	require.NoError(t, b.Deliver(context.Background(), message(t, "A")))
	assert.Equal(t, 1, h.n[notify.KindNew])

	for _, k := range notify.Kinds {
		assert.Equal(t, 1, b.Subscribers(k))
	}
	unsub()
	for _, k := range notify.Kinds {
		assert.Equal(t, 0, b.Subscribers(k))
	}
}

func TestPublisher_Dedup(t *testing.T) {
	b := New()
	delivered := 0
	b.Subscribe(notify.KindNew, func(Event) error { delivered++; return nil })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewPublisher(b, time.Minute, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, message(t, "A")))
	require.NoError(t, p.Publish(ctx, message(t, "A")))
	assert.Equal(t, 1, delivered, "same content within the window is dropped")

	require.NoError(t, p.Publish(ctx, message(t, "B")))
	assert.Equal(t, 2, delivered)

	now = now.Add(time.Minute)
	require.NoError(t, p.Publish(ctx, message(t, "A")))
	assert.Equal(t, 3, delivered, "window elapsed")
}

func TestPublisher_FailedDeliveryIsNotRemembered(t *testing.T) {
	b := New()
	fail := true
	b.Subscribe(notify.KindNew, func(Event) error {
		if fail {
			return errors.New("down")
		}
		return nil
	})
	p := NewPublisher(b, 0, nil)
	ctx := context.Background()

	assert.Error(t, p.Publish(ctx, message(t, "A")))
	fail = false
	assert.NoError(t, p.Publish(ctx, message(t, "A")))
}
