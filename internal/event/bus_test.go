package event

import (
	"context"
	"testing"
	"time"

	"github.com/fia-cloud/fia/internal/metrics"
	metricstest "github.com/fia-cloud/fia/internal/metrics/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFiltersByRunAndType(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, Filter{RunID: "run-1", Types: []Type{TypeAdmissionDenied}})
	require.NoError(t, err)

	b.Publish(NewEvent(TypeAdmissionGranted, "run-1", "", nil))
	b.Publish(NewEvent(TypeAdmissionDenied, "run-2", "", nil))
	b.Publish(NewEvent(TypeAdmissionDenied, "run-1", "", map[string]string{"reason": "budget_exceeded"}))

	select {
	case e := <-ch:
		assert.Equal(t, TypeAdmissionDenied, e.Type)
		assert.Equal(t, "run-1", e.RunID)
		assert.JSONEq(t, `{"reason":"budget_exceeded"}`, string(e.Payload))
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}

	select {
	case e := <-ch:
		t.Fatalf("unexpected event %v", e.Type)
	default:
	}
}

func TestBusClosesOnCancel(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected channel close")
	}
}

func TestDiscardIgnoresEvents(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard.Publish(NewEvent(TypeRunOpened, "x", "", nil))
	})
}

func TestBusFiltersByReservation(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, Filter{ReservationID: "res-2"})
	require.NoError(t, err)

	b.Publish(NewEvent(TypeReservationReleased, "run-1", "res-1", nil))
	b.Publish(NewEvent(TypeReservationExpired, "run-2", "res-2", nil))

	select {
	case e := <-ch:
		assert.Equal(t, "res-2", e.ReservationID)
		assert.Equal(t, TypeReservationExpired, e.Type)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
}

func TestBusDropsForLaggingSubscriber(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := b.Subscribe(ctx, Filter{Types: []Type{TypeRollupFlushed}})
	require.NoError(t, err)

	before := metricstest.CounterValue(t, metrics.EventsDroppedTotal, string(TypeRollupFlushed))
	for i := 0; i < subscriberBuffer+3; i++ {
		b.Publish(NewEvent(TypeRollupFlushed, "", "", nil))
	}
	after := metricstest.CounterValue(t, metrics.EventsDroppedTotal, string(TypeRollupFlushed))

	assert.Equal(t, float64(3), after-before)
}

func TestParseTypes(t *testing.T) {
	types, err := ParseTypes(" admission_denied, ,reservation_expired ")
	require.NoError(t, err)
	assert.Equal(t, []Type{TypeAdmissionDenied, TypeReservationExpired}, types)

	types, err = ParseTypes("")
	require.NoError(t, err)
	assert.Empty(t, types)

	_, err = ParseTypes("admission_denied,job_started")
	assert.ErrorIs(t, err, ErrUnknownType)
}
