package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fia-cloud/fia/internal/metrics"
)

// subscriberBuffer is how many events a subscriber may lag before newer
// ones are dropped for it.
const subscriberBuffer = 100

// ErrUnknownType is returned by ParseTypes for a name no event carries.
var ErrUnknownType = errors.New("unknown event type")

// Type names an engine event.
type Type string

const (
	TypeAdmissionGranted    Type = "admission_granted"
	TypeAdmissionDenied     Type = "admission_denied"
	TypeReservationReleased Type = "reservation_released"
	TypeReservationExpired  Type = "reservation_expired"
	TypeRunOpened           Type = "run_opened"
	TypeRunClosed           Type = "run_closed"
	TypeRollupFlushed       Type = "rollup_flushed"
)

var known = map[Type]struct{}{
	TypeAdmissionGranted:    {},
	TypeAdmissionDenied:     {},
	TypeReservationReleased: {},
	TypeReservationExpired:  {},
	TypeRunOpened:           {},
	TypeRunClosed:           {},
	TypeRollupFlushed:       {},
}

// ParseTypes splits a comma-separated list of event type names. Blank
// entries are skipped.
func ParseTypes(raw string) ([]Type, error) {
	var types []Type
	for _, part := range strings.Split(raw, ",") {
		t := Type(strings.TrimSpace(part))
		if t == "" {
			continue
		}
		if _, ok := known[t]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
		}
		types = append(types, t)
	}
	return types, nil
}

// Event represents a system event.
type Event struct {
	Type          Type            `json:"type"`
	RunID         string          `json:"run_id,omitempty"`
	ReservationID string          `json:"reservation_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Filter narrows a subscription. Empty fields match everything.
type Filter struct {
	RunID         string
	ReservationID string
	Types         []Type
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(e Event)
}

// Bus defines the event bus interface.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, error)
}

type bus struct {
	subscribers map[chan Event]Filter
	mu          sync.RWMutex
}

// New creates a new event bus.
func New() Bus {
	return &bus{
		subscribers: make(map[chan Event]Filter),
	}
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// NewEvent stamps an event, encoding payload when one is given.
func NewEvent(t Type, runID, reservationID string, payload interface{}) Event {
	e := Event{
		Type:          t,
		RunID:         runID,
		ReservationID: reservationID,
		Timestamp:     time.Now().UTC(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			e.Payload = raw
		}
	}
	return e
}

func (b *bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, filter := range b.subscribers {
		if filter.matches(e) {
			select {
			case ch <- e:
			default:
				metrics.EventsDroppedTotal.WithLabelValues(string(e.Type)).Inc()
			}
		}
	}
}

func (b *bus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[ch] = filter
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

func (f Filter) matches(e Event) bool {
	if f.RunID != "" && f.RunID != e.RunID {
		return false
	}
	if f.ReservationID != "" && f.ReservationID != e.ReservationID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}
