// Package notify fans engine events out to Redis Pub/Sub, RabbitMQ and staff Telegram chats.
// Delivery is fire-and-forget: a failed sink never undoes the change that produced the event.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomsched/internal/metrics"
)

const (
	EventBookingConverted      = "booking.converted"
	EventBookingCancelled      = "booking.cancelled"
	EventBookingPartialFailure = "booking.partial_failure"
	EventBookingReconciled     = "booking.reconciled"
	EventReservationCreated    = "reservation.created"
	EventReservationStatus     = "reservation.status_changed"
)

// Event is the payload published for every engine state change.
type Event struct {
	Type           string         `json:"type"`
	RoomID         int64          `json:"room_id,omitempty"`
	BookingID      string         `json:"booking_id,omitempty"`
	ReservationIDs []string       `json:"reservation_ids,omitempty"`
	Status         string         `json:"status,omitempty"`
	Message        string         `json:"message,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Handler reacts to an event.
type Handler func(ctx context.Context, ev Event) error

type subscriber struct {
	name    string
	handler Handler
}

// AllEvents subscribes a handler to every event type.
const AllEvents = "*"

// Bus provides in-process pub/sub and is the Publisher handed to the engine.
type Bus struct {
	subscribers map[string][]subscriber
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

func NewBus(logger *zerolog.Logger) *Bus {
	l := logger.With().Str("component", "notify").Logger()
	return &Bus{subscribers: make(map[string][]subscriber), logger: &l}
}

// Subscribe registers a named handler for an event type, or AllEvents.
func (b *Bus) Subscribe(eventType, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber{name: name, handler: handler})
}

// Publish runs the matching handlers synchronously and joins their errors.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	b.mu.RLock()
	subs := append([]subscriber(nil), b.subscribers[ev.Type]...)
	subs = append(subs, b.subscribers[AllEvents]...)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := s.handler(ctx, ev); err != nil {
			metrics.IncNotifyFailure(s.name)
			b.logger.Warn().Err(err).Str("sink", s.name).Str("event", ev.Type).Msg("event delivery failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
