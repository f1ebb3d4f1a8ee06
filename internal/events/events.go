package events

import (
	"context"
	"sync"
	"time"

	"evslots/internal/domain"
	"evslots/internal/model"

	"github.com/rs/zerolog"
)

const (
	BookingCreated     = "booking.created"
	BookingRescheduled = "booking.rescheduled"
	BookingApproved    = "booking.approved"
	BookingCancelled   = "booking.cancelled"
	BookingCompleted   = "booking.completed"
	StationChanged     = "station.changed"
	StationDeactivated = "station.deactivated"
	StationDeleted     = "station.deleted"
	ScheduleChanged    = "station.schedule_changed"
)

// Event is a lifecycle notification. Booking is nil for station events.
type Event struct {
	Type      string
	StationID string
	Booking   *model.Booking
	// Dates lists the UTC dates whose availability may have changed.
	Dates     []time.Time
	Actor     domain.Principal
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(ctx context.Context, event Event) error

// EventBus provides in-process pub/sub for events. Handler failures are
// logged and never reach the publisher.
type EventBus struct {
	subscribers map[string][]EventHandler
	wildcard    []EventHandler
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "events").Logger()
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: l}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for every event type.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.wildcard...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		b.dispatch(ctx, handler, event)
	}
}

func (b *EventBus) dispatch(ctx context.Context, handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("type", event.Type).Msg("event handler panicked")
		}
	}()
	if err := handler(ctx, event); err != nil {
		b.logger.Warn().Err(err).Str("type", event.Type).Str("station_id", event.StationID).Msg("event handler failed")
	}
}

// BookingEvent builds an event for a booking transition.
func BookingEvent(eventType string, b *model.Booking, actor domain.Principal, extraDates ...time.Time) Event {
	dates := []time.Time{model.DateOf(b.Start)}
	if !model.DateOf(b.End.Add(-time.Nanosecond)).Equal(dates[0]) {
		dates = append(dates, model.DateOf(b.End.Add(-time.Nanosecond)))
	}
	dates = append(dates, extraDates...)
	snapshot := *b
	return Event{
		Type:      eventType,
		StationID: b.StationID,
		Booking:   &snapshot,
		Dates:     dates,
		Actor:     actor,
	}
}
