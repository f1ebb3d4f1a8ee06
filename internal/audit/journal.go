package audit

import (
	"context"
	"time"

	"evslots/internal/events"
	"evslots/internal/model"
)

// EventRecorder appends journal rows.
type EventRecorder interface {
	RecordBookingEvent(ctx context.Context, e *model.BookingEvent) error
}

// Journal writes booking lifecycle events to the database.
type Journal struct {
	store EventRecorder
	now   func() time.Time
}

func NewJournal(store EventRecorder) *Journal {
	return &Journal{store: store, now: time.Now}
}

// HandleEvent is an events.EventHandler. Station events carry no booking
// and are skipped.
func (j *Journal) HandleEvent(ctx context.Context, e events.Event) error {
	if e.Booking == nil {
		return nil
	}
	at := e.CreatedAt
	if at.IsZero() {
		at = j.now()
	}
	return j.store.RecordBookingEvent(ctx, &model.BookingEvent{
		BookingID: e.Booking.ID,
		StationID: e.Booking.StationID,
		Type:      e.Type,
		ActorID:   e.Actor.ID,
		ActorRole: string(e.Actor.Role),
		CreatedAt: at.UTC(),
	})
}
