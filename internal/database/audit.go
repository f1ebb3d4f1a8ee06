package database

import (
	"context"
	"fmt"
	"time"

	"evslots/internal/model"
)

// RecordBookingEvent appends one row to the lifecycle journal.
func (q Queries) RecordBookingEvent(ctx context.Context, e *model.BookingEvent) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO booking_events (booking_id, station_id, event_type, actor_id, actor_role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.BookingID, e.StationID, e.Type, e.ActorID, e.ActorRole, ts(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("record booking event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// BookingEventsBetween returns journal rows with from <= created_at < to.
func (q Queries) BookingEventsBetween(ctx context.Context, from, to time.Time) ([]model.BookingEvent, error) {
	return q.queryEvents(ctx, `WHERE created_at >= ? AND created_at < ? ORDER BY id`, ts(from), ts(to))
}

func (q Queries) queryEvents(ctx context.Context, where string, args ...any) ([]model.BookingEvent, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, booking_id, station_id, event_type, actor_id, actor_role, created_at
		FROM booking_events `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list booking events: %w", err)
	}
	defer rows.Close()

	out := make([]model.BookingEvent, 0)
	for rows.Next() {
		var e model.BookingEvent
		if err := rows.Scan(&e.ID, &e.BookingID, &e.StationID, &e.Type, &e.ActorID, &e.ActorRole, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
