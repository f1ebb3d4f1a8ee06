package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"evslots/internal/model"
)

const overrideColumns = `id, station_id, date, is_closed, open_time, close_time, is_maintenance, reason, created_at, updated_at`

func scanOverride(row interface{ Scan(...any) error }) (*model.ScheduleOverride, error) {
	var o model.ScheduleOverride
	var openTime, closeTime, reason sql.NullString
	err := row.Scan(&o.ID, &o.StationID, &o.Date, &o.IsClosed, &openTime, &closeTime,
		&o.IsMaintenance, &reason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if openTime.Valid {
		o.OpenTime = openTime.String
	}
	if closeTime.Valid {
		o.CloseTime = closeTime.String
	}
	if reason.Valid {
		o.Reason = reason.String
	}
	return &o, nil
}

// GetScheduleOverride returns the override for a date, or nil when none exists.
func (q Queries) GetScheduleOverride(ctx context.Context, stationID string, date time.Time) (*model.ScheduleOverride, error) {
	o, err := scanOverride(q.q.QueryRowContext(ctx, `
		SELECT `+overrideColumns+`
		FROM station_schedule_overrides
		WHERE station_id = ? AND date = ?
		LIMIT 1`,
		stationID, dateKey(date),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule override: %w", err)
	}
	return o, nil
}

// ListScheduleOverrides returns overrides with from <= date < to, keyed by date.
func (q Queries) ListScheduleOverrides(ctx context.Context, stationID string, from, to time.Time) (map[string]*model.ScheduleOverride, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+overrideColumns+`
		FROM station_schedule_overrides
		WHERE station_id = ? AND date >= ? AND date < ?
		ORDER BY date`,
		stationID, dateKey(from), dateKey(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list schedule overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*model.ScheduleOverride)
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out[dateKey(o.Date)] = o
	}
	return out, rows.Err()
}

// UpsertScheduleOverride creates or updates an override for a specific date.
func (q Queries) UpsertScheduleOverride(ctx context.Context, o *model.ScheduleOverride, now time.Time) error {
	if o == nil {
		return fmt.Errorf("override is nil")
	}

	_, err := q.q.ExecContext(ctx, `
		INSERT INTO station_schedule_overrides (
			station_id, date, is_closed, open_time, close_time,
			is_maintenance, reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id, date) DO UPDATE SET
			is_closed = excluded.is_closed,
			open_time = excluded.open_time,
			close_time = excluded.close_time,
			is_maintenance = excluded.is_maintenance,
			reason = excluded.reason,
			updated_at = excluded.updated_at`,
		o.StationID, dateKey(o.Date), o.IsClosed, nullString(o.OpenTime), nullString(o.CloseTime),
		o.IsMaintenance, nullString(o.Reason), ts(now), ts(now),
	)
	if err != nil {
		return fmt.Errorf("upsert schedule override: %w", err)
	}
	return nil
}

// DeleteScheduleOverride removes an override for a specific date.
func (q Queries) DeleteScheduleOverride(ctx context.Context, stationID string, date time.Time) error {
	_, err := q.q.ExecContext(ctx,
		"DELETE FROM station_schedule_overrides WHERE station_id = ? AND date = ?",
		stationID, dateKey(date),
	)
	if err != nil {
		return fmt.Errorf("delete schedule override: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
