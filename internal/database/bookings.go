package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"evslots/internal/domain"
	"evslots/internal/model"
)

const bookingColumns = `id, owner_id, station_id, reservation_start, reservation_end, status, version,
	verification_token, verification_nonce, cancelled_by, completed_at, created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (*model.Booking, error) {
	var b model.Booking
	var status string
	var completedAt sql.NullTime
	err := row.Scan(&b.ID, &b.OwnerID, &b.StationID, &b.Start, &b.End, &status, &b.Version,
		&b.VerificationToken, &b.VerificationNonce, &b.CancelledBy, &completedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		b.CompletedAt = &t
	}
	return &b, nil
}

// GetBooking returns a booking by ID.
func (q Queries) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	b, err := scanBooking(q.q.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: booking %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %d: %w", id, err)
	}
	return b, nil
}

// InsertBooking stores a new booking and sets its ID and version.
func (q Queries) InsertBooking(ctx context.Context, b *model.Booking) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO bookings (
			owner_id, station_id, reservation_start, reservation_end, status, version,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		b.OwnerID, b.StationID, ts(b.Start), ts(b.End), string(b.Status), ts(b.CreatedAt), ts(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last id: %w", err)
	}
	b.ID = id
	b.Version = 1
	return nil
}

// UpdateBookingState persists status and lifecycle fields guarded by the
// version the caller read. On success b.Version is incremented.
func (q Queries) UpdateBookingState(ctx context.Context, b *model.Booking) error {
	var completedAt any
	if b.CompletedAt != nil {
		completedAt = ts(*b.CompletedAt)
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE bookings SET status = ?, verification_token = ?, verification_nonce = ?,
			cancelled_by = ?, completed_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(b.Status), b.VerificationToken, b.VerificationNonce,
		b.CancelledBy, completedAt, ts(b.UpdatedAt), b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("update booking %d: %w", b.ID, err)
	}
	if err := expectOne(res, ErrConcurrentModification); err != nil {
		return err
	}
	b.Version++
	return nil
}

// RescheduleBooking moves a booking to a new window guarded by version. The
// verification token and nonce are written with it.
func (q Queries) RescheduleBooking(ctx context.Context, b *model.Booking) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE bookings SET reservation_start = ?, reservation_end = ?,
			verification_token = ?, verification_nonce = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		ts(b.Start), ts(b.End), b.VerificationToken, b.VerificationNonce, ts(b.UpdatedAt), b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("reschedule booking %d: %w", b.ID, err)
	}
	if err := expectOne(res, ErrConcurrentModification); err != nil {
		return err
	}
	b.Version++
	return nil
}

// CountOccupying counts Approved and Pending bookings of a station that
// overlap [from, to), skipping excludeID.
func (q Queries) CountOccupying(ctx context.Context, stationID string, from, to time.Time, excludeID int64) (approved, pending int, err error) {
	err = q.q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'Approved' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'Pending' THEN 1 ELSE 0 END), 0)
		FROM bookings
		WHERE station_id = ? AND status IN ('Pending', 'Approved')
		  AND reservation_start < ? AND reservation_end > ? AND id != ?`,
		stationID, ts(to), ts(from), excludeID,
	).Scan(&approved, &pending)
	if err != nil {
		return 0, 0, fmt.Errorf("count occupying: %w", err)
	}
	return approved, pending, nil
}

// ListOccupying returns Pending and Approved bookings of a station that
// overlap [from, to), ordered by start.
func (q Queries) ListOccupying(ctx context.Context, stationID string, from, to time.Time) ([]model.Booking, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE station_id = ? AND status IN ('Pending', 'Approved')
		  AND reservation_start < ? AND reservation_end > ?
		ORDER BY reservation_start, id`,
		stationID, ts(to), ts(from),
	)
	if err != nil {
		return nil, fmt.Errorf("list occupying: %w", err)
	}
	defer rows.Close()

	out := make([]model.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// CountFutureActive counts Pending or Approved bookings starting after now.
func (q Queries) CountFutureActive(ctx context.Context, stationID string, now time.Time) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE station_id = ? AND status IN ('Pending', 'Approved') AND reservation_start > ?`,
		stationID, ts(now),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count future bookings: %w", err)
	}
	return n, nil
}

// ListBookings returns bookings matching f, newest reservation first.
func (q Queries) ListBookings(ctx context.Context, f model.BookingFilter) ([]model.Booking, error) {
	var where []string
	var args []any
	if f.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.StationID != "" {
		where = append(where, "station_id = ?")
		args = append(args, f.StationID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		where = append(where, "reservation_end > ?")
		args = append(args, ts(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "reservation_start < ?")
		args = append(args, ts(f.To))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY reservation_start DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	out := make([]model.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// BookingStats counts bookings per status, for one owner or all when ownerID is empty.
func (q Queries) BookingStats(ctx context.Context, ownerID string) (*model.BookingStats, error) {
	query := `SELECT status, COUNT(*) FROM bookings`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` GROUP BY status`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("booking stats: %w", err)
	}
	defer rows.Close()

	stats := &model.BookingStats{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.Total += n
		switch model.BookingStatus(status) {
		case model.StatusPending:
			stats.Pending = n
		case model.StatusApproved:
			stats.Approved = n
		case model.StatusCompleted:
			stats.Completed = n
		case model.StatusCancelled:
			stats.Cancelled = n
		}
	}
	return stats, rows.Err()
}
