// Package audit keeps the lifecycle journal and produces XLSX reports of
// bookings for back-office staff.
package audit

import (
	"context"
	"fmt"
	"io"
	"time"

	"evslots/internal/domain"
	"evslots/internal/model"
)

// Store reads what reports are built from.
type Store interface {
	ListBookings(ctx context.Context, f model.BookingFilter) ([]model.Booking, error)
	BookingEventsBetween(ctx context.Context, from, to time.Time) ([]model.BookingEvent, error)
}

// Exporter renders bookings overlapping a period into a workbook.
type Exporter struct {
	store     Store
	newWriter func() ExcelWriter
}

// NewExporter creates an exporter. newWriter may be nil for excelize.
func NewExporter(store Store, newWriter func() ExcelWriter) *Exporter {
	if newWriter == nil {
		newWriter = NewExcelizeWriter
	}
	return &Exporter{store: store, newWriter: newWriter}
}

var bookingColumns = []string{
	"id", "station_id", "owner_id", "status", "reservation_start", "reservation_end",
	"duration_hours", "cancelled_by", "completed_at", "created_at", "updated_at",
}

var eventColumns = []string{"id", "booking_id", "station_id", "event", "actor_id", "actor_role", "at"}

// Export writes the report for [from, to) to w. Only back-office staff may export.
func (e *Exporter) Export(ctx context.Context, p domain.Principal, w io.Writer, from, to time.Time) error {
	if err := p.Require(domain.RoleBackoffice); err != nil {
		return err
	}
	if !to.After(from) {
		return domain.NewValidationError("period", "to must be after from")
	}

	bookings, err := e.store.ListBookings(ctx, model.BookingFilter{From: from, To: to})
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}
	journal, err := e.store.BookingEventsBetween(ctx, from, to)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}

	xl := e.newWriter()
	defer xl.Close()

	if err := writeSummary(xl, from, to, bookings); err != nil {
		return err
	}

	if err := xl.AddSheet("Bookings"); err != nil {
		return err
	}
	if err := xl.WriteHeader(bookingColumns); err != nil {
		return err
	}
	for _, b := range bookings {
		completed := ""
		if b.CompletedAt != nil {
			completed = b.CompletedAt.UTC().Format(time.RFC3339)
		}
		row := []interface{}{
			b.ID, b.StationID, b.OwnerID, string(b.Status),
			b.Start.UTC().Format(time.RFC3339), b.End.UTC().Format(time.RFC3339),
			b.Duration().Hours(), b.CancelledBy, completed,
			b.CreatedAt.UTC().Format(time.RFC3339), b.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := xl.WriteRow(row); err != nil {
			return err
		}
	}

	if err := xl.AddSheet("Events"); err != nil {
		return err
	}
	if err := xl.WriteHeader(eventColumns); err != nil {
		return err
	}
	for _, ev := range journal {
		row := []interface{}{ev.ID, ev.BookingID, ev.StationID, ev.Type, ev.ActorID, ev.ActorRole, ev.CreatedAt.UTC().Format(time.RFC3339)}
		if err := xl.WriteRow(row); err != nil {
			return err
		}
	}

	return xl.Save(w)
}

func writeSummary(xl ExcelWriter, from, to time.Time, bookings []model.Booking) error {
	if err := xl.AddSheet("Summary"); err != nil {
		return err
	}
	if err := xl.WriteHeader([]string{"metric", "value"}); err != nil {
		return err
	}

	counts := make(map[model.BookingStatus]int)
	var hours float64
	for _, b := range bookings {
		counts[b.Status]++
		if b.Status == model.StatusCompleted {
			hours += b.Duration().Hours()
		}
	}

	rows := [][]interface{}{
		{"from", from.UTC().Format(model.DateLayout)},
		{"to", to.UTC().Format(model.DateLayout)},
		{"bookings", len(bookings)},
		{"pending", counts[model.StatusPending]},
		{"approved", counts[model.StatusApproved]},
		{"completed", counts[model.StatusCompleted]},
		{"cancelled", counts[model.StatusCancelled]},
		{"charged_hours", hours},
	}
	for _, r := range rows {
		if err := xl.WriteRow(r); err != nil {
			return err
		}
	}
	return nil
}

// ReportFilename names a monthly report, e.g. "bookings_2026_03.xlsx".
func ReportFilename(month time.Time) string {
	return fmt.Sprintf("bookings_%d_%02d.xlsx", month.Year(), int(month.Month()))
}
