package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"evslots/internal/admission"
	"evslots/internal/audit"
	"evslots/internal/domain"
	"evslots/internal/model"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// CreateBookingRequest is the body of POST /bookings.
type CreateBookingRequest struct {
	StationID        string `json:"station_id"`
	OwnerID          string `json:"owner_id,omitempty"` // staff booking on behalf of an owner
	ReservationStart string `json:"reservation_start"`  // RFC 3339
	ReservationEnd   string `json:"reservation_end"`    // RFC 3339
}

// RescheduleRequest is the body of PUT /bookings/{id}.
type RescheduleRequest struct {
	ReservationStart string `json:"reservation_start"`
	ReservationEnd   string `json:"reservation_end"`
}

// CompleteRequest carries the verification token scanned at the station.
type CompleteRequest struct {
	Token string `json:"token"`
}

// BookingListResponse wraps a page of bookings.
type BookingListResponse struct {
	Bookings []model.Booking `json:"bookings"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

// parsePeriod validates the two instants of a request body together so every
// malformed field is reported at once.
func parsePeriod(startRaw, endRaw string) (time.Time, time.Time, error) {
	verr := &domain.ValidationError{}
	start, err := parseInstant("reservation_start", startRaw)
	if err != nil {
		verr.Violations = append(verr.Violations, domain.Violations(err)...)
	}
	end, err := parseInstant("reservation_end", endRaw)
	if err != nil {
		verr.Violations = append(verr.Violations, domain.Violations(err)...)
	}
	return start, end, verr.OrNil()
}

// handleCreateBooking admits a new reservation.
// POST /api/v1/bookings
func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.StationID == "" {
		s.fail(w, r, domain.NewValidationError("station_id", "station_id is required"))
		return
	}
	start, end, err := parsePeriod(req.ReservationStart, req.ReservationEnd)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	b, err := s.admission.Create(r.Context(), principal(r), admission.CreateRequest{
		StationID: req.StationID,
		OwnerID:   req.OwnerID,
		Start:     start,
		End:       end,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// handleListBookings lists bookings. Owners only see their own.
// GET /api/v1/bookings?status=&stationId=&ownerId=&limit=&offset=
func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.BookingFilter{
		StationID: q.Get("stationId"),
		OwnerID:   q.Get("ownerId"),
	}
	if raw := q.Get("status"); raw != "" {
		st, ok := model.ParseStatus(raw)
		if !ok {
			s.fail(w, r, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", raw)))
			return
		}
		f.Status = st
	}

	var err error
	if f.Limit, err = queryInt(r, "limit", 50); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		s.fail(w, r, err)
		return
	}

	bookings, err := s.bookings.List(r.Context(), principal(r), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []model.Booking{}
	}
	writeJSON(w, http.StatusOK, BookingListResponse{Bookings: bookings, Limit: f.Limit, Offset: f.Offset})
}

// handleBookingStats returns counts per status.
// GET /api/v1/bookings/stats?ownerId=
func (s *Server) handleBookingStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.bookings.Stats(r.Context(), principal(r), r.URL.Query().Get("ownerId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleExportBookings streams an XLSX report. The period defaults to the
// current calendar month.
// GET /api/v1/bookings/export?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *Server) handleExportBookings(w http.ResponseWriter, r *http.Request) {
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	from, err := queryDate(r, "from", monthStart)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := queryDate(r, "to", from.AddDate(0, 1, 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := s.exporter.Export(r.Context(), principal(r), &buf, from, to); err != nil {
		s.fail(w, r, err)
		return
	}

	filename := audit.ReportFilename(from)
	if !to.Equal(from.AddDate(0, 1, 0)) {
		filename = fmt.Sprintf("bookings_%s_%s.xlsx", from.Format(model.DateLayout), to.Format(model.DateLayout))
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// handleGetBooking returns a single booking.
// GET /api/v1/bookings/{id}
func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := bookingID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.bookings.Get(r.Context(), principal(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleRescheduleBooking moves a booking to a new period.
// PUT /api/v1/bookings/{id}
func (s *Server) handleRescheduleBooking(w http.ResponseWriter, r *http.Request) {
	id, err := bookingID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req RescheduleRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	start, end, err := parsePeriod(req.ReservationStart, req.ReservationEnd)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.admission.Reschedule(r.Context(), principal(r), id, start, end)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// POST /api/v1/bookings/{id}/cancel
func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := bookingID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.bookings.Cancel(r.Context(), principal(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// POST /api/v1/bookings/{id}/approve
func (s *Server) handleApproveBooking(w http.ResponseWriter, r *http.Request) {
	id, err := bookingID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.bookings.Approve(r.Context(), principal(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// POST /api/v1/bookings/{id}/complete
func (s *Server) handleCompleteBooking(w http.ResponseWriter, r *http.Request) {
	id, err := bookingID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.complete(w, r, id)
}

// handleCompleteByToken completes the booking named inside the token.
// POST /api/v1/bookings/complete
func (s *Server) handleCompleteByToken(w http.ResponseWriter, r *http.Request) {
	s.complete(w, r, 0)
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request, id int64) {
	var req CompleteRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Token == "" {
		s.fail(w, r, domain.NewValidationError("token", "token is required"))
		return
	}
	b, err := s.bookings.Complete(r.Context(), principal(r), id, req.Token)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
