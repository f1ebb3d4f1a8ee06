package model

import "time"

type BookingStatus string

const (
	StatusPending   BookingStatus = "Pending"
	StatusApproved  BookingStatus = "Approved"
	StatusCompleted BookingStatus = "Completed"
	StatusCancelled BookingStatus = "Cancelled"
)

// ParseStatus accepts the canonical status names.
func ParseStatus(s string) (BookingStatus, bool) {
	switch st := BookingStatus(s); st {
	case StatusPending, StatusApproved, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

// Occupies reports whether a booking in this status holds capacity.
func (s BookingStatus) Occupies() bool {
	return s == StatusPending || s == StatusApproved
}

// Terminal reports whether no transition can leave this status.
func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Booking is a reservation of one slot at a station over [Start, End).
type Booking struct {
	ID                int64         `json:"id"`
	OwnerID           string        `json:"owner_id"`
	StationID         string        `json:"station_id"`
	Start             time.Time     `json:"reservation_start"`
	End               time.Time     `json:"reservation_end"`
	Status            BookingStatus `json:"status"`
	Version           int64         `json:"version"`
	VerificationToken string        `json:"verification_token,omitempty"`
	VerificationNonce string        `json:"-"`
	CancelledBy       string        `json:"cancelled_by,omitempty"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Duration returns End - Start.
func (b *Booking) Duration() time.Duration {
	return b.End.Sub(b.Start)
}

// BookingFilter narrows booking listings.
type BookingFilter struct {
	OwnerID   string
	StationID string
	Status    BookingStatus
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// BookingStats counts bookings per status for a dashboard.
type BookingStats struct {
	Total     int `json:"total_bookings"`
	Pending   int `json:"pending_bookings"`
	Approved  int `json:"approved_bookings"`
	Completed int `json:"completed_bookings"`
	Cancelled int `json:"cancelled_bookings"`
}

// BookingEvent is one row of the lifecycle journal.
type BookingEvent struct {
	ID        int64     `json:"id"`
	BookingID int64     `json:"booking_id"`
	StationID string    `json:"station_id"`
	Type      string    `json:"type"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
	CreatedAt time.Time `json:"created_at"`
}
