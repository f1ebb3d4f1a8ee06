package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evslots/internal/auth"
	"evslots/internal/database"
	"evslots/internal/domain"
	"evslots/internal/events"
	"evslots/internal/metrics"
	"evslots/internal/model"

	"github.com/rs/zerolog"
)

// Store persists booking state.
type Store interface {
	GetBooking(ctx context.Context, id int64) (*model.Booking, error)
	// UpdateBookingState writes status and lifecycle fields of b if the stored
	// version still equals b.Version, then increments b.Version. A lost race
	// returns database.ErrConcurrentModification.
	UpdateBookingState(ctx context.Context, b *model.Booking) error
	ListBookings(ctx context.Context, f model.BookingFilter) ([]model.Booking, error)
	BookingStats(ctx context.Context, ownerID string) (*model.BookingStats, error)
}

// TokenIssuer creates and decodes verification tokens.
type TokenIssuer interface {
	Issue(bookingID int64, stationID string, end time.Time) (token, nonce string, err error)
	Parse(token string) (*auth.VerificationClaims, error)
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event events.Event)
}

// Service runs approve, cancel and complete against stored bookings.
type Service struct {
	store   Store
	machine *Machine
	tokens  TokenIssuer
	bus     Publisher
	logger  zerolog.Logger
	now     func() time.Time
}

// NewService wires the lifecycle service.
func NewService(store Store, machine *Machine, tokens TokenIssuer, bus Publisher, logger *zerolog.Logger) *Service {
	return &Service{
		store:   store,
		machine: machine,
		tokens:  tokens,
		bus:     bus,
		logger:  logger.With().Str("component", "booking").Logger(),
		now:     time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get returns a booking visible to p.
func (s *Service) Get(ctx context.Context, p domain.Principal, id int64) (*model.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.machine.CanView(p, b); err != nil {
		return nil, err
	}
	return b, nil
}

// List returns bookings matching f. Owners only ever see their own.
func (s *Service) List(ctx context.Context, p domain.Principal, f model.BookingFilter) ([]model.Booking, error) {
	if !p.IsStaff() {
		f.OwnerID = p.ID
	}
	return s.store.ListBookings(ctx, f)
}

// Stats returns per-status counts for ownerID (all bookings when empty and p is staff).
func (s *Service) Stats(ctx context.Context, p domain.Principal, ownerID string) (*model.BookingStats, error) {
	if !p.IsStaff() {
		ownerID = p.ID
	}
	return s.store.BookingStats(ctx, ownerID)
}

// Approve moves a Pending booking to Approved and attaches a fresh
// verification token.
func (s *Service) Approve(ctx context.Context, p domain.Principal, id int64) (*model.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.machine.Approve(p, b); err != nil {
		return nil, err
	}
	token, nonce, err := s.tokens.Issue(b.ID, b.StationID, b.End)
	if err != nil {
		return nil, err
	}
	b.VerificationToken, b.VerificationNonce = token, nonce
	return s.persist(ctx, p, b, events.BookingApproved)
}

// Cancel cancels a Pending booking, or an Approved one outside the
// modification window.
func (s *Service) Cancel(ctx context.Context, p domain.Principal, id int64) (*model.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.machine.Cancel(p, b, s.now()); err != nil {
		return nil, err
	}
	return s.persist(ctx, p, b, events.BookingCancelled)
}

// Complete redeems a verification token. When id is zero the booking is
// taken from the token itself.
func (s *Service) Complete(ctx context.Context, p domain.Principal, id int64, token string) (*model.Booking, error) {
	if err := p.Require(domain.RoleStationOperator, domain.RoleBackoffice); err != nil {
		return nil, err
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		id = claims.BookingID
	}
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.machine.Complete(p, b, claims.BookingID, claims.ID, s.now()); err != nil {
		return nil, err
	}
	return s.persist(ctx, p, b, events.BookingCompleted)
}

func (s *Service) load(ctx context.Context, id int64) (*model.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: booking %d", domain.ErrNotFound, id)
	}
	return b, nil
}

func (s *Service) persist(ctx context.Context, p domain.Principal, b *model.Booking, eventType string) (*model.Booking, error) {
	b.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateBookingState(ctx, b); err != nil {
		if errors.Is(err, database.ErrConcurrentModification) {
			return nil, fmt.Errorf("%w: booking %d was changed concurrently, reload and retry", domain.ErrInvalidTransition, b.ID)
		}
		return nil, fmt.Errorf("update booking %d: %w", b.ID, err)
	}

	metrics.IncTransition(string(b.Status))
	s.logger.Info().
		Int64("booking_id", b.ID).
		Str("station_id", b.StationID).
		Str("status", string(b.Status)).
		Str("actor", p.ID).
		Msg("booking transitioned")

	if s.bus != nil {
		s.bus.Publish(ctx, events.BookingEvent(eventType, b, p))
	}
	return b, nil
}
