// Package admission owns every write that can change how much of a
// station's capacity is taken: creating and rescheduling bookings, and
// station or schedule changes that could strand existing bookings. Each of
// these runs its checks and its write inside one immediate SQLite
// transaction, so two requests can never both pass a capacity check that
// only one of them fits.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evslots/internal/booking"
	"evslots/internal/database"
	"evslots/internal/domain"
	"evslots/internal/events"
	"evslots/internal/metrics"
	"evslots/internal/model"
	"evslots/internal/rules"
	"evslots/internal/slots"

	"github.com/rs/zerolog"
)

// Coordinator serializes capacity-affecting writes.
type Coordinator struct {
	db        *database.DB
	validator *rules.Validator
	machine   *booking.Machine
	tokens    booking.TokenIssuer
	bus       booking.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewCoordinator wires the coordinator. bus may be nil, and so may tokens
// when the caller never reschedules approved bookings.
func NewCoordinator(db *database.DB, validator *rules.Validator, machine *booking.Machine, tokens booking.TokenIssuer, bus booking.Publisher, logger *zerolog.Logger) *Coordinator {
	return &Coordinator{
		db:        db,
		validator: validator,
		machine:   machine,
		tokens:    tokens,
		bus:       bus,
		logger:    logger.With().Str("component", "admission").Logger(),
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// CreateRequest asks for a new reservation. OwnerID is only honoured for
// staff booking on someone's behalf.
type CreateRequest struct {
	StationID string
	OwnerID   string
	Start     time.Time
	End       time.Time
}

// Create admits a new Pending booking or fails without side effects.
func (c *Coordinator) Create(ctx context.Context, p domain.Principal, req CreateRequest) (*model.Booking, error) {
	if err := p.Require(domain.RoleOwner, domain.RoleStationOperator, domain.RoleBackoffice); err != nil {
		return nil, err
	}
	ownerID := p.ID
	if req.OwnerID != "" && req.OwnerID != p.ID {
		if !p.IsStaff() {
			return nil, fmt.Errorf("%w: owners can only book for themselves", domain.ErrForbidden)
		}
		ownerID = req.OwnerID
	}

	now := c.now().UTC()
	start, end := req.Start.UTC(), req.End.UTC()
	b := &model.Booking{
		OwnerID:   ownerID,
		StationID: req.StationID,
		Start:     start,
		End:       end,
		Status:    model.StatusPending,
		CreatedAt: now.Truncate(time.Second),
		UpdatedAt: now.Truncate(time.Second),
	}

	began := time.Now()
	err := c.db.WithTx(ctx, func(tx *database.Tx) error {
		station, err := c.bookableStation(ctx, tx, req.StationID)
		if err != nil {
			return err
		}
		hours, err := hoursOn(ctx, tx.Queries, station, start)
		if err != nil {
			return err
		}
		if err := c.validator.Validate(hours, start, end, now); err != nil {
			return err
		}
		if err := checkCapacity(ctx, tx, station, start, end, 0); err != nil {
			return err
		}
		return tx.InsertBooking(ctx, b)
	})
	metrics.ObserveAdmission(began)
	metrics.IncAdmission("create", outcome(err))
	if err != nil {
		c.logger.Debug().Err(err).Str("station_id", req.StationID).Str("owner_id", ownerID).Msg("booking refused")
		return nil, err
	}

	c.logger.Info().
		Int64("booking_id", b.ID).
		Str("station_id", b.StationID).
		Str("owner_id", b.OwnerID).
		Time("start", b.Start).
		Time("end", b.End).
		Msg("booking created")
	c.publish(ctx, events.BookingEvent(events.BookingCreated, b, p))
	return b, nil
}

// Reschedule moves a Pending or Approved booking to a new window. The
// status is kept; capacity is re-checked without the booking itself. An
// Approved booking gets a new verification token valid for the new window,
// which replaces the old one.
func (c *Coordinator) Reschedule(ctx context.Context, p domain.Principal, id int64, start, end time.Time) (*model.Booking, error) {
	now := c.now().UTC()
	start, end = start.UTC(), end.UTC()

	var b *model.Booking
	var previous time.Time
	began := time.Now()
	err := c.db.WithTx(ctx, func(tx *database.Tx) error {
		var err error
		b, err = tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if err := c.machine.CanModify(p, b, now); err != nil {
			return err
		}
		station, err := c.bookableStation(ctx, tx, b.StationID)
		if err != nil {
			return err
		}
		hours, err := hoursOn(ctx, tx.Queries, station, start)
		if err != nil {
			return err
		}
		if err := c.validator.Validate(hours, start, end, now); err != nil {
			return err
		}
		if err := checkCapacity(ctx, tx, station, start, end, b.ID); err != nil {
			return err
		}
		previous = b.Start
		b.Start, b.End = start, end
		b.UpdatedAt = now.Truncate(time.Second)
		if b.Status == model.StatusApproved {
			if c.tokens == nil {
				return fmt.Errorf("reschedule approved booking %d: no verification token issuer", b.ID)
			}
			token, nonce, err := c.tokens.Issue(b.ID, b.StationID, b.End)
			if err != nil {
				return err
			}
			b.VerificationToken, b.VerificationNonce = token, nonce
		}
		if err := tx.RescheduleBooking(ctx, b); err != nil {
			if errors.Is(err, database.ErrConcurrentModification) {
				return fmt.Errorf("%w: booking %d was changed concurrently, reload and retry", domain.ErrInvalidTransition, id)
			}
			return err
		}
		return nil
	})
	metrics.ObserveAdmission(began)
	metrics.IncAdmission("reschedule", outcome(err))
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Int64("booking_id", b.ID).
		Str("station_id", b.StationID).
		Time("start", b.Start).
		Time("end", b.End).
		Str("actor", p.ID).
		Msg("booking rescheduled")
	c.publish(ctx, events.BookingEvent(events.BookingRescheduled, b, p, model.DateOf(previous)))
	return b, nil
}

func (c *Coordinator) bookableStation(ctx context.Context, tx *database.Tx, stationID string) (*model.Station, error) {
	station, err := tx.GetStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if !station.IsActive {
		return nil, domain.NewValidationError("station_active", fmt.Sprintf("station %s is not accepting bookings", stationID))
	}
	return station, nil
}

func (c *Coordinator) publish(ctx context.Context, e events.Event) {
	if c.bus == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = c.now().UTC()
	}
	c.bus.Publish(ctx, e)
}

// checkCapacity fails with ErrConflict naming the first hour bucket of
// [start, end) that has no free slot.
func checkCapacity(ctx context.Context, tx *database.Tx, station *model.Station, start, end time.Time, excludeID int64) error {
	full, err := slots.NewEngine(tx).FirstFull(ctx, station.ID, station.TotalSlots, start, end, excludeID)
	if err != nil {
		return err
	}
	if full != nil {
		return fmt.Errorf("%w: station %s has no free slot at %s (%d of %d taken)",
			domain.ErrConflict, station.ID, full.Bucket.Format("2006-01-02 15:04"), full.Occupied(), full.Capacity)
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "admitted"
	}
	return domain.Kind(err)
}

// hoursOn merges the station's default hours with any override for at's date.
func hoursOn(ctx context.Context, q database.Queries, station *model.Station, at time.Time) (model.DayHours, error) {
	o, err := q.GetScheduleOverride(ctx, station.ID, model.DateOf(at))
	if err != nil {
		return model.DayHours{}, err
	}
	return station.Hours().Merge(o), nil
}
