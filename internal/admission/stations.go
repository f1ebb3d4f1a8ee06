package admission

import (
	"context"
	"fmt"
	"time"

	"evslots/internal/database"
	"evslots/internal/domain"
	"evslots/internal/events"
	"evslots/internal/metrics"
	"evslots/internal/model"
	"evslots/internal/slots"

	"github.com/google/uuid"
)

// CreateStation registers a new station. A missing ID is generated.
func (c *Coordinator) CreateStation(ctx context.Context, p domain.Principal, s *model.Station) (*model.Station, error) {
	if err := p.Require(domain.RoleBackoffice); err != nil {
		return nil, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if err := s.Validate(); err != nil {
		return nil, domain.NewValidationError("station", err.Error())
	}
	if err := c.db.CreateStation(ctx, s, c.now()); err != nil {
		return nil, err
	}
	c.logger.Info().Str("station_id", s.ID).Int("total_slots", s.TotalSlots).Str("actor", p.ID).Msg("station created")
	c.publish(ctx, events.Event{Type: events.StationChanged, StationID: s.ID, Actor: p})
	return s, nil
}

// UpdateStation replaces station metadata. Capacity may not drop below the
// highest occupancy of any future bucket, and new hours must still cover
// every upcoming active booking.
func (c *Coordinator) UpdateStation(ctx context.Context, p domain.Principal, s *model.Station) (*model.Station, error) {
	if err := p.Require(domain.RoleStationOperator, domain.RoleBackoffice); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, domain.NewValidationError("station", err.Error())
	}

	now := c.now().UTC()
	var updated *model.Station
	err := c.db.WithTx(ctx, func(tx *database.Tx) error {
		current, err := tx.GetStation(ctx, s.ID)
		if err != nil {
			return err
		}
		if s.TotalSlots < current.TotalSlots {
			peak, err := slots.NewEngine(tx).Peak(ctx, s.ID, slots.Floor(now), c.bookingHorizonEnd(now))
			if err != nil {
				return err
			}
			if peak > s.TotalSlots {
				metrics.IncStationVeto("capacity")
				return fmt.Errorf("%w: station %s has %d overlapping active bookings, cannot lower capacity to %d",
					domain.ErrConflict, s.ID, peak, s.TotalSlots)
			}
		}
		if s.OpenTime != current.OpenTime || s.CloseTime != current.CloseTime {
			if err := vetoStrandedBookings(ctx, tx, s, now, c.bookingHorizonEnd(now), nil, "hours"); err != nil {
				return err
			}
		}
		if err := tx.UpdateStation(ctx, s, now); err != nil {
			return err
		}
		updated, err = tx.GetStation(ctx, s.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info().Str("station_id", s.ID).Int("total_slots", s.TotalSlots).Str("actor", p.ID).Msg("station updated")
	c.publish(ctx, events.Event{Type: events.StationChanged, StationID: s.ID, Actor: p})
	return updated, nil
}

// ActivateStation reopens a station for new bookings.
func (c *Coordinator) ActivateStation(ctx context.Context, p domain.Principal, id string) (*model.Station, error) {
	if err := p.Require(domain.RoleStationOperator, domain.RoleBackoffice); err != nil {
		return nil, err
	}
	if err := c.db.SetStationActive(ctx, id, true, c.now()); err != nil {
		return nil, err
	}
	c.logger.Info().Str("station_id", id).Str("actor", p.ID).Msg("station activated")
	c.publish(ctx, events.Event{Type: events.StationChanged, StationID: id, Actor: p})
	return c.db.GetStation(ctx, id)
}

// DeactivateStation stops new bookings. It is refused while any Pending
// or Approved booking still lies ahead.
func (c *Coordinator) DeactivateStation(ctx context.Context, p domain.Principal, id string) (*model.Station, error) {
	if err := p.Require(domain.RoleStationOperator, domain.RoleBackoffice); err != nil {
		return nil, err
	}
	now := c.now().UTC()
	err := c.db.WithTx(ctx, func(tx *database.Tx) error {
		if _, err := tx.GetStation(ctx, id); err != nil {
			return err
		}
		if err := vetoFutureBookings(ctx, tx, id, now, "deactivate"); err != nil {
			return err
		}
		return tx.SetStationActive(ctx, id, false, now)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("station_id", id).Str("actor", p.ID).Msg("station deactivated")
	c.publish(ctx, events.Event{Type: events.StationDeactivated, StationID: id, Actor: p})
	return c.db.GetStation(ctx, id)
}

// DeleteStation removes a station under the same veto as deactivation.
// Past bookings stay in the history.
func (c *Coordinator) DeleteStation(ctx context.Context, p domain.Principal, id string) error {
	if err := p.Require(domain.RoleBackoffice); err != nil {
		return err
	}
	now := c.now().UTC()
	err := c.db.WithTx(ctx, func(tx *database.Tx) error {
		if _, err := tx.GetStation(ctx, id); err != nil {
			return err
		}
		if err := vetoFutureBookings(ctx, tx, id, now, "delete"); err != nil {
			return err
		}
		return tx.DeleteStation(ctx, id)
	})
	if err != nil {
		return err
	}
	c.logger.Info().Str("station_id", id).Str("actor", p.ID).Msg("station deleted")
	c.publish(ctx, events.Event{Type: events.StationDeleted, StationID: id, Actor: p})
	return nil
}

// UpsertOverride sets special hours, a closure or maintenance for one date.
// It is refused when an active booking on that date would fall outside the
// resulting hours.
func (c *Coordinator) UpsertOverride(ctx context.Context, p domain.Principal, o *model.ScheduleOverride) (*model.ScheduleOverride, error) {
	if err := p.Require(domain.RoleStationOperator, domain.RoleBackoffice); err != nil {
		return nil, err
	}
	o.Date = model.DateOf(o.Date)
	if err := o.Validate(); err != nil {
		return nil, domain.NewValidationError("override", err.Error())
	}

	now := c.now().UTC()
	var saved *model.ScheduleOverride
	err := c.db.WithTx(ctx, func(tx *database.Tx) error {
		station, err := tx.GetStation(ctx, o.StationID)
		if err != nil {
			return err
		}
		if err := vetoStrandedBookings(ctx, tx, station, o.Date, o.Date.AddDate(0, 0, 1), o, "override"); err != nil {
			return err
		}
		if err := tx.UpsertScheduleOverride(ctx, o, now); err != nil {
			return err
		}
		saved, err = tx.GetScheduleOverride(ctx, o.StationID, o.Date)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("station_id", o.StationID).
		Str("date", o.Date.Format(model.DateLayout)).
		Bool("closed", o.IsClosed).
		Bool("maintenance", o.IsMaintenance).
		Msg("schedule override saved")
	c.publish(ctx, events.Event{Type: events.ScheduleChanged, StationID: o.StationID, Dates: []time.Time{o.Date}, Actor: p})
	return saved, nil
}

// DeleteOverride restores the default hours for one date, unless that
// would leave an active booking outside them.
func (c *Coordinator) DeleteOverride(ctx context.Context, p domain.Principal, stationID string, date time.Time) error {
	if err := p.Require(domain.RoleStationOperator, domain.RoleBackoffice); err != nil {
		return err
	}
	date = model.DateOf(date)
	err := c.db.WithTx(ctx, func(tx *database.Tx) error {
		station, err := tx.GetStation(ctx, stationID)
		if err != nil {
			return err
		}
		if err := tx.DeleteScheduleOverride(ctx, stationID, date); err != nil {
			return err
		}
		return vetoStrandedBookings(ctx, tx, station, date, date.AddDate(0, 0, 1), nil, "override")
	})
	if err != nil {
		return err
	}
	c.publish(ctx, events.Event{Type: events.ScheduleChanged, StationID: stationID, Dates: []time.Time{date}, Actor: p})
	return nil
}

// ListOverrides returns overrides for [from, from+days).
func (c *Coordinator) ListOverrides(ctx context.Context, stationID string, from time.Time, days int) ([]model.ScheduleOverride, error) {
	if _, err := c.db.GetStation(ctx, stationID); err != nil {
		return nil, err
	}
	from = model.DateOf(from)
	byDate, err := c.db.ListScheduleOverrides(ctx, stationID, from, from.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}
	out := make([]model.ScheduleOverride, 0, len(byDate))
	for d := 0; d < days; d++ {
		if o, ok := byDate[from.AddDate(0, 0, d).Format(model.DateLayout)]; ok {
			out = append(out, *o)
		}
	}
	return out, nil
}

// bookingHorizonEnd bounds the latest instant any admitted booking can reach.
func (c *Coordinator) bookingHorizonEnd(now time.Time) time.Time {
	l := c.validator.Limits()
	return now.Add(l.MaxHorizon + l.MaxDuration)
}

func vetoFutureBookings(ctx context.Context, tx *database.Tx, stationID string, now time.Time, operation string) error {
	n, err := tx.CountFutureActive(ctx, stationID, now)
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.IncStationVeto(operation)
		return fmt.Errorf("%w: station %s has %d upcoming active bookings", domain.ErrConflict, stationID, n)
	}
	return nil
}

// vetoStrandedBookings refuses a schedule change when an active booking
// overlapping [from, to) would no longer fit its date's hours. station
// carries the proposed default hours; pending, when set, is the proposed
// override for its date.
func vetoStrandedBookings(ctx context.Context, tx *database.Tx, station *model.Station, from, to time.Time, pending *model.ScheduleOverride, operation string) error {
	bookings, err := tx.ListOccupying(ctx, station.ID, from, to)
	if err != nil {
		return err
	}
	stranded := 0
	for _, b := range bookings {
		var hours model.DayHours
		if pending != nil && model.DateOf(b.Start).Equal(pending.Date) {
			hours = station.Hours().Merge(pending)
		} else if hours, err = hoursOn(ctx, tx.Queries, station, b.Start); err != nil {
			return err
		}
		if !hours.Covers(b.Start, b.End) {
			stranded++
		}
	}
	if stranded > 0 {
		metrics.IncStationVeto(operation)
		return fmt.Errorf("%w: %d active bookings of station %s would fall outside operating hours",
			domain.ErrConflict, stranded, station.ID)
	}
	return nil
}
