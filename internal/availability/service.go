// Package availability answers read-only questions about how many slots a
// station has free per hour. It never takes part in admission decisions.
package availability

import (
	"context"
	"fmt"
	"time"

	"evslots/internal/domain"
	"evslots/internal/metrics"
	"evslots/internal/model"
	"evslots/internal/slots"

	"github.com/rs/zerolog"
)

const (
	StatusOpen        = "open"
	StatusClosed      = "closed"
	StatusMaintenance = "maintenance"

	DefaultDays = 7
	MaxDays     = 31
)

// HourAvailability is one hour bucket of a station day.
type HourAvailability struct {
	Hour          string `json:"hour"` // "HH:00" UTC
	Capacity      int    `json:"capacity"`
	ApprovedCount int    `json:"approved_count"`
	PendingCount  int    `json:"pending_count"`
	Available     int    `json:"available"`
	Status        string `json:"status"`
}

// DayAvailability is the hourly grid of one station for one UTC date.
type DayAvailability struct {
	StationID        string             `json:"station_id"`
	Date             string             `json:"date"`
	OpenTime         string             `json:"open_time"`
	CloseTime        string             `json:"close_time"`
	IsClosed         bool               `json:"is_closed"`
	IsMaintenance    bool               `json:"is_maintenance"`
	Reason           string             `json:"reason,omitempty"`
	SpecialOpenTime  string             `json:"special_open_time,omitempty"`
	SpecialCloseTime string             `json:"special_close_time,omitempty"`
	Hours            []HourAvailability `json:"hours"`
}

// HourUtilization reports how loaded one open hour is.
type HourUtilization struct {
	Hour                  string  `json:"hour"`
	Capacity              int     `json:"capacity"`
	Occupied              int     `json:"occupied"`
	UtilizationPercentage float64 `json:"utilization_percentage"`
}

// Utilization summarises a station day for operators.
type Utilization struct {
	StationID         string            `json:"station_id"`
	Date              string            `json:"date"`
	Hours             []HourUtilization `json:"hours"`
	AveragePercentage float64           `json:"average_percentage"`
	PeakHour          string            `json:"peak_hour,omitempty"`
	PeakPercentage    float64           `json:"peak_percentage"`
}

// Store is the read side of the database.
type Store interface {
	GetStation(ctx context.Context, id string) (*model.Station, error)
	ListScheduleOverrides(ctx context.Context, stationID string, from, to time.Time) (map[string]*model.ScheduleOverride, error)
	ListOccupying(ctx context.Context, stationID string, from, to time.Time) ([]model.Booking, error)
}

// Cache stores computed days. Implementations must tolerate being absent.
// Generation is read before the store so that Set can refuse a day that an
// invalidation has overtaken.
type Cache interface {
	Get(ctx context.Context, stationID, date string) (*DayAvailability, bool)
	Generation(ctx context.Context, stationID string) int64
	Set(ctx context.Context, day *DayAvailability, gen int64)
}

// Service computes availability grids.
type Service struct {
	store  Store
	cache  Cache
	logger zerolog.Logger
}

// NewService creates the service. cache may be nil.
func NewService(store Store, cache Cache, logger *zerolog.Logger) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		logger: logger.With().Str("component", "availability").Logger(),
	}
}

// Day returns the grid for a single date.
func (s *Service) Day(ctx context.Context, stationID string, date time.Time) (*DayAvailability, error) {
	days, err := s.Range(ctx, stationID, date, 1)
	if err != nil {
		return nil, err
	}
	return &days[0], nil
}

// Range returns grids for [start, start+days). days of 0 means DefaultDays.
func (s *Service) Range(ctx context.Context, stationID string, start time.Time, days int) ([]DayAvailability, error) {
	if days == 0 {
		days = DefaultDays
	}
	if days < 0 || days > MaxDays {
		return nil, domain.NewValidationError("days", fmt.Sprintf("days must be between 1 and %d", MaxDays))
	}
	start = model.DateOf(start)

	gen := int64(-1)
	if s.cache != nil {
		gen = s.cache.Generation(ctx, stationID)
	}
	station, err := s.store.GetStation(ctx, stationID)
	if err != nil {
		return nil, err
	}

	out := make([]DayAvailability, days)
	missing := false
	for i := range out {
		date := start.AddDate(0, 0, i).Format(model.DateLayout)
		if cached, ok := s.cacheGet(ctx, stationID, date); ok {
			out[i] = *cached
			continue
		}
		missing = true
	}
	if !missing {
		return out, nil
	}

	end := start.AddDate(0, 0, days)
	overrides, err := s.store.ListScheduleOverrides(ctx, stationID, start, end)
	if err != nil {
		return nil, err
	}
	bookings, err := s.store.ListOccupying(ctx, stationID, start, end)
	if err != nil {
		return nil, err
	}
	tally := slots.Tally(bookings)
	s.logger.Debug().Str("station_id", stationID).Time("from", start).Int("days", days).Int("bookings", len(bookings)).Msg("availability computed")

	for i := range out {
		if out[i].Date != "" {
			continue
		}
		date := start.AddDate(0, 0, i)
		day := buildDay(station, date, overrides[date.Format(model.DateLayout)], tally)
		out[i] = day
		if s.cache != nil {
			s.cache.Set(ctx, &day, gen)
		}
	}
	return out, nil
}

// Utilization reports per-hour load of the open hours of a date. Staff only.
func (s *Service) Utilization(ctx context.Context, p domain.Principal, stationID string, date time.Time) (*Utilization, error) {
	if err := p.Require(domain.RoleStationOperator, domain.RoleBackoffice); err != nil {
		return nil, err
	}
	day, err := s.Day(ctx, stationID, date)
	if err != nil {
		return nil, err
	}

	u := &Utilization{StationID: stationID, Date: day.Date, Hours: make([]HourUtilization, 0, len(day.Hours))}
	var sum float64
	for _, h := range day.Hours {
		if h.Status != StatusOpen || h.Capacity == 0 {
			continue
		}
		occupied := h.ApprovedCount + h.PendingCount
		pct := float64(occupied) / float64(h.Capacity) * 100
		u.Hours = append(u.Hours, HourUtilization{Hour: h.Hour, Capacity: h.Capacity, Occupied: occupied, UtilizationPercentage: pct})
		sum += pct
		if pct > u.PeakPercentage {
			u.PeakPercentage, u.PeakHour = pct, h.Hour
		}
	}
	if len(u.Hours) > 0 {
		u.AveragePercentage = sum / float64(len(u.Hours))
	}
	return u, nil
}

func (s *Service) cacheGet(ctx context.Context, stationID, date string) (*DayAvailability, bool) {
	if s.cache == nil {
		return nil, false
	}
	day, ok := s.cache.Get(ctx, stationID, date)
	if ok {
		metrics.IncCache("hit")
	} else {
		metrics.IncCache("miss")
	}
	return day, ok
}

// buildDay lays out buckets over the default window widened by any
// override window. Buckets outside the effective window are closed.
func buildDay(station *model.Station, date time.Time, o *model.ScheduleOverride, tally map[int64]slots.Occupancy) DayAvailability {
	base := station.Hours()
	hours := base.Merge(o)

	day := DayAvailability{
		StationID:     station.ID,
		Date:          date.Format(model.DateLayout),
		OpenTime:      station.OpenTime,
		CloseTime:     station.CloseTime,
		IsClosed:      hours.Closed || !station.IsActive,
		IsMaintenance: hours.Maintenance,
		Reason:        hours.Reason,
	}
	if !station.IsActive && day.Reason == "" {
		day.Reason = "station is not accepting bookings"
	}
	if hours.Special {
		day.SpecialOpenTime = model.FormatClock(hours.Open)
		day.SpecialCloseTime = model.FormatClock(hours.Close)
	}

	lo, hi := min(base.Open, hours.Open), max(base.Close, hours.Close)
	for h := lo / 60; h*60 < hi; h++ {
		bucket := date.Add(time.Duration(h) * time.Hour)
		occ := tally[bucket.Unix()]
		occ.Bucket, occ.Capacity = bucket, station.TotalSlots

		status := StatusOpen
		switch {
		case day.IsClosed:
			status = StatusClosed
		case hours.Maintenance:
			status = StatusMaintenance
		case (h+1)*60 <= hours.Open || h*60 >= hours.Close:
			status = StatusClosed
		}

		available := 0
		if status == StatusOpen {
			available = occ.Available()
		}
		day.Hours = append(day.Hours, HourAvailability{
			Hour:          fmt.Sprintf("%02d:00", h),
			Capacity:      occ.Capacity,
			ApprovedCount: occ.Approved,
			PendingCount:  occ.Pending,
			Available:     available,
			Status:        status,
		})
	}
	return day
}
