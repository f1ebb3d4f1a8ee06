// Package slots maps reservation windows onto hourly buckets and counts
// how much of a station's capacity each bucket has left.
package slots

import (
	"context"
	"fmt"
	"time"

	"evslots/internal/model"
)

// Floor returns the start of the hour bucket containing t (UTC).
// 10:30 maps to 10:00; 10:00 maps to itself.
func Floor(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// Buckets returns the start of every hour bucket that [start, end) overlaps.
func Buckets(start, end time.Time) []time.Time {
	if !end.After(start) {
		return nil
	}
	var out []time.Time
	for b := Floor(start); b.Before(end); b = b.Add(time.Hour) {
		out = append(out, b)
	}
	return out
}

// Occupancy is the load of one station-hour bucket.
type Occupancy struct {
	Bucket   time.Time
	Capacity int
	Approved int
	Pending  int
}

// Occupied counts bookings holding capacity in the bucket.
func (o Occupancy) Occupied() int {
	return o.Approved + o.Pending
}

// Available is never negative, even when capacity was lowered below load.
func (o Occupancy) Available() int {
	if free := o.Capacity - o.Occupied(); free > 0 {
		return free
	}
	return 0
}

// Full reports whether another booking would exceed capacity.
func (o Occupancy) Full() bool {
	return o.Occupied() >= o.Capacity
}

// Counter counts Pending and Approved bookings of a station overlapping
// [from, to). excludeID skips one booking (0 skips none).
type Counter interface {
	CountOccupying(ctx context.Context, stationID string, from, to time.Time, excludeID int64) (approved, pending int, err error)
}

// Engine computes bucket occupancy through a Counter.
type Engine struct {
	counter Counter
}

// NewEngine creates an engine over counter. Pass a transaction-bound
// counter to get a consistent view for admission.
func NewEngine(counter Counter) *Engine {
	return &Engine{counter: counter}
}

// Window returns occupancy for every bucket [start, end) touches.
func (e *Engine) Window(ctx context.Context, stationID string, capacity int, start, end time.Time, excludeID int64) ([]Occupancy, error) {
	buckets := Buckets(start, end)
	out := make([]Occupancy, 0, len(buckets))
	for _, b := range buckets {
		occ, err := e.occupancy(ctx, stationID, capacity, b, excludeID)
		if err != nil {
			return nil, err
		}
		out = append(out, occ)
	}
	return out, nil
}

// FirstFull returns the first bucket of [start, end) with no free slot,
// or nil when every bucket has room.
func (e *Engine) FirstFull(ctx context.Context, stationID string, capacity int, start, end time.Time, excludeID int64) (*Occupancy, error) {
	window, err := e.Window(ctx, stationID, capacity, start, end, excludeID)
	if err != nil {
		return nil, err
	}
	for i := range window {
		if window[i].Full() {
			return &window[i], nil
		}
	}
	return nil, nil
}

// Peak returns the highest occupied count over [start, end).
func (e *Engine) Peak(ctx context.Context, stationID string, start, end time.Time) (int, error) {
	window, err := e.Window(ctx, stationID, 0, start, end, 0)
	if err != nil {
		return 0, err
	}
	peak := 0
	for _, occ := range window {
		if occ.Occupied() > peak {
			peak = occ.Occupied()
		}
	}
	return peak, nil
}

func (e *Engine) occupancy(ctx context.Context, stationID string, capacity int, bucket time.Time, excludeID int64) (Occupancy, error) {
	approved, pending, err := e.counter.CountOccupying(ctx, stationID, bucket, bucket.Add(time.Hour), excludeID)
	if err != nil {
		return Occupancy{}, fmt.Errorf("count bucket %s: %w", bucket.Format("2006-01-02 15:04"), err)
	}
	return Occupancy{Bucket: bucket, Capacity: capacity, Approved: approved, Pending: pending}, nil
}

// Tally buckets already loaded bookings. Only Pending and Approved ones
// count. The result is keyed by bucket start in Unix seconds.
func Tally(bookings []model.Booking) map[int64]Occupancy {
	out := make(map[int64]Occupancy)
	for _, b := range bookings {
		if !b.Status.Occupies() {
			continue
		}
		for _, bucket := range Buckets(b.Start, b.End) {
			occ := out[bucket.Unix()]
			occ.Bucket = bucket
			if b.Status == model.StatusApproved {
				occ.Approved++
			} else {
				occ.Pending++
			}
			out[bucket.Unix()] = occ
		}
	}
	return out
}
