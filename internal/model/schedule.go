package model

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// ScheduleOverride replaces a station's default hours for one UTC date.
type ScheduleOverride struct {
	ID            int64     `json:"id"`
	StationID     string    `json:"station_id"`
	Date          time.Time `json:"date"`
	IsClosed      bool      `json:"is_closed"`
	OpenTime      string    `json:"open_time,omitempty"`
	CloseTime     string    `json:"close_time,omitempty"`
	IsMaintenance bool      `json:"is_maintenance"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate checks override fields.
func (o *ScheduleOverride) Validate() error {
	if o.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if (o.OpenTime == "") != (o.CloseTime == "") {
		return fmt.Errorf("open_time and close_time must be set together")
	}
	if o.OpenTime == "" {
		return nil
	}
	open, err := ParseClock(o.OpenTime)
	if err != nil {
		return fmt.Errorf("open_time: %w", err)
	}
	closing, err := ParseClock(o.CloseTime)
	if err != nil {
		return fmt.Errorf("close_time: %w", err)
	}
	if closing <= open {
		return fmt.Errorf("close_time must be after open_time")
	}
	return nil
}

// DayHours is the effective operating window of a station on one date,
// expressed in minutes since midnight UTC.
type DayHours struct {
	Open        int
	Close       int
	Closed      bool
	Maintenance bool
	Reason      string
	Special     bool
}

// Merge applies an override (may be nil) on top of default hours.
func (h DayHours) Merge(o *ScheduleOverride) DayHours {
	if o == nil {
		return h
	}
	out := h
	if o.OpenTime != "" {
		if open, err := ParseClock(o.OpenTime); err == nil {
			out.Open = open
		}
		if closing, err := ParseClock(o.CloseTime); err == nil {
			out.Close = closing
		}
		out.Special = true
	}
	out.Closed = o.IsClosed
	out.Maintenance = o.IsMaintenance
	out.Reason = o.Reason
	return out
}

// Bookable reports whether any booking may fall on this date.
func (h DayHours) Bookable() bool {
	return !h.Closed && !h.Maintenance && h.Close > h.Open
}

// Covers reports whether [start, end) lies inside the operating window of
// start's date.
func (h DayHours) Covers(start, end time.Time) bool {
	if !h.Bookable() {
		return false
	}
	open, closing := h.Bounds(start)
	return !start.Before(open) && start.Before(closing) && end.After(open) && !end.After(closing)
}

// Bounds returns the opening and closing instants on the given date.
func (h DayHours) Bounds(date time.Time) (time.Time, time.Time) {
	day := DateOf(date)
	return day.Add(time.Duration(h.Open) * time.Minute), day.Add(time.Duration(h.Close) * time.Minute)
}

// DateOf truncates t to midnight UTC.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses YYYY-MM-DD as a UTC date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
