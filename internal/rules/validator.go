// Package rules checks proposed reservation windows against the temporal
// booking policy. It is pure: callers supply the clock and operating hours.
package rules

import (
	"fmt"
	"time"

	"evslots/internal/domain"
	"evslots/internal/model"
)

const (
	RuleAdvanceNotice = "advance_notice"
	RuleHorizon       = "horizon"
	RuleOrdering      = "ordering"
	RuleDuration      = "duration"
	RuleWorkingHours  = "working_hours"
)

// Limits configures the policy. Zero values fall back to defaults.
type Limits struct {
	MinAdvance  time.Duration
	MaxHorizon  time.Duration
	MaxDuration time.Duration
}

// DefaultLimits is 12h notice, 7 day horizon, 8h maximum session.
var DefaultLimits = Limits{
	MinAdvance:  12 * time.Hour,
	MaxHorizon:  7 * 24 * time.Hour,
	MaxDuration: 8 * time.Hour,
}

// Validator evaluates every rule independently and reports all failures.
type Validator struct {
	limits Limits
}

// NewValidator creates a validator, filling unset limits with defaults.
func NewValidator(l Limits) *Validator {
	if l.MinAdvance <= 0 {
		l.MinAdvance = DefaultLimits.MinAdvance
	}
	if l.MaxHorizon <= 0 {
		l.MaxHorizon = DefaultLimits.MaxHorizon
	}
	if l.MaxDuration <= 0 {
		l.MaxDuration = DefaultLimits.MaxDuration
	}
	return &Validator{limits: l}
}

// Limits returns the effective policy.
func (v *Validator) Limits() Limits {
	return v.limits
}

// Validate checks [start, end) against the policy. hours must be the
// effective hours on start's UTC date. The returned error, if any, is a
// *domain.ValidationError listing every failed rule.
func (v *Validator) Validate(hours model.DayHours, start, end, now time.Time) error {
	start, end, now = start.UTC(), end.UTC(), now.UTC()
	ve := &domain.ValidationError{}

	if start.Sub(now) < v.limits.MinAdvance {
		ve.Add(RuleAdvanceNotice, fmt.Sprintf("reservation must start at least %s from now", formatHours(v.limits.MinAdvance)))
	}
	if !start.Before(now.Add(v.limits.MaxHorizon)) {
		ve.Add(RuleHorizon, fmt.Sprintf("reservation must start within %d days", int(v.limits.MaxHorizon.Hours()/24)))
	}
	if !end.After(start) {
		ve.Add(RuleOrdering, "reservation end must be after start")
	}
	if end.Sub(start) > v.limits.MaxDuration {
		ve.Add(RuleDuration, fmt.Sprintf("reservation cannot exceed %s", formatHours(v.limits.MaxDuration)))
	}
	if msg := workingHours(hours, start, end); msg != "" {
		ve.Add(RuleWorkingHours, msg)
	}

	return ve.OrNil()
}

// ModificationAllowed reports whether a reservation starting at start may
// still be changed or cancelled by its owner.
func (v *Validator) ModificationAllowed(start, now time.Time) bool {
	return start.Sub(now) >= v.limits.MinAdvance
}

func workingHours(hours model.DayHours, start, end time.Time) string {
	day := start.Format(model.DateLayout)
	switch {
	case hours.Closed:
		if hours.Reason != "" {
			return fmt.Sprintf("station is closed on %s: %s", day, hours.Reason)
		}
		return fmt.Sprintf("station is closed on %s", day)
	case hours.Maintenance:
		if hours.Reason != "" {
			return fmt.Sprintf("station is under maintenance on %s: %s", day, hours.Reason)
		}
		return fmt.Sprintf("station is under maintenance on %s", day)
	}

	if hours.Covers(start, end) {
		return ""
	}
	if !hours.Bookable() {
		return fmt.Sprintf("station has no operating hours on %s", day)
	}
	return fmt.Sprintf("reservation must fall within operating hours %s-%s UTC",
		model.FormatClock(hours.Open), model.FormatClock(hours.Close))
}

func formatHours(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(d.Hours()))
	}
	return d.String()
}
