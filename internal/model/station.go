package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ChargerType string

const (
	ChargerAC ChargerType = "AC"
	ChargerDC ChargerType = "DC"
)

// Where a station record is maintained. Directory stations follow
// stations.yaml; API stations are only changed through the REST surface.
const (
	SourceAPI       = "api"
	SourceDirectory = "directory"
)

// Station is a charging location with a fixed number of parallel slots.
type Station struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Address     string      `json:"address,omitempty"`
	ChargerType ChargerType `json:"charger_type"`
	TotalSlots  int         `json:"total_slots"`
	OpenTime    string      `json:"open_time"`  // "06:00", UTC
	CloseTime   string      `json:"close_time"` // "22:00", UTC; "24:00" allowed
	IsActive    bool        `json:"is_active"`
	Source      string      `json:"source"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Validate checks station metadata.
func (s *Station) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if s.TotalSlots <= 0 {
		return fmt.Errorf("total_slots must be positive, got %d", s.TotalSlots)
	}
	switch s.ChargerType {
	case ChargerAC, ChargerDC:
	default:
		return fmt.Errorf("charger_type must be AC or DC, got %q", s.ChargerType)
	}
	open, err := ParseClock(s.OpenTime)
	if err != nil {
		return fmt.Errorf("open_time: %w", err)
	}
	closing, err := ParseClock(s.CloseTime)
	if err != nil {
		return fmt.Errorf("close_time: %w", err)
	}
	if closing-open < 60 {
		return fmt.Errorf("operating window must be at least one hour")
	}
	return nil
}

// Hours returns the default operating hours.
func (s *Station) Hours() DayHours {
	open, _ := ParseClock(s.OpenTime)
	closing, _ := ParseClock(s.CloseTime)
	return DayHours{Open: open, Close: closing}
}

// ParseClock parses "HH:MM" into minutes since midnight. "24:00" is accepted
// as end of day.
func ParseClock(v string) (int, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid time format %q, expected HH:MM", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q", v)
	}
	if h == 24 && m == 0 {
		return 24 * 60, nil
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q out of range", v)
	}
	return h*60 + m, nil
}

// FormatClock is the inverse of ParseClock.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
