package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StationConfig represents a single station in stations.yaml.
type StationConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Address     string `yaml:"address"`
	ChargerType string `yaml:"charger_type"` // "AC" or "DC"
	TotalSlots  int    `yaml:"total_slots"`
	OpenTime    string `yaml:"open_time"`  // "06:00" UTC
	CloseTime   string `yaml:"close_time"` // "22:00" UTC
	IsActive    bool   `yaml:"is_active"`
}

// HolidayConfig represents a date on which every station is closed.
type HolidayConfig struct {
	Date string `yaml:"date"` // "2026-04-14"
	Name string `yaml:"name"` // "Sinhala and Tamil New Year"
}

// StationDefaults fills fields left empty on individual stations.
type StationDefaults struct {
	ChargerType string `yaml:"charger_type"`
	TotalSlots  int    `yaml:"total_slots"`
	OpenTime    string `yaml:"open_time"`
	CloseTime   string `yaml:"close_time"`
}

// StationsConfig is the root configuration for stations.yaml.
type StationsConfig struct {
	Stations []StationConfig `yaml:"stations"`
	Defaults StationDefaults `yaml:"defaults"`
	Holidays []HolidayConfig `yaml:"holidays"`
}

// LoadStationsConfig loads and validates the station directory file.
func LoadStationsConfig(path string) (*StationsConfig, error) {
	if path == "" {
		path = "configs/stations.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stations config: %w", err)
	}

	var cfg StationsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse stations config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate stations config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *StationsConfig) Validate() error {
	if len(c.Stations) == 0 {
		return fmt.Errorf("no stations defined")
	}

	ids := make(map[string]bool)
	for i, st := range c.Stations {
		if strings.TrimSpace(st.ID) == "" {
			return fmt.Errorf("station[%d]: id is required", i)
		}
		if ids[st.ID] {
			return fmt.Errorf("station[%d]: duplicate id '%s'", i, st.ID)
		}
		ids[st.ID] = true

		if st.Name == "" {
			return fmt.Errorf("station[%d]: name is required", i)
		}
		if st.TotalSlots <= 0 {
			return fmt.Errorf("station[%d]: total_slots must be positive", i)
		}
		if st.ChargerType != "AC" && st.ChargerType != "DC" {
			return fmt.Errorf("station[%d]: charger_type must be AC or DC, got '%s'", i, st.ChargerType)
		}
		if err := validateHours(st.OpenTime, st.CloseTime, fmt.Sprintf("station[%d]", i)); err != nil {
			return err
		}
	}

	for i, h := range c.Holidays {
		if h.Date == "" {
			return fmt.Errorf("holiday[%d]: date is required", i)
		}
		if _, err := time.Parse("2006-01-02", h.Date); err != nil {
			return fmt.Errorf("holiday[%d]: invalid date format '%s', expected YYYY-MM-DD", i, h.Date)
		}
	}

	return nil
}

// validateHours checks an operating window. "24:00" is accepted as close.
func validateHours(open, closing, prefix string) error {
	if open == "" {
		return fmt.Errorf("%s.open_time is required", prefix)
	}
	if closing == "" {
		return fmt.Errorf("%s.close_time is required", prefix)
	}

	openTime, err := time.Parse("15:04", open)
	if err != nil {
		return fmt.Errorf("%s.open_time: invalid format '%s', expected HH:MM", prefix, open)
	}

	if closing == "24:00" {
		return nil
	}
	closeTime, err := time.Parse("15:04", closing)
	if err != nil {
		return fmt.Errorf("%s.close_time: invalid format '%s', expected HH:MM", prefix, closing)
	}

	if closeTime.Sub(openTime) < time.Hour {
		return fmt.Errorf("%s: close_time must be at least one hour after open_time", prefix)
	}
	return nil
}

// applyDefaults applies default values to stations without explicit configuration.
func (c *StationsConfig) applyDefaults() {
	for i := range c.Stations {
		st := &c.Stations[i]
		if st.ChargerType == "" {
			st.ChargerType = c.Defaults.ChargerType
		}
		if st.ChargerType == "" {
			st.ChargerType = "AC"
		}
		if st.TotalSlots == 0 {
			st.TotalSlots = c.Defaults.TotalSlots
		}
		if st.TotalSlots == 0 {
			st.TotalSlots = 1
		}
		if st.OpenTime == "" {
			st.OpenTime = c.Defaults.OpenTime
		}
		if st.CloseTime == "" {
			st.CloseTime = c.Defaults.CloseTime
		}
	}
}

// String returns a summary of the configuration.
func (c *StationsConfig) String() string {
	active := 0
	for _, st := range c.Stations {
		if st.IsActive {
			active++
		}
	}
	return fmt.Sprintf("StationsConfig: %d stations (%d active), %d holidays",
		len(c.Stations), active, len(c.Holidays))
}
