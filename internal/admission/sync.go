package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evslots/internal/config"
	"evslots/internal/domain"
	"evslots/internal/model"
)

// directoryPrincipal acts for changes that come from stations.yaml.
var directoryPrincipal = domain.Principal{ID: "stations.yaml", Role: domain.RoleBackoffice}

// SyncReport lists what a directory sync changed and what it had to skip.
type SyncReport struct {
	Created     []string
	Updated     []string
	Deactivated []string
	// Skipped maps a station ID to the reason a change was refused.
	Skipped map[string]string
}

// SyncDirectory applies stations.yaml. Stations are created or updated and
// take the directory as their source. Directory stations missing from the
// file are deactivated; stations created through the API are left alone.
// Holidays become closures. Changes that would strand active bookings are skipped and
// reported rather than failing the whole sync.
func (c *Coordinator) SyncDirectory(ctx context.Context, cfg *config.StationsConfig) (*SyncReport, error) {
	if cfg == nil {
		return nil, fmt.Errorf("stations config is nil")
	}
	report := &SyncReport{Skipped: make(map[string]string)}
	seen := make(map[string]struct{}, len(cfg.Stations))

	for _, sc := range cfg.Stations {
		seen[sc.ID] = struct{}{}
		s := &model.Station{
			ID:          sc.ID,
			Name:        sc.Name,
			Address:     sc.Address,
			ChargerType: model.ChargerType(sc.ChargerType),
			TotalSlots:  sc.TotalSlots,
			OpenTime:    sc.OpenTime,
			CloseTime:   sc.CloseTime,
			IsActive:    sc.IsActive,
			Source:      model.SourceDirectory,
		}
		if err := c.syncStation(ctx, s, report); err != nil {
			return report, err
		}
	}

	existing, err := c.db.ListStations(ctx, true)
	if err != nil {
		return report, err
	}
	for _, st := range existing {
		if _, ok := seen[st.ID]; ok || st.Source != model.SourceDirectory {
			continue
		}
		if err := c.syncDeactivate(ctx, st.ID, report); err != nil {
			return report, err
		}
	}

	for _, h := range cfg.Holidays {
		date, err := model.ParseDate(h.Date)
		if err != nil {
			return report, fmt.Errorf("parse holiday %s: %w", h.Date, err)
		}
		for id := range seen {
			if _, skipped := report.Skipped[id]; skipped {
				continue
			}
			if err := c.syncHoliday(ctx, id, date, h.Name); err != nil {
				if errors.Is(err, domain.ErrConflict) {
					report.Skipped[id] = err.Error()
					continue
				}
				return report, err
			}
		}
	}

	c.logger.Info().
		Int("created", len(report.Created)).
		Int("updated", len(report.Updated)).
		Int("deactivated", len(report.Deactivated)).
		Int("skipped", len(report.Skipped)).
		Msg("station directory synced")
	return report, nil
}

func (c *Coordinator) syncStation(ctx context.Context, s *model.Station, report *SyncReport) error {
	current, err := c.db.GetStation(ctx, s.ID)
	if errors.Is(err, domain.ErrNotFound) {
		if _, err := c.CreateStation(ctx, directoryPrincipal, s); err != nil {
			return fmt.Errorf("create station %s: %w", s.ID, err)
		}
		report.Created = append(report.Created, s.ID)
		return nil
	}
	if err != nil {
		return err
	}

	if stationChanged(current, s) {
		if _, err := c.UpdateStation(ctx, directoryPrincipal, s); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				report.Skipped[s.ID] = err.Error()
				return nil
			}
			return fmt.Errorf("update station %s: %w", s.ID, err)
		}
		report.Updated = append(report.Updated, s.ID)
	}

	switch {
	case s.IsActive && !current.IsActive:
		if _, err := c.ActivateStation(ctx, directoryPrincipal, s.ID); err != nil {
			return err
		}
	case !s.IsActive && current.IsActive:
		return c.syncDeactivate(ctx, s.ID, report)
	}
	return nil
}

func (c *Coordinator) syncDeactivate(ctx context.Context, id string, report *SyncReport) error {
	if _, err := c.DeactivateStation(ctx, directoryPrincipal, id); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			c.logger.Warn().Err(err).Str("station_id", id).Msg("station kept active")
			report.Skipped[id] = err.Error()
			return nil
		}
		return err
	}
	report.Deactivated = append(report.Deactivated, id)
	return nil
}

// syncHoliday closes a date unless an override already exists for it.
func (c *Coordinator) syncHoliday(ctx context.Context, stationID string, date time.Time, name string) error {
	o, err := c.db.GetScheduleOverride(ctx, stationID, date)
	if err != nil || o != nil {
		return err
	}
	_, err = c.UpsertOverride(ctx, directoryPrincipal, &model.ScheduleOverride{
		StationID: stationID,
		Date:      date,
		IsClosed:  true,
		Reason:    name,
	})
	return err
}

func stationChanged(a, b *model.Station) bool {
	return a.Name != b.Name || a.Address != b.Address || a.ChargerType != b.ChargerType ||
		a.TotalSlots != b.TotalSlots || a.OpenTime != b.OpenTime || a.CloseTime != b.CloseTime ||
		a.Source != b.Source
}
