package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"evslots/internal/domain"
	"evslots/internal/model"
)

const stationColumns = `id, name, address, charger_type, total_slots, open_time, close_time, is_active, source, created_at, updated_at`

func scanStation(row interface{ Scan(...any) error }) (*model.Station, error) {
	var s model.Station
	var chargerType string
	err := row.Scan(&s.ID, &s.Name, &s.Address, &chargerType, &s.TotalSlots,
		&s.OpenTime, &s.CloseTime, &s.IsActive, &s.Source, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.ChargerType = model.ChargerType(chargerType)
	return &s, nil
}

// GetStation returns a station by ID.
func (q Queries) GetStation(ctx context.Context, id string) (*model.Station, error) {
	s, err := scanStation(q.q.QueryRowContext(ctx,
		`SELECT `+stationColumns+` FROM stations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: station %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get station %s: %w", id, err)
	}
	return s, nil
}

// ListStations returns stations ordered by name.
func (q Queries) ListStations(ctx context.Context, activeOnly bool) ([]model.Station, error) {
	query := `SELECT ` + stationColumns + ` FROM stations`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name, id`

	rows, err := q.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	defer rows.Close()

	var out []model.Station
	for rows.Next() {
		s, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// CreateStation inserts a station. CreatedAt/UpdatedAt are set from now and
// an empty Source means the API.
func (q Queries) CreateStation(ctx context.Context, s *model.Station, now time.Time) error {
	if s.Source == "" {
		s.Source = model.SourceAPI
	}
	s.CreatedAt, s.UpdatedAt = now.UTC().Truncate(time.Second), now.UTC().Truncate(time.Second)
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO stations (`+stationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Address, string(s.ChargerType), s.TotalSlots,
		s.OpenTime, s.CloseTime, s.IsActive, s.Source, ts(now), ts(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: station %s already exists", domain.ErrConflict, s.ID)
		}
		return fmt.Errorf("create station: %w", err)
	}
	return nil
}

// UpdateStation writes mutable station metadata. The active flag is only
// changed through SetStationActive. An empty Source keeps the stored one.
func (q Queries) UpdateStation(ctx context.Context, s *model.Station, now time.Time) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE stations SET name = ?, address = ?, charger_type = ?, total_slots = ?,
			open_time = ?, close_time = ?, source = COALESCE(NULLIF(?, ''), source), updated_at = ?
		WHERE id = ?`,
		s.Name, s.Address, string(s.ChargerType), s.TotalSlots, s.OpenTime, s.CloseTime, s.Source, ts(now), s.ID,
	)
	if err != nil {
		return fmt.Errorf("update station %s: %w", s.ID, err)
	}
	return expectOne(res, fmt.Errorf("%w: station %s", domain.ErrNotFound, s.ID))
}

// SetStationActive flips the active flag.
func (q Queries) SetStationActive(ctx context.Context, id string, active bool, now time.Time) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE stations SET is_active = ?, updated_at = ? WHERE id = ?`, active, ts(now), id)
	if err != nil {
		return fmt.Errorf("set station %s active=%v: %w", id, active, err)
	}
	return expectOne(res, fmt.Errorf("%w: station %s", domain.ErrNotFound, id))
}

// DeleteStation removes a station and its overrides. Bookings are kept for history.
func (q Queries) DeleteStation(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM stations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete station %s: %w", id, err)
	}
	return expectOne(res, fmt.Errorf("%w: station %s", domain.ErrNotFound, id))
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
