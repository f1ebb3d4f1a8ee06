package availability

import (
	"context"
	"testing"
	"time"

	"evslots/internal/domain"
	"evslots/internal/events"
	"evslots/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	station   *model.Station
	overrides map[string]*model.ScheduleOverride
	bookings  []model.Booking
	loads     int
	// onLoad runs after bookings were read, before they are returned.
	onLoad func()
}

func (m *memStore) GetStation(_ context.Context, id string) (*model.Station, error) {
	if m.station == nil || m.station.ID != id {
		return nil, domain.ErrNotFound
	}
	return m.station, nil
}

func (m *memStore) ListScheduleOverrides(_ context.Context, _ string, _, _ time.Time) (map[string]*model.ScheduleOverride, error) {
	return m.overrides, nil
}

func (m *memStore) ListOccupying(_ context.Context, _ string, from, to time.Time) ([]model.Booking, error) {
	m.loads++
	var out []model.Booking
	for _, b := range m.bookings {
		if b.Start.Before(to) && b.End.After(from) {
			out = append(out, b)
		}
	}
	if m.onLoad != nil {
		m.onLoad()
	}
	return out, nil
}

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, time.UTC)
}

func newStore() *memStore {
	return &memStore{
		station: &model.Station{
			ID: "st-1", Name: "Kandy", ChargerType: model.ChargerAC, TotalSlots: 2,
			OpenTime: "08:00", CloseTime: "12:00", IsActive: true,
		},
		overrides: map[string]*model.ScheduleOverride{},
		bookings: []model.Booking{
			{ID: 1, StationID: "st-1", Start: at(3, 9, 0), End: at(3, 10, 30), Status: model.StatusApproved},
			{ID: 2, StationID: "st-1", Start: at(3, 10, 0), End: at(3, 11, 0), Status: model.StatusPending},
			{ID: 3, StationID: "st-1", Start: at(3, 10, 0), End: at(3, 11, 0), Status: model.StatusCancelled},
		},
	}
}

func hourOf(t *testing.T, day *DayAvailability, hour string) HourAvailability {
	t.Helper()
	for _, h := range day.Hours {
		if h.Hour == hour {
			return h
		}
	}
	t.Fatalf("hour %s not in grid", hour)
	return HourAvailability{}
}

func TestDay_Grid(t *testing.T) {
	logger := zerolog.Nop()
	svc := NewService(newStore(), nil, &logger)

	day, err := svc.Day(context.Background(), "st-1", at(3, 15, 0))
	require.NoError(t, err)
	assert.Equal(t, "2026-03-03", day.Date)
	require.Len(t, day.Hours, 4)

	tests := []struct {
		hour      string
		approved  int
		pending   int
		available int
	}{
		{"08:00", 0, 0, 2},
		{"09:00", 1, 0, 1},
		{"10:00", 1, 1, 0},
		{"11:00", 0, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.hour, func(t *testing.T) {
			h := hourOf(t, day, tt.hour)
			assert.Equal(t, StatusOpen, h.Status)
			assert.Equal(t, 2, h.Capacity)
			assert.Equal(t, tt.approved, h.ApprovedCount)
			assert.Equal(t, tt.pending, h.PendingCount)
			assert.Equal(t, tt.available, h.Available)
		})
	}
}

func TestDay_Overrides(t *testing.T) {
	logger := zerolog.Nop()
	store := newStore()
	store.overrides["2026-03-03"] = &model.ScheduleOverride{StationID: "st-1", Date: at(3, 0, 0), OpenTime: "07:00", CloseTime: "10:00"}
	store.overrides["2026-03-04"] = &model.ScheduleOverride{StationID: "st-1", Date: at(4, 0, 0), IsMaintenance: true, Reason: "inspection"}
	store.overrides["2026-03-05"] = &model.ScheduleOverride{StationID: "st-1", Date: at(5, 0, 0), IsClosed: true}
	svc := NewService(store, nil, &logger)

	days, err := svc.Range(context.Background(), "st-1", at(3, 0, 0), 3)
	require.NoError(t, err)
	require.Len(t, days, 3)

	special := days[0]
	assert.Equal(t, "07:00", special.SpecialOpenTime)
	assert.Equal(t, "10:00", special.SpecialCloseTime)
	require.Len(t, special.Hours, 5, "07:00 through 11:00")
	assert.Equal(t, StatusOpen, hourOf(t, &special, "07:00").Status)
	assert.Equal(t, StatusClosed, hourOf(t, &special, "10:00").Status)
	assert.Equal(t, 0, hourOf(t, &special, "10:00").Available)
	assert.Equal(t, 1, hourOf(t, &special, "10:00").ApprovedCount)

	maint := days[1]
	assert.True(t, maint.IsMaintenance)
	assert.Equal(t, "inspection", maint.Reason)
	for _, h := range maint.Hours {
		assert.Equal(t, StatusMaintenance, h.Status)
		assert.Zero(t, h.Available)
	}

	closed := days[2]
	assert.True(t, closed.IsClosed)
	for _, h := range closed.Hours {
		assert.Equal(t, StatusClosed, h.Status)
		assert.Zero(t, h.Available)
	}
}

func TestRange_Bounds(t *testing.T) {
	logger := zerolog.Nop()
	svc := NewService(newStore(), nil, &logger)
	ctx := context.Background()

	days, err := svc.Range(ctx, "st-1", at(3, 0, 0), 0)
	require.NoError(t, err)
	assert.Len(t, days, DefaultDays)

	_, err = svc.Range(ctx, "st-1", at(3, 0, 0), MaxDays+1)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Range(ctx, "missing", at(3, 0, 0), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUtilization(t *testing.T) {
	logger := zerolog.Nop()
	svc := NewService(newStore(), nil, &logger)
	ctx := context.Background()

	_, err := svc.Utilization(ctx, domain.Principal{ID: "o", Role: domain.RoleOwner}, "st-1", at(3, 0, 0))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	u, err := svc.Utilization(ctx, domain.Principal{ID: "op", Role: domain.RoleStationOperator}, "st-1", at(3, 0, 0))
	require.NoError(t, err)
	require.Len(t, u.Hours, 4)
	assert.InDelta(t, 50.0, u.Hours[1].UtilizationPercentage, 0.001)
	assert.InDelta(t, 100.0, u.PeakPercentage, 0.001)
	assert.Equal(t, "10:00", u.PeakHour)
	assert.InDelta(t, 37.5, u.AveragePercentage, 0.001)
}

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	logger := zerolog.Nop()
	return NewRedisCache(rdb, time.Minute, &logger), mr
}

func TestRedisCache_ReadThrough(t *testing.T) {
	cache, mr := newTestCache(t)
	logger := zerolog.Nop()
	store := newStore()
	svc := NewService(store, cache, &logger)
	ctx := context.Background()

	first, err := svc.Day(ctx, "st-1", at(3, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, store.loads)
	assert.True(t, mr.Exists(cacheKey("st-1", "2026-03-03")))

	second, err := svc.Day(ctx, "st-1", at(3, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, store.loads, "served from cache")
	assert.Equal(t, first, second)

	mr.FastForward(2 * time.Minute)
	_, err = svc.Day(ctx, "st-1", at(3, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, store.loads, "expired entries are recomputed")
}

func TestRedisCache_Invalidation(t *testing.T) {
	cache, mr := newTestCache(t)
	logger := zerolog.Nop()
	svc := NewService(newStore(), cache, &logger)
	ctx := context.Background()

	_, err := svc.Range(ctx, "st-1", at(3, 0, 0), 3)
	require.NoError(t, err)
	require.True(t, mr.Exists(cacheKey("st-1", "2026-03-04")))

	b := &model.Booking{ID: 9, StationID: "st-1", Start: at(4, 9, 0), End: at(4, 10, 0), Status: model.StatusPending}
	require.NoError(t, cache.HandleEvent(ctx, events.BookingEvent(events.BookingCreated, b, domain.Principal{})))
	assert.False(t, mr.Exists(cacheKey("st-1", "2026-03-04")))
	assert.True(t, mr.Exists(cacheKey("st-1", "2026-03-03")))

	require.NoError(t, cache.HandleEvent(ctx, events.Event{Type: events.StationChanged, StationID: "st-1"}))
	assert.False(t, mr.Exists(cacheKey("st-1", "2026-03-03")))
	assert.False(t, mr.Exists(cacheKey("st-1", "2026-03-05")))
}

func TestRedisCache_InvalidationDuringLoad(t *testing.T) {
	cache, mr := newTestCache(t)
	logger := zerolog.Nop()
	store := newStore()
	svc := NewService(store, cache, &logger)
	ctx := context.Background()

	late := &model.Booking{ID: 7, StationID: "st-1", Start: at(3, 8, 0), End: at(3, 9, 0), Status: model.StatusPending}
	store.onLoad = func() {
		store.onLoad = nil
		store.bookings = append(store.bookings, *late)
		require.NoError(t, cache.HandleEvent(ctx, events.BookingEvent(events.BookingCreated, late, domain.Principal{})))
	}

	_, err := svc.Day(ctx, "st-1", at(3, 0, 0))
	require.NoError(t, err)
	assert.False(t, mr.Exists(cacheKey("st-1", "2026-03-03")), "day computed before the change is not stored")

	day, err := svc.Day(ctx, "st-1", at(3, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, store.loads)
	assert.Equal(t, 1, hourOf(t, day, "08:00").PendingCount)
	assert.True(t, mr.Exists(cacheKey("st-1", "2026-03-03")))
}

func TestRedisCache_SetChecksGeneration(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	day := &DayAvailability{StationID: "st-1", Date: "2026-03-03"}

	gen := cache.Generation(ctx, "st-1")
	assert.Zero(t, gen)
	require.NoError(t, cache.InvalidateStation(ctx, "st-1"))

	cache.Set(ctx, day, gen)
	assert.False(t, mr.Exists(cacheKey("st-1", "2026-03-03")))

	cache.Set(ctx, day, cache.Generation(ctx, "st-1"))
	assert.True(t, mr.Exists(cacheKey("st-1", "2026-03-03")))
	assert.Equal(t, time.Minute, mr.TTL(cacheKey("st-1", "2026-03-03")))
}

func TestRedisCache_Unavailable(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()
	logger := zerolog.Nop()
	store := newStore()
	svc := NewService(store, cache, &logger)

	day, err := svc.Day(context.Background(), "st-1", at(3, 0, 0))
	require.NoError(t, err)
	assert.Len(t, day.Hours, 4)
}
