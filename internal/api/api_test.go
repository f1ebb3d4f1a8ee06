package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"evslots/internal/admission"
	"evslots/internal/audit"
	"evslots/internal/auth"
	"evslots/internal/availability"
	"evslots/internal/booking"
	"evslots/internal/database"
	"evslots/internal/domain"
	"evslots/internal/model"
	"evslots/internal/rules"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow  = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	owner    = domain.Principal{ID: "owner-1", Role: domain.RoleOwner}
	other    = domain.Principal{ID: "owner-2", Role: domain.RoleOwner}
	operator = domain.Principal{ID: "op-1", Role: domain.RoleStationOperator}
	office   = domain.Principal{ID: "bo-1", Role: domain.RoleBackoffice}
)

type testServer struct {
	handler http.Handler
	db      *database.DB
	tokens  *auth.TokenService
}

func setupTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), 5*time.Second, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := func() time.Time { return testNow }
	validator := rules.NewValidator(rules.DefaultLimits)
	machine := booking.NewMachine(validator)
	tokens := auth.NewTokenService("test-secret", time.Hour)
	verifier := auth.NewVerifier("verify-secret", time.Hour).WithClock(clock)

	srv := NewServer(opts, Dependencies{
		Tokens:       tokens,
		Bookings:     booking.NewService(db, machine, verifier, nil, &logger).WithClock(clock),
		Admission:    admission.NewCoordinator(db, validator, machine, verifier, nil, &logger).WithClock(clock),
		Availability: availability.NewService(db, nil, &logger),
		Exporter:     audit.NewExporter(db, nil),
		Stations:     db,
	}, &logger).WithClock(clock)

	require.NoError(t, db.CreateStation(context.Background(), &model.Station{
		ID: "st-1", Name: "Harbour", ChargerType: model.ChargerDC, TotalSlots: 1,
		OpenTime: "06:00", CloseTime: "22:00", IsActive: true,
	}, testNow))

	return &testServer{handler: srv.Handler(), db: db, tokens: tokens}
}

func (ts *testServer) do(t *testing.T, p *domain.Principal, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if p != nil {
		token, err := ts.tokens.GenerateToken(*p)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func bookingBody(start, end time.Time) CreateBookingRequest {
	return CreateBookingRequest{
		StationID:        "st-1",
		ReservationStart: start.Format(time.RFC3339),
		ReservationEnd:   end.Format(time.RFC3339),
	}
}

func at(day, hour int) time.Time {
	return time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC)
}

func TestAuthentication(t *testing.T) {
	ts := setupTestServer(t, Options{})

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/stations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			ts.handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "unauthorized", decode[ErrorResponse](t, w).Code)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}

	w := ts.do(t, &owner, http.MethodGet, "/api/v1/stations", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoleGuards(t *testing.T) {
	ts := setupTestServer(t, Options{})

	w := ts.do(t, &owner, http.MethodPost, "/api/v1/stations", StationRequest{
		Name: "New", ChargerType: "AC", TotalSlots: 2, OpenTime: "06:00", CloseTime: "22:00",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", decode[ErrorResponse](t, w).Code)

	w = ts.do(t, &operator, http.MethodGet, "/api/v1/bookings/export", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, &owner, http.MethodGet, "/api/v1/stations/st-1/utilization?date=2026-03-03", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateBooking_ValidationBody(t *testing.T) {
	ts := setupTestServer(t, Options{})

	// Starts two hours ahead and lasts ten hours.
	w := ts.do(t, &owner, http.MethodPost, "/api/v1/bookings", bookingBody(at(2, 10), at(2, 20)))
	require.Equal(t, http.StatusBadRequest, w.Code)

	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "validation", resp.Code)
	var got []string
	for _, v := range resp.Violations {
		got = append(got, v.Rule)
	}
	assert.ElementsMatch(t, []string{rules.RuleAdvanceNotice, rules.RuleDuration}, got)
}

func TestCreateBooking_MalformedInput(t *testing.T) {
	ts := setupTestServer(t, Options{})

	tests := []struct {
		name string
		body interface{}
	}{
		{"not json", "not json"},
		{"unknown field", map[string]string{"station_id": "st-1", "colour": "red"}},
		{"missing station", CreateBookingRequest{ReservationStart: at(3, 10).Format(time.RFC3339), ReservationEnd: at(3, 11).Format(time.RFC3339)}},
		{"bad instants", CreateBookingRequest{StationID: "st-1", ReservationStart: "tomorrow", ReservationEnd: "later"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, &owner, http.MethodPost, "/api/v1/bookings", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "validation", decode[ErrorResponse](t, w).Code)
		})
	}

	w := ts.do(t, &owner, http.MethodPost, "/api/v1/bookings", CreateBookingRequest{StationID: "st-1", ReservationStart: "x", ReservationEnd: "y"})
	assert.Len(t, decode[ErrorResponse](t, w).Violations, 2)
}

func TestBookingLifecycle(t *testing.T) {
	ts := setupTestServer(t, Options{})

	w := ts.do(t, &owner, http.MethodPost, "/api/v1/bookings", bookingBody(at(3, 10), at(3, 12)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[model.Booking](t, w)
	assert.Equal(t, model.StatusPending, created.Status)
	assert.Equal(t, owner.ID, created.OwnerID)
	path := fmt.Sprintf("/api/v1/bookings/%d", created.ID)

	w = ts.do(t, &other, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, &owner, http.MethodPost, path+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, &operator, http.MethodPost, path+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	approved := decode[model.Booking](t, w)
	assert.Equal(t, model.StatusApproved, approved.Status)
	require.NotEmpty(t, approved.VerificationToken)

	w = ts.do(t, &owner, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, &operator, http.MethodPost, "/api/v1/bookings/complete", CompleteRequest{Token: approved.VerificationToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.StatusCompleted, decode[model.Booking](t, w).Status)

	w = ts.do(t, &operator, http.MethodPost, path+"/complete", CompleteRequest{Token: approved.VerificationToken})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, w).Code)

	w = ts.do(t, &owner, http.MethodPost, path+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, &owner, http.MethodGet, "/api/v1/bookings/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[model.BookingStats](t, w)
	assert.Equal(t, 1, stats.Completed)
}

func TestRescheduleAndList(t *testing.T) {
	ts := setupTestServer(t, Options{})

	w := ts.do(t, &owner, http.MethodPost, "/api/v1/bookings", bookingBody(at(3, 10), at(3, 12)))
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[model.Booking](t, w).ID

	w = ts.do(t, &owner, http.MethodPut, fmt.Sprintf("/api/v1/bookings/%d", id), RescheduleRequest{
		ReservationStart: at(4, 14).Format(time.RFC3339),
		ReservationEnd:   at(4, 16).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[model.Booking](t, w).Start.Equal(at(4, 14)))

	w = ts.do(t, &other, http.MethodPost, "/api/v1/bookings", bookingBody(at(5, 10), at(5, 11)))
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, &owner, http.MethodGet, "/api/v1/bookings?ownerId=owner-2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[BookingListResponse](t, w)
	require.Len(t, list.Bookings, 1)
	assert.Equal(t, owner.ID, list.Bookings[0].OwnerID)

	w = ts.do(t, &operator, http.MethodGet, "/api/v1/bookings?status=Pending&stationId=st-1", nil)
	assert.Len(t, decode[BookingListResponse](t, w).Bookings, 2)

	w = ts.do(t, &operator, http.MethodGet, "/api/v1/bookings?status=Unknown", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, &operator, http.MethodGet, "/api/v1/bookings?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConcurrentCreates_SingleSlot(t *testing.T) {
	ts := setupTestServer(t, Options{})
	body := bookingBody(at(3, 10), at(3, 12))

	const n = 8
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := domain.Principal{ID: fmt.Sprintf("owner-%d", i), Role: domain.RoleOwner}
			codes[i] = ts.do(t, &p, http.MethodPost, "/api/v1/bookings", body).Code
		}(i)
	}
	wg.Wait()

	created, conflicts := 0, 0
	for _, c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicts++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, conflicts)
}

func TestAvailabilityEndpoints(t *testing.T) {
	ts := setupTestServer(t, Options{})

	w := ts.do(t, &owner, http.MethodPost, "/api/v1/bookings", bookingBody(at(3, 10), at(3, 12)))
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, &owner, http.MethodGet, "/api/v1/stations/st-1/available-slots?date=2026-03-03", nil)
	require.Equal(t, http.StatusOK, w.Code)
	day := decode[availability.DayAvailability](t, w)
	assert.Equal(t, "2026-03-03", day.Date)
	for _, h := range day.Hours {
		switch h.Hour {
		case "10:00", "11:00":
			assert.Equal(t, 1, h.PendingCount, h.Hour)
			assert.Equal(t, 0, h.Available, h.Hour)
		case "12:00":
			assert.Equal(t, 1, h.Available)
		}
	}

	w = ts.do(t, &owner, http.MethodGet, "/api/v1/stations/st-1/availability?start=2026-03-03&days=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]availability.DayAvailability](t, w), 3)

	w = ts.do(t, &owner, http.MethodGet, "/api/v1/stations/st-1/availability?days=40", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, &owner, http.MethodGet, "/api/v1/stations/st-1/available-slots?date=03-03-2026", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, &owner, http.MethodGet, "/api/v1/stations/missing/available-slots", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, &operator, http.MethodGet, "/api/v1/stations/st-1/utilization?date=2026-03-03", nil)
	require.Equal(t, http.StatusOK, w.Code)
	u := decode[availability.Utilization](t, w)
	assert.Equal(t, "10:00", u.PeakHour)
	assert.InDelta(t, 100.0, u.PeakPercentage, 0.001)
}

func TestStationManagement(t *testing.T) {
	ts := setupTestServer(t, Options{})

	w := ts.do(t, &office, http.MethodPost, "/api/v1/stations", StationRequest{
		ID: "st-2", Name: "Airport", ChargerType: "AC", TotalSlots: 3, OpenTime: "00:00", CloseTime: "24:00",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, model.SourceAPI, decode[model.Station](t, w).Source)

	w = ts.do(t, &office, http.MethodPost, "/api/v1/stations", StationRequest{Name: "", ChargerType: "AC", TotalSlots: 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, &owner, http.MethodPost, "/api/v1/bookings", bookingBody(at(3, 10), at(3, 12)))
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, &operator, http.MethodPatch, "/api/v1/stations/st-1/deactivate", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", decode[ErrorResponse](t, w).Code)

	w = ts.do(t, &operator, http.MethodPost, "/api/v1/stations/st-1/schedule/overrides", OverrideRequest{Date: "2026-03-03", IsClosed: true})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, &operator, http.MethodPost, "/api/v1/stations/st-1/schedule/overrides", OverrideRequest{Date: "2026-03-04", IsMaintenance: true, Reason: "firmware"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, &owner, http.MethodGet, "/api/v1/stations/st-1/schedule/overrides?start=2026-03-02&days=7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	overrides := decode[[]model.ScheduleOverride](t, w)
	require.Len(t, overrides, 1)
	assert.True(t, overrides[0].IsMaintenance)

	w = ts.do(t, &operator, http.MethodDelete, "/api/v1/stations/st-1/schedule/overrides?date=2026-03-04", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, &operator, http.MethodDelete, "/api/v1/stations/st-1/schedule/overrides", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, &operator, http.MethodPut, "/api/v1/stations/st-2", StationRequest{
		Name: "Airport North", ChargerType: "DC", TotalSlots: 2, OpenTime: "05:00", CloseTime: "23:00",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Airport North", decode[model.Station](t, w).Name)

	w = ts.do(t, &operator, http.MethodPost, "/api/v1/stations/st-2/deactivate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[model.Station](t, w).IsActive)

	w = ts.do(t, &owner, http.MethodGet, "/api/v1/stations?active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Station](t, w), 1)

	w = ts.do(t, &operator, http.MethodDelete, "/api/v1/stations/st-2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, &office, http.MethodDelete, "/api/v1/stations/st-2", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, &owner, http.MethodGet, "/api/v1/stations/st-2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportBookings(t *testing.T) {
	ts := setupTestServer(t, Options{})

	w := ts.do(t, &owner, http.MethodPost, "/api/v1/bookings", bookingBody(at(3, 10), at(3, 12)))
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, &office, http.MethodGet, "/api/v1/bookings/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "bookings_2026_03.xlsx")
	assert.NotZero(t, w.Body.Len())

	w = ts.do(t, &office, http.MethodGet, "/api/v1/bookings/export?from=2026-03-10&to=2026-03-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimit(t *testing.T) {
	ts := setupTestServer(t, Options{RequestsPerSecond: 0.001, Burst: 1})

	assert.Equal(t, http.StatusBadRequest, ts.do(t, &owner, http.MethodPost, "/api/v1/bookings", "{}").Code)
	w := ts.do(t, &owner, http.MethodPost, "/api/v1/bookings", "{}")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", decode[ErrorResponse](t, w).Code)

	// Reads are not throttled and buckets are per principal.
	assert.Equal(t, http.StatusOK, ts.do(t, &owner, http.MethodGet, "/api/v1/stations", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, &other, http.MethodPost, "/api/v1/bookings", "{}").Code)
}

func TestPrincipalLimiter_Sweep(t *testing.T) {
	now := testNow
	clock := func() time.Time { return now }

	fast := newPrincipalLimiter(1, 1)
	fast.now, fast.lastSweep = clock, now
	assert.True(t, fast.allow("a"))
	assert.False(t, fast.allow("a"))
	assert.True(t, fast.allow("b"))
	assert.Len(t, fast.limiters, 2)

	// Both buckets refill within the interval and are dropped.
	now = now.Add(limiterSweepInterval)
	assert.True(t, fast.allow("c"))
	assert.Len(t, fast.limiters, 1)

	now = testNow
	slow := newPrincipalLimiter(0.001, 1)
	slow.now, slow.lastSweep = clock, now
	assert.True(t, slow.allow("a"))

	// A drained bucket survives the sweep and keeps limiting.
	now = now.Add(limiterSweepInterval)
	assert.True(t, slow.allow("b"))
	assert.Len(t, slow.limiters, 2)
	assert.False(t, slow.allow("a"))
}

func TestUnknownRoute(t *testing.T) {
	ts := setupTestServer(t, Options{})
	w := ts.do(t, &owner, http.MethodGet, "/api/v2/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, w).Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewValidationError("x", "y"), http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", domain.ErrUnauthorized), http.StatusUnauthorized},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestHealthHandler(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "health.db"), time.Second, &logger)
	require.NoError(t, err)
	defer db.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	h := HealthHandler(db, rdb)
	for _, path := range []string{"/healthz", "/readyz"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	mr.Close()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
