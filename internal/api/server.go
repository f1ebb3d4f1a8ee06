// Package api exposes bookings, stations and availability over a JSON REST
// interface under /api/v1.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"evslots/internal/admission"
	"evslots/internal/audit"
	"evslots/internal/auth"
	"evslots/internal/availability"
	"evslots/internal/booking"
	"evslots/internal/model"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// StationReader lists and loads stations.
type StationReader interface {
	GetStation(ctx context.Context, id string) (*model.Station, error)
	ListStations(ctx context.Context, activeOnly bool) ([]model.Station, error)
}

// Options configures the HTTP server.
type Options struct {
	Address           string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Dependencies are the services the handlers call into.
type Dependencies struct {
	Tokens       *auth.TokenService
	Bookings     *booking.Service
	Admission    *admission.Coordinator
	Availability *availability.Service
	Exporter     *audit.Exporter
	Stations     StationReader
}

// Server is the REST API.
type Server struct {
	router       *mux.Router
	server       *http.Server
	tokens       *auth.TokenService
	bookings     *booking.Service
	admission    *admission.Coordinator
	availability *availability.Service
	exporter     *audit.Exporter
	stations     StationReader
	limiter      *principalLimiter
	logger       zerolog.Logger
	now          func() time.Time
}

// NewServer builds the router and the underlying http.Server.
func NewServer(opts Options, deps Dependencies, logger *zerolog.Logger) *Server {
	if opts.Address == "" {
		opts.Address = ":8080"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}

	s := &Server{
		router:       mux.NewRouter(),
		tokens:       deps.Tokens,
		bookings:     deps.Bookings,
		admission:    deps.Admission,
		availability: deps.Availability,
		exporter:     deps.Exporter,
		stations:     deps.Stations,
		logger:       logger.With().Str("component", "api").Logger(),
		now:          time.Now,
	}
	if opts.RequestsPerSecond > 0 {
		s.limiter = newPrincipalLimiter(opts.RequestsPerSecond, opts.Burst)
	}
	s.routes()

	s.server = &http.Server{
		Addr:              opts.Address,
		Handler:           s.router,
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      opts.WriteTimeout,
	}
	return s
}

// WithClock overrides the time source used for default dates.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.recoverPanics, s.logRequests)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "route not found", Code: "not_found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", Code: "method_not_allowed"})
	})

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authenticate, s.rateLimit)

	// Bookings
	api.HandleFunc("/bookings", s.handleCreateBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings", s.handleListBookings).Methods(http.MethodGet)
	api.HandleFunc("/bookings/stats", s.handleBookingStats).Methods(http.MethodGet)
	api.HandleFunc("/bookings/export", s.handleExportBookings).Methods(http.MethodGet)
	api.HandleFunc("/bookings/complete", s.handleCompleteByToken).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id:[0-9]+}", s.handleGetBooking).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id:[0-9]+}", s.handleRescheduleBooking).Methods(http.MethodPut)
	api.HandleFunc("/bookings/{id:[0-9]+}/cancel", s.handleCancelBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id:[0-9]+}/approve", s.handleApproveBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id:[0-9]+}/complete", s.handleCompleteBooking).Methods(http.MethodPost)

	// Stations
	api.HandleFunc("/stations", s.handleListStations).Methods(http.MethodGet)
	api.HandleFunc("/stations", s.handleCreateStation).Methods(http.MethodPost)
	api.HandleFunc("/stations/{id}", s.handleGetStation).Methods(http.MethodGet)
	api.HandleFunc("/stations/{id}", s.handleUpdateStation).Methods(http.MethodPut)
	api.HandleFunc("/stations/{id}", s.handleDeleteStation).Methods(http.MethodDelete)
	api.HandleFunc("/stations/{id}/activate", s.handleActivateStation).Methods(http.MethodPost)
	api.HandleFunc("/stations/{id}/deactivate", s.handleDeactivateStation).Methods(http.MethodPost, http.MethodPatch)

	// Availability and schedule
	api.HandleFunc("/stations/{id}/available-slots", s.handleAvailableSlots).Methods(http.MethodGet)
	api.HandleFunc("/stations/{id}/availability", s.handleAvailability).Methods(http.MethodGet)
	api.HandleFunc("/stations/{id}/utilization", s.handleUtilization).Methods(http.MethodGet)
	api.HandleFunc("/stations/{id}/schedule/overrides", s.handleListOverrides).Methods(http.MethodGet)
	api.HandleFunc("/stations/{id}/schedule/overrides", s.handleUpsertOverride).Methods(http.MethodPost)
	api.HandleFunc("/stations/{id}/schedule/overrides", s.handleDeleteOverride).Methods(http.MethodDelete)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", s.server.Addr).Msg("api server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("api server stopped")
	return nil
}
