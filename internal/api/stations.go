package api

import (
	"net/http"

	"evslots/internal/availability"
	"evslots/internal/domain"
	"evslots/internal/model"

	"github.com/gorilla/mux"
)

// StationRequest is the body of POST /stations and PUT /stations/{id}.
type StationRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Address     string `json:"address,omitempty"`
	ChargerType string `json:"charger_type"`
	TotalSlots  int    `json:"total_slots"`
	OpenTime    string `json:"open_time"`
	CloseTime   string `json:"close_time"`
	IsActive    *bool  `json:"is_active,omitempty"`
}

func (req StationRequest) station() *model.Station {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return &model.Station{
		ID:          req.ID,
		Name:        req.Name,
		Address:     req.Address,
		ChargerType: model.ChargerType(req.ChargerType),
		TotalSlots:  req.TotalSlots,
		OpenTime:    req.OpenTime,
		CloseTime:   req.CloseTime,
		IsActive:    active,
	}
}

// OverrideRequest is the body of POST /stations/{id}/schedule/overrides.
type OverrideRequest struct {
	Date          string `json:"date"` // YYYY-MM-DD
	IsClosed      bool   `json:"is_closed"`
	OpenTime      string `json:"open_time,omitempty"`
	CloseTime     string `json:"close_time,omitempty"`
	IsMaintenance bool   `json:"is_maintenance"`
	Reason        string `json:"reason,omitempty"`
}

func stationID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// handleListStations lists stations, optionally only active ones.
// GET /api/v1/stations?active=true
func (s *Server) handleListStations(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	stations, err := s.stations.ListStations(r.Context(), activeOnly)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if stations == nil {
		stations = []model.Station{}
	}
	writeJSON(w, http.StatusOK, stations)
}

// GET /api/v1/stations/{id}
func (s *Server) handleGetStation(w http.ResponseWriter, r *http.Request) {
	st, err := s.stations.GetStation(r.Context(), stationID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// POST /api/v1/stations
func (s *Server) handleCreateStation(w http.ResponseWriter, r *http.Request) {
	var req StationRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.admission.CreateStation(r.Context(), principal(r), req.station())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// handleUpdateStation replaces station metadata. The active flag is changed
// through activate and deactivate only.
// PUT /api/v1/stations/{id}
func (s *Server) handleUpdateStation(w http.ResponseWriter, r *http.Request) {
	var req StationRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	req.ID = stationID(r)
	st, err := s.admission.UpdateStation(r.Context(), principal(r), req.station())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// POST /api/v1/stations/{id}/activate
func (s *Server) handleActivateStation(w http.ResponseWriter, r *http.Request) {
	st, err := s.admission.ActivateStation(r.Context(), principal(r), stationID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// POST|PATCH /api/v1/stations/{id}/deactivate
func (s *Server) handleDeactivateStation(w http.ResponseWriter, r *http.Request) {
	st, err := s.admission.DeactivateStation(r.Context(), principal(r), stationID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DELETE /api/v1/stations/{id}
func (s *Server) handleDeleteStation(w http.ResponseWriter, r *http.Request) {
	if err := s.admission.DeleteStation(r.Context(), principal(r), stationID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAvailableSlots returns the hourly grid for one date, today by default.
// GET /api/v1/stations/{id}/available-slots?date=YYYY-MM-DD
func (s *Server) handleAvailableSlots(w http.ResponseWriter, r *http.Request) {
	date, err := queryDate(r, "date", model.DateOf(s.now()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	day, err := s.availability.Day(r.Context(), stationID(r), date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

// GET /api/v1/stations/{id}/availability?start=YYYY-MM-DD&days=N
func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	start, err := queryDate(r, "start", model.DateOf(s.now()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	days, err := queryInt(r, "days", availability.DefaultDays)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	grid, err := s.availability.Range(r.Context(), stationID(r), start, days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

// GET /api/v1/stations/{id}/utilization?date=YYYY-MM-DD
func (s *Server) handleUtilization(w http.ResponseWriter, r *http.Request) {
	date, err := queryDate(r, "date", model.DateOf(s.now()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	u, err := s.availability.Utilization(r.Context(), principal(r), stationID(r), date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// GET /api/v1/stations/{id}/schedule/overrides?start=YYYY-MM-DD&days=N
func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	start, err := queryDate(r, "start", model.DateOf(s.now()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	days, err := queryInt(r, "days", availability.MaxDays)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if days == 0 || days > 366 {
		s.fail(w, r, domain.NewValidationError("days", "days must be between 1 and 366"))
		return
	}
	overrides, err := s.admission.ListOverrides(r.Context(), stationID(r), start, days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overrides)
}

// POST /api/v1/stations/{id}/schedule/overrides
func (s *Server) handleUpsertOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	date, err := model.ParseDate(req.Date)
	if err != nil {
		s.fail(w, r, domain.NewValidationError("date", "date is required as YYYY-MM-DD"))
		return
	}
	o, err := s.admission.UpsertOverride(r.Context(), principal(r), &model.ScheduleOverride{
		StationID:     stationID(r),
		Date:          date,
		IsClosed:      req.IsClosed,
		OpenTime:      req.OpenTime,
		CloseTime:     req.CloseTime,
		IsMaintenance: req.IsMaintenance,
		Reason:        req.Reason,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// DELETE /api/v1/stations/{id}/schedule/overrides?date=YYYY-MM-DD
func (s *Server) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("date") == "" {
		s.fail(w, r, domain.NewValidationError("date", "date is required"))
		return
	}
	date, err := queryDate(r, "date", model.DateOf(s.now()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.admission.DeleteOverride(r.Context(), principal(r), stationID(r), date); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
