package handler

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/service"
)

// ─── Request/Response DTOs ──────────────────────────────────

// CreateEmergencyBody is the JSON body for POST /api/v1/emergencies.
type CreateEmergencyBody struct {
	Severity    model.Severity `json:"severity"`
	Location    model.Location `json:"location"`
	Description string         `json:"description"`
}

// EmergencyStatusBody is the JSON body for PATCH /api/v1/emergencies/{id}/status.
type EmergencyStatusBody struct {
	Status model.EmergencyStatus `json:"status"`
}

// EmergencyResponse is returned by POST /api/v1/emergencies. A dispatch
// failure is reported as assigned=false, not as an error status.
type EmergencyResponse struct {
	*service.EmergencyReport
	Assigned bool `json:"assigned"`
}

// RegisterFacilityBody is the JSON body for POST /api/v1/facilities.
// An omitted is_active registers the facility as active.
type RegisterFacilityBody struct {
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	Status      model.FacilityStatus   `json:"status"`
	IsActive    *bool                  `json:"is_active"`
	Coordinates model.Location         `json:"coordinates"`
	Capacity    model.FacilityCapacity `json:"capacity"`
}

// AssignResponse is returned by POST /api/v1/emergencies/{id}/assign.
type AssignResponse struct {
	Assigned   bool                `json:"assigned"`
	Assignment *service.Assignment `json:"assignment,omitempty"`
	Reason     string              `json:"reason,omitempty"`
}

// ─── EmergencyHandler ───────────────────────────────────────

// EmergencyHandler serves medical emergencies and facility dispatch.
type EmergencyHandler struct {
	svc    *service.DispatchService
	pub    Broadcaster
	logger zerolog.Logger
}

// NewEmergencyHandler creates a new emergency handler.
func NewEmergencyHandler(svc *service.DispatchService, pub Broadcaster, logger zerolog.Logger) *EmergencyHandler {
	return &EmergencyHandler{svc: svc, pub: pub, logger: logger}
}

// Register mounts the emergency and facility routes on r.
func (h *EmergencyHandler) Register(r *mux.Router) {
	r.HandleFunc("/emergencies", h.ReportEmergency).Methods(http.MethodPost)
	r.HandleFunc("/emergencies/{id}", h.GetEmergency).Methods(http.MethodGet)
	r.HandleFunc("/emergencies/{id}/assign", h.AssignFacility).Methods(http.MethodPost)
	r.HandleFunc("/emergencies/{id}/status", h.UpdateStatus).Methods(http.MethodPatch)

	r.HandleFunc("/facilities", h.RegisterFacility).Methods(http.MethodPost)
	r.HandleFunc("/facilities/nearby", h.NearbyFacilities).Methods(http.MethodGet)
	r.HandleFunc("/facilities/{id}", h.UpdateFacility).Methods(http.MethodPatch)
}

// ReportEmergency handles POST /api/v1/emergencies
//
// Stores the emergency and immediately assigns the nearest eligible
// facility within 10 km.
//
//	Request body:
//	{
//	  "severity": "high",
//	  "location": {"lat": 25.4358, "lon": 81.8463},
//	  "description": "heat exhaustion near ghat 4"
//	}
func (h *EmergencyHandler) ReportEmergency(w http.ResponseWriter, r *http.Request) {
	var body CreateEmergencyBody
	if !decodeJSON(w, r, &body) {
		return
	}

	out, err := h.svc.ReportEmergency(r.Context(), &model.MedicalEmergency{
		Severity:    body.Severity,
		Location:    body.Location,
		Description: body.Description,
	})
	if err != nil {
		writeError(w, h.logger, "report emergency", err)
		return
	}

	if out.Assignment != nil {
		publish(r.Context(), h.pub, h.logger, out.Assignment.Event)
	}
	writeJSON(w, http.StatusCreated, EmergencyResponse{EmergencyReport: out, Assigned: out.Assignment != nil})
}

// GetEmergency handles GET /api/v1/emergencies/{id}
func (h *EmergencyHandler) GetEmergency(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.GetEmergency(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.logger, "get emergency", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// AssignFacility handles POST /api/v1/emergencies/{id}/assign
//
// Retries dispatch for an unassigned emergency. "No eligible facility" is a
// 200 with assigned=false.
func (h *EmergencyHandler) AssignFacility(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.AssignFacility(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, service.ErrDispatchFailure) {
		writeJSON(w, http.StatusOK, AssignResponse{Assigned: false, Reason: err.Error()})
		return
	}
	if err != nil {
		writeError(w, h.logger, "assign facility", err)
		return
	}

	publish(r.Context(), h.pub, h.logger, a.Event)
	writeJSON(w, http.StatusOK, AssignResponse{Assigned: true, Assignment: a})
}

// UpdateStatus handles PATCH /api/v1/emergencies/{id}/status
func (h *EmergencyHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body EmergencyStatusBody
	if !decodeJSON(w, r, &body) {
		return
	}

	e, err := h.svc.UpdateEmergencyStatus(r.Context(), mux.Vars(r)["id"], body.Status)
	if err != nil {
		writeError(w, h.logger, "update emergency status", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// ─── Facilities ─────────────────────────────────────────────

// RegisterFacility handles POST /api/v1/facilities
func (h *EmergencyHandler) RegisterFacility(w http.ResponseWriter, r *http.Request) {
	var body RegisterFacilityBody
	if !decodeJSON(w, r, &body) {
		return
	}

	active := true
	if body.IsActive != nil {
		active = *body.IsActive
	}
	f, err := h.svc.RegisterFacility(r.Context(), &model.Facility{
		Name:        body.Name,
		Type:        body.Type,
		Status:      body.Status,
		IsActive:    active,
		Coordinates: body.Coordinates,
		Capacity:    body.Capacity,
	})
	if err != nil {
		writeError(w, h.logger, "register facility", err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// NearbyFacilities handles GET /api/v1/facilities/nearby?lat=&lon=&radius_km=&limit=
//
// Lists eligible facilities, closest first. radius_km defaults to 5.
func (h *EmergencyHandler) NearbyFacilities(w http.ResponseWriter, r *http.Request) {
	point, ok := queryLocation(r)
	if !ok {
		badRequest(w, "lat and lon are required")
		return
	}
	radius, ok := queryFloat(r, "radius_km", 0)
	if !ok {
		badRequest(w, "radius_km must be a non-negative number")
		return
	}
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		badRequest(w, "limit must be a non-negative integer")
		return
	}

	out, err := h.svc.NearbyFacilities(r.Context(), point, radius, limit)
	if err != nil {
		writeError(w, h.logger, "nearby facilities", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// UpdateFacility handles PATCH /api/v1/facilities/{id}
func (h *EmergencyHandler) UpdateFacility(w http.ResponseWriter, r *http.Request) {
	var body service.FacilityUpdate
	if !decodeJSON(w, r, &body) {
		return
	}

	f, err := h.svc.UpdateFacility(r.Context(), mux.Vars(r)["id"], body)
	if err != nil {
		writeError(w, h.logger, "update facility", err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}
