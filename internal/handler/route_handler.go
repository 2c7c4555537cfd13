package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/service"
)

const defaultNearbyLimit = 10

// ParvaniBody is the JSON body for POST /api/v1/routes/parvani.
type ParvaniBody struct {
	Active *bool `json:"active"`
}

// OccupancyBody is the JSON body for PATCH /api/v1/parking/{id}/occupancy.
type OccupancyBody struct {
	Occupied *int `json:"occupied"`
}

// RouteHandler serves the route and parking registry.
type RouteHandler struct {
	svc    *service.RouteService
	pub    Broadcaster
	logger zerolog.Logger
}

// NewRouteHandler creates a new route handler.
func NewRouteHandler(svc *service.RouteService, pub Broadcaster, logger zerolog.Logger) *RouteHandler {
	return &RouteHandler{svc: svc, pub: pub, logger: logger}
}

// Register mounts the route and parking routes on r. Literal paths are
// registered ahead of /routes/{id} so they are not captured as ids.
func (h *RouteHandler) Register(r *mux.Router) {
	r.HandleFunc("/routes", h.ListRoutes).Methods(http.MethodGet)
	r.HandleFunc("/routes/stats", h.Stats).Methods(http.MethodGet)
	r.HandleFunc("/routes/nearby", h.NearbyRoutes).Methods(http.MethodGet)
	r.HandleFunc("/routes/parvani", h.ToggleParvani).Methods(http.MethodPost)
	r.HandleFunc("/routes/{id}", h.GetRoute).Methods(http.MethodGet)
	r.HandleFunc("/routes/{id}/status", h.SetStatus).Methods(http.MethodPatch)

	r.HandleFunc("/parking", h.ListParking).Methods(http.MethodGet)
	r.HandleFunc("/parking/nearby", h.NearbyParking).Methods(http.MethodGet)
	r.HandleFunc("/parking/{id}/occupancy", h.UpdateOccupancy).Methods(http.MethodPatch)
}

// ListRoutes handles GET /api/v1/routes?type=&status=&location=
func (h *RouteHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, h.svc.ListRoutes(service.RouteFilter{
		Type:     model.RouteType(q.Get("type")),
		Status:   model.RouteStatus(q.Get("status")),
		Location: q.Get("location"),
	}))
}

// GetRoute handles GET /api/v1/routes/{id}
func (h *RouteHandler) GetRoute(w http.ResponseWriter, r *http.Request) {
	route, err := h.svc.GetRoute(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.logger, "get route", err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// Stats handles GET /api/v1/routes/stats?location=
func (h *RouteHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.StatsOverview(r.URL.Query().Get("location")))
}

// SetStatus handles PATCH /api/v1/routes/{id}/status
//
//	Request body:
//	{"status": "closed", "reason": "bridge inspection", "expected_version": 7}
func (h *RouteHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var body service.StatusChange
	if !decodeJSON(w, r, &body) {
		return
	}

	route, err := h.svc.SetStatus(mux.Vars(r)["id"], body)
	if err != nil {
		writeError(w, h.logger, "set route status", err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// ToggleParvani handles POST /api/v1/routes/parvani
//
// Sets the Parvani-day flag and returns every Black route after the cascade.
func (h *RouteHandler) ToggleParvani(w http.ResponseWriter, r *http.Request) {
	var body ParvaniBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Active == nil {
		badRequest(w, "active is required")
		return
	}

	res, err := h.svc.ToggleParvaniDay(*body.Active)
	if err != nil {
		writeError(w, h.logger, "toggle parvani day", err)
		return
	}

	publish(r.Context(), h.pub, h.logger, res.Event)
	writeJSON(w, http.StatusOK, res)
}

// NearbyRoutes handles GET /api/v1/routes/nearby?lat=&lon=&radius_km=&limit=
func (h *RouteHandler) NearbyRoutes(w http.ResponseWriter, r *http.Request) {
	point, radius, limit, ok := nearbyParams(w, r)
	if !ok {
		return
	}

	out, err := h.svc.NearbyRoutes(point, limit, radius)
	if err != nil {
		writeError(w, h.logger, "nearby routes", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ─── Parking ────────────────────────────────────────────────

// ListParking handles GET /api/v1/parking?location=
func (h *RouteHandler) ListParking(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ListParkingZones(r.URL.Query().Get("location")))
}

// NearbyParking handles GET /api/v1/parking/nearby?lat=&lon=&radius_km=&limit=
func (h *RouteHandler) NearbyParking(w http.ResponseWriter, r *http.Request) {
	point, radius, limit, ok := nearbyParams(w, r)
	if !ok {
		return
	}

	out, err := h.svc.NearbyParking(point, limit, radius)
	if err != nil {
		writeError(w, h.logger, "nearby parking", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// UpdateOccupancy handles PATCH /api/v1/parking/{id}/occupancy
//
// Out-of-range values are clamped, not rejected.
func (h *RouteHandler) UpdateOccupancy(w http.ResponseWriter, r *http.Request) {
	var body OccupancyBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Occupied == nil {
		badRequest(w, "occupied is required")
		return
	}

	zone, err := h.svc.UpdateOccupancy(mux.Vars(r)["id"], *body.Occupied)
	if err != nil {
		writeError(w, h.logger, "update occupancy", err)
		return
	}
	writeJSON(w, http.StatusOK, zone)
}

// nearbyParams reads lat, lon, radius_km (default 5) and limit (default 10).
func nearbyParams(w http.ResponseWriter, r *http.Request) (model.Location, float64, int, bool) {
	point, ok := queryLocation(r)
	if !ok {
		badRequest(w, "lat and lon are required")
		return model.Location{}, 0, 0, false
	}
	radius, ok := queryFloat(r, "radius_km", service.NearbyRadiusKm)
	if !ok {
		badRequest(w, "radius_km must be a non-negative number")
		return model.Location{}, 0, 0, false
	}
	limit, ok := queryInt(r, "limit", defaultNearbyLimit)
	if !ok {
		badRequest(w, "limit must be a non-negative integer")
		return model.Location{}, 0, 0, false
	}
	return point, radius, limit, true
}
