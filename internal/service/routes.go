package service

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/metrics"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
	"github.com/Kunalrpawar/crowd-management-sub001/pkg/geo"
)

// ─── Constants ──────────────────────────────────────────────

// ParvaniReboundRatio is the share of capacity a Black route is assumed to
// carry when it reopens after a Parvani day.
const ParvaniReboundRatio = 0.6

// CrowdLevelFor derives a crowd level from the load ratio:
// < 40% low, < 70% moderate, < 90% high, otherwise critical.
func CrowdLevelFor(load, capacity int) model.CrowdLevel {
	if capacity <= 0 {
		return model.CrowdLow
	}
	ratio := float64(load) / float64(capacity)
	switch {
	case ratio < 0.4:
		return model.CrowdLow
	case ratio < 0.7:
		return model.CrowdModerate
	case ratio < 0.9:
		return model.CrowdHigh
	default:
		return model.CrowdCritical
	}
}

// ─── Registry State ─────────────────────────────────────────

// registryState is an immutable snapshot. Writers clone, modify the clone and
// publish it; a published state is never written again.
type registryState struct {
	version          uint64
	parvaniDayActive bool

	routes       map[string]model.Route
	routeOrder   []string
	parking      map[string]model.ParkingZone
	parkingOrder []string
}

func (s *registryState) clone() *registryState {
	next := &registryState{
		version:          s.version + 1,
		parvaniDayActive: s.parvaniDayActive,
		routes:           make(map[string]model.Route, len(s.routes)),
		routeOrder:       s.routeOrder,
		parking:          make(map[string]model.ParkingZone, len(s.parking)),
		parkingOrder:     s.parkingOrder,
	}
	for id, r := range s.routes {
		next.routes[id] = r
	}
	for id, p := range s.parking {
		next.parking[id] = p
	}
	return next
}

// ─── RouteService ───────────────────────────────────────────

// RouteConfig holds the initial registry contents and dependencies.
type RouteConfig struct {
	Routes           []model.Route
	Parking          []model.ParkingZone
	ParvaniDayActive bool

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// RouteService owns the process-wide route and parking registry.
//
// Writes are serialized by mu and publish a fresh snapshot through an atomic
// pointer. Readers load the current snapshot without locking, so a reader
// sees either all of a Parvani-day cascade or none of it.
type RouteService struct {
	mu    sync.Mutex
	state atomic.Pointer[registryState]

	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRouteService validates the seed and builds the registry. When the seed
// starts with the Parvani flag set, the cascade is applied to the seed.
func NewRouteService(cfg RouteConfig) (*RouteService, error) {
	s := &RouteService{
		logger:  cfg.Logger.With().Str("component", "routes").Logger(),
		metrics: cfg.Metrics,
		now:     cfg.Clock,
	}
	if s.now == nil {
		s.now = time.Now
	}
	now := s.now()

	st := &registryState{
		version:          1,
		parvaniDayActive: cfg.ParvaniDayActive,
		routes:           make(map[string]model.Route, len(cfg.Routes)),
		routeOrder:       make([]string, 0, len(cfg.Routes)),
		parking:          make(map[string]model.ParkingZone, len(cfg.Parking)),
		parkingOrder:     make([]string, 0, len(cfg.Parking)),
	}

	for _, r := range cfg.Routes {
		if _, dup := st.routes[r.ID]; dup {
			return nil, validationErr("duplicate route id %q", r.ID)
		}
		if r.Status == "" {
			r.Status = model.RouteOpen
		}
		r.CurrentLoad = clamp(r.CurrentLoad, 0, r.Capacity)
		if r.CrowdLevel == "" {
			r.CrowdLevel = CrowdLevelFor(r.CurrentLoad, r.Capacity)
		}
		r.Waypoints = slices.Clone(r.Waypoints)
		r.UpdatedAt = now
		if err := validateRoute(r); err != nil {
			return nil, err
		}
		st.routes[r.ID] = r
		st.routeOrder = append(st.routeOrder, r.ID)
	}

	for _, p := range cfg.Parking {
		if _, dup := st.parking[p.ID]; dup {
			return nil, validationErr("duplicate parking zone id %q", p.ID)
		}
		if p.ID == "" {
			return nil, validationErr("parking zone id is required")
		}
		if p.Capacity < 0 {
			return nil, validationErr("parking zone %q: capacity must be non-negative", p.ID)
		}
		p.Occupied = clamp(p.Occupied, 0, p.Capacity)
		p.UpdatedAt = now
		st.parking[p.ID] = p
		st.parkingOrder = append(st.parkingOrder, p.ID)
	}

	if st.parvaniDayActive {
		if _, err := applyParvani(st, true, now); err != nil {
			return nil, err
		}
		s.metrics.RouteCascade()
	}

	s.state.Store(st)
	s.metrics.ParvaniDay(st.parvaniDayActive)
	return s, nil
}

// ─── Writes ─────────────────────────────────────────────────

// StatusChange is a manual route status override.
type StatusChange struct {
	Status model.RouteStatus `json:"status"`

	// Reason replaces the stored reason only when non-empty.
	Reason string `json:"reason,omitempty"`

	// ExpectedVersion, when non-zero, rejects the write with
	// ErrCascadeConflict if the registry has moved past that version.
	ExpectedVersion uint64 `json:"expected_version,omitempty"`
}

// SetStatus applies a manual status override. Any status may follow any
// other.
func (s *RouteService) SetStatus(routeID string, ch StatusChange) (*model.Route, error) {
	if !validRouteStatus(ch.Status) {
		return nil, validationErr("unknown route status %q", ch.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	if _, ok := cur.routes[routeID]; !ok {
		return nil, fmt.Errorf("route %q: %w", routeID, ErrNotFound)
	}
	if ch.ExpectedVersion != 0 && ch.ExpectedVersion != cur.version {
		return nil, fmt.Errorf("route %q at version %d, expected %d: %w",
			routeID, cur.version, ch.ExpectedVersion, ErrCascadeConflict)
	}

	next := cur.clone()
	r := next.routes[routeID]
	r.Status = ch.Status
	if ch.Reason != "" {
		r.Reason = ch.Reason
	}
	r.UpdatedAt = s.now()
	next.routes[routeID] = r
	s.state.Store(next)

	s.logger.Info().
		Str("route_id", routeID).
		Str("status", string(r.Status)).
		Uint64("version", next.version).
		Msg("route status changed")

	out := copyRoute(r)
	return &out, nil
}

// ParvaniResult is the outcome of a Parvani-day toggle.
type ParvaniResult struct {
	Active  bool          `json:"active"`
	Routes  []model.Route `json:"routes"`
	Version uint64        `json:"version"`
	Event   Event         `json:"event"`
}

// ToggleParvaniDay sets the global flag and cascades it to every Black
// route: active closes them with zero load, inactive reopens them at
// floor(capacity × 0.6). The cascade is published as one snapshot; if any
// route fails validation nothing is published.
func (s *RouteService) ToggleParvaniDay(active bool) (*ParvaniResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := s.state.Load().clone()
	next.parvaniDayActive = active

	affected, err := applyParvani(next, active, now)
	if err != nil {
		s.logger.Error().Err(err).Bool("active", active).Msg("parvani cascade aborted")
		return nil, err
	}
	s.state.Store(next)
	s.metrics.RouteCascade()
	s.metrics.ParvaniDay(active)

	s.logger.Info().
		Bool("active", active).
		Int("affected_routes", len(affected)).
		Uint64("version", next.version).
		Msg("parvani day toggled")

	ids := make([]string, 0, len(affected))
	for _, r := range affected {
		ids = append(ids, r.ID)
	}
	return &ParvaniResult{
		Active:  active,
		Routes:  affected,
		Version: next.version,
		Event:   newEvent(EventParvaniToggled, now, ParvaniToggled{Active: active, AffectedRoutes: ids}),
	}, nil
}

// applyParvani mutates st in place. st must be unpublished.
func applyParvani(st *registryState, active bool, now time.Time) ([]model.Route, error) {
	var affected []model.Route
	for _, id := range st.routeOrder {
		r := st.routes[id]
		if r.Type != model.RouteBlack {
			continue
		}
		if active {
			r.Status = model.RouteClosed
			r.CurrentLoad = 0
		} else {
			r.Status = model.RouteOpen
			r.CurrentLoad = int(math.Floor(float64(r.Capacity) * ParvaniReboundRatio))
		}
		r.CrowdLevel = CrowdLevelFor(r.CurrentLoad, r.Capacity)
		r.UpdatedAt = now
		if err := validateRoute(r); err != nil {
			return nil, err
		}
		st.routes[id] = r
		affected = append(affected, copyRoute(r))
	}
	return affected, nil
}

// UpdateOccupancy sets a parking zone's occupancy, silently clamped to
// [0, capacity].
func (s *RouteService) UpdateOccupancy(zoneID string, occupied int) (*model.ParkingZone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	p, ok := cur.parking[zoneID]
	if !ok {
		return nil, fmt.Errorf("parking zone %q: %w", zoneID, ErrNotFound)
	}

	next := cur.clone()
	p.Occupied = clamp(occupied, 0, p.Capacity)
	p.UpdatedAt = s.now()
	next.parking[zoneID] = p
	s.state.Store(next)

	s.logger.Debug().
		Str("zone_id", zoneID).
		Int("requested", occupied).
		Int("occupied", p.Occupied).
		Msg("parking occupancy updated")

	return &p, nil
}

// ─── Reads ──────────────────────────────────────────────────

// RouteFilter narrows ListRoutes; empty fields match everything. Location
// matches case-insensitively as a substring.
type RouteFilter struct {
	Type     model.RouteType
	Status   model.RouteStatus
	Location string
}

func (f RouteFilter) match(r model.Route) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return locationMatches(r.Location, f.Location)
}

// ListRoutes returns routes in seed order.
func (s *RouteService) ListRoutes(f RouteFilter) []model.Route {
	st := s.state.Load()
	out := make([]model.Route, 0, len(st.routeOrder))
	for _, id := range st.routeOrder {
		if r := st.routes[id]; f.match(r) {
			out = append(out, copyRoute(r))
		}
	}
	return out
}

// GetRoute returns one route.
func (s *RouteService) GetRoute(id string) (*model.Route, error) {
	r, ok := s.state.Load().routes[id]
	if !ok {
		return nil, fmt.Errorf("route %q: %w", id, ErrNotFound)
	}
	out := copyRoute(r)
	return &out, nil
}

// ListParkingZones returns parking zones in seed order, optionally filtered
// by location.
func (s *RouteService) ListParkingZones(location string) []model.ParkingZone {
	st := s.state.Load()
	out := make([]model.ParkingZone, 0, len(st.parkingOrder))
	for _, id := range st.parkingOrder {
		if p := st.parking[id]; locationMatches(p.Location, location) {
			out = append(out, p)
		}
	}
	return out
}

// ParvaniDayActive reports the current flag value.
func (s *RouteService) ParvaniDayActive() bool {
	return s.state.Load().parvaniDayActive
}

// Version returns the current registry version. It increases with every
// write and can be passed back as StatusChange.ExpectedVersion.
func (s *RouteService) Version() uint64 {
	return s.state.Load().version
}

// ParkingStats aggregates parking zones.
type ParkingStats struct {
	Zones     int `json:"zones"`
	Capacity  int `json:"capacity"`
	Occupied  int `json:"occupied"`
	Available int `json:"available"`
}

// RouteStats is a point-in-time aggregation of the registry.
type RouteStats struct {
	TotalRoutes      int                       `json:"total_routes"`
	ByStatus         map[model.RouteStatus]int `json:"by_status"`
	ByType           map[model.RouteType]int   `json:"by_type"`
	ByCrowdLevel     map[model.CrowdLevel]int  `json:"by_crowd_level"`
	TotalCapacity    int                       `json:"total_capacity"`
	TotalLoad        int                       `json:"total_load"`
	Parking          ParkingStats              `json:"parking"`
	ParvaniDayActive bool                      `json:"parvani_day_active"`
	Version          uint64                    `json:"version"`
}

// StatsOverview aggregates one snapshot, optionally restricted to a
// location. It never blocks writers and may trail a write in progress.
//
// Complexity: O(R + P)
func (s *RouteService) StatsOverview(location string) RouteStats {
	st := s.state.Load()
	stats := RouteStats{
		ByStatus:         make(map[model.RouteStatus]int),
		ByType:           make(map[model.RouteType]int),
		ByCrowdLevel:     make(map[model.CrowdLevel]int),
		ParvaniDayActive: st.parvaniDayActive,
		Version:          st.version,
	}

	for _, id := range st.routeOrder {
		r := st.routes[id]
		if !locationMatches(r.Location, location) {
			continue
		}
		stats.TotalRoutes++
		stats.ByStatus[r.Status]++
		stats.ByType[r.Type]++
		stats.ByCrowdLevel[r.CrowdLevel]++
		stats.TotalCapacity += r.Capacity
		stats.TotalLoad += r.CurrentLoad
	}

	for _, id := range st.parkingOrder {
		p := st.parking[id]
		if !locationMatches(p.Location, location) {
			continue
		}
		stats.Parking.Zones++
		stats.Parking.Capacity += p.Capacity
		stats.Parking.Occupied += p.Occupied
	}
	stats.Parking.Available = stats.Parking.Capacity - stats.Parking.Occupied

	return stats
}

// NearbyRoute is a route with its distance from a query point.
type NearbyRoute struct {
	Route      model.Route `json:"route"`
	DistanceKm float64     `json:"distance_km"`
}

// NearbyRoutes returns up to k routes within maxKm of point, closest first.
func (s *RouteService) NearbyRoutes(point model.Location, k int, maxKm float64) ([]NearbyRoute, error) {
	if !point.Valid() {
		return nil, validationErr("coordinates are out of range")
	}
	st := s.state.Load()
	routes := make([]model.Route, 0, len(st.routeOrder))
	for _, id := range st.routeOrder {
		routes = append(routes, st.routes[id])
	}

	ranked := geo.KNearest(point, routes, k, maxKm)
	out := make([]NearbyRoute, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, NearbyRoute{Route: copyRoute(r.Item), DistanceKm: roundKm(r.DistanceKm)})
	}
	return out, nil
}

// NearbyZone is a parking zone with its distance from a query point.
type NearbyZone struct {
	Zone       model.ParkingZone `json:"zone"`
	DistanceKm float64           `json:"distance_km"`
}

// NearbyParking returns up to k parking zones within maxKm of point,
// closest first. Full zones are included.
func (s *RouteService) NearbyParking(point model.Location, k int, maxKm float64) ([]NearbyZone, error) {
	if !point.Valid() {
		return nil, validationErr("coordinates are out of range")
	}
	st := s.state.Load()
	zones := make([]model.ParkingZone, 0, len(st.parkingOrder))
	for _, id := range st.parkingOrder {
		zones = append(zones, st.parking[id])
	}

	ranked := geo.KNearest(point, zones, k, maxKm)
	out := make([]NearbyZone, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, NearbyZone{Zone: r.Item, DistanceKm: roundKm(r.DistanceKm)})
	}
	return out, nil
}

// ─── Helpers ────────────────────────────────────────────────

func validateRoute(r model.Route) error {
	if r.ID == "" {
		return validationErr("route id is required")
	}
	switch r.Type {
	case model.RouteBlack, model.RouteVIP, model.RouteEmergency, model.RouteSnani,
		model.RouteAdministrative, model.RouteInternalParking, model.RouteExternalParking, model.RouteGeneral:
	default:
		return validationErr("route %q: unknown type %q", r.ID, r.Type)
	}
	if !validRouteStatus(r.Status) {
		return validationErr("route %q: unknown status %q", r.ID, r.Status)
	}
	if r.Capacity < 0 {
		return validationErr("route %q: capacity must be non-negative", r.ID)
	}
	if r.CurrentLoad < 0 || r.CurrentLoad > r.Capacity {
		return validationErr("route %q: load %d outside [0, %d]", r.ID, r.CurrentLoad, r.Capacity)
	}
	return nil
}

func validRouteStatus(st model.RouteStatus) bool {
	return st == model.RouteOpen || st == model.RouteClosed || st == model.RouteRestricted
}

func locationMatches(have, want string) bool {
	if want == "" {
		return true
	}
	return strings.Contains(strings.ToLower(have), strings.ToLower(strings.TrimSpace(want)))
}

// copyRoute detaches the waypoint slice from the snapshot.
func copyRoute(r model.Route) model.Route {
	r.Waypoints = slices.Clone(r.Waypoints)
	return r
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func roundKm(km float64) float64 {
	return math.Round(km*1000) / 1000
}
