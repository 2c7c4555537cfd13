package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/metrics"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/repository"
	"github.com/Kunalrpawar/crowd-management-sub001/pkg/geo"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// DispatchRadiusKm is the search radius for assigning a facility to an
	// emergency.
	DispatchRadiusKm = 10.0

	// NearbyRadiusKm is the default radius of the general nearby-facility query.
	NearbyRadiusKm = 5.0

	// MaxFacilityCandidates caps the eligible facilities fetched per dispatch.
	MaxFacilityCandidates = 50
)

// ─── NearestEligible ────────────────────────────────────────

// NearestEligible returns the closest eligible facility within maxKm of
// point and its distance. A facility is eligible when it is active and not
// Full or Closed; ineligible facilities are skipped even when closest.
// Exactly equal distances resolve to the lowest facility id.
//
// Returns ErrDispatchFailure when nothing qualifies.
//
// Complexity: O(F) where F = len(facilities).
func NearestEligible(point model.Location, facilities []model.Facility, maxKm float64) (*model.Facility, float64, error) {
	eligible := make([]model.Facility, 0, len(facilities))
	for _, f := range facilities {
		if f.Eligible() {
			eligible = append(eligible, f)
		}
	}

	best, ok := geo.Nearest(point, eligible, maxKm)
	if !ok {
		return nil, 0, ErrDispatchFailure
	}
	f := best.Item
	return &f, best.DistanceKm, nil
}

// ─── DispatchService ────────────────────────────────────────

// DispatchConfig holds dependencies and tuning for DispatchService.
type DispatchConfig struct {
	Emergencies repository.EmergencyStore
	Facilities  repository.FacilityStore
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics

	DispatchRadiusKm float64 // Default: DispatchRadiusKm
	NearbyRadiusKm   float64 // Default: NearbyRadiusKm

	Clock func() time.Time
}

// DispatchService assigns medical emergencies to the nearest eligible
// facility and tracks the emergency lifecycle.
//
// Algorithm overview:
//
//  1. FETCH: PostGIS radius query (GIST index) for eligible facilities
//     around the emergency, closest first. The hard constraint (active and
//     not Full/Closed) is part of the query, so the candidate cap only
//     ever drops eligible facilities that are farther away.
//  2. SELECT: Nearest candidate, ties to the lowest id.
//  3. RECORD: Set assigned_facility under a row lock; an emergency that
//     already has one is rejected with ErrAlreadyAssigned.
//
// Facility capacity is advisory and is not decremented by an assignment.
type DispatchService struct {
	emergencies repository.EmergencyStore
	facilities  repository.FacilityStore
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	dispatchRadiusKm float64
	nearbyRadiusKm   float64
	now              func() time.Time
}

// NewDispatchService creates a dispatch service.
func NewDispatchService(cfg DispatchConfig) *DispatchService {
	s := &DispatchService{
		emergencies:      cfg.Emergencies,
		facilities:       cfg.Facilities,
		logger:           cfg.Logger.With().Str("component", "dispatch").Logger(),
		metrics:          cfg.Metrics,
		dispatchRadiusKm: cfg.DispatchRadiusKm,
		nearbyRadiusKm:   cfg.NearbyRadiusKm,
		now:              cfg.Clock,
	}
	if s.dispatchRadiusKm <= 0 {
		s.dispatchRadiusKm = DispatchRadiusKm
	}
	if s.nearbyRadiusKm <= 0 {
		s.nearbyRadiusKm = NearbyRadiusKm
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Assignment is the outcome of a successful AssignFacility.
type Assignment struct {
	Emergency  *model.MedicalEmergency `json:"emergency"`
	Facility   *model.Facility         `json:"facility"`
	DistanceKm float64                 `json:"distance_km"`
	EtaMinutes float64                 `json:"eta_minutes"`
	Event      Event                   `json:"event"`
}

// AssignFacility picks the nearest eligible facility for an emergency and
// records it. Returns ErrDispatchFailure when no facility qualifies; the
// emergency is left unassigned in that case.
func (s *DispatchService) AssignFacility(ctx context.Context, emergencyID string) (*Assignment, error) {
	e, err := s.emergencies.GetEmergency(ctx, emergencyID)
	if err != nil {
		return nil, classifyError("assign facility", err)
	}
	if err := assignable(e); err != nil {
		return nil, err
	}

	candidates, err := s.facilities.FindEligibleFacilitiesNear(ctx, e.Location, s.dispatchRadiusKm, MaxFacilityCandidates)
	if err != nil {
		return nil, classifyError("find facilities", err)
	}

	facility, distance, err := NearestEligible(e.Location, candidates, s.dispatchRadiusKm)
	if err != nil {
		s.metrics.DispatchOutcome(metrics.OutcomeNoFacility)
		s.logger.Warn().
			Str("emergency_id", e.ID).
			Str("severity", string(e.Severity)).
			Int("candidates", len(candidates)).
			Float64("radius_km", s.dispatchRadiusKm).
			Msg("no eligible facility in range")
		return nil, err
	}

	updated, err := s.emergencies.UpdateEmergency(ctx, e.ID, func(cur *model.MedicalEmergency) error {
		if err := assignable(cur); err != nil {
			return err
		}
		cur.AssignedFacility = &facility.ID
		return nil
	})
	if err != nil {
		return nil, classifyError("record assignment", err)
	}

	s.metrics.DispatchOutcome(metrics.OutcomeAssigned)
	eta := math.Round(geo.EstimateTimeMinutes(e.Location, facility.Coordinates)*10) / 10
	distance = roundKm(distance)

	s.logger.Info().
		Str("emergency_id", e.ID).
		Str("facility_id", facility.ID).
		Float64("distance_km", distance).
		Msg("facility assigned")

	return &Assignment{
		Emergency:  updated,
		Facility:   facility,
		DistanceKm: distance,
		EtaMinutes: eta,
		Event: newEvent(EventFacilityAssigned, s.now(), FacilityAssigned{
			EmergencyID:  e.ID,
			FacilityID:   facility.ID,
			FacilityName: facility.Name,
			DistanceKm:   distance,
			EtaMinutes:   eta,
		}),
	}, nil
}

func assignable(e *model.MedicalEmergency) error {
	if e.AssignedFacility != nil {
		return ErrAlreadyAssigned
	}
	if e.Status == model.EmergencyResolved || e.Status == model.EmergencyCancelled {
		return ErrAlreadyResolved
	}
	return nil
}

// EmergencyReport is the outcome of ReportEmergency. When no facility could
// be assigned, Assignment is nil and DispatchFailure explains why.
type EmergencyReport struct {
	Emergency       *model.MedicalEmergency `json:"emergency"`
	Assignment      *Assignment             `json:"assignment,omitempty"`
	DispatchFailure string                  `json:"dispatch_failure,omitempty"`
}

// ReportEmergency stores a new pending emergency and immediately attempts a
// facility assignment. A dispatch failure is part of the result, not an error.
func (s *DispatchService) ReportEmergency(ctx context.Context, e *model.MedicalEmergency) (*EmergencyReport, error) {
	if err := validateEmergency(e); err != nil {
		return nil, err
	}

	e.ID = uuid.NewString()
	e.Status = model.EmergencyPending
	e.AssignedFacility = nil
	e.Timestamps = model.EmergencyTimestamps{Reported: s.now()}

	if err := s.emergencies.CreateEmergency(ctx, e); err != nil {
		return nil, classifyError("report emergency", err)
	}

	s.logger.Info().
		Str("emergency_id", e.ID).
		Str("severity", string(e.Severity)).
		Msg("emergency reported")

	out := &EmergencyReport{Emergency: e}
	a, err := s.AssignFacility(ctx, e.ID)
	switch {
	case err == nil:
		out.Emergency = a.Emergency
		out.Assignment = a
	case errors.Is(err, ErrDispatchFailure):
		out.DispatchFailure = err.Error()
	default:
		return nil, err
	}
	return out, nil
}

// UpdateEmergencyStatus moves an emergency through its lifecycle. Each
// transition stamps its timestamp once (dispatched, treating → arrived,
// resolved); stamps never precede an earlier one. Resolved and cancelled
// emergencies are closed.
func (s *DispatchService) UpdateEmergencyStatus(
	ctx context.Context,
	id string,
	status model.EmergencyStatus,
) (*model.MedicalEmergency, error) {
	switch status {
	case model.EmergencyPending, model.EmergencyDispatched, model.EmergencyTreating,
		model.EmergencyResolved, model.EmergencyCancelled:
	default:
		return nil, validationErr("unknown emergency status %q", status)
	}

	e, err := s.emergencies.UpdateEmergency(ctx, id, func(e *model.MedicalEmergency) error {
		if e.Status == model.EmergencyResolved || e.Status == model.EmergencyCancelled {
			return ErrAlreadyResolved
		}
		stampTransition(e, status, s.now())
		e.Status = status
		return nil
	})
	if err != nil {
		return nil, classifyError("update emergency status", err)
	}
	return e, nil
}

// stampTransition sets the timestamp belonging to status if it is unset,
// clamped so the lifecycle stays non-decreasing.
func stampTransition(e *model.MedicalEmergency, status model.EmergencyStatus, now time.Time) {
	ts := &e.Timestamps
	latest := ts.Reported
	for _, t := range []*time.Time{ts.Dispatched, ts.Arrived, ts.Resolved} {
		if t != nil && t.After(latest) {
			latest = *t
		}
	}
	if now.Before(latest) {
		now = latest
	}

	switch status {
	case model.EmergencyDispatched:
		if ts.Dispatched == nil {
			ts.Dispatched = &now
		}
	case model.EmergencyTreating:
		if ts.Arrived == nil {
			ts.Arrived = &now
		}
	case model.EmergencyResolved:
		if ts.Resolved == nil {
			ts.Resolved = &now
		}
	}
}

// GetEmergency returns a stored emergency.
func (s *DispatchService) GetEmergency(ctx context.Context, id string) (*model.MedicalEmergency, error) {
	e, err := s.emergencies.GetEmergency(ctx, id)
	if err != nil {
		return nil, classifyError("get emergency", err)
	}
	return e, nil
}

// ─── Facilities ─────────────────────────────────────────────

// NearbyFacility is one entry of a nearby-facility listing.
type NearbyFacility struct {
	Facility   model.Facility `json:"facility"`
	DistanceKm float64        `json:"distance_km"`
}

// NearbyFacilities lists eligible facilities within maxKm of point, closest
// first. maxKm <= 0 uses the service's nearby radius (5 km by default);
// limit <= 0 returns every match.
func (s *DispatchService) NearbyFacilities(ctx context.Context, point model.Location, maxKm float64, limit int) ([]NearbyFacility, error) {
	if !point.Valid() {
		return nil, validationErr("coordinates are out of range")
	}
	if maxKm <= 0 {
		maxKm = s.nearbyRadiusKm
	}

	candidates, err := s.facilities.FindEligibleFacilitiesNear(ctx, point, maxKm, MaxFacilityCandidates)
	if err != nil {
		return nil, classifyError("find facilities", err)
	}

	ranked := geo.KNearest(point, candidates, limit, maxKm)
	out := make([]NearbyFacility, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, NearbyFacility{Facility: r.Item, DistanceKm: roundKm(r.DistanceKm)})
	}
	return out, nil
}

// RegisterFacility validates and stores a new facility.
func (s *DispatchService) RegisterFacility(ctx context.Context, f *model.Facility) (*model.Facility, error) {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return nil, validationErr("name is required")
	}
	if f.Type == "" {
		return nil, validationErr("type is required")
	}
	if f.Status == "" {
		f.Status = model.FacilityOperational
	}
	if !validFacilityStatus(f.Status) {
		return nil, validationErr("unknown facility status %q", f.Status)
	}
	if !f.Coordinates.Valid() {
		return nil, validationErr("coordinates are out of range")
	}
	if err := validateCapacity(f.Capacity); err != nil {
		return nil, err
	}

	f.ID = uuid.NewString()
	if err := s.facilities.CreateFacility(ctx, f); err != nil {
		return nil, classifyError("register facility", err)
	}
	return f, nil
}

// FacilityUpdate is a partial facility update; nil fields are unchanged.
type FacilityUpdate struct {
	Status   *model.FacilityStatus   `json:"status,omitempty"`
	IsActive *bool                   `json:"is_active,omitempty"`
	Capacity *model.FacilityCapacity `json:"capacity,omitempty"`
}

// UpdateFacility applies a partial update, keeping 0 ≤ available ≤ total.
func (s *DispatchService) UpdateFacility(ctx context.Context, id string, u FacilityUpdate) (*model.Facility, error) {
	if u.Status != nil && !validFacilityStatus(*u.Status) {
		return nil, validationErr("unknown facility status %q", *u.Status)
	}
	if u.Capacity != nil {
		if err := validateCapacity(*u.Capacity); err != nil {
			return nil, err
		}
	}

	f, err := s.facilities.UpdateFacility(ctx, id, func(f *model.Facility) error {
		if u.Status != nil {
			f.Status = *u.Status
		}
		if u.IsActive != nil {
			f.IsActive = *u.IsActive
		}
		if u.Capacity != nil {
			f.Capacity = *u.Capacity
		}
		return nil
	})
	if err != nil {
		return nil, classifyError("update facility", err)
	}
	return f, nil
}

// ─── Validation ─────────────────────────────────────────────

func validateEmergency(e *model.MedicalEmergency) error {
	switch e.Severity {
	case model.SeverityLow, model.SeverityMedium, model.SeverityHigh, model.SeverityCritical:
	case "":
		return validationErr("severity is required")
	default:
		return validationErr("unknown severity %q", e.Severity)
	}
	if !e.Location.Valid() {
		return validationErr("location is out of range")
	}
	return nil
}

func validFacilityStatus(st model.FacilityStatus) bool {
	switch st {
	case model.FacilityOperational, model.FacilityBusy, model.FacilityFull,
		model.FacilityEmergencyOnly, model.FacilityClosed:
		return true
	}
	return false
}

func validateCapacity(c model.FacilityCapacity) error {
	if c.Total < 0 || c.Available < 0 || c.ICU < 0 || c.General < 0 {
		return validationErr("capacity values must be non-negative")
	}
	if c.Available > c.Total {
		return validationErr("available capacity %d exceeds total %d", c.Available, c.Total)
	}
	return nil
}
