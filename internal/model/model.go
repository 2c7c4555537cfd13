// Package model contains domain models for the crowd operations backend.
// Reports, emergencies and facilities map to the PostgreSQL schema in
// migrations/001_create_schema.up.sql; routes and parking zones live only in
// the in-memory registry.
package model

import "time"

// ─── Enums ──────────────────────────────────────────────────

type ReportKind string

const (
	ReportMissing ReportKind = "missing"
	ReportFound   ReportKind = "found"
)

// Opposite returns the kind a report of this kind may be matched against.
func (k ReportKind) Opposite() ReportKind {
	if k == ReportMissing {
		return ReportFound
	}
	return ReportMissing
}

type ReportStatus string

const (
	ReportActive        ReportStatus = "active"
	ReportInvestigating ReportStatus = "investigating"
	ReportResolved      ReportStatus = "resolved"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type EmergencyStatus string

const (
	EmergencyPending    EmergencyStatus = "pending"
	EmergencyDispatched EmergencyStatus = "dispatched"
	EmergencyTreating   EmergencyStatus = "treating"
	EmergencyResolved   EmergencyStatus = "resolved"
	EmergencyCancelled  EmergencyStatus = "cancelled"
)

type FacilityStatus string

const (
	FacilityOperational   FacilityStatus = "operational"
	FacilityBusy          FacilityStatus = "busy"
	FacilityFull          FacilityStatus = "full"
	FacilityEmergencyOnly FacilityStatus = "emergency_only"
	FacilityClosed        FacilityStatus = "closed"
)

type RouteType string

const (
	RouteBlack           RouteType = "black"
	RouteVIP             RouteType = "vip"
	RouteEmergency       RouteType = "emergency"
	RouteSnani           RouteType = "snani"
	RouteAdministrative  RouteType = "administrative"
	RouteInternalParking RouteType = "internal_parking"
	RouteExternalParking RouteType = "external_parking"
	RouteGeneral         RouteType = "general"
)

type RouteStatus string

const (
	RouteOpen       RouteStatus = "open"
	RouteClosed     RouteStatus = "closed"
	RouteRestricted RouteStatus = "restricted"
)

type CrowdLevel string

const (
	CrowdLow      CrowdLevel = "low"
	CrowdModerate CrowdLevel = "moderate"
	CrowdHigh     CrowdLevel = "high"
	CrowdCritical CrowdLevel = "critical"
)

// ─── Location ───────────────────────────────────────────────

// Location represents a WGS-84 geographic point (EPSG:4326).
type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether the point lies within WGS-84 bounds.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

// ─── Person Reports ─────────────────────────────────────────

// PersonReport maps to the `person_reports` table. Missing and found reports
// share one shape; LocationText is the last-seen place for a missing person
// and the current place for a found one.
type PersonReport struct {
	ID                  string       `json:"id"`
	Kind                ReportKind   `json:"kind"`
	Status              ReportStatus `json:"status"`
	Name                string       `json:"name,omitempty"`
	Gender              string       `json:"gender"`
	Age                 *int         `json:"age,omitempty"`
	ApproximateAge      string       `json:"approximate_age,omitempty"`
	ClothingDescription string       `json:"clothing_description,omitempty"`
	LocationText        string       `json:"location_text"`
	Coordinates         *Location    `json:"coordinates,omitempty"`
	MatchedWith         *string      `json:"matched_with,omitempty"`
	ReporterContact     string       `json:"reporter_contact,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// ─── Medical ────────────────────────────────────────────────

// EmergencyTimestamps records when each lifecycle transition happened.
// Every field is set at most once.
type EmergencyTimestamps struct {
	Reported   time.Time  `json:"reported"`
	Dispatched *time.Time `json:"dispatched,omitempty"`
	Arrived    *time.Time `json:"arrived,omitempty"`
	Resolved   *time.Time `json:"resolved,omitempty"`
}

// MedicalEmergency maps to the `medical_emergencies` table.
type MedicalEmergency struct {
	ID               string              `json:"id"`
	Severity         Severity            `json:"severity"`
	Status           EmergencyStatus     `json:"status"`
	Location         Location            `json:"location"`
	Description      string              `json:"description,omitempty"`
	AssignedFacility *string             `json:"assigned_facility,omitempty"`
	Timestamps       EmergencyTimestamps `json:"timestamps"`
}

// FacilityCapacity is advisory: assignment does not consume it.
type FacilityCapacity struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	ICU       int `json:"icu"`
	General   int `json:"general"`
}

// Facility maps to the `facilities` table.
type Facility struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	Status      FacilityStatus   `json:"status"`
	IsActive    bool             `json:"is_active"`
	Coordinates Location         `json:"coordinates"`
	Capacity    FacilityCapacity `json:"capacity"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Eligible reports whether the facility may receive a dispatch.
func (f Facility) Eligible() bool {
	return f.IsActive && f.Status != FacilityFull && f.Status != FacilityClosed
}

// GeoID and GeoPoint let facilities be ranked by pkg/geo.
func (f Facility) GeoID() string      { return f.ID }
func (f Facility) GeoPoint() Location { return f.Coordinates }

// ─── Routes & Parking ───────────────────────────────────────

// Route is owned by the in-memory route registry.
type Route struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Type        RouteType   `json:"type" yaml:"type"`
	Status      RouteStatus `json:"status" yaml:"status"`
	Capacity    int         `json:"capacity" yaml:"capacity"`
	CurrentLoad int         `json:"current_load" yaml:"current_load"`
	CrowdLevel  CrowdLevel  `json:"crowd_level" yaml:"crowd_level"`
	Location    string      `json:"location" yaml:"location"`
	Coordinates Location    `json:"coordinates" yaml:"coordinates"`
	Waypoints   []Location  `json:"waypoints,omitempty" yaml:"waypoints"`
	Reason      string      `json:"reason,omitempty" yaml:"reason"`
	UpdatedAt   time.Time   `json:"updated_at" yaml:"-"`
}

func (r Route) GeoID() string      { return r.ID }
func (r Route) GeoPoint() Location { return r.Coordinates }

// ParkingZone is owned by the in-memory route registry.
type ParkingZone struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Location    string    `json:"location" yaml:"location"`
	Coordinates Location  `json:"coordinates" yaml:"coordinates"`
	Capacity    int       `json:"capacity" yaml:"capacity"`
	Occupied    int       `json:"occupied" yaml:"occupied"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

func (p ParkingZone) GeoID() string      { return p.ID }
func (p ParkingZone) GeoPoint() Location { return p.Coordinates }
