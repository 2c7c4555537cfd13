// Package repository provides persistence for person reports, medical
// emergencies and facilities.
//
// Two implementations share the interfaces below: PostgreSQL/PostGIS for
// production and an in-memory store for tests and single-node demos.
package repository

import (
	"context"
	"errors"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
)

// ─── Errors ─────────────────────────────────────────────────

var (
	// ErrNotFound is returned when an id does not resolve to a stored record.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyResolved is returned by ResolveMatch when either report is
	// already resolved.
	ErrAlreadyResolved = errors.New("report is already resolved")

	// ErrKindMismatch is returned by ResolveMatch when the ids do not name one
	// missing and one found report.
	ErrKindMismatch = errors.New("report kinds do not pair missing with found")

	// ErrConflict marks a transient write conflict (serialization failure or
	// deadlock). The operation may be retried as a whole.
	ErrConflict = errors.New("concurrent write conflict")
)

// ─── Filters ────────────────────────────────────────────────

// ReportFilter narrows ListReports. Zero fields are ignored.
// Results are always ordered by creation time, oldest first.
type ReportFilter struct {
	Kind   model.ReportKind
	Status model.ReportStatus
	Gender string
	Limit  int
	Offset int
}

// ─── Interfaces ─────────────────────────────────────────────

// ReportStore persists missing/found person reports.
type ReportStore interface {
	CreateReport(ctx context.Context, r *model.PersonReport) error
	GetReport(ctx context.Context, id string) (*model.PersonReport, error)
	ListReports(ctx context.Context, f ReportFilter) ([]model.PersonReport, error)

	// UpdateReport applies fn to the report under a row lock and saves the
	// result. If fn returns an error nothing is written.
	UpdateReport(ctx context.Context, id string, fn func(*model.PersonReport) error) (*model.PersonReport, error)

	// ResolveMatch marks both reports resolved and cross-references them in a
	// single atomic write. Either both change or neither does.
	ResolveMatch(ctx context.Context, missingID, foundID string) (*model.PersonReport, *model.PersonReport, error)
}

// EmergencyStore persists medical emergencies.
type EmergencyStore interface {
	CreateEmergency(ctx context.Context, e *model.MedicalEmergency) error
	GetEmergency(ctx context.Context, id string) (*model.MedicalEmergency, error)

	// UpdateEmergency applies fn under a row lock; see UpdateReport.
	UpdateEmergency(ctx context.Context, id string, fn func(*model.MedicalEmergency) error) (*model.MedicalEmergency, error)
}

// FacilityStore persists medical facilities.
type FacilityStore interface {
	CreateFacility(ctx context.Context, f *model.Facility) error
	GetFacility(ctx context.Context, id string) (*model.Facility, error)

	// FindEligibleFacilitiesNear returns active facilities that are neither
	// Full nor Closed within radiusKm of point, closest first. Eligibility is
	// applied before limit, so ineligible facilities never crowd out an
	// eligible one.
	FindEligibleFacilitiesNear(ctx context.Context, point model.Location, radiusKm float64, limit int) ([]model.Facility, error)

	UpdateFacility(ctx context.Context, id string, fn func(*model.Facility) error) (*model.Facility, error)
}
