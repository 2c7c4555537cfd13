package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
	"github.com/Kunalrpawar/crowd-management-sub001/pkg/geo"
)

// MemoryStore is an in-memory implementation of ReportStore, EmergencyStore
// and FacilityStore. A single mutex makes every multi-record write atomic.
// Returned values are copies; callers never alias stored records.
type MemoryStore struct {
	mu          sync.RWMutex
	seq         int64
	reports     map[string]*memReport
	emergencies map[string]*model.MedicalEmergency
	facilities  map[string]*model.Facility
	now         func() time.Time
}

type memReport struct {
	seq    int64
	report model.PersonReport
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports:     make(map[string]*memReport),
		emergencies: make(map[string]*model.MedicalEmergency),
		facilities:  make(map[string]*model.Facility),
		now:         time.Now,
	}
}

// ─── Reports ────────────────────────────────────────────────

// CreateReport stores a new report. CreatedAt/UpdatedAt are server-assigned.
func (s *MemoryStore) CreateReport(_ context.Context, r *model.PersonReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.reports[r.ID] = &memReport{seq: s.seq, report: copyReport(*r)}
	return nil
}

// GetReport retrieves a report by id.
func (s *MemoryStore) GetReport(_ context.Context, id string) (*model.PersonReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	cpy := copyReport(m.report)
	return &cpy, nil
}

// ListReports returns reports matching f in insertion order.
func (s *MemoryStore) ListReports(_ context.Context, f ReportFilter) ([]model.PersonReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*memReport, 0, len(s.reports))
	for _, m := range s.reports {
		r := &m.report
		if f.Kind != "" && r.Kind != f.Kind {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Gender != "" && r.Gender != f.Gender {
			continue
		}
		matched = append(matched, m)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}

	out := make([]model.PersonReport, 0, len(matched))
	for _, m := range matched {
		out = append(out, copyReport(m.report))
	}
	return out, nil
}

// UpdateReport applies fn to a copy and stores it only when fn succeeds.
func (s *MemoryStore) UpdateReport(_ context.Context, id string, fn func(*model.PersonReport) error) (*model.PersonReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := copyReport(m.report)
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.ID = id
	next.UpdatedAt = s.now()
	m.report = next

	out := copyReport(next)
	return &out, nil
}

// ResolveMatch resolves both reports under one lock.
func (s *MemoryStore) ResolveMatch(_ context.Context, missingID, foundID string) (*model.PersonReport, *model.PersonReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	missing, ok := s.reports[missingID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	found, ok := s.reports[foundID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if missing.report.Kind != model.ReportMissing || found.report.Kind != model.ReportFound {
		return nil, nil, ErrKindMismatch
	}
	if missing.report.Status == model.ReportResolved || found.report.Status == model.ReportResolved {
		return nil, nil, ErrAlreadyResolved
	}

	now := s.now()
	missing.report.Status = model.ReportResolved
	missing.report.MatchedWith = &foundID
	missing.report.UpdatedAt = now
	found.report.Status = model.ReportResolved
	found.report.MatchedWith = &missingID
	found.report.UpdatedAt = now

	m, f := copyReport(missing.report), copyReport(found.report)
	return &m, &f, nil
}

// ─── Emergencies ────────────────────────────────────────────

// CreateEmergency stores a new emergency.
func (s *MemoryStore) CreateEmergency(_ context.Context, e *model.MedicalEmergency) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cpy := copyEmergency(*e)
	s.emergencies[e.ID] = &cpy
	return nil
}

// GetEmergency retrieves an emergency by id.
func (s *MemoryStore) GetEmergency(_ context.Context, id string) (*model.MedicalEmergency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.emergencies[id]
	if !ok {
		return nil, ErrNotFound
	}
	cpy := copyEmergency(*e)
	return &cpy, nil
}

// UpdateEmergency applies fn to a copy and stores it only when fn succeeds.
func (s *MemoryStore) UpdateEmergency(_ context.Context, id string, fn func(*model.MedicalEmergency) error) (*model.MedicalEmergency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.emergencies[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := copyEmergency(*e)
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.ID = id
	s.emergencies[id] = &next

	out := copyEmergency(next)
	return &out, nil
}

// ─── Facilities ─────────────────────────────────────────────

// CreateFacility stores a new facility.
func (s *MemoryStore) CreateFacility(_ context.Context, f *model.Facility) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f.UpdatedAt = s.now()
	cpy := *f
	s.facilities[f.ID] = &cpy
	return nil
}

// GetFacility retrieves a facility by id.
func (s *MemoryStore) GetFacility(_ context.Context, id string) (*model.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.facilities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cpy := *f
	return &cpy, nil
}

// FindEligibleFacilitiesNear mirrors the PostGIS radius query with an
// in-process scan.
func (s *MemoryStore) FindEligibleFacilitiesNear(_ context.Context, point model.Location, radiusKm float64, limit int) ([]model.Facility, error) {
	s.mu.RLock()
	eligible := make([]model.Facility, 0, len(s.facilities))
	for _, f := range s.facilities {
		if f.Eligible() {
			eligible = append(eligible, *f)
		}
	}
	s.mu.RUnlock()

	ranked := geo.KNearest(point, eligible, limit, radiusKm)
	out := make([]model.Facility, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.Item)
	}
	return out, nil
}

// UpdateFacility applies fn to a copy and stores it only when fn succeeds.
func (s *MemoryStore) UpdateFacility(_ context.Context, id string, fn func(*model.Facility) error) (*model.Facility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.facilities[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := *f
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.ID = id
	next.UpdatedAt = s.now()
	s.facilities[id] = &next

	out := next
	return &out, nil
}

// ─── Copy helpers ───────────────────────────────────────────

func copyReport(r model.PersonReport) model.PersonReport {
	if r.Age != nil {
		age := *r.Age
		r.Age = &age
	}
	if r.Coordinates != nil {
		loc := *r.Coordinates
		r.Coordinates = &loc
	}
	if r.MatchedWith != nil {
		id := *r.MatchedWith
		r.MatchedWith = &id
	}
	return r
}

func copyEmergency(e model.MedicalEmergency) model.MedicalEmergency {
	if e.AssignedFacility != nil {
		id := *e.AssignedFacility
		e.AssignedFacility = &id
	}
	e.Timestamps.Dispatched = copyTime(e.Timestamps.Dispatched)
	e.Timestamps.Arrived = copyTime(e.Timestamps.Arrived)
	e.Timestamps.Resolved = copyTime(e.Timestamps.Resolved)
	return e
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cpy := *t
	return &cpy
}

// Ensure MemoryStore implements every store interface.
var (
	_ ReportStore    = (*MemoryStore)(nil)
	_ EmergencyStore = (*MemoryStore)(nil)
	_ FacilityStore  = (*MemoryStore)(nil)
)
