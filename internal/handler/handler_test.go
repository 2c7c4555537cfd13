package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/handler"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/repository"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/service"
)

// recorder captures broadcast events.
type recorder struct {
	mu     sync.Mutex
	events []service.Event
}

func (r *recorder) Publish(_ context.Context, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.(service.Event))
	return nil
}

func (r *recorder) types() []service.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]service.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	router *mux.Router
	store  *repository.MemoryStore
	pub    *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	store := repository.NewMemoryStore()
	pub := &recorder{}

	routes, err := service.NewRouteService(service.RouteConfig{
		Routes: []model.Route{
			{ID: "black-1", Name: "Kali Marg", Type: model.RouteBlack, Capacity: 1000, CurrentLoad: 800,
				Location: "Sector 1", Coordinates: model.Location{Lat: 25.4300, Lon: 81.8400}},
			{ID: "gen-1", Name: "Triveni Marg", Type: model.RouteGeneral, Capacity: 500, CurrentLoad: 100,
				Location: "Sector 2", Coordinates: model.Location{Lat: 25.4400, Lon: 81.8500}},
		},
		Parking: []model.ParkingZone{
			{ID: "p-1", Name: "Naini Lot", Location: "Sector 1", Capacity: 400, Occupied: 120,
				Coordinates: model.Location{Lat: 25.4200, Lon: 81.8600}},
		},
		Logger: logger,
	})
	require.NoError(t, err)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	handler.NewReportHandler(service.NewCorrelationService(service.CorrelationConfig{Store: store, Logger: logger}), pub, logger).Register(api)
	handler.NewEmergencyHandler(service.NewDispatchService(service.DispatchConfig{Emergencies: store, Facilities: store, Logger: logger}), pub, logger).Register(api)
	handler.NewRouteHandler(routes, pub, logger).Register(api)

	return &fixture{router: router, store: store, pub: pub}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["error"]
}

// ─── Reports ────────────────────────────────────────────────

func TestReports_SubmitMatchAndConfirm(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/reports", map[string]any{
		"kind": "missing", "name": "Ramesh", "gender": "male", "age": 25,
		"clothing_description": "red jacket blue jeans", "location_text": "Sector 1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	missing := decode[service.SubmitResult](t, rec)
	assert.Empty(t, missing.Matches)

	rec = f.do(t, http.MethodPost, "/api/v1/reports", map[string]any{
		"kind": "found", "gender": "Male", "approximate_age": "around 25",
		"clothing_description": "red jacket", "location_text": "sector 1 ghat",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	found := decode[service.SubmitResult](t, rec)
	require.Len(t, found.Matches, 1)
	assert.Equal(t, missing.Report.ID, found.Matches[0].Report.ID)

	rec = f.do(t, http.MethodPost, "/api/v1/reports/match", map[string]string{
		"missing_id": missing.Report.ID, "found_id": found.Report.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	conf := decode[service.Confirmation](t, rec)
	assert.Equal(t, model.ReportResolved, conf.Missing.Status)
	require.NotNil(t, conf.Found.MatchedWith)
	assert.Equal(t, missing.Report.ID, *conf.Found.MatchedWith)
	assert.Equal(t, []service.EventType{service.EventMatchConfirmed}, f.pub.types())

	rec = f.do(t, http.MethodPost, "/api/v1/reports/match", map[string]string{
		"missing_id": missing.Report.ID, "found_id": found.Report.ID,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_resolved", errorCode(t, rec))
	assert.Len(t, f.pub.types(), 1)
}

func TestReports_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"malformed json", http.MethodPost, "/api/v1/reports", "{", http.StatusBadRequest, "bad_request"},
		{"missing gender", http.MethodPost, "/api/v1/reports",
			map[string]any{"kind": "missing", "location_text": "Ghat 1"}, http.StatusBadRequest, "validation_failed"},
		{"unknown report", http.MethodGet, "/api/v1/reports/nope", nil, http.StatusNotFound, "not_found"},
		{"self match", http.MethodPost, "/api/v1/reports/match",
			map[string]string{"missing_id": "a", "found_id": "a"}, http.StatusBadRequest, "validation_failed"},
		{"bad limit", http.MethodGet, "/api/v1/reports?limit=-3", nil, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestReports_ListAndStatus(t *testing.T) {
	f := newFixture(t)

	for _, kind := range []string{"missing", "found", "missing"} {
		rec := f.do(t, http.MethodPost, "/api/v1/reports", map[string]any{
			"kind": kind, "gender": "female", "location_text": "Sector 9",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/reports?kind=missing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reports := decode[[]model.PersonReport](t, rec)
	require.Len(t, reports, 2)

	rec = f.do(t, http.MethodPatch, "/api/v1/reports/"+reports[0].ID+"/status", map[string]string{"status": "investigating"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.ReportInvestigating, decode[model.PersonReport](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/api/v1/reports/"+reports[1].ID+"/matches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, reports[1].ID, decode[handler.MatchesResponse](t, rec).ReportID)
}

// ─── Emergencies ────────────────────────────────────────────

func TestEmergencies_AssignsNearestFacility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateFacility(ctx, &model.Facility{
		ID: "camp-1", Name: "Sector 1 Camp", Type: "first_aid", Status: model.FacilityOperational, IsActive: true,
		Coordinates: model.Location{Lat: 25.4400, Lon: 81.8500},
	}))

	rec := f.do(t, http.MethodPost, "/api/v1/emergencies", map[string]any{
		"severity": "high", "location": map[string]float64{"lat": 25.4358, "lon": 81.8463},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["assigned"])
	emergency := body["emergency"].(map[string]any)
	assert.Equal(t, "camp-1", emergency["assigned_facility"])
	assert.Equal(t, []service.EventType{service.EventFacilityAssigned}, f.pub.types())
}

func TestEmergencies_DispatchFailureThenRetry(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/emergencies", map[string]any{
		"severity": "critical", "location": map[string]float64{"lat": 25.4358, "lon": 81.8463},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, false, body["assigned"])
	assert.NotEmpty(t, body["dispatch_failure"])
	id := body["emergency"].(map[string]any)["id"].(string)

	rec = f.do(t, http.MethodPost, "/api/v1/emergencies/"+id+"/assign", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[handler.AssignResponse](t, rec).Assigned)
	assert.Empty(t, f.pub.types())

	rec = f.do(t, http.MethodPost, "/api/v1/facilities", map[string]any{
		"name": "Ghat Hospital", "type": "hospital", "is_active": true,
		"coordinates": map[string]float64{"lat": 25.4370, "lon": 81.8470},
		"capacity":    map[string]int{"total": 50, "available": 12},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, model.FacilityOperational, decode[model.Facility](t, rec).Status)

	rec = f.do(t, http.MethodPost, "/api/v1/emergencies/"+id+"/assign", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assigned := decode[handler.AssignResponse](t, rec)
	assert.True(t, assigned.Assigned)
	require.NotNil(t, assigned.Assignment)
	assert.Equal(t, "Ghat Hospital", assigned.Assignment.Facility.Name)

	rec = f.do(t, http.MethodPost, "/api/v1/emergencies/"+id+"/assign", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_assigned", errorCode(t, rec))
}

func TestEmergencies_StatusLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/emergencies", map[string]any{
		"severity": "low", "location": map[string]float64{"lat": 25.4358, "lon": 81.8463},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[map[string]any](t, rec)["emergency"].(map[string]any)["id"].(string)

	rec = f.do(t, http.MethodPatch, "/api/v1/emergencies/"+id+"/status", map[string]string{"status": "resolved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	e := decode[model.MedicalEmergency](t, rec)
	assert.Equal(t, model.EmergencyResolved, e.Status)
	assert.NotNil(t, e.Timestamps.Resolved)

	rec = f.do(t, http.MethodPatch, "/api/v1/emergencies/"+id+"/status", map[string]string{"status": "treating"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/emergencies/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFacilities_RegisterDefaultsToActive(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/facilities", map[string]any{
		"name": "Sector 4 Camp", "type": "first_aid",
		"coordinates": map[string]float64{"lat": 25.4358, "lon": 81.8463},
		"capacity":    map[string]int{"total": 10, "available": 4},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	registered := decode[model.Facility](t, rec)
	assert.True(t, registered.IsActive)
	assert.Equal(t, model.FacilityOperational, registered.Status)

	rec = f.do(t, http.MethodPost, "/api/v1/emergencies", map[string]any{
		"severity": "medium", "location": map[string]float64{"lat": 25.4358, "lon": 81.8463},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["assigned"])
	assert.Equal(t, registered.ID, body["emergency"].(map[string]any)["assigned_facility"])

	rec = f.do(t, http.MethodPost, "/api/v1/facilities", map[string]any{
		"name": "Standby Camp", "type": "first_aid", "is_active": false,
		"coordinates": map[string]float64{"lat": 25.4358, "lon": 81.8463},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.False(t, decode[model.Facility](t, rec).IsActive)
}

func TestFacilities_NearbyAndUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, fc := range []model.Facility{
		{ID: "near", Name: "Near", Type: "first_aid", Status: model.FacilityOperational, IsActive: true,
			Coordinates: model.Location{Lat: 25.4360, Lon: 81.8465}},
		{ID: "mid", Name: "Mid", Type: "first_aid", Status: model.FacilityBusy, IsActive: true,
			Coordinates: model.Location{Lat: 25.4450, Lon: 81.8550}},
	} {
		require.NoError(t, f.store.CreateFacility(ctx, &fc))
	}

	rec := f.do(t, http.MethodGet, "/api/v1/facilities/nearby?lat=25.4358&lon=81.8463", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	nearby := decode[[]service.NearbyFacility](t, rec)
	require.Len(t, nearby, 2)
	assert.Equal(t, "near", nearby[0].Facility.ID)

	rec = f.do(t, http.MethodPatch, "/api/v1/facilities/near", map[string]string{"status": "full"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/facilities/nearby?lat=25.4358&lon=81.8463", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	nearby = decode[[]service.NearbyFacility](t, rec)
	require.Len(t, nearby, 1)
	assert.Equal(t, "mid", nearby[0].Facility.ID)

	rec = f.do(t, http.MethodGet, "/api/v1/facilities/nearby?lat=north", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ─── Routes & Parking ───────────────────────────────────────

func TestRoutes_StatsNotCapturedAsID(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/routes/stats?location=sector", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[service.RouteStats](t, rec)
	assert.Equal(t, 2, stats.TotalRoutes)
	assert.Equal(t, 1500, stats.TotalCapacity)
	assert.Equal(t, 280, stats.Parking.Available)

	rec = f.do(t, http.MethodGet, "/api/v1/routes/black-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.RouteBlack, decode[model.Route](t, rec).Type)

	rec = f.do(t, http.MethodGet, "/api/v1/routes/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes_ParvaniToggle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/routes/parvani", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/routes/parvani", map[string]bool{"active": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[service.ParvaniResult](t, rec)
	assert.True(t, res.Active)
	require.Len(t, res.Routes, 1)
	assert.Equal(t, model.RouteClosed, res.Routes[0].Status)
	assert.Equal(t, 0, res.Routes[0].CurrentLoad)
	assert.Equal(t, []service.EventType{service.EventParvaniToggled}, f.pub.types())

	rec = f.do(t, http.MethodGet, "/api/v1/routes?type=black&status=closed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Route](t, rec), 1)

	rec = f.do(t, http.MethodPost, "/api/v1/routes/parvani", map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[service.ParvaniResult](t, rec)
	assert.Equal(t, model.RouteOpen, res.Routes[0].Status)
	assert.Equal(t, 600, res.Routes[0].CurrentLoad)
}

func TestRoutes_SetStatusVersionConflict(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPatch, "/api/v1/routes/gen-1/status", map[string]any{
		"status": "restricted", "reason": "bathing queue", "expected_version": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "bathing queue", decode[model.Route](t, rec).Reason)

	rec = f.do(t, http.MethodPatch, "/api/v1/routes/gen-1/status", map[string]any{
		"status": "open", "expected_version": 1,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "cascade_conflict", errorCode(t, rec))

	rec = f.do(t, http.MethodPatch, "/api/v1/routes/gen-1/status", map[string]any{"status": "sideways"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParking_OccupancyAndNearby(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPatch, "/api/v1/parking/p-1/occupancy", map[string]int{"occupied": 9000})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 400, decode[model.ParkingZone](t, rec).Occupied)

	rec = f.do(t, http.MethodPatch, "/api/v1/parking/p-1/occupancy", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/v1/parking/p-9/occupancy", map[string]int{"occupied": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/parking/nearby?lat=25.4200&lon=81.8600&radius_km=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	zones := decode[[]service.NearbyZone](t, rec)
	require.Len(t, zones, 1)
	assert.Equal(t, "p-1", zones[0].Zone.ID)
	assert.Equal(t, 0.0, zones[0].DistanceKm)

	rec = f.do(t, http.MethodGet, "/api/v1/routes/nearby?lat=25.4400&lon=81.8500&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	routes := decode[[]service.NearbyRoute](t, rec)
	require.Len(t, routes, 1)
	assert.Equal(t, "gen-1", routes[0].Route.ID)

	rec = f.do(t, http.MethodGet, "/api/v1/parking?location=SECTOR%201", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.ParkingZone](t, rec), 1)
}
