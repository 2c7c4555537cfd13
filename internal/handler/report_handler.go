package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/repository"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ─── Request/Response DTOs ──────────────────────────────────

// CreateReportBody is the JSON body for POST /api/v1/reports.
type CreateReportBody struct {
	Kind                model.ReportKind `json:"kind"`
	Name                string           `json:"name"`
	Gender              string           `json:"gender"`
	Age                 *int             `json:"age"`
	ApproximateAge      string           `json:"approximate_age"`
	ClothingDescription string           `json:"clothing_description"`
	LocationText        string           `json:"location_text"`
	Coordinates         *model.Location  `json:"coordinates"`
	ReporterContact     string           `json:"reporter_contact"`
}

// ReportStatusBody is the JSON body for PATCH /api/v1/reports/{id}/status.
type ReportStatusBody struct {
	Status model.ReportStatus `json:"status"`
}

// ConfirmMatchBody is the JSON body for POST /api/v1/reports/match.
type ConfirmMatchBody struct {
	MissingID string `json:"missing_id"`
	FoundID   string `json:"found_id"`
}

// MatchesResponse is returned by GET /api/v1/reports/{id}/matches.
type MatchesResponse struct {
	ReportID string          `json:"report_id"`
	Matches  []service.Match `json:"matches"`
}

// ─── ReportHandler ──────────────────────────────────────────

// ReportHandler serves missing/found reports and match confirmation.
type ReportHandler struct {
	svc    *service.CorrelationService
	pub    Broadcaster
	logger zerolog.Logger
}

// NewReportHandler creates a new report handler.
func NewReportHandler(svc *service.CorrelationService, pub Broadcaster, logger zerolog.Logger) *ReportHandler {
	return &ReportHandler{svc: svc, pub: pub, logger: logger}
}

// Register mounts the report routes on r.
func (h *ReportHandler) Register(r *mux.Router) {
	r.HandleFunc("/reports", h.CreateReport).Methods(http.MethodPost)
	r.HandleFunc("/reports", h.ListReports).Methods(http.MethodGet)
	r.HandleFunc("/reports/match", h.ConfirmMatch).Methods(http.MethodPost)
	r.HandleFunc("/reports/{id}", h.GetReport).Methods(http.MethodGet)
	r.HandleFunc("/reports/{id}/status", h.UpdateStatus).Methods(http.MethodPatch)
	r.HandleFunc("/reports/{id}/matches", h.Matches).Methods(http.MethodGet)
}

// CreateReport handles POST /api/v1/reports
//
// Stores a missing or found report and returns ranked candidate matches of
// the opposite kind.
//
//	Request body:
//	{
//	  "kind": "missing",
//	  "gender": "male", "age": 25,
//	  "clothing_description": "red jacket blue jeans",
//	  "location_text": "Sector 1"
//	}
func (h *ReportHandler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var body CreateReportBody
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := h.svc.SubmitReport(r.Context(), &model.PersonReport{
		Kind:                body.Kind,
		Name:                body.Name,
		Gender:              body.Gender,
		Age:                 body.Age,
		ApproximateAge:      body.ApproximateAge,
		ClothingDescription: body.ClothingDescription,
		LocationText:        body.LocationText,
		Coordinates:         body.Coordinates,
		ReporterContact:     body.ReporterContact,
	})
	if err != nil {
		writeError(w, h.logger, "create report", err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// ListReports handles GET /api/v1/reports?kind=&status=&gender=&limit=&offset=
func (h *ReportHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", defaultListLimit)
	if !ok {
		badRequest(w, "limit must be a non-negative integer")
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		badRequest(w, "offset must be a non-negative integer")
		return
	}
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	q := r.URL.Query()
	reports, err := h.svc.ListReports(r.Context(), repository.ReportFilter{
		Kind:   model.ReportKind(q.Get("kind")),
		Status: model.ReportStatus(q.Get("status")),
		Gender: q.Get("gender"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, h.logger, "list reports", err)
		return
	}

	writeJSON(w, http.StatusOK, reports)
}

// GetReport handles GET /api/v1/reports/{id}
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.GetReport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.logger, "get report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// UpdateStatus handles PATCH /api/v1/reports/{id}/status
func (h *ReportHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body ReportStatusBody
	if !decodeJSON(w, r, &body) {
		return
	}

	report, err := h.svc.UpdateReportStatus(r.Context(), mux.Vars(r)["id"], body.Status)
	if err != nil {
		writeError(w, h.logger, "update report status", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Matches handles GET /api/v1/reports/{id}/matches
//
// Re-runs correlation for an unresolved report.
func (h *ReportHandler) Matches(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	matches, err := h.svc.MatchesFor(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, "report matches", err)
		return
	}
	writeJSON(w, http.StatusOK, MatchesResponse{ReportID: id, Matches: matches})
}

// ConfirmMatch handles POST /api/v1/reports/match
//
// Resolves a missing/found pair in one transaction. Returns 409 when either
// side is already resolved.
func (h *ReportHandler) ConfirmMatch(w http.ResponseWriter, r *http.Request) {
	var body ConfirmMatchBody
	if !decodeJSON(w, r, &body) {
		return
	}

	conf, err := h.svc.ConfirmMatch(r.Context(), body.MissingID, body.FoundID)
	if err != nil {
		writeError(w, h.logger, "confirm match", err)
		return
	}

	publish(r.Context(), h.pub, h.logger, conf.Event)
	writeJSON(w, http.StatusOK, conf)
}
