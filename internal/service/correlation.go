package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/metrics"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/repository"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// CandidatePoolLimit caps the opposite-kind reports fetched per
	// correlation run, oldest first.
	CandidatePoolLimit = 10

	defaultConfirmRetries = 3
)

// ─── CorrelationService ─────────────────────────────────────

// CorrelationConfig holds dependencies and tuning for CorrelationService.
type CorrelationConfig struct {
	Store   repository.ReportStore
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	MinScore  int // Default: DefaultMinScore
	PoolLimit int // Default: CandidatePoolLimit

	// ConfirmRetries bounds replays of a match confirmation that lost a
	// write race. Default: 3
	ConfirmRetries       uint64
	ConfirmRetryInterval time.Duration // Default: 50ms

	Clock func() time.Time
}

// CorrelationService matches missing-person reports against found-person
// reports and back.
//
// Algorithm overview:
//
//  1. FETCH: Active reports of the opposite kind with the same gender
//     (gender is a hard filter, never scored), capped at PoolLimit.
//  2. SCORE: Score each candidate against the subject.
//  3. RANK: Drop candidates under MinScore, stable-sort the rest by score.
//
// Correlation has no side effects. Accepting a suggestion is ConfirmMatch,
// which resolves both reports in one store transaction.
type CorrelationService struct {
	store   repository.ReportStore
	logger  zerolog.Logger
	metrics *metrics.Metrics

	minScore      int
	poolLimit     int
	retries       uint64
	retryInterval time.Duration
	now           func() time.Time
}

// NewCorrelationService creates a correlation service.
func NewCorrelationService(cfg CorrelationConfig) *CorrelationService {
	s := &CorrelationService{
		store:         cfg.Store,
		logger:        cfg.Logger.With().Str("component", "correlation").Logger(),
		metrics:       cfg.Metrics,
		minScore:      cfg.MinScore,
		poolLimit:     cfg.PoolLimit,
		retries:       cfg.ConfirmRetries,
		retryInterval: cfg.ConfirmRetryInterval,
		now:           cfg.Clock,
	}
	if s.minScore <= 0 {
		s.minScore = DefaultMinScore
	}
	if s.poolLimit <= 0 {
		s.poolLimit = CandidatePoolLimit
	}
	if s.retries == 0 {
		s.retries = defaultConfirmRetries
	}
	if s.retryInterval <= 0 {
		s.retryInterval = 50 * time.Millisecond
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SubmitResult is a stored report plus its match suggestions.
type SubmitResult struct {
	Report  *model.PersonReport `json:"report"`
	Matches []Match             `json:"matches"`
}

// SubmitReport validates and stores a new report, then correlates it.
// Suggestions are returned, never persisted.
func (s *CorrelationService) SubmitReport(ctx context.Context, r *model.PersonReport) (*SubmitResult, error) {
	normalizeReport(r)
	if err := validateReport(r); err != nil {
		return nil, err
	}

	r.ID = uuid.NewString()
	r.Status = model.ReportActive
	r.MatchedWith = nil

	if err := s.store.CreateReport(ctx, r); err != nil {
		return nil, classifyError("submit report", err)
	}

	s.logger.Info().
		Str("report_id", r.ID).
		Str("kind", string(r.Kind)).
		Msg("report submitted")

	matches, err := s.correlate(ctx, r, r.Kind.Opposite())
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Report: r, Matches: matches}, nil
}

// CorrelateNewMissing ranks Active found reports against a missing report.
func (s *CorrelationService) CorrelateNewMissing(ctx context.Context, r *model.PersonReport) ([]Match, error) {
	if r.Kind != model.ReportMissing {
		return nil, validationErr("subject kind %q, want %q", r.Kind, model.ReportMissing)
	}
	return s.correlate(ctx, r, model.ReportFound)
}

// CorrelateNewFound ranks Active missing reports against a found report.
func (s *CorrelationService) CorrelateNewFound(ctx context.Context, r *model.PersonReport) ([]Match, error) {
	if r.Kind != model.ReportFound {
		return nil, validationErr("subject kind %q, want %q", r.Kind, model.ReportFound)
	}
	return s.correlate(ctx, r, model.ReportMissing)
}

// MatchesFor re-runs correlation for a stored, unresolved report.
func (s *CorrelationService) MatchesFor(ctx context.Context, id string) ([]Match, error) {
	r, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, classifyError("matches for report", err)
	}
	if r.Status == model.ReportResolved {
		return nil, ErrAlreadyResolved
	}
	return s.correlate(ctx, r, r.Kind.Opposite())
}

func (s *CorrelationService) correlate(ctx context.Context, subject *model.PersonReport, against model.ReportKind) ([]Match, error) {
	gender := normalizeGender(subject.Gender)
	if gender == "" {
		return nil, validationErr("gender is required for correlation")
	}

	pool, err := s.store.ListReports(ctx, repository.ReportFilter{
		Kind:   against,
		Status: model.ReportActive,
		Gender: gender,
		Limit:  s.poolLimit,
	})
	if err != nil {
		return nil, classifyError("load candidate pool", err)
	}

	matches := Rank(pool, subject, s.minScore)

	s.logger.Debug().
		Str("subject_id", subject.ID).
		Str("against", string(against)).
		Int("candidates", len(pool)).
		Int("matches", len(matches)).
		Msg("correlation complete")
	s.metrics.ObserveCorrelation(string(against.Opposite()), len(matches))

	return matches, nil
}

// Confirmation is the outcome of ConfirmMatch.
type Confirmation struct {
	Missing *model.PersonReport `json:"missing"`
	Found   *model.PersonReport `json:"found"`
	Event   Event               `json:"event"`
}

// ConfirmMatch resolves a missing/found pair and cross-references them.
//
// The store applies both writes in one transaction, so a reader never sees
// one side resolved while the other is still active. A transaction that
// lost a write race (repository.ErrConflict) is replayed with exponential
// backoff; the replay re-reads both rows under lock, so a pair resolved by
// the competing writer surfaces as ErrAlreadyResolved.
func (s *CorrelationService) ConfirmMatch(ctx context.Context, missingID, foundID string) (*Confirmation, error) {
	if missingID == "" || foundID == "" {
		return nil, validationErr("missing_id and found_id are required")
	}
	if missingID == foundID {
		return nil, validationErr("a report cannot be matched with itself")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInterval
	bo.MaxElapsedTime = 0 // bounded by WithMaxRetries

	var missing, found *model.PersonReport
	attempt := 0
	op := func() error {
		attempt++
		var err error
		missing, found, err = s.store.ResolveMatch(ctx, missingID, foundID)
		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrConflict) {
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("match confirmation conflicted, retrying")
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, s.retries), ctx)); err != nil {
		return nil, classifyError("confirm match", err)
	}

	s.metrics.MatchConfirmed()
	s.logger.Info().
		Str("missing_id", missingID).
		Str("found_id", foundID).
		Msg("match confirmed")

	return &Confirmation{
		Missing: missing,
		Found:   found,
		Event:   newEvent(EventMatchConfirmed, s.now(), MatchConfirmed{MissingID: missingID, FoundID: foundID}),
	}, nil
}

// UpdateReportStatus moves a report between active, investigating and
// resolved. Reports resolved through ConfirmMatch carry a cross-reference
// and cannot be changed here.
func (s *CorrelationService) UpdateReportStatus(ctx context.Context, id string, status model.ReportStatus) (*model.PersonReport, error) {
	switch status {
	case model.ReportActive, model.ReportInvestigating, model.ReportResolved:
	default:
		return nil, validationErr("unknown report status %q", status)
	}

	r, err := s.store.UpdateReport(ctx, id, func(r *model.PersonReport) error {
		if r.MatchedWith != nil {
			return ErrAlreadyResolved
		}
		r.Status = status
		return nil
	})
	if err != nil {
		return nil, classifyError("update report status", err)
	}
	return r, nil
}

// GetReport returns a stored report.
func (s *CorrelationService) GetReport(ctx context.Context, id string) (*model.PersonReport, error) {
	r, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, classifyError("get report", err)
	}
	return r, nil
}

// ListReports returns stored reports, oldest first.
func (s *CorrelationService) ListReports(ctx context.Context, f repository.ReportFilter) ([]model.PersonReport, error) {
	f.Gender = normalizeGender(f.Gender)
	out, err := s.store.ListReports(ctx, f)
	if err != nil {
		return nil, classifyError("list reports", err)
	}
	return out, nil
}

// ─── Validation ─────────────────────────────────────────────

func normalizeGender(g string) string {
	return strings.ToLower(strings.TrimSpace(g))
}

func normalizeReport(r *model.PersonReport) {
	r.Gender = normalizeGender(r.Gender)
	r.LocationText = strings.TrimSpace(r.LocationText)
	r.ClothingDescription = strings.TrimSpace(r.ClothingDescription)
	r.ApproximateAge = strings.TrimSpace(r.ApproximateAge)
}

func validateReport(r *model.PersonReport) error {
	if r.Kind != model.ReportMissing && r.Kind != model.ReportFound {
		return validationErr("kind must be 'missing' or 'found'")
	}
	if r.Gender == "" {
		return validationErr("gender is required")
	}
	if r.LocationText == "" {
		return validationErr("location_text is required")
	}
	if r.Age != nil && (*r.Age < 0 || *r.Age > 130) {
		return validationErr("age must be between 0 and 130")
	}
	if r.Coordinates != nil && !r.Coordinates.Valid() {
		return validationErr("coordinates are out of range")
	}
	return nil
}
