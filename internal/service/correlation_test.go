package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/repository"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/service"
)

func newCorrelation(t *testing.T) (*service.CorrelationService, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	svc := service.NewCorrelationService(service.CorrelationConfig{
		Store:  store,
		Logger: zerolog.Nop(),
	})
	return svc, store
}

func submit(t *testing.T, svc *service.CorrelationService, r model.PersonReport) *service.SubmitResult {
	t.Helper()
	res, err := svc.SubmitReport(context.Background(), &r)
	require.NoError(t, err)
	return res
}

func TestSubmitReport_AssignsIDAndStatus(t *testing.T) {
	svc, _ := newCorrelation(t)

	res := submit(t, svc, model.PersonReport{
		Kind:         model.ReportMissing,
		Status:       model.ReportResolved,
		Gender:       "  Female ",
		LocationText: "Sector 4",
	})

	assert.NotEmpty(t, res.Report.ID)
	assert.Equal(t, model.ReportActive, res.Report.Status)
	assert.Equal(t, "female", res.Report.Gender)
	assert.False(t, res.Report.CreatedAt.IsZero())
	assert.Empty(t, res.Matches)
}

func TestSubmitReport_Validation(t *testing.T) {
	svc, _ := newCorrelation(t)

	tests := []struct {
		name   string
		report model.PersonReport
	}{
		{"missing kind", model.PersonReport{Gender: "male", LocationText: "Ghat 2"}},
		{"missing gender", model.PersonReport{Kind: model.ReportFound, LocationText: "Ghat 2"}},
		{"missing location", model.PersonReport{Kind: model.ReportFound, Gender: "male"}},
		{"age out of range", model.PersonReport{Kind: model.ReportFound, Gender: "male", LocationText: "Ghat 2", Age: intPtr(200)}},
		{"bad coordinates", model.PersonReport{Kind: model.ReportFound, Gender: "male", LocationText: "Ghat 2", Coordinates: &model.Location{Lat: 91}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SubmitReport(context.Background(), &tt.report)
			assert.ErrorIs(t, err, service.ErrValidation)
		})
	}
}

func TestSubmitReport_CorrelatesAgainstOppositeKind(t *testing.T) {
	svc, _ := newCorrelation(t)

	f := submit(t, svc, model.PersonReport{
		Kind:                model.ReportFound,
		Gender:              "male",
		ApproximateAge:      "24-26",
		ClothingDescription: "red jacket",
		LocationText:        "Sector 1 Market",
	})
	// Same kind as the subject, so never a candidate.
	submit(t, svc, model.PersonReport{
		Kind:                model.ReportMissing,
		Gender:              "male",
		Age:                 intPtr(60),
		ClothingDescription: "red jacket",
		LocationText:        "Sector 1 Market",
	})

	res := submit(t, svc, model.PersonReport{
		Kind:                model.ReportMissing,
		Gender:              "Male",
		Age:                 intPtr(25),
		ClothingDescription: "red jacket blue jeans",
		LocationText:        "Sector 1",
	})

	require.Len(t, res.Matches, 1)
	assert.Equal(t, f.Report.ID, res.Matches[0].Report.ID)
	assert.Equal(t, 110, res.Matches[0].Score)
}

func TestCorrelate_GenderIsHardFilter(t *testing.T) {
	svc, _ := newCorrelation(t)

	submit(t, svc, model.PersonReport{
		Kind:         model.ReportFound,
		Gender:       "female",
		LocationText: "Sector 1",
	})

	subject := &model.PersonReport{Kind: model.ReportMissing, Gender: "male", LocationText: "Sector 1"}
	matches, err := svc.CorrelateNewMissing(context.Background(), subject)
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = svc.CorrelateNewMissing(context.Background(), &model.PersonReport{Kind: model.ReportMissing, LocationText: "Sector 1"})
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestCorrelate_RejectsWrongSubjectKind(t *testing.T) {
	svc, _ := newCorrelation(t)
	ctx := context.Background()

	// Another found report that would otherwise be ranked against itself.
	submit(t, svc, model.PersonReport{Kind: model.ReportFound, Gender: "male", LocationText: "Sector 1"})
	found := &model.PersonReport{Kind: model.ReportFound, Gender: "male", LocationText: "Sector 1"}

	_, err := svc.CorrelateNewMissing(ctx, found)
	assert.ErrorIs(t, err, service.ErrValidation)

	missing := &model.PersonReport{Kind: model.ReportMissing, Gender: "male", LocationText: "Sector 1"}
	_, err = svc.CorrelateNewFound(ctx, missing)
	assert.ErrorIs(t, err, service.ErrValidation)

	_, err = svc.CorrelateNewMissing(ctx, &model.PersonReport{Gender: "male", LocationText: "Sector 1"})
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestCorrelate_SkipsInactiveCandidates(t *testing.T) {
	svc, _ := newCorrelation(t)
	ctx := context.Background()

	f := submit(t, svc, model.PersonReport{Kind: model.ReportFound, Gender: "male", LocationText: "Sector 1"})
	_, err := svc.UpdateReportStatus(ctx, f.Report.ID, model.ReportInvestigating)
	require.NoError(t, err)

	matches, err := svc.CorrelateNewMissing(ctx, &model.PersonReport{Kind: model.ReportMissing, Gender: "male", LocationText: "Sector 1"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestCorrelate_PoolLimitedToOldest(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := service.NewCorrelationService(service.CorrelationConfig{
		Store:     store,
		Logger:    zerolog.Nop(),
		PoolLimit: 2,
	})

	var ids []string
	for i := 0; i < 4; i++ {
		res := submit(t, svc, model.PersonReport{Kind: model.ReportMissing, Gender: "male", LocationText: "Triveni Sangam"})
		ids = append(ids, res.Report.ID)
	}

	matches, err := svc.CorrelateNewFound(context.Background(), &model.PersonReport{Kind: model.ReportFound, Gender: "male", LocationText: "Sangam"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, ids[0], matches[0].Report.ID)
	assert.Equal(t, ids[1], matches[1].Report.ID)
}

func TestConfirmMatch(t *testing.T) {
	svc, _ := newCorrelation(t)
	ctx := context.Background()

	m := submit(t, svc, model.PersonReport{Kind: model.ReportMissing, Gender: "female", LocationText: "Ghat 3"})
	f := submit(t, svc, model.PersonReport{Kind: model.ReportFound, Gender: "female", LocationText: "Ghat 3"})

	conf, err := svc.ConfirmMatch(ctx, m.Report.ID, f.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, service.EventMatchConfirmed, conf.Event.Type)

	gotM, err := svc.GetReport(ctx, m.Report.ID)
	require.NoError(t, err)
	gotF, err := svc.GetReport(ctx, f.Report.ID)
	require.NoError(t, err)

	assert.Equal(t, model.ReportResolved, gotM.Status)
	assert.Equal(t, model.ReportResolved, gotF.Status)
	require.NotNil(t, gotM.MatchedWith)
	require.NotNil(t, gotF.MatchedWith)
	assert.Equal(t, f.Report.ID, *gotM.MatchedWith)
	assert.Equal(t, m.Report.ID, *gotF.MatchedWith)

	_, err = svc.ConfirmMatch(ctx, m.Report.ID, f.Report.ID)
	assert.ErrorIs(t, err, service.ErrAlreadyResolved)

	_, err = svc.MatchesFor(ctx, m.Report.ID)
	assert.ErrorIs(t, err, service.ErrAlreadyResolved)

	_, err = svc.UpdateReportStatus(ctx, f.Report.ID, model.ReportActive)
	assert.ErrorIs(t, err, service.ErrAlreadyResolved)
}

func TestConfirmMatch_Errors(t *testing.T) {
	svc, _ := newCorrelation(t)
	ctx := context.Background()

	m := submit(t, svc, model.PersonReport{Kind: model.ReportMissing, Gender: "female", LocationText: "Ghat 3"})
	m2 := submit(t, svc, model.PersonReport{Kind: model.ReportMissing, Gender: "female", LocationText: "Ghat 3"})

	_, err := svc.ConfirmMatch(ctx, m.Report.ID, "nope")
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = svc.ConfirmMatch(ctx, m.Report.ID, m2.Report.ID)
	assert.ErrorIs(t, err, service.ErrValidation)

	_, err = svc.ConfirmMatch(ctx, m.Report.ID, m.Report.ID)
	assert.ErrorIs(t, err, service.ErrValidation)

	// Nothing was half-applied.
	got, err := svc.GetReport(ctx, m.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReportActive, got.Status)
	assert.Nil(t, got.MatchedWith)
}

func TestConfirmMatch_ConcurrentSingleWinner(t *testing.T) {
	svc, _ := newCorrelation(t)
	ctx := context.Background()

	m := submit(t, svc, model.PersonReport{Kind: model.ReportMissing, Gender: "male", LocationText: "Sector 9"})
	f := submit(t, svc, model.PersonReport{Kind: model.ReportFound, Gender: "male", LocationText: "Sector 9"})

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		resolved int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ConfirmMatch(ctx, m.Report.ID, f.Report.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, service.ErrAlreadyResolved):
				resolved++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, resolved)
}

// conflictStore fails ResolveMatch with ErrConflict a fixed number of times.
type conflictStore struct {
	*repository.MemoryStore
	failures int
	calls    int
}

func (s *conflictStore) ResolveMatch(ctx context.Context, missingID, foundID string) (*model.PersonReport, *model.PersonReport, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, nil, repository.ErrConflict
	}
	return s.MemoryStore.ResolveMatch(ctx, missingID, foundID)
}

func TestConfirmMatch_RetriesConflicts(t *testing.T) {
	store := &conflictStore{MemoryStore: repository.NewMemoryStore(), failures: 2}
	svc := service.NewCorrelationService(service.CorrelationConfig{
		Store:                store,
		Logger:               zerolog.Nop(),
		ConfirmRetryInterval: 1,
	})
	ctx := context.Background()

	m := submit(t, svc, model.PersonReport{Kind: model.ReportMissing, Gender: "male", LocationText: "Sector 9"})
	f := submit(t, svc, model.PersonReport{Kind: model.ReportFound, Gender: "male", LocationText: "Sector 9"})

	_, err := svc.ConfirmMatch(ctx, m.Report.ID, f.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, store.calls)
}

func TestConfirmMatch_GivesUpAfterRetries(t *testing.T) {
	store := &conflictStore{MemoryStore: repository.NewMemoryStore(), failures: 100}
	svc := service.NewCorrelationService(service.CorrelationConfig{
		Store:                store,
		Logger:               zerolog.Nop(),
		ConfirmRetries:       2,
		ConfirmRetryInterval: 1,
	})
	ctx := context.Background()

	m := submit(t, svc, model.PersonReport{Kind: model.ReportMissing, Gender: "male", LocationText: "Sector 9"})
	f := submit(t, svc, model.PersonReport{Kind: model.ReportFound, Gender: "male", LocationText: "Sector 9"})

	_, err := svc.ConfirmMatch(ctx, m.Report.ID, f.Report.ID)
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Equal(t, 3, store.calls)
}

func TestListReports_FiltersAndOrder(t *testing.T) {
	svc, _ := newCorrelation(t)
	ctx := context.Background()

	a := submit(t, svc, model.PersonReport{Kind: model.ReportMissing, Gender: "male", LocationText: "A"})
	submit(t, svc, model.PersonReport{Kind: model.ReportFound, Gender: "male", LocationText: "B"})
	c := submit(t, svc, model.PersonReport{Kind: model.ReportMissing, Gender: "female", LocationText: "C"})

	all, err := svc.ListReports(ctx, repository.ReportFilter{Kind: model.ReportMissing})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a.Report.ID, all[0].ID)
	assert.Equal(t, c.Report.ID, all[1].ID)

	women, err := svc.ListReports(ctx, repository.ReportFilter{Gender: "FEMALE"})
	require.NoError(t, err)
	require.Len(t, women, 1)
	assert.Equal(t, c.Report.ID, women[0].ID)
}
