package service

import (
	"context"
	"errors"
	"sort"

	"livecode/internal/monitor/model"
	"livecode/internal/monitor/repository"
	appErr "livecode/pkg/errors"
)

// SnapshotStore is the persistent store read by the synchronizer.
type SnapshotStore interface {
	GetCohort(ctx context.Context, testID string) (model.CohortFilter, error)
	ListCohortStudents(ctx context.Context, testID string, filter model.CohortFilter) ([]model.StudentRow, error)
	LatestScores(ctx context.Context, testID string) (map[string]float64, error)
}

// Synchronizer rebuilds the snapshot set of a test from the store.
// It never writes and is safe for concurrent use.
type Synchronizer struct {
	store SnapshotStore
}

func NewSynchronizer(store SnapshotStore) *Synchronizer {
	return &Synchronizer{store: store}
}

// Cohort resolves the cohort filter of testID.
func (s *Synchronizer) Cohort(ctx context.Context, testID string) (model.CohortFilter, error) {
	filter, err := s.store.GetCohort(ctx, testID)
	if err != nil {
		if errors.Is(err, repository.ErrTestNotFound) {
			return model.CohortFilter{}, appErr.TestNotFoundError(testID)
		}
		return model.CohortFilter{}, appErr.StoreError(err, "get cohort")
	}
	return filter, nil
}

// Fetch resolves the cohort of testID and returns its snapshot set.
func (s *Synchronizer) Fetch(ctx context.Context, testID string) ([]model.StudentProgressSnapshot, error) {
	filter, err := s.Cohort(ctx, testID)
	if err != nil {
		return nil, err
	}
	return s.FetchCohort(ctx, testID, filter)
}

// FetchCohort returns the snapshot set of testID for an already resolved cohort.
func (s *Synchronizer) FetchCohort(ctx context.Context, testID string, filter model.CohortFilter) ([]model.StudentProgressSnapshot, error) {
	rows, err := s.store.ListCohortStudents(ctx, testID, filter)
	if err != nil {
		return nil, appErr.StoreError(err, "list cohort students")
	}
	scores, err := s.store.LatestScores(ctx, testID)
	if err != nil {
		return nil, appErr.StoreError(err, "latest scores")
	}
	return buildSnapshots(rows, scores), nil
}

// buildSnapshots applies defaults for absent status rows, joins scores and
// orders by surname, given name, then student id.
func buildSnapshots(rows []model.StudentRow, scores map[string]float64) []model.StudentProgressSnapshot {
	sorted := make([]model.StudentRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Surname != b.Surname {
			return a.Surname < b.Surname
		}
		if a.GivenName != b.GivenName {
			return a.GivenName < b.GivenName
		}
		return a.StudentID < b.StudentID
	})

	out := make([]model.StudentProgressSnapshot, 0, len(sorted))
	for _, row := range sorted {
		snap := model.StudentProgressSnapshot{
			StudentID:    row.StudentID,
			Name:         displayName(row),
			Email:        row.Email,
			PIN:          row.PIN,
			Status:       model.StatusNotStarted,
			StartTime:    row.StartTime,
			EndTime:      row.EndTime,
			LastActiveAt: row.LastActiveAt,
			Score:        scores[row.StudentID],
		}
		if row.Status != nil && *row.Status != "" {
			snap.Status = *row.Status
		}
		if row.Progress != nil {
			snap.Progress = *row.Progress
		}
		if row.Duration != nil {
			snap.Duration = *row.Duration
		}
		if row.Errors != nil {
			snap.Errors = *row.Errors
		}
		if row.WPM != nil {
			snap.WPM = *row.WPM
		}
		if row.Similarity != nil {
			snap.Similarity = *row.Similarity
		}
		out = append(out, snap)
	}
	return out
}

func displayName(row model.StudentRow) string {
	switch {
	case row.GivenName == "":
		return row.Surname
	case row.Surname == "":
		return row.GivenName
	}
	return row.GivenName + " " + row.Surname
}
