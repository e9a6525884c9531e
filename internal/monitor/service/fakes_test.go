package service

import (
	"context"
	"errors"
	"sync"

	"livecode/internal/monitor/model"
	"livecode/internal/monitor/repository"
)

type fakeStore struct {
	mu       sync.Mutex
	cohorts  map[string]model.CohortFilter
	students map[model.CohortFilter][]model.StudentRow
	scores   map[string]map[string]float64
	listErr  error
	lists    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cohorts:  map[string]model.CohortFilter{},
		students: map[model.CohortFilter][]model.StudentRow{},
		scores:   map[string]map[string]float64{},
	}
}

func (f *fakeStore) GetCohort(_ context.Context, testID string) (model.CohortFilter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cohorts[testID]
	if !ok {
		return model.CohortFilter{}, repository.ErrTestNotFound
	}
	return c, nil
}

func (f *fakeStore) ListCohortStudents(_ context.Context, _ string, filter model.CohortFilter) ([]model.StudentRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.students[filter], nil
}

func (f *fakeStore) LatestScores(_ context.Context, testID string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scores[testID], nil
}

func (f *fakeStore) listCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

type sent struct {
	observerID string
	env        model.Envelope
}

type fakeTransport struct {
	mu      sync.Mutex
	frames  []sent
	failFor map[string]bool
}

func (f *fakeTransport) Send(_ context.Context, observerID string, env model.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[observerID] {
		return errors.New("connection closed")
	}
	f.frames = append(f.frames, sent{observerID: observerID, env: env})
	return nil
}

func (f *fakeTransport) framesFor(observerID string) []model.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Envelope
	for _, s := range f.frames {
		if s.observerID == observerID {
			out = append(out, s.env)
		}
	}
	return out
}

func (f *fakeTransport) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func strPtr(s string) *string { return &s }

func floatPtr(v float64) *float64 { return &v }
