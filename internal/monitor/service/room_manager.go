package service

import (
	"context"
	"sort"
	"sync"

	"livecode/internal/monitor/model"
	"livecode/pkg/utils/contextkey"
	"livecode/pkg/utils/logger"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

// Transport delivers frames to one observer connection.
type Transport interface {
	Send(ctx context.Context, observerID string, env model.Envelope) error
}

// SnapshotSource resolves cohorts and builds snapshot sets.
type SnapshotSource interface {
	Cohort(ctx context.Context, testID string) (model.CohortFilter, error)
	FetchCohort(ctx context.Context, testID string, filter model.CohortFilter) ([]model.StudentProgressSnapshot, error)
}

type room struct {
	testID string
	// cohort is fixed when the room is created.
	cohort model.CohortFilter

	mu        sync.Mutex
	observers mapset.Set[string]
	closed    bool
}

// RoomManager groups observers by test id. The manager lock only guards the
// room map; membership changes lock the affected room alone.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[string]*room

	source    SnapshotSource
	transport Transport
}

func NewRoomManager(source SnapshotSource, transport Transport) *RoomManager {
	return &RoomManager{
		rooms:     make(map[string]*room),
		source:    source,
		transport: transport,
	}
}

// Join adds observerID to the room of testID and sends it the current
// snapshot. An unknown test creates no room. When the snapshot cannot be
// loaded the observer receives the error and stays joined.
func (m *RoomManager) Join(ctx context.Context, testID, observerID string) error {
	ctx = context.WithValue(ctx, contextkey.TestID, testID)
	filter, err := m.source.Cohort(ctx, testID)
	if err != nil {
		return err
	}

	r := m.addObserver(testID, observerID, filter)
	logger.Info(ctx, "observer joined room", zap.String("observer_id", observerID))

	students, err := m.source.FetchCohort(ctx, testID, r.cohort)
	if err != nil {
		logger.Warn(ctx, "initial snapshot failed", zap.String("observer_id", observerID), zap.Error(err))
		return err
	}
	return m.transport.Send(ctx, observerID, model.SnapshotEnvelope(testID, students))
}

func (m *RoomManager) addObserver(testID, observerID string, filter model.CohortFilter) *room {
	for {
		m.mu.Lock()
		r, ok := m.rooms[testID]
		if !ok {
			r = &room{testID: testID, cohort: filter, observers: mapset.NewThreadUnsafeSet[string]()}
			m.rooms[testID] = r
		}
		m.mu.Unlock()

		r.mu.Lock()
		if r.closed {
			// lost a race with the last Leave; the map entry is going away
			r.mu.Unlock()
			continue
		}
		r.observers.Add(observerID)
		r.mu.Unlock()
		return r
	}
}

// Leave removes observerID from the room of testID and destroys the room
// when it was the last observer.
func (m *RoomManager) Leave(testID, observerID string) {
	r := m.room(testID)
	if r == nil {
		return
	}

	r.mu.Lock()
	r.observers.Remove(observerID)
	empty := r.observers.Cardinality() == 0
	if empty {
		r.closed = true
	}
	r.mu.Unlock()

	if empty {
		m.mu.Lock()
		if m.rooms[testID] == r {
			delete(m.rooms, testID)
		}
		m.mu.Unlock()
	}
}

// LeaveAll removes observerID from every room it joined.
func (m *RoomManager) LeaveAll(observerID string) {
	m.mu.RLock()
	candidates := make([]*room, 0, len(m.rooms))
	for _, r := range m.rooms {
		candidates = append(candidates, r)
	}
	m.mu.RUnlock()

	for _, r := range candidates {
		r.mu.Lock()
		member := r.observers.Contains(observerID)
		r.mu.Unlock()
		if member {
			m.Leave(r.testID, observerID)
		}
	}
}

// Publish sends students to every current observer of testID. Without
// observers it does nothing; the set is not kept for later joiners.
func (m *RoomManager) Publish(ctx context.Context, testID string, students []model.StudentProgressSnapshot) {
	targets := m.Observers(testID)
	if len(targets) == 0 {
		return
	}

	env := model.SnapshotEnvelope(testID, students)
	for _, observerID := range targets {
		if err := m.transport.Send(ctx, observerID, env); err != nil {
			logger.Warn(ctx, "snapshot delivery failed",
				zap.String("test_id", testID),
				zap.String("observer_id", observerID),
				zap.Error(err))
		}
	}
}

// Cohort returns the cohort captured by the room of testID.
func (m *RoomManager) Cohort(testID string) (model.CohortFilter, bool) {
	r := m.room(testID)
	if r == nil {
		return model.CohortFilter{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return model.CohortFilter{}, false
	}
	return r.cohort, true
}

// Observers lists the observers of testID in sorted order.
func (m *RoomManager) Observers(testID string) []string {
	r := m.room(testID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	ids := r.observers.ToSlice()
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Len counts open rooms.
func (m *RoomManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *RoomManager) room(testID string) *room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[testID]
}
