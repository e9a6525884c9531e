package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"livecode/internal/execution/model"
)

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recordingSink) Send(_ context.Context, ev model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) snapshot() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingSink) output(stream model.Stream) string {
	var out string
	for _, ev := range r.snapshot() {
		if ev.Type == model.EventOutput && ev.Stream == stream {
			out += ev.Data
		}
	}
	return out
}

func (r *recordingSink) count(typ model.EventType) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (r *recordingSink) outcome(t *testing.T) model.RunOutcome {
	t.Helper()
	events := r.snapshot()
	if len(events) == 0 {
		t.Fatalf("no events recorded")
	}
	last := events[len(events)-1]
	if last.Type != model.EventOutcome || last.Outcome == nil {
		t.Fatalf("last event = %+v, want outcome", last)
	}
	return *last.Outcome
}

func waitSession(t *testing.T, s *Session, within time.Duration) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(within):
		t.Fatalf("session %s not done within %v (state %s)", s.ID(), within, s.State())
	}
}
