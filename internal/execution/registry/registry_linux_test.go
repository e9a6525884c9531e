//go:build linux

package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"livecode/internal/execution/engine"
	"livecode/internal/execution/model"
	"livecode/internal/execution/runner"
	"livecode/internal/execution/session"
	appErr "livecode/pkg/errors"
)

type outcomeSink struct {
	mu       sync.Mutex
	outcomes []model.RunOutcome
}

func (s *outcomeSink) Send(_ context.Context, ev model.Event) error {
	if ev.Type != model.EventOutcome {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, *ev.Outcome)
	return nil
}

func (s *outcomeSink) last(t *testing.T) model.RunOutcome {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outcomes) == 0 {
		t.Fatalf("no outcome recorded")
	}
	return s.outcomes[len(s.outcomes)-1]
}

// newShellRegistry runs "python" sources with /bin/sh.
func newShellRegistry(t *testing.T) *Registry {
	t.Helper()
	eng, err := engine.NewEngine(engine.Config{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	set, err := runner.NewSet(runner.Config{
		WorkRoot: t.TempDir(),
		Languages: map[runner.Language]runner.LanguageConfig{
			runner.LanguagePython: {RunCmdTpl: "/bin/sh {src}", SourceFile: "main.sh"},
		},
	}, eng)
	if err != nil {
		t.Fatalf("runner set: %v", err)
	}
	r := New(FromSet(set), nil, Config{Session: session.Config{KillGrace: 50 * time.Millisecond}})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func sleepRequest() model.RunRequest {
	return model.RunRequest{Language: "python", Source: "sleep 30\n"}
}

func waitEmpty(t *testing.T, r *Registry) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for r.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("registry still holds %d sessions", r.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartRejectsSecondRun(t *testing.T) {
	r := newShellRegistry(t)
	ctx := context.Background()
	sink := &outcomeSink{}

	first, err := r.Start(ctx, "conn-1", sleepRequest(), sink)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, err = r.Start(ctx, "conn-1", sleepRequest(), sink)
	if !appErr.Is(err, appErr.AlreadyRunning) {
		t.Fatalf("second start err = %v, want AlreadyRunning", err)
	}
	if id, ok := r.Active("conn-1"); !ok || id != first {
		t.Fatalf("active = %q %v, want %q", id, ok, first)
	}

	// other connections are independent
	if _, err := r.Start(ctx, "conn-2", sleepRequest(), sink); err != nil {
		t.Fatalf("start on another connection: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d", r.Len())
	}
}

func TestStopWaitsForRelease(t *testing.T) {
	r := newShellRegistry(t)
	ctx := context.Background()
	sink := &outcomeSink{}

	if _, err := r.Start(ctx, "conn-1", sleepRequest(), sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.Stop(stopCtx, "conn-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	out := sink.last(t)
	if out.Kind != model.OutcomeKilled || out.Reason != model.ReasonStopped {
		t.Fatalf("outcome = %+v", out)
	}
	if _, ok := r.Active("conn-1"); ok {
		t.Fatalf("session still active after stop")
	}
	waitEmpty(t, r)

	if err := r.Stop(ctx, "conn-1"); !appErr.Is(err, appErr.NoActiveRun) {
		t.Fatalf("stop without run err = %v", err)
	}
}

func TestStartAfterFinishIsAdmitted(t *testing.T) {
	r := newShellRegistry(t)
	ctx := context.Background()
	sink := &outcomeSink{}

	if _, err := r.Start(ctx, "conn-1", model.RunRequest{Language: "python", Source: "exit 0\n"}, sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitEmpty(t, r)
	if _, err := r.Start(ctx, "conn-1", model.RunRequest{Language: "python", Source: "exit 0\n"}, sink); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestOnDisconnectKills(t *testing.T) {
	r := newShellRegistry(t)
	ctx := context.Background()
	sink := &outcomeSink{}

	if _, err := r.Start(ctx, "conn-1", sleepRequest(), sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	discCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	r.OnDisconnect(discCtx, "conn-1")

	out := sink.last(t)
	if out.Kind != model.OutcomeKilled || out.Reason != model.ReasonDisconnected {
		t.Fatalf("outcome = %+v", out)
	}
	r.OnDisconnect(discCtx, "conn-unknown")
}

func TestStartValidatesBeforeAdmission(t *testing.T) {
	r := newShellRegistry(t)
	ctx := context.Background()

	_, err := r.Start(ctx, "conn-1", model.RunRequest{Language: "cobol", Source: "x"}, &outcomeSink{})
	if !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("err = %v, want LanguageNotSupported", err)
	}
	_, err = r.Start(ctx, "conn-1", model.RunRequest{Language: "python"}, &outcomeSink{})
	if appErr.GetCode(err) == appErr.Success {
		t.Fatalf("empty source accepted")
	}
	if r.Len() != 0 {
		t.Fatalf("rejected request left an entry")
	}
}

func TestInputWithoutRun(t *testing.T) {
	r := newShellRegistry(t)
	if err := r.Input("conn-1", "x\n"); !appErr.Is(err, appErr.NoActiveRun) {
		t.Fatalf("err = %v", err)
	}
}

func TestShutdownKillsEverything(t *testing.T) {
	r := newShellRegistry(t)
	ctx := context.Background()
	sink := &outcomeSink{}
	for _, conn := range []string{"a", "b", "c"} {
		if _, err := r.Start(ctx, conn, sleepRequest(), sink); err != nil {
			t.Fatalf("start %s: %v", conn, err)
		}
	}

	shutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.Shutdown(shutCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("len after shutdown = %d", r.Len())
	}
	if out := sink.last(t); out.Reason != model.ReasonShutdown {
		t.Fatalf("outcome = %+v", out)
	}
}
