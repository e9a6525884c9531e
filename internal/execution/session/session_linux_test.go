//go:build linux

package session

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"livecode/internal/execution/engine"
	"livecode/internal/execution/model"
	"livecode/internal/execution/runner"
	appErr "livecode/pkg/errors"
)

type shellEnv struct {
	workRoot string
	set      *runner.Set
}

// newShellEnv maps "python" to /bin/sh and "c" to a scripted compiler so the
// tests run without real toolchains.
func newShellEnv(t *testing.T, compileTpl string) *shellEnv {
	t.Helper()
	eng, err := engine.NewEngine(engine.Config{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	root := t.TempDir()
	set, err := runner.NewSet(runner.Config{
		WorkRoot:  root,
		KillGrace: 50 * time.Millisecond,
		Languages: map[runner.Language]runner.LanguageConfig{
			runner.LanguagePython: {RunCmdTpl: "/bin/sh {src}", SourceFile: "main.sh"},
			runner.LanguageC:      {CompileCmdTpl: compileTpl, RunCmdTpl: "/bin/sh {src}", SourceFile: "main.c", BinaryFile: "main"},
		},
	}, eng)
	if err != nil {
		t.Fatalf("runner set: %v", err)
	}
	return &shellEnv{workRoot: root, set: set}
}

func (e *shellEnv) session(t *testing.T, lang string, req model.RunRequest, cfg Config) (*Session, *recordingSink) {
	t.Helper()
	a, err := e.set.Resolve(lang)
	if err != nil {
		t.Fatalf("resolve %s: %v", lang, err)
	}
	req.Language = lang
	if req.StdinPolicy == "" {
		req.StdinPolicy = model.StdinInteractive
	}
	if cfg.KillGrace == 0 {
		cfg.KillGrace = 50 * time.Millisecond
	}
	sink := &recordingSink{}
	s := New(Params{
		ID:           "sess-" + strings.ReplaceAll(t.Name(), "/", "-"),
		ConnectionID: "conn-1",
		Request:      req,
		Adapter:      a,
		Sink:         sink,
		Config:       cfg,
	})
	return s, sink
}

func (e *shellEnv) assertWorkspaceRemoved(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.workRoot)
	if err != nil {
		t.Fatalf("read work root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("workspace left behind: %v", entries[0].Name())
	}
}

func waitState(t *testing.T, s *Session, want State, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", s.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionCompletes(t *testing.T) {
	env := newShellEnv(t, "")
	s, sink := env.session(t, "python", model.RunRequest{Source: "echo hi\necho oops 1>&2\n"}, Config{})
	s.Run()
	waitSession(t, s, time.Second)

	out := sink.outcome(t)
	if out.Kind != model.OutcomeCompleted || out.ExitCode == nil || *out.ExitCode != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	if got := sink.output(model.StreamStdout); got != "hi\n" {
		t.Fatalf("stdout = %q", got)
	}
	if got := sink.output(model.StreamStderr); got != "oops\n" {
		t.Fatalf("stderr = %q", got)
	}
	if first := sink.snapshot()[0]; first.Type != model.EventStarted {
		t.Fatalf("first event = %s", first.Type)
	}
	if sink.count(model.EventOutcome) != 1 {
		t.Fatalf("expected exactly one outcome")
	}
	if s.State() != StateCompleted || !s.OutcomeEmitted() {
		t.Fatalf("state = %s", s.State())
	}
	env.assertWorkspaceRemoved(t)
}

// processAlive treats a zombie as gone: it was killed and awaits its new parent's reap.
func processAlive(pid int) bool {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	fields := strings.Fields(string(data[strings.LastIndexByte(string(data), ')')+1:]))
	return len(fields) > 0 && fields[0] != "Z" && fields[0] != "X"
}

func TestSessionKillsBackgroundChildrenOnExit(t *testing.T) {
	env := newShellEnv(t, "")
	s, sink := env.session(t, "python", model.RunRequest{Source: "sleep 30 >/dev/null 2>&1 &\necho $!\n"}, Config{})
	s.Run()
	waitSession(t, s, 5*time.Second)

	if out := sink.outcome(t); out.Kind != model.OutcomeCompleted {
		t.Fatalf("outcome = %+v", out)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(sink.output(model.StreamStdout)))
	if err != nil {
		t.Fatalf("background pid: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for processAlive(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("background child %d outlived the session", pid)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionRuntimeError(t *testing.T) {
	env := newShellEnv(t, "")
	s, sink := env.session(t, "python", model.RunRequest{Source: "exit 3\n"}, Config{})
	s.Run()

	out := sink.outcome(t)
	if out.Kind != model.OutcomeRuntimeError || out.ExitCode == nil || *out.ExitCode != 3 {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Code() != appErr.RuntimeError {
		t.Fatalf("code = %d", out.Code())
	}
	env.assertWorkspaceRemoved(t)
}

func TestSessionTimesOutAtDeadline(t *testing.T) {
	env := newShellEnv(t, "")
	s, sink := env.session(t, "python", model.RunRequest{Source: "sleep 30\n"}, Config{WallTimeout: 200 * time.Millisecond})

	start := time.Now()
	s.Run()
	elapsed := time.Since(start)

	out := sink.outcome(t)
	if out.Kind != model.OutcomeTimedOut {
		t.Fatalf("outcome = %+v", out)
	}
	if out.ElapsedMs < 200 {
		t.Fatalf("elapsed %dms is before the deadline", out.ElapsedMs)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("run took %v", elapsed)
	}
	if s.Deadline().IsZero() {
		t.Fatalf("deadline not recorded")
	}
	env.assertWorkspaceRemoved(t)
}

func TestSessionFinishingBeforeDeadlineIsNotTimedOut(t *testing.T) {
	env := newShellEnv(t, "")
	s, sink := env.session(t, "python", model.RunRequest{Source: "sleep 0.05\n"}, Config{WallTimeout: 2 * time.Second})
	s.Run()

	if out := sink.outcome(t); out.Kind != model.OutcomeCompleted {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestSessionKillWhileRunning(t *testing.T) {
	env := newShellEnv(t, "")
	s, sink := env.session(t, "python", model.RunRequest{Source: "echo ready\nsleep 30\n"}, Config{})
	go s.Run()

	waitState(t, s, StateRunning, 2*time.Second)
	s.Kill(model.ReasonStopped)
	s.Kill(model.ReasonDisconnected)
	waitSession(t, s, 3*time.Second)

	out := sink.outcome(t)
	if out.Kind != model.OutcomeKilled || out.Reason != model.ReasonStopped {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Code() != appErr.ExecutionKilled {
		t.Fatalf("code = %d", out.Code())
	}
	env.assertWorkspaceRemoved(t)
}

func TestSessionForwardsInteractiveInput(t *testing.T) {
	env := newShellEnv(t, "")
	s, sink := env.session(t, "python", model.RunRequest{Source: "read line\necho got $line\n"}, Config{})

	// queued before launch
	s.Input("abc\n")
	s.Run()

	if got := sink.output(model.StreamStdout); got != "got abc\n" {
		t.Fatalf("stdout = %q", got)
	}
	if out := sink.outcome(t); out.Kind != model.OutcomeCompleted {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestSessionClosedStdinWritesPreset(t *testing.T) {
	env := newShellEnv(t, "")
	s, sink := env.session(t, "python", model.RunRequest{
		Source:      "read x\necho $x\ncat\necho end\n",
		StdinPolicy: model.StdinClosed,
		Stdin:       "5\n",
	}, Config{WallTimeout: 3 * time.Second})
	s.Input("ignored\n")
	s.Run()

	if got := sink.output(model.StreamStdout); got != "5\nend\n" {
		t.Fatalf("stdout = %q", got)
	}
	if out := sink.outcome(t); out.Kind != model.OutcomeCompleted {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestSessionInputAfterFinishIsDropped(t *testing.T) {
	env := newShellEnv(t, "")
	s, sink := env.session(t, "python", model.RunRequest{Source: "exit 0\n"}, Config{})
	s.Run()

	before := len(sink.snapshot())
	s.Input("late\n")
	if len(sink.snapshot()) != before {
		t.Fatalf("input after outcome produced events")
	}
}

func TestSessionOversizeInputNotice(t *testing.T) {
	env := newShellEnv(t, "")
	s, sink := env.session(t, "python", model.RunRequest{Source: "exit 0\n"}, Config{MaxInputBytes: 4})
	s.Input("too long\n")
	if sink.count(model.EventNotice) != 1 {
		t.Fatalf("expected one notice, got %+v", sink.snapshot())
	}
	s.Run()
}

func TestSessionCompileError(t *testing.T) {
	env := newShellEnv(t, `/bin/sh -c "echo main.c:1:1: error: expected semicolon >&2; exit 1"`)
	s, sink := env.session(t, "c", model.RunRequest{Source: "int main() { return 0 }"}, Config{})
	s.Run()

	out := sink.outcome(t)
	if out.Kind != model.OutcomeCompileError || !strings.Contains(out.CompileLog, "error: expected semicolon") {
		t.Fatalf("outcome = %+v", out)
	}
	if out.ExitCode != nil {
		t.Fatalf("compile error must not carry an exit code")
	}
	if sink.count(model.EventCompileLog) != 1 || sink.count(model.EventOutput) != 0 {
		t.Fatalf("events = %+v", sink.snapshot())
	}
	if s.State() != StateCompileFailed {
		t.Fatalf("state = %s", s.State())
	}
	env.assertWorkspaceRemoved(t)
}

func TestSessionKillDuringCompile(t *testing.T) {
	env := newShellEnv(t, `/bin/sh -c "sleep 30"`)
	s, sink := env.session(t, "c", model.RunRequest{Source: "int main() {}"}, Config{})
	go s.Run()

	waitState(t, s, StateCompiling, 2*time.Second)
	s.Kill(model.ReasonStopped)
	waitSession(t, s, 3*time.Second)

	out := sink.outcome(t)
	if out.Kind != model.OutcomeKilled || out.Reason != model.ReasonStopped {
		t.Fatalf("outcome = %+v", out)
	}
	env.assertWorkspaceRemoved(t)
}

type failingAdapter struct {
	*runner.Adapter
	err error
}

func (f failingAdapter) Prepare(string, string) (*runner.Workspace, error) { return nil, f.err }

func TestSessionPrepareFailureEmitsErrorOnly(t *testing.T) {
	env := newShellEnv(t, "")
	a, _ := env.set.Resolve("python")
	sink := &recordingSink{}
	s := New(Params{
		ID:      "sess-fail",
		Request: model.RunRequest{Language: "python", Source: "exit 0"},
		Adapter: failingAdapter{Adapter: a, err: appErr.WorkspaceFailure(errors.New("disk full"), "create")},
		Sink:    sink,
	})
	s.Run()
	waitSession(t, s, time.Second)

	if sink.count(model.EventOutcome) != 0 {
		t.Fatalf("failed session must not emit an outcome")
	}
	events := sink.snapshot()
	last := events[len(events)-1]
	if last.Type != model.EventError || last.Code != int(appErr.WorkspaceError) {
		t.Fatalf("last event = %+v", last)
	}
	if s.State() != StateFailed {
		t.Fatalf("state = %s", s.State())
	}
}

type recordingArchiver struct {
	got []model.Transcript
}

func (r *recordingArchiver) Archive(_ context.Context, tr model.Transcript) error {
	r.got = append(r.got, tr)
	return nil
}

func TestSessionArchivesTranscript(t *testing.T) {
	env := newShellEnv(t, "")
	a, _ := env.set.Resolve("python")
	arch := &recordingArchiver{}
	s := New(Params{
		ID:           "sess-archive",
		ConnectionID: "conn-a",
		Request:      model.RunRequest{Language: "python", Source: "echo archived\n", StdinPolicy: model.StdinInteractive},
		Adapter:      a,
		Sink:         &recordingSink{},
		Archiver:     arch,
	})
	s.Run()

	if len(arch.got) != 1 {
		t.Fatalf("archived %d transcripts", len(arch.got))
	}
	tr := arch.got[0]
	if tr.Outcome == nil || tr.Outcome.Kind != model.OutcomeCompleted {
		t.Fatalf("transcript outcome = %+v", tr.Outcome)
	}
	if len(tr.Output) != 1 || tr.Output[0].Data != "archived\n" || tr.Output[0].Stream != model.StreamStdout {
		t.Fatalf("transcript output = %+v", tr.Output)
	}
	if tr.ConnectionID != "conn-a" {
		t.Fatalf("connection id = %q", tr.ConnectionID)
	}
}

func TestSessionOutputLimitKills(t *testing.T) {
	env := newShellEnv(t, "")
	s, sink := env.session(t, "python", model.RunRequest{Source: "while :; do echo abcdefgh; done\n"}, Config{MaxOutputBytes: 1000})
	s.Run()

	total := len(sink.output(model.StreamStdout))
	if total != 1000 {
		t.Fatalf("forwarded %d bytes, want exactly the cap", total)
	}
	if sink.count(model.EventNotice) != 1 {
		t.Fatalf("expected a truncation notice")
	}
	out := sink.outcome(t)
	if out.Kind != model.OutcomeKilled || out.Reason != model.ReasonOutputLimit {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Code() != appErr.OutputLimitExceeded {
		t.Fatalf("code = %d", out.Code())
	}
	env.assertWorkspaceRemoved(t)
}
