package render

import (
	"bytes"
	"strings"
	"testing"

	execmodel "livecode/internal/execution/model"
	monitormodel "livecode/internal/monitor/model"
)

func TestEventOutputIsVerbatim(t *testing.T) {
	var buf bytes.Buffer
	Event(&buf, execmodel.OutputEvent("s1", execmodel.StreamStdout, "2\n"))
	Event(&buf, execmodel.OutputEvent("s1", execmodel.StreamStdout, "partial"))
	if buf.String() != "2\npartial" {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestOutcomeLine(t *testing.T) {
	code := 1
	got := Outcome(execmodel.RunOutcome{Kind: execmodel.OutcomeRuntimeError, ExitCode: &code, ElapsedMs: 42})
	if got != "RuntimeError exit=1 42ms" {
		t.Fatalf("outcome = %q", got)
	}
	got = Outcome(execmodel.RunOutcome{Kind: execmodel.OutcomeKilled, Reason: execmodel.ReasonStopped, ElapsedMs: 7})
	if got != "Killed reason=stopped 7ms" {
		t.Fatalf("outcome = %q", got)
	}
}

func TestSnapshotTable(t *testing.T) {
	var buf bytes.Buffer
	Snapshot(&buf, monitormodel.SnapshotEnvelope("T1", []monitormodel.StudentProgressSnapshot{
		{StudentID: "s1", Name: "Ada Lovelace", Status: monitormodel.StatusNotStarted},
		{StudentID: "s2", Name: "Alan Turing", Status: monitormodel.StatusSubmitted, Progress: 100, Score: 85},
	}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 || lines[0] != "== T1: 2 students ==" {
		t.Fatalf("table = %q", buf.String())
	}
	if !strings.HasPrefix(lines[3], "s2") || !strings.Contains(lines[3], "85") || !strings.Contains(lines[3], "100%") {
		t.Fatalf("row = %q", lines[3])
	}
}

func TestSnapshotError(t *testing.T) {
	var buf bytes.Buffer
	Snapshot(&buf, monitormodel.Envelope{Type: monitormodel.FrameError, TestID: "T9", Code: 13300, Message: "test T9 not found"})
	if buf.String() != "[T9 error 13300] test T9 not found\n" {
		t.Fatalf("got %q", buf.String())
	}
}
