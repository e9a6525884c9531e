//go:build linux

package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"livecode/internal/execution/engine"
)

func shellSet(t *testing.T, compileTpl string, compileTimeout time.Duration) *Set {
	t.Helper()
	eng, err := engine.NewEngine(engine.Config{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	s, err := NewSet(Config{
		WorkRoot:       t.TempDir(),
		CompileTimeout: compileTimeout,
		KillGrace:      50 * time.Millisecond,
		Languages: map[Language]LanguageConfig{
			LanguageC: {CompileCmdTpl: compileTpl, RunCmdTpl: "/bin/sh {src}", SourceFile: "main.c", BinaryFile: "main"},
		},
	}, eng)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	return s
}

func TestCompileFailureCapturesLog(t *testing.T) {
	s := shellSet(t, `/bin/sh -c "echo main.c:1: error: expected semicolon >&2; exit 1"`, 5*time.Second)
	a, _ := s.Resolve("c")
	ws, err := a.Prepare("sess-c1", "int main() { return 0 }")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer ws.Remove()

	res, err := a.Compile(context.Background(), ws)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if res.OK || !strings.Contains(res.Log, "error: expected semicolon") {
		t.Fatalf("result = %+v", res)
	}
}

func TestCompileTimeout(t *testing.T) {
	s := shellSet(t, `/bin/sh -c "sleep 30"`, 100*time.Millisecond)
	a, _ := s.Resolve("c")
	ws, err := a.Prepare("sess-c2", "")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer ws.Remove()

	res, err := a.Compile(context.Background(), ws)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if res.OK || !res.TimedOut || res.Log != "compilation timed out" {
		t.Fatalf("result = %+v", res)
	}
}

func TestLaunchRunsProgram(t *testing.T) {
	s := shellSet(t, `/bin/true`, 5*time.Second)
	a, _ := s.Resolve("c")
	ws, err := a.Prepare("sess-c3", "echo launched")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer ws.Remove()

	proc, err := a.Launch(context.Background(), ws)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer proc.Release()
	buf := make([]byte, 64)
	n, _ := proc.Stdout().Read(buf)
	<-proc.Done()
	if strings.TrimSpace(string(buf[:n])) != "launched" {
		t.Fatalf("stdout = %q", buf[:n])
	}
}
