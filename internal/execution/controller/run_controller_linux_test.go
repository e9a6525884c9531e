//go:build linux

package controller

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"livecode/internal/execution/engine"
	"livecode/internal/execution/model"
	"livecode/internal/execution/registry"
	"livecode/internal/execution/runner"
	"livecode/internal/execution/session"
	appErr "livecode/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newRunServer(t *testing.T) (*registry.Registry, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
	reg := registry.New(registry.FromSet(set), nil, registry.Config{Session: session.Config{KillGrace: 50 * time.Millisecond}})

	r := gin.New()
	r.GET("/ws/run", NewRunController(reg, Config{}).Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return reg, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/run"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) model.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev model.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func readUntil(t *testing.T, conn *websocket.Conn, typ model.EventType) (model.Event, []model.Event) {
	t.Helper()
	var seen []model.Event
	for {
		ev := readEvent(t, conn)
		seen = append(seen, ev)
		if ev.Type == typ {
			return ev, seen
		}
	}
}

func TestRunChannelStreamsOutputAndOutcome(t *testing.T) {
	_, url := newRunServer(t)
	conn := dial(t, url)

	if err := conn.WriteJSON(map[string]string{"type": "run", "language": "python", "source": "read x\necho got $x\n"}); err != nil {
		t.Fatalf("write run: %v", err)
	}
	started := readEvent(t, conn)
	if started.Type != model.EventStarted || started.SessionID == "" {
		t.Fatalf("first event = %+v", started)
	}
	if err := conn.WriteJSON(map[string]string{"type": "input", "data": "42\n"}); err != nil {
		t.Fatalf("write input: %v", err)
	}

	outcome, seen := readUntil(t, conn, model.EventOutcome)
	var stdout string
	for _, ev := range seen {
		if ev.Type == model.EventOutput && ev.Stream == model.StreamStdout {
			stdout += ev.Data
		}
	}
	if stdout != "got 42\n" {
		t.Fatalf("stdout = %q", stdout)
	}
	if outcome.Outcome == nil || outcome.Outcome.Kind != model.OutcomeCompleted {
		t.Fatalf("outcome = %+v", outcome.Outcome)
	}
}

func TestRunChannelRejectsSecondRunAndStops(t *testing.T) {
	_, url := newRunServer(t)
	conn := dial(t, url)

	run := map[string]string{"type": "run", "language": "python", "source": "sleep 30\n"}
	if err := conn.WriteJSON(run); err != nil {
		t.Fatalf("write run: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != model.EventStarted {
		t.Fatalf("first event = %+v", ev)
	}
	if err := conn.WriteJSON(run); err != nil {
		t.Fatalf("write second run: %v", err)
	}
	errEv, _ := readUntil(t, conn, model.EventError)
	if errEv.Code != int(appErr.AlreadyRunning) {
		t.Fatalf("error code = %d", errEv.Code)
	}

	if err := conn.WriteJSON(map[string]string{"type": "stop"}); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	outcome, _ := readUntil(t, conn, model.EventOutcome)
	if outcome.Outcome.Kind != model.OutcomeKilled || outcome.Outcome.Reason != model.ReasonStopped {
		t.Fatalf("outcome = %+v", outcome.Outcome)
	}
}

func TestRunChannelReportsBadFrames(t *testing.T) {
	_, url := newRunServer(t)
	conn := dial(t, url)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != model.EventError || ev.Code != int(appErr.InvalidFormat) {
		t.Fatalf("event = %+v", ev)
	}

	if err := conn.WriteJSON(map[string]string{"type": "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Type != model.EventError || ev.Code != int(appErr.ValidationFailed) {
		t.Fatalf("event = %+v", ev)
	}
	if !strings.Contains(ev.Message, "field=type") || !strings.Contains(ev.Message, "reason=must be run, input or stop") {
		t.Fatalf("message = %q", ev.Message)
	}

	if err := conn.WriteJSON(map[string]string{"type": "input", "data": "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev := readEvent(t, conn); ev.Code != int(appErr.NoActiveRun) {
		t.Fatalf("event = %+v", ev)
	}
}

func TestDisconnectReleasesSession(t *testing.T) {
	reg, url := newRunServer(t)
	conn := dial(t, url)

	if err := conn.WriteJSON(map[string]string{"type": "run", "language": "python", "source": "sleep 30\n"}); err != nil {
		t.Fatalf("write run: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != model.EventStarted {
		t.Fatalf("first event = %+v", ev)
	}
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for reg.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	_ = reg.Shutdown(context.Background())
}
