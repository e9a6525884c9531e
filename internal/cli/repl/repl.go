package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"livecode/internal/cli/command"
	"livecode/internal/cli/config"
	httpclient "livecode/internal/cli/http"
	"livecode/internal/cli/live"
	"livecode/internal/cli/render"
	execmodel "livecode/internal/execution/model"
	monitormodel "livecode/internal/monitor/model"
	appErr "livecode/pkg/errors"

	"github.com/chzyer/readline"
	mapset "github.com/deckarep/golang-set/v2"
)

const (
	promptIdle = "live> "
	// program output owns the line while a run is active
	promptRunning = ""
)

// Session holds REPL state. A session drives at most one run and any number
// of watched tests.
type Session struct {
	client      *httpclient.Client
	commands    map[command.Name]command.Command
	stdinPolicy string
	historyFile string
	readFile    func(string) ([]byte, error)

	outMu sync.Mutex
	out   io.Writer

	mu       sync.Mutex
	run      *live.Stream
	running  bool
	monitor  *live.Stream
	watching mapset.Set[string]
	onChange func()
}

func New(client *httpclient.Client, commands map[command.Name]command.Command, cfg config.Config, out io.Writer) *Session {
	return &Session{
		client:      client,
		commands:    commands,
		stdinPolicy: cfg.StdinPolicy,
		historyFile: cfg.HistoryFile,
		readFile:    os.ReadFile,
		out:         out,
		watching:    mapset.NewThreadUnsafeSet[string](),
	}
}

// Run reads lines until exit or EOF. Ctrl-C stops the active run.
func (s *Session) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          promptIdle,
		HistoryFile:     s.historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init line editor failed: %w", err)
	}
	defer func() { _ = rl.Close() }()
	defer s.Close()

	s.outMu.Lock()
	s.out = rl.Stdout()
	s.outMu.Unlock()
	s.mu.Lock()
	s.onChange = func() {
		rl.SetPrompt(s.prompt())
		rl.Refresh()
	}
	s.mu.Unlock()

	for {
		rl.SetPrompt(s.prompt())
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if s.Running() {
				_ = s.stop()
			}
			continue
		}
		if err != nil {
			return nil
		}
		quit, err := s.HandleLine(ctx, line)
		if err != nil {
			s.printf("error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// HandleLine runs one input line. While a run is active, lines are sent to
// the program's stdin unless they start with ':'.
func (s *Session) HandleLine(ctx context.Context, line string) (bool, error) {
	if s.Running() && !strings.HasPrefix(line, ":") {
		return false, s.sendInput(line + "\n")
	}
	line = strings.TrimPrefix(strings.TrimSpace(line), ":")
	if line == "" {
		return false, nil
	}
	inv, err := command.Parse(s.commands, line)
	if err != nil {
		return false, err
	}
	switch inv.Command.Name {
	case command.Run:
		return false, s.startRun(ctx, inv.Args[0], inv.Args[1])
	case command.Stop:
		return false, s.stop()
	case command.Watch:
		return false, s.watch(ctx, inv.Args[0])
	case command.Unwatch:
		return false, s.unwatch(inv.Args[0])
	case command.Broadcast:
		return false, s.broadcast(ctx, inv.Args[0])
	case command.Health:
		return false, s.health(ctx)
	case command.Set:
		return false, s.set(inv.Args[0], inv.Args[1])
	case command.Help:
		s.printHelp()
		return false, nil
	case command.Exit:
		return true, nil
	}
	return false, fmt.Errorf("unhandled command %s", inv.Command.Name)
}

// Running reports whether a run is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Watching lists the watched tests.
func (s *Session) Watching() []string {
	s.mu.Lock()
	ids := s.watching.ToSlice()
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Close disconnects both channels. The service stops the run on disconnect.
func (s *Session) Close() {
	s.mu.Lock()
	run, monitor := s.run, s.monitor
	s.run, s.monitor = nil, nil
	s.running = false
	s.mu.Unlock()
	if run != nil {
		_ = run.Close()
	}
	if monitor != nil {
		_ = monitor.Close()
	}
}

func (s *Session) startRun(ctx context.Context, language, path string) error {
	source, err := s.readFile(path)
	if err != nil {
		return fmt.Errorf("read source failed: %w", err)
	}
	stream, err := s.runStream(ctx)
	if err != nil {
		return err
	}
	s.setRunning(true)
	frame := execmodel.ClientFrame{
		Type: execmodel.FrameRun,
		RunRequest: execmodel.RunRequest{
			Language:    language,
			Source:      string(source),
			StdinPolicy: execmodel.StdinPolicy(s.stdinPolicy),
		},
	}
	if err := stream.Send(frame); err != nil {
		s.setRunning(false)
		return fmt.Errorf("send run failed: %w", err)
	}
	return nil
}

func (s *Session) sendInput(data string) error {
	s.mu.Lock()
	stream := s.run
	s.mu.Unlock()
	if stream == nil {
		return fmt.Errorf("no active run")
	}
	return stream.Send(execmodel.ClientFrame{Type: execmodel.FrameInput, Data: data})
}

func (s *Session) stop() error {
	s.mu.Lock()
	stream := s.run
	s.mu.Unlock()
	if stream == nil || stream.Closed() {
		return fmt.Errorf("no active run")
	}
	return stream.Send(execmodel.ClientFrame{Type: execmodel.FrameStop})
}

func (s *Session) runStream(ctx context.Context) (*live.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil && !s.run.Closed() {
		return s.run, nil
	}
	url, err := config.WebSocketURL(s.client.BaseURL(), "/ws/run")
	if err != nil {
		return nil, err
	}
	stream, err := live.Dial(ctx, url, s.onRunFrame)
	if err != nil {
		return nil, err
	}
	s.run = stream
	return stream, nil
}

func (s *Session) onRunFrame(data []byte) {
	var ev execmodel.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		s.printf("bad frame: %v\n", err)
		return
	}
	s.outMu.Lock()
	render.Event(s.out, ev)
	s.outMu.Unlock()
	switch {
	case ev.Type == execmodel.EventOutcome:
		s.setRunning(false)
	case ev.Type == execmodel.EventError && ev.Code != int(appErr.InputTooLarge):
		// rejected starts and failed sessions; an oversize input leaves the run going
		s.setRunning(false)
	}
}

func (s *Session) watch(ctx context.Context, testID string) error {
	stream, err := s.monitorStream(ctx)
	if err != nil {
		return err
	}
	// added first: an error reply may arrive before Send returns
	s.mu.Lock()
	s.watching.Add(testID)
	s.mu.Unlock()
	if err := stream.Send(monitormodel.ObserverFrame{Type: monitormodel.FrameJoin, TestID: testID}); err != nil {
		s.mu.Lock()
		s.watching.Remove(testID)
		s.mu.Unlock()
		return fmt.Errorf("send join failed: %w", err)
	}
	return nil
}

func (s *Session) unwatch(testID string) error {
	s.mu.Lock()
	stream := s.monitor
	known := s.watching.Contains(testID)
	s.watching.Remove(testID)
	s.mu.Unlock()
	if stream == nil || !known {
		return fmt.Errorf("not watching %s", testID)
	}
	return stream.Send(monitormodel.ObserverFrame{Type: monitormodel.FrameLeave, TestID: testID})
}

func (s *Session) monitorStream(ctx context.Context) (*live.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor != nil && !s.monitor.Closed() {
		return s.monitor, nil
	}
	url, err := config.WebSocketURL(s.client.BaseURL(), "/ws/monitor")
	if err != nil {
		return nil, err
	}
	stream, err := live.Dial(ctx, url, s.onMonitorFrame)
	if err != nil {
		return nil, err
	}
	s.monitor = stream
	// a new connection starts with no rooms
	s.watching.Clear()
	return stream, nil
}

func (s *Session) onMonitorFrame(data []byte) {
	var env monitormodel.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.printf("bad frame: %v\n", err)
		return
	}
	if env.Type == monitormodel.FrameError && env.TestID != "" {
		s.mu.Lock()
		s.watching.Remove(env.TestID)
		s.mu.Unlock()
	}
	s.outMu.Lock()
	render.Snapshot(s.out, env)
	s.outMu.Unlock()
}

func (s *Session) broadcast(ctx context.Context, testID string) error {
	resp, err := s.client.Do(ctx, http.MethodPost, "/api/v1/monitor/tests/"+testID+"/broadcast", nil)
	if err != nil {
		return err
	}
	env, err := resp.Decode()
	if err != nil {
		return err
	}
	s.printf("HTTP %d (%s) %s %s\n", resp.StatusCode, resp.Duration.Round(time.Millisecond), env.Message, string(env.Data))
	return nil
}

func (s *Session) health(ctx context.Context) error {
	resp, err := s.client.Do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	s.printf("HTTP %d %s\n", resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	return nil
}

func (s *Session) set(key, value string) error {
	switch key {
	case "base":
		if _, err := config.WebSocketURL(value, ""); err != nil {
			return err
		}
		s.Close()
		s.client.SetBaseURL(strings.TrimRight(value, "/"))
		s.printf("base set to %s\n", value)
	case "timeout":
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		s.client.SetTimeout(dur)
		s.printf("timeout set to %s\n", dur)
	case "stdin":
		policy := execmodel.StdinPolicy(value)
		if policy != execmodel.StdinInteractive && policy != execmodel.StdinClosed {
			return fmt.Errorf("stdin must be %s or %s", execmodel.StdinInteractive, execmodel.StdinClosed)
		}
		s.stdinPolicy = value
		s.printf("stdin policy set to %s\n", value)
	default:
		return fmt.Errorf("usage: %s", s.commands[command.Set].Usage)
	}
	return nil
}

func (s *Session) setRunning(v bool) {
	s.mu.Lock()
	changed := s.running != v
	s.running = v
	onChange := s.onChange
	s.mu.Unlock()
	if changed && onChange != nil {
		onChange()
	}
}

func (s *Session) prompt() string {
	if s.Running() {
		return promptRunning
	}
	return promptIdle
}

func (s *Session) printHelp() {
	for _, c := range command.Sorted(s.commands) {
		s.printf("  %-32s %s\n", c.Usage, c.Summary)
	}
	s.printf("while a run is active, prefix commands with ':' (e.g. :stop)\n")
}

func (s *Session) printf(format string, args ...interface{}) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	_, _ = fmt.Fprintf(s.out, format, args...)
}
