// Package session drives one compile-and-run of student code and streams its I/O.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"livecode/internal/execution/engine"
	"livecode/internal/execution/model"
	"livecode/internal/execution/runner"
	appErr "livecode/pkg/errors"
	"livecode/pkg/utils/contextkey"
	"livecode/pkg/utils/logger"

	"go.uber.org/zap"
)

// Sink receives the session's events in order. It must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, ev model.Event) error
}

// Adapter is the language variant a session runs with.
type Adapter interface {
	Language() runner.Language
	TimeMultiplier() float64
	Prepare(sessionID, source string) (*runner.Workspace, error)
	Compile(ctx context.Context, ws *runner.Workspace) (*runner.CompileResult, error)
	Launch(ctx context.Context, ws *runner.Workspace) (engine.Process, error)
}

// Archiver stores the transcript of a finished session.
type Archiver interface {
	Archive(ctx context.Context, t model.Transcript) error
}

// Params are the inputs of New.
type Params struct {
	ID           string
	ConnectionID string
	Request      model.RunRequest
	Adapter      Adapter
	Sink         Sink
	Archiver     Archiver
	Config       Config
}

// Session is one execution of a RunRequest. It is owned by the registry
// entry of its connection.
type Session struct {
	id           string
	connectionID string
	req          model.RunRequest
	adapter      Adapter
	sink         Sink
	archiver     Archiver
	cfg          Config
	logCtx       context.Context

	state     atomic.Int32
	startedAt time.Time

	// runCtx is cancelled by Kill to abort the compile step.
	runCtx    context.Context
	cancelRun context.CancelFunc

	mu         sync.Mutex
	proc       engine.Process
	killReason model.KillReason
	killed     bool
	launchedAt time.Time
	deadline   time.Time

	timedOut   atomic.Bool
	outcomeOut atomic.Bool
	timer      *time.Timer

	ws     *runner.Workspace
	bridge *bridge

	input chan []byte

	cleanupOnce sync.Once
	done        chan struct{}
}

// New creates an idle session. Call Run to execute it.
func New(p Params) *Session {
	p.Config.ApplyDefaults()
	ctx := context.WithValue(context.Background(), contextkey.ConnectionID, p.ConnectionID)
	ctx = context.WithValue(ctx, contextkey.SessionID, p.ID)
	runCtx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:           p.ID,
		connectionID: p.ConnectionID,
		req:          p.Request,
		adapter:      p.Adapter,
		sink:         p.Sink,
		archiver:     p.Archiver,
		cfg:          p.Config,
		logCtx:       ctx,
		runCtx:       runCtx,
		cancelRun:    cancel,
		input:        make(chan []byte, p.Config.InputQueue),
		done:         make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) ConnectionID() string { return s.connectionID }

func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed after cleanup has finished and the child was reaped.
func (s *Session) Done() <-chan struct{} { return s.done }

// OutcomeEmitted reports whether the session has reached a terminal state and
// published it; only cleanup remains.
func (s *Session) OutcomeEmitted() bool { return s.outcomeOut.Load() }

// Deadline is the fixed wall-clock deadline, zero before launch.
func (s *Session) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// Run executes the session to a terminal state and cleans up. It blocks.
func (s *Session) Run() {
	s.startedAt = time.Now()
	s.emit(model.StartedEvent(s.id))
	logger.Info(s.logCtx, "session started", zap.String("language", s.req.Language))

	s.setState(StatePreparing)
	ws, err := s.adapter.Prepare(s.id, s.req.Source)
	if err != nil {
		s.fail(err)
		return
	}
	s.ws = ws
	if s.killRequested() {
		s.finishKilled()
		return
	}

	if outcome, stop := s.compile(); stop {
		if outcome != nil {
			s.finish(*outcome)
		}
		return
	}

	s.execute()
}

// compile runs the compile phase. stop is true when the session must not
// proceed to launch; outcome is nil when fail already finished it.
func (s *Session) compile() (*model.RunOutcome, bool) {
	s.setState(StateCompiling)
	res, err := s.adapter.Compile(s.runCtx, s.ws)
	if s.killRequested() {
		out := s.killedOutcome()
		return &out, true
	}
	if err != nil {
		s.fail(err)
		return nil, true
	}
	if res == nil {
		return nil, false
	}
	if !res.OK {
		s.emit(model.CompileLogEvent(s.id, res.Log))
		s.setState(StateCompileFailed)
		return &model.RunOutcome{
			Kind:       model.OutcomeCompileError,
			CompileLog: res.Log,
			ElapsedMs:  s.elapsedMs(),
		}, true
	}
	if res.Log != "" {
		s.emit(model.CompileLogEvent(s.id, res.Log))
	}
	return nil, false
}

func (s *Session) execute() {
	proc, err := s.adapter.Launch(s.runCtx, s.ws)
	if err != nil {
		if s.killRequested() {
			s.finishKilled()
			return
		}
		s.fail(err)
		return
	}

	wall := time.Duration(float64(s.cfg.WallTimeout) * s.adapter.TimeMultiplier())

	s.mu.Lock()
	s.proc = proc
	s.launchedAt = time.Now()
	s.deadline = s.launchedAt.Add(wall)
	s.timer = time.AfterFunc(wall, s.onDeadline)
	killed := s.killed
	s.mu.Unlock()

	s.setState(StateRunning)
	s.bridge = newBridge(s, proc)
	s.bridge.start()
	if killed {
		proc.Terminate(s.cfg.KillGrace)
	}

	<-proc.Done()
	// background children still hold the output pipes
	proc.KillGroup()
	s.bridge.drain(s.cfg.DrainTimeout)
	s.finish(s.classify(proc))
}

func (s *Session) classify(proc engine.Process) model.RunOutcome {
	exit := proc.Exit()
	out := model.RunOutcome{ElapsedMs: s.elapsedMs()}
	if !exit.Signaled && exit.Code >= 0 {
		code := exit.Code
		out.ExitCode = &code
	}

	switch {
	case s.killRequested():
		reason := s.reason()
		s.setState(StateKilled)
		out.Kind, out.Reason = model.OutcomeKilled, reason
	case s.timedOut.Load():
		s.setState(StateTimedOut)
		out.Kind = model.OutcomeTimedOut
	case proc.OOMKilled():
		s.setState(StateKilled)
		out.Kind, out.Reason = model.OutcomeKilled, model.ReasonMemoryLimit
	case exit.Code == 0 && !exit.Signaled:
		s.setState(StateCompleted)
		out.Kind = model.OutcomeCompleted
	default:
		s.setState(StateRuntimeError)
		out.Kind = model.OutcomeRuntimeError
	}
	return out
}

// onDeadline fires once at the fixed wall-clock deadline.
func (s *Session) onDeadline() {
	s.mu.Lock()
	proc := s.proc
	killed := s.killed
	s.mu.Unlock()
	if proc == nil || killed {
		return
	}
	// a child that exited in time but is not reaped yet is not late
	if proc.Exited() {
		return
	}
	s.timedOut.Store(true)
	logger.Info(s.logCtx, "session deadline reached")
	proc.Terminate(s.cfg.KillGrace)
}

// Kill requests termination. The first reason wins; the call does not block.
func (s *Session) Kill(reason model.KillReason) {
	s.mu.Lock()
	if s.killed {
		s.mu.Unlock()
		return
	}
	s.killed = true
	s.killReason = reason
	proc := s.proc
	s.mu.Unlock()

	logger.Info(s.logCtx, "session kill requested", zap.String("reason", string(reason)))
	s.cancelRun()
	if proc != nil {
		proc.Terminate(s.cfg.KillGrace)
	}
}

// Input queues data for the program's stdin. It never blocks.
func (s *Session) Input(data string) {
	if s.req.StdinPolicy == model.StdinClosed || s.State().Terminal() || s.OutcomeEmitted() {
		return
	}
	if len(data) > s.cfg.MaxInputBytes {
		s.emit(model.NoticeEvent(s.id, appErr.InputTooLarge.Message()))
		return
	}
	if s.exited() {
		return
	}
	select {
	case s.input <- []byte(data):
	default:
		s.emit(model.NoticeEvent(s.id, "input dropped: the program is not reading stdin"))
	}
}

// exited reports whether the child was launched and has exited, reaped or not.
func (s *Session) exited() bool {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		return false
	}
	return proc.Exited()
}

func (s *Session) killRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

func (s *Session) reason() model.KillReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killReason
}

func (s *Session) killedOutcome() model.RunOutcome {
	s.setState(StateKilled)
	return model.RunOutcome{Kind: model.OutcomeKilled, Reason: s.reason(), ElapsedMs: s.elapsedMs()}
}

func (s *Session) finishKilled() {
	s.finish(s.killedOutcome())
}

// elapsedMs counts from launch, or from session start when nothing was launched.
func (s *Session) elapsedMs() int64 {
	s.mu.Lock()
	from := s.launchedAt
	s.mu.Unlock()
	if from.IsZero() {
		from = s.startedAt
	}
	return time.Since(from).Milliseconds()
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// emit delivers ev to the sink. Delivery failures are logged, never fatal.
func (s *Session) emit(ev model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
	defer cancel()
	if err := s.sink.Send(ctx, ev); err != nil {
		logger.Debug(s.logCtx, "session event dropped", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// fail ends a session that never produced an outcome.
func (s *Session) fail(err error) {
	s.setState(StateFailed)
	logger.Warn(s.logCtx, "session failed", zap.Error(err))
	s.emit(model.ErrorEvent(s.id, err))
	s.outcomeOut.Store(true)
	s.cleanup(nil, err)
}

// finish emits the outcome and then releases resources.
func (s *Session) finish(outcome model.RunOutcome) {
	s.emit(model.OutcomeEvent(s.id, outcome))
	s.outcomeOut.Store(true)
	logger.Info(s.logCtx, "session finished",
		zap.String("kind", string(outcome.Kind)),
		zap.String("reason", string(outcome.Reason)),
		zap.Int64("elapsed_ms", outcome.ElapsedMs))
	s.cleanup(&outcome, nil)
}

// cleanup runs exactly once, after the outcome (or error) was emitted:
// timers, stdin, workspace, cgroup, archive, then Done.
func (s *Session) cleanup(outcome *model.RunOutcome, runErr error) {
	s.cleanupOnce.Do(func() {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		proc := s.proc
		s.mu.Unlock()
		s.cancelRun()

		if s.bridge != nil {
			s.bridge.closeInput()
			s.bridge.closeOutput()
		}

		if err := s.ws.Remove(); err != nil {
			logger.Warn(s.logCtx, "remove workspace failed", zap.Error(err))
		}
		if proc != nil {
			if err := proc.Release(); err != nil {
				logger.Warn(s.logCtx, "release cgroup failed", zap.Error(err))
			}
		}

		s.archive(outcome, runErr)
		close(s.done)
	})
}

func (s *Session) archive(outcome *model.RunOutcome, runErr error) {
	if s.archiver == nil {
		return
	}
	t := model.Transcript{
		SessionID:    s.id,
		ConnectionID: s.connectionID,
		Language:     s.req.Language,
		Source:       s.req.Source,
		StartedAt:    s.startedAt,
		FinishedAt:   time.Now(),
		Outcome:      outcome,
	}
	if runErr != nil {
		t.Error = runErr.Error()
	}
	if s.bridge != nil {
		t.Output = s.bridge.transcript()
	}
	ctx, cancel := context.WithTimeout(s.logCtx, s.cfg.ArchiveTimeout)
	defer cancel()
	if err := s.archiver.Archive(ctx, t); err != nil {
		logger.Warn(s.logCtx, "archive transcript failed", zap.Error(err))
	}
}
