// Package registry maps connections to their single live session.
package registry

import (
	"context"
	"sync"

	"livecode/internal/execution/model"
	"livecode/internal/execution/runner"
	"livecode/internal/execution/session"
	appErr "livecode/pkg/errors"
	"livecode/pkg/utils/contextkey"
	"livecode/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Resolver returns the language variant for a request.
type Resolver func(language string) (session.Adapter, error)

// Config bounds admitted requests and the sessions they create.
type Config struct {
	MaxSourceBytes int            `yaml:"maxSourceBytes"`
	Session        session.Config `yaml:",inline"`
}

// Registry owns every live session. An entry leaves the map once its session
// has cleaned up.
type Registry struct {
	sessions *xsync.MapOf[string, *session.Session]
	resolve  Resolver
	archiver session.Archiver
	cfg      Config
	newID    func() string
	wg       sync.WaitGroup
}

// FromSet adapts a runner set to a Resolver.
func FromSet(set *runner.Set) Resolver {
	return func(language string) (session.Adapter, error) {
		a, err := set.Resolve(language)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}

// New builds a registry. archiver may be nil.
func New(resolve Resolver, archiver session.Archiver, cfg Config) *Registry {
	if cfg.MaxSourceBytes == 0 {
		cfg.MaxSourceBytes = 64 << 10
	}
	cfg.Session.ApplyDefaults()
	return &Registry{
		sessions: xsync.NewMapOf[string, *session.Session](),
		resolve:  resolve,
		archiver: archiver,
		cfg:      cfg,
		newID:    uuid.NewString,
	}
}

// Start admits req for connectionID and runs it in the background.
// A connection holds at most one live session; a session that already emitted
// its outcome is waited for, bounded by ctx.
func (r *Registry) Start(ctx context.Context, connectionID string, req model.RunRequest, sink session.Sink) (string, error) {
	if err := req.Validate(r.cfg.MaxSourceBytes); err != nil {
		return "", err
	}
	adapter, err := r.resolve(req.Language)
	if err != nil {
		return "", err
	}

	for {
		var sess, existing *session.Session
		r.sessions.Compute(connectionID, func(old *session.Session, loaded bool) (*session.Session, bool) {
			if loaded && !isDone(old) {
				existing = old
				return old, false
			}
			sess = session.New(session.Params{
				ID:           r.newID(),
				ConnectionID: connectionID,
				Request:      req,
				Adapter:      adapter,
				Sink:         sink,
				Archiver:     r.archiver,
				Config:       r.cfg.Session,
			})
			return sess, false
		})

		if existing == nil {
			r.wg.Add(1)
			go r.run(connectionID, sess)
			logger.Info(ctx, "run admitted",
				zap.String("connection_id", connectionID),
				zap.String("session_id", sess.ID()),
				zap.String("language", req.Language))
			return sess.ID(), nil
		}

		if !existing.OutcomeEmitted() {
			return "", appErr.AlreadyRunningError(connectionID, existing.ID())
		}
		select {
		case <-existing.Done():
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (r *Registry) run(connectionID string, sess *session.Session) {
	defer r.wg.Done()
	sess.Run()
	r.sessions.Compute(connectionID, func(old *session.Session, loaded bool) (*session.Session, bool) {
		if !loaded || old == sess {
			return nil, true
		}
		return old, false
	})
}

// Stop kills the connection's session and waits for its cleanup.
func (r *Registry) Stop(ctx context.Context, connectionID string) error {
	sess, ok := r.live(connectionID)
	if !ok {
		return appErr.New(appErr.NoActiveRun)
	}
	return r.killAndWait(ctx, sess, model.ReasonStopped)
}

// OnDisconnect releases whatever the connection still owns.
func (r *Registry) OnDisconnect(ctx context.Context, connectionID string) {
	sess, ok := r.live(connectionID)
	if !ok {
		return
	}
	ctx = context.WithValue(ctx, contextkey.ConnectionID, connectionID)
	if err := r.killAndWait(ctx, sess, model.ReasonDisconnected); err != nil {
		logger.Warn(ctx, "release on disconnect incomplete", zap.String("session_id", sess.ID()), zap.Error(err))
	}
}

// Input forwards data to the connection's session.
func (r *Registry) Input(connectionID, data string) error {
	sess, ok := r.live(connectionID)
	if !ok {
		return appErr.New(appErr.NoActiveRun)
	}
	sess.Input(data)
	return nil
}

// Active returns the id of the connection's live session.
func (r *Registry) Active(connectionID string) (string, bool) {
	sess, ok := r.live(connectionID)
	if !ok {
		return "", false
	}
	return sess.ID(), true
}

// Len counts sessions that have not finished cleanup.
func (r *Registry) Len() int {
	return r.sessions.Size()
}

// Shutdown kills every session and waits for them, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.sessions.Range(func(_ string, sess *session.Session) bool {
		sess.Kill(model.ReasonShutdown)
		return true
	})
	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) live(connectionID string) (*session.Session, bool) {
	sess, ok := r.sessions.Load(connectionID)
	if !ok || isDone(sess) {
		return nil, false
	}
	return sess, true
}

func (r *Registry) killAndWait(ctx context.Context, sess *session.Session, reason model.KillReason) error {
	sess.Kill(reason)
	select {
	case <-sess.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isDone(sess *session.Session) bool {
	select {
	case <-sess.Done():
		return true
	default:
		return false
	}
}
