package controller

import (
	"context"
	"errors"
	"time"

	"livecode/internal/common/ws"
	"livecode/internal/execution/model"
	"livecode/internal/execution/registry"
	appErr "livecode/pkg/errors"
	"livecode/pkg/utils/contextkey"
	"livecode/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config bounds the blocking registry calls made from the read loop.
type Config struct {
	WS ws.Config `yaml:"websocket"`
	// AdmitTimeout bounds the wait for a previous session's cleanup on run.
	AdmitTimeout   time.Duration `yaml:"admitTimeout"`
	ReleaseTimeout time.Duration `yaml:"releaseTimeout"`
}

func (c *Config) applyDefaults() {
	c.WS.ApplyDefaults()
	if c.AdmitTimeout == 0 {
		c.AdmitTimeout = 5 * time.Second
	}
	if c.ReleaseTimeout == 0 {
		c.ReleaseTimeout = 10 * time.Second
	}
}

// RunController serves the student run channel.
type RunController struct {
	registry *registry.Registry
	upgrader *websocket.Upgrader
	cfg      Config
}

// NewRunController creates a new controller.
func NewRunController(reg *registry.Registry, cfg Config) *RunController {
	cfg.applyDefaults()
	return &RunController{registry: reg, upgrader: ws.NewUpgrader(cfg.WS), cfg: cfg}
}

// Serve upgrades the request and runs the connection's read loop.
// Closing the socket releases the connection's session.
func (h *RunController) Serve(c *gin.Context) {
	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "run channel upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	conn := ws.NewConn(connID, raw, h.cfg.WS)
	ctx := context.WithValue(context.WithoutCancel(c.Request.Context()), contextkey.ConnectionID, connID)
	sink := connSink{conn: conn}
	logger.Info(ctx, "run channel connected")

	defer func() {
		releaseCtx, cancel := context.WithTimeout(ctx, h.cfg.ReleaseTimeout)
		h.registry.OnDisconnect(releaseCtx, connID)
		cancel()
		_ = conn.Close()
		logger.Info(ctx, "run channel closed")
	}()

	for {
		var frame model.ClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if errors.Is(err, ws.ErrBadFrame) {
				sink.sendError(ctx, appErr.Wrap(err, appErr.InvalidFormat))
				continue
			}
			if ws.IsUnexpectedClose(err) {
				logger.Warn(ctx, "run channel read failed", zap.Error(err))
			}
			return
		}
		h.dispatch(ctx, connID, sink, frame)
	}
}

func (h *RunController) dispatch(ctx context.Context, connID string, sink connSink, frame model.ClientFrame) {
	switch frame.Type {
	case model.FrameRun:
		admitCtx, cancel := context.WithTimeout(ctx, h.cfg.AdmitTimeout)
		defer cancel()
		if _, err := h.registry.Start(admitCtx, connID, frame.RunRequest, sink); err != nil {
			sink.sendError(ctx, err)
		}
	case model.FrameInput:
		if err := h.registry.Input(connID, frame.Data); err != nil {
			sink.sendError(ctx, err)
		}
	case model.FrameStop:
		stopCtx, cancel := context.WithTimeout(ctx, h.cfg.ReleaseTimeout)
		defer cancel()
		if err := h.registry.Stop(stopCtx, connID); err != nil {
			sink.sendError(ctx, err)
		}
	default:
		sink.sendError(ctx, appErr.ValidationError("type", "must be run, input or stop"))
	}
}

// connSink delivers session events over the connection.
type connSink struct {
	conn *ws.Conn
}

func (s connSink) Send(ctx context.Context, ev model.Event) error {
	return s.conn.Send(ctx, ev)
}

func (s connSink) sendError(ctx context.Context, err error) {
	if sendErr := s.conn.Send(ctx, model.ErrorEvent("", err)); sendErr != nil {
		logger.Debug(ctx, "error frame dropped", zap.Error(sendErr))
	}
}
