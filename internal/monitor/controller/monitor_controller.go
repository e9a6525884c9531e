package controller

import (
	"context"
	"errors"
	"time"

	"livecode/internal/common/ws"
	"livecode/internal/monitor/model"
	"livecode/internal/monitor/service"
	appErr "livecode/pkg/errors"
	"livecode/pkg/utils/contextkey"
	"livecode/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config controls the faculty channel.
type Config struct {
	WS ws.Config `yaml:"websocket"`
	// JoinTimeout bounds the cohort lookup and initial snapshot of a join.
	JoinTimeout time.Duration `yaml:"joinTimeout"`
}

func (c *Config) applyDefaults() {
	c.WS.ApplyDefaults()
	if c.JoinTimeout == 0 {
		c.JoinTimeout = 5 * time.Second
	}
}

// MonitorController serves the faculty monitor channel.
type MonitorController struct {
	rooms    *service.RoomManager
	hub      *Hub
	upgrader *websocket.Upgrader
	cfg      Config
}

// NewMonitorController creates a controller. hub must be the transport rooms was built with.
func NewMonitorController(rooms *service.RoomManager, hub *Hub, cfg Config) *MonitorController {
	cfg.applyDefaults()
	return &MonitorController{rooms: rooms, hub: hub, upgrader: ws.NewUpgrader(cfg.WS), cfg: cfg}
}

// Serve upgrades the request and handles join and leave frames until the
// observer disconnects, then removes it from every room.
func (h *MonitorController) Serve(c *gin.Context) {
	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "monitor channel upgrade failed", zap.Error(err))
		return
	}

	observerID := uuid.NewString()
	conn := ws.NewConn(observerID, raw, h.cfg.WS)
	ctx := context.WithValue(context.WithoutCancel(c.Request.Context()), contextkey.ConnectionID, observerID)
	h.hub.register(conn)
	logger.Info(ctx, "monitor channel connected")

	defer func() {
		h.rooms.LeaveAll(observerID)
		h.hub.unregister(observerID)
		_ = conn.Close()
		logger.Info(ctx, "monitor channel closed")
	}()

	for {
		var frame model.ObserverFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if errors.Is(err, ws.ErrBadFrame) {
				h.sendError(ctx, conn, "", appErr.Wrap(err, appErr.InvalidFormat))
				continue
			}
			if ws.IsUnexpectedClose(err) {
				logger.Warn(ctx, "monitor channel read failed", zap.Error(err))
			}
			return
		}
		h.dispatch(ctx, conn, frame)
	}
}

func (h *MonitorController) dispatch(ctx context.Context, conn *ws.Conn, frame model.ObserverFrame) {
	if frame.TestID == "" && (frame.Type == model.FrameJoin || frame.Type == model.FrameLeave) {
		h.sendError(ctx, conn, "", appErr.ValidationError("testId", "required"))
		return
	}
	switch frame.Type {
	case model.FrameJoin:
		joinCtx, cancel := context.WithTimeout(ctx, h.cfg.JoinTimeout)
		defer cancel()
		if err := h.rooms.Join(joinCtx, frame.TestID, conn.ID()); err != nil {
			h.sendError(ctx, conn, frame.TestID, err)
		}
	case model.FrameLeave:
		h.rooms.Leave(frame.TestID, conn.ID())
	default:
		h.sendError(ctx, conn, frame.TestID, appErr.ValidationError("type", "must be join or leave"))
	}
}

func (h *MonitorController) sendError(ctx context.Context, conn *ws.Conn, testID string, err error) {
	if sendErr := conn.Send(ctx, model.ErrorEnvelope(testID, err)); sendErr != nil {
		logger.Debug(ctx, "error frame dropped", zap.Error(sendErr))
	}
}
