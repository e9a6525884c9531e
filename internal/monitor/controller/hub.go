package controller

import (
	"context"

	"livecode/internal/common/ws"
	"livecode/internal/monitor/model"

	"github.com/puzpuzpuz/xsync/v3"
)

// Hub maps observer ids to their faculty connections.
type Hub struct {
	conns *xsync.MapOf[string, *ws.Conn]
}

func NewHub() *Hub {
	return &Hub{conns: xsync.NewMapOf[string, *ws.Conn]()}
}

// Send delivers env to observerID. Unknown observers report ws.ErrClosed.
func (h *Hub) Send(ctx context.Context, observerID string, env model.Envelope) error {
	conn, ok := h.conns.Load(observerID)
	if !ok {
		return ws.ErrClosed
	}
	return conn.Send(ctx, env)
}

func (h *Hub) register(conn *ws.Conn) { h.conns.Store(conn.ID(), conn) }

func (h *Hub) unregister(observerID string) { h.conns.Delete(observerID) }

// Len counts connected observers.
func (h *Hub) Len() int { return h.conns.Size() }
