package main

import (
	"context"
	"net/http"
	"time"

	"livecode/internal/common/db"
	"livecode/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const healthPingTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

type counter interface {
	Len() int
}

// health reports live counts and pings every configured backend. A nil cache
// or queue is not configured and is left out of the report.
type health struct {
	database db.Database
	cache    pinger
	queue    pinger
	sessions counter
	rooms    counter
}

func (h health) serve(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()

	status := http.StatusOK
	deps := gin.H{}
	check := func(name string, p pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			logger.Warn(ctx, "health check failed", zap.String("dependency", name), zap.Error(err))
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			return
		}
		deps[name] = "ok"
	}
	check("database", h.database)
	check("redis", h.cache)
	check("kafka", h.queue)

	body := gin.H{
		"status":       "ok",
		"sessions":     h.sessions.Len(),
		"rooms":        h.rooms.Len(),
		"dependencies": deps,
	}
	if h.database != nil {
		stats := h.database.Stats()
		body["dbPool"] = gin.H{
			"open":      stats.OpenConnections,
			"inUse":     stats.InUse,
			"idle":      stats.Idle,
			"waitCount": stats.WaitCount,
		}
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
