package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Config controls websocket upgrade and keepalive behaviour.
type Config struct {
	ReadBufferSize  int           `yaml:"readBufferSize"`
	WriteBufferSize int           `yaml:"writeBufferSize"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	PongWait        time.Duration `yaml:"pongWait"`
	MaxMessageBytes int64         `yaml:"maxMessageBytes"`
	// AllowedOrigins is matched against the Origin header. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = 4096
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = 4096
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PongWait == 0 {
		c.PongWait = 60 * time.Second
	}
	if c.MaxMessageBytes == 0 {
		c.MaxMessageBytes = 256 << 10
	}
}

// pingPeriod must stay below PongWait so the peer's pong arrives in time.
func (c Config) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

// NewUpgrader builds an upgrader honouring AllowedOrigins.
func NewUpgrader(cfg Config) *websocket.Upgrader {
	cfg.ApplyDefaults()
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.ToLower(strings.TrimSpace(o))] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			_, ok := allowed[strings.ToLower(r.Header.Get("Origin"))]
			return ok
		},
	}
}

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("websocket connection closed")
	// ErrBadFrame wraps frames that are not valid JSON for the target type.
	ErrBadFrame = errors.New("malformed frame")
)

// Conn serializes writes on a gorilla connection and keeps it alive with pings.
// gorilla allows one concurrent reader and one concurrent writer; Conn owns the writer side.
type Conn struct {
	id  string
	raw *websocket.Conn
	cfg Config

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps raw and starts the ping loop.
func NewConn(id string, raw *websocket.Conn, cfg Config) *Conn {
	cfg.ApplyDefaults()
	c := &Conn{id: id, raw: raw, cfg: cfg, done: make(chan struct{})}
	raw.SetReadLimit(cfg.MaxMessageBytes)
	_ = raw.SetReadDeadline(time.Now().Add(cfg.PongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})
	go c.pingLoop()
	return c
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send writes v as one JSON text frame.
func (c *Conn) Send(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.raw.SetWriteDeadline(deadline)
	return c.raw.WriteMessage(websocket.TextMessage, data)
}

// ReadJSON blocks for the next frame and decodes it into v.
// Only the connection's read loop may call it.
func (c *Conn) ReadJSON(v interface{}) error {
	_, data, err := c.raw.ReadMessage()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return nil
}

// Close sends a close frame and releases the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.raw.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.raw.Close()
	})
	return err
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.cfg.pingPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.raw.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// IsUnexpectedClose reports read errors worth logging.
func IsUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
