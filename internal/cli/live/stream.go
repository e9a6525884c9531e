// Package live is the client side of the run and monitor channels.
package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Stream is one websocket channel. Frames are decoded on a single reader
// goroutine and passed to the handler in arrival order.
type Stream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	err     error
}

// Dial connects to url and starts delivering raw frames to handle.
func Dial(ctx context.Context, url string, handle func(data []byte)) (*Stream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s failed: %w", url, err)
	}
	s := &Stream{conn: conn, done: make(chan struct{})}
	go s.readLoop(handle)
	return s, nil
}

func (s *Stream) readLoop(handle func(data []byte)) {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.err = err
			return
		}
		handle(data)
	}
}

// Send writes v as one JSON frame.
func (s *Stream) Send(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// Done is closed when the reader stops.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err is the read error that ended the stream. Valid after Done.
func (s *Stream) Err() error { return s.err }

// Close sends a close frame and waits briefly for the reader to stop.
func (s *Stream) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	select {
	case <-s.done:
	case <-time.After(time.Second):
	}
	return s.conn.Close()
}

// Closed reports whether the reader has stopped.
func (s *Stream) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
