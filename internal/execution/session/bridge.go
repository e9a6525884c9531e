package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"livecode/internal/execution/engine"
	"livecode/internal/execution/model"
	"livecode/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const readChunkSize = 4 << 10

type chunk struct {
	stream model.Stream
	data   []byte
}

// bridge moves bytes between the child's stdio and the session's sink.
type bridge struct {
	s      *Session
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	pumps        errgroup.Group
	chunks       chan chunk
	consumerDone chan struct{}

	writerStop chan struct{}
	stopOnce   sync.Once
	stdinOnce  sync.Once
	outputOnce sync.Once

	// consumer-owned
	forwarded int64
	capped    bool
	carry     map[model.Stream][]byte

	mu       sync.Mutex
	captured []model.TranscriptChunk
}

func newBridge(s *Session, proc engine.Process) *bridge {
	return &bridge{
		s:            s,
		stdin:        proc.Stdin(),
		stdout:       proc.Stdout(),
		stderr:       proc.Stderr(),
		chunks:       make(chan chunk, 16),
		consumerDone: make(chan struct{}),
		writerStop:   make(chan struct{}),
		carry:        make(map[model.Stream][]byte, 2),
	}
}

func (b *bridge) start() {
	go b.write()

	b.pumps.Go(func() error { return b.pump(model.StreamStdout, b.stdout) })
	b.pumps.Go(func() error { return b.pump(model.StreamStderr, b.stderr) })
	go func() {
		if err := b.pumps.Wait(); err != nil {
			logger.Warn(b.s.logCtx, "output pump failed", zap.Error(err))
		}
		close(b.chunks)
	}()

	go b.consume()
}

// pump reads until EOF. A read end closed by closeOutput counts as EOF.
func (b *bridge) pump(stream model.Stream, r io.Reader) error {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			b.chunks <- chunk{stream: stream, data: data}
		}
		if err != nil {
			if err == io.EOF || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read %s: %w", stream, err)
		}
	}
}

func (b *bridge) consume() {
	defer close(b.consumerDone)
	for c := range b.chunks {
		b.forward(c)
	}
	if b.capped {
		return
	}
	for _, stream := range []model.Stream{model.StreamStdout, model.StreamStderr} {
		if rest := b.carry[stream]; len(rest) > 0 {
			b.send(stream, rest)
		}
	}
}

// forward sends c within the output budget. The chunk that crosses the cap is
// cut to the remaining budget and everything after it is discarded.
func (b *bridge) forward(c chunk) {
	if b.capped {
		return
	}
	limit := b.s.cfg.MaxOutputBytes
	data := c.data
	crossed := false
	if remaining := limit - b.forwarded; int64(len(data)) > remaining {
		data = data[:remaining]
		crossed = true
	}
	b.forwarded += int64(len(data))

	pending := append(b.carry[c.stream], data...)
	cut := completePrefix(pending)
	b.carry[c.stream] = append([]byte(nil), pending[cut:]...)
	if cut > 0 {
		b.send(c.stream, pending[:cut])
	}

	if crossed {
		b.capped = true
		b.s.emit(model.NoticeEvent(b.s.id, fmt.Sprintf("output truncated: limit of %d bytes reached", limit)))
		b.s.Kill(model.ReasonOutputLimit)
	}
}

func (b *bridge) send(stream model.Stream, data []byte) {
	text := string(data)
	b.mu.Lock()
	b.captured = append(b.captured, model.TranscriptChunk{Stream: stream, Data: text})
	b.mu.Unlock()
	b.s.emit(model.OutputEvent(b.s.id, stream, text))
}

// completePrefix returns the length of the longest prefix of p that does not
// end inside a multi-byte rune.
func completePrefix(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(p[i]) {
			continue
		}
		if utf8.FullRune(p[i:]) {
			return len(p)
		}
		return i
	}
	return len(p)
}

// write feeds stdin. With the closed policy only the preset is written.
func (b *bridge) write() {
	defer b.closeStdin()

	if preset := b.s.req.Stdin; preset != "" {
		if !b.writeStdin([]byte(preset)) {
			return
		}
	}
	if b.s.req.StdinPolicy == model.StdinClosed {
		return
	}

	for {
		select {
		case data := <-b.s.input:
			if !b.writeStdin(data) {
				return
			}
		case <-b.writerStop:
			return
		}
	}
}

func (b *bridge) writeStdin(data []byte) bool {
	if _, err := b.stdin.Write(data); err != nil {
		if !errors.Is(err, syscall.EPIPE) && !errors.Is(err, os.ErrClosed) {
			logger.Debug(b.s.logCtx, "stdin write failed", zap.Error(err))
		}
		return false
	}
	return true
}

func (b *bridge) closeStdin() {
	b.stdinOnce.Do(func() {
		_ = b.stdin.Close()
	})
}

// closeInput stops the writer. Closing stdin also unblocks a pending write.
func (b *bridge) closeInput() {
	b.stopOnce.Do(func() { close(b.writerStop) })
	b.closeStdin()
}

func (b *bridge) closeOutput() {
	b.outputOnce.Do(func() {
		_ = b.stdout.Close()
		_ = b.stderr.Close()
	})
}

// drain waits for every forwarded chunk to be emitted. If a leftover
// descendant keeps the pipes open past timeout, the read ends are closed.
func (b *bridge) drain(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-b.consumerDone:
		return
	case <-timer.C:
	}
	logger.Warn(b.s.logCtx, "output still open after exit, closing pipes")
	b.closeOutput()
	<-b.consumerDone
}

func (b *bridge) transcript() []model.TranscriptChunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.TranscriptChunk, len(b.captured))
	copy(out, b.captured)
	return out
}
