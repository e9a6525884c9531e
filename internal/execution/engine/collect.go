package engine

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// CollectResult is the outcome of a process run to completion with captured output.
type CollectResult struct {
	Exit      Exit
	Output    []byte
	Truncated bool
	TimedOut  bool
	OOMKilled bool
}

// Collect runs spec to completion and captures stdout and stderr interleaved,
// keeping at most maxBytes. When ctx ends first the process group is terminated
// and TimedOut is set.
func Collect(ctx context.Context, eng Engine, spec Spec, maxBytes int64, grace time.Duration) (CollectResult, error) {
	proc, err := eng.Start(ctx, spec)
	if err != nil {
		return CollectResult{}, err
	}
	defer func() { _ = proc.Release() }()
	_ = proc.Stdin().Close()

	buf := &cappedBuffer{max: maxBytes}
	var g errgroup.Group
	g.Go(func() error { return drain(buf, proc.Stdout()) })
	g.Go(func() error { return drain(buf, proc.Stderr()) })

	var res CollectResult
	select {
	case <-proc.Done():
	case <-ctx.Done():
		res.TimedOut = true
		proc.Terminate(grace)
		<-proc.Done()
	}
	_ = g.Wait()

	res.Exit = proc.Exit()
	res.Output, res.Truncated = buf.Bytes()
	res.OOMKilled = proc.OOMKilled()
	return res, nil
}

func drain(dst io.Writer, src io.ReadCloser) error {
	defer src.Close()
	_, err := io.Copy(dst, src)
	return err
}

// cappedBuffer keeps the first max bytes and discards the rest.
type cappedBuffer struct {
	mu        sync.Mutex
	max       int64
	data      []byte
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.max - int64(len(b.data))
	if b.max <= 0 {
		remaining = int64(len(p))
	}
	if remaining <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.data = append(b.data, p[:remaining]...)
		b.truncated = true
		return len(p), nil
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *cappedBuffer) Bytes() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, b.truncated
}
