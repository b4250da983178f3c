// Package async moves a slow output off the request path. Responses are
// queued on a buffered channel and written by a background goroutine.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/slant/internal/output"
	"github.com/crimson-sun/slant/internal/protocol"
)

const (
	defaultBufferSize   = 1024
	defaultDrainTimeout = 5 * time.Second
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("async output: closed")

// Option configures an Async wrapper.
type Option func(*Async)

// WithBufferSize sets the queue capacity. Default: 1024.
func WithBufferSize(n int) Option {
	return func(a *Async) { a.bufSize = n }
}

// WithOnError sets the callback invoked when the inner output's Write fails.
// Default: logs a warning via slog.
func WithOnError(f func(error)) Option {
	return func(a *Async) { a.errFunc = f }
}

// WithDropOnFull makes Write discard the response instead of blocking when
// the queue is full.
func WithDropOnFull() Option {
	return func(a *Async) { a.dropOnFull = true }
}

// WithDrainTimeout bounds how long Close waits for queued responses.
// Default: 5s.
func WithDrainTimeout(d time.Duration) Option {
	return func(a *Async) { a.drainTimeout = d }
}

// Async wraps an output.Output. Errors from the inner output go to the
// error callback and are never returned from Write.
type Async struct {
	inner        output.Output
	ch           chan protocol.Response
	done         chan struct{}
	errFunc      func(error)
	bufSize      int
	dropOnFull   bool
	drainTimeout time.Duration

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// New wraps inner and starts the drain goroutine.
func New(inner output.Output, opts ...Option) *Async {
	a := &Async{
		inner:        inner,
		bufSize:      defaultBufferSize,
		drainTimeout: defaultDrainTimeout,
		errFunc:      func(err error) { slog.Warn("async output write error", "error", err) },
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan protocol.Response, a.bufSize)
	a.done = make(chan struct{})
	go a.drain()
	return a
}

// Write queues resp. It blocks while the queue is full unless
// WithDropOnFull is set, and gives up when ctx is done.
func (a *Async) Write(ctx context.Context, resp protocol.Response) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	if a.dropOnFull {
		select {
		case a.ch <- resp:
		default:
			a.dropped.Add(1)
			slog.Warn("async output buffer full, dropping response", "id", string(resp.ID))
		}
		return nil
	}
	select {
	case a.ch <- resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped reports how many responses were discarded on a full queue.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Close stops accepting responses, waits for the queue to drain (bounded
// by the drain timeout), then closes the inner output.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	select {
	case <-a.done:
	case <-time.After(a.drainTimeout):
		slog.Warn("async output drain timed out", "pending", len(a.ch))
	}
	return a.inner.Close()
}

func (a *Async) drain() {
	defer close(a.done)
	for resp := range a.ch {
		if err := a.inner.Write(context.Background(), resp); err != nil {
			a.errFunc(err)
		}
	}
}
