// Package worker implements the line-delimited request loop: read a line,
// decode and normalize it, classify its items in one batch, and emit exactly
// one response line, isolating every per-line failure.
package worker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/slant/internal/engine/classifier"
	"github.com/crimson-sun/slant/internal/metrics"
	"github.com/crimson-sun/slant/internal/model"
	"github.com/crimson-sun/slant/internal/output"
	"github.com/crimson-sun/slant/internal/protocol"
)

// State is the worker lifecycle position.
type State int32

const (
	StateInitializing State = iota
	StateReady
	StateProcessing
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithMirror copies every response to a secondary output (journal, webhook). Mirror write
// failures are logged and never affect the protocol stream.
func WithMirror(o output.Output) Option {
	return func(w *Worker) { w.mirror = o }
}

// Worker serves requests strictly one at a time. The classifier is
// constructed by the caller before New and is only ever called from Run's
// goroutine.
type Worker struct {
	cls     classifier.Classifier
	out     output.Output
	mirror  output.Output
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	state atomic.Int32
}

// New returns a Worker in the Ready state.
func New(cls classifier.Classifier, out output.Output, opts ...Option) *Worker {
	w := &Worker{
		cls: cls,
		out: out,
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.setState(StateReady)
	return w
}

// State reports the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

// ErrStopped is returned by Run after Stop.
var ErrStopped = errors.New("worker stopped")

// Run reads request lines from r until EOF and writes one response per
// non-blank line. It returns nil at end of input. Cancellation is observed
// between lines only; a request that has been read always gets its response.
// A failure to emit a response is returned, since the consumer is gone.
// A Worker runs once.
func (w *Worker) Run(ctx context.Context, r io.Reader) error {
	defer w.setState(StateTerminated)

	br := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			w.setState(StateDraining)
			return err
		}

		line, readErr := br.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if !w.state.CompareAndSwap(int32(StateReady), int32(StateProcessing)) {
				return ErrStopped
			}
			if err := w.process(ctx, trimmed); err != nil {
				w.setState(StateDraining)
				return err
			}
			if !w.state.CompareAndSwap(int32(StateProcessing), int32(StateReady)) {
				return ErrStopped
			}
		} else if len(line) > 0 {
			w.metrics.BlankLine()
		}
		if readErr != nil {
			w.setState(StateDraining)
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("worker: read: %w", readErr)
		}
	}
}

// Stop prevents Run from starting another request. It reports whether the
// worker was idle. When it was not, the request in flight still gets its
// response and Run then returns ErrStopped.
func (w *Worker) Stop() (idle bool) {
	for {
		switch s := w.State(); s {
		case StateReady:
			if w.state.CompareAndSwap(int32(s), int32(StateDraining)) {
				return true
			}
		case StateProcessing:
			if w.state.CompareAndSwap(int32(s), int32(StateDraining)) {
				return false
			}
		default:
			return false
		}
	}
}

func (w *Worker) process(ctx context.Context, line []byte) error {
	start := w.now()
	resp, outcome, items := w.handle(line)

	if err := w.out.Write(ctx, resp); err != nil {
		return fmt.Errorf("worker: emit response: %w", err)
	}
	if w.mirror != nil {
		if err := w.mirror.Write(ctx, resp); err != nil {
			w.log.Warn("mirror write failed", "error", err)
		}
	}

	elapsed := w.now().Sub(start)
	w.metrics.ObserveRequest(outcome, items, elapsed)
	if resp.Failed() {
		w.log.Warn("request failed", "id", string(resp.ID), "outcome", outcome, "error", resp.Error)
	} else {
		w.log.Debug("request served", "id", string(resp.ID), "items", items, "elapsed", elapsed)
	}
	return nil
}

// Handle processes a single non-blank request line and returns its response.
// It never panics and never returns an error: every failure becomes a
// failure response.
func (w *Worker) Handle(line []byte) protocol.Response {
	resp, _, _ := w.handle(line)
	return resp
}

func (w *Worker) handle(line []byte) (protocol.Response, string, int) {
	req, err := protocol.Decode(line)
	if err != nil {
		return protocol.Failure(protocol.RecoverID(line), err), metrics.OutcomeProtocolError, 0
	}

	labels, err := w.classify(req.Items)
	if err != nil {
		return protocol.Failure(req.ID, err), metrics.OutcomeClassifyError, 0
	}
	results, err := protocol.Assemble(req.Items, labels)
	if err != nil {
		return protocol.Failure(req.ID, err), metrics.OutcomeClassifyError, 0
	}
	return protocol.Success(req.ID, results), metrics.OutcomeOK, len(results)
}

// classify makes exactly one classifier call per request, skipping it for
// an empty request. Panics are converted to errors.
func (w *Worker) classify(items []protocol.NormalizedItem) (labels []model.Label, err error) {
	if len(items) == 0 {
		return []model.Label{}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			w.metrics.ClassifierPanic()
			w.log.Error("classifier panic recovered", "panic", r, "stack", string(debug.Stack()))
			labels, err = nil, fmt.Errorf("classifier panic: %v", r)
		}
	}()

	w.metrics.ObserveBatch(len(items))
	return w.cls.ClassifyBatch(protocol.Texts(items))
}
