// Package client drives a slant worker over its stdin/stdout pipes. Calls
// may be issued concurrently; responses are matched to callers by request id,
// so the client does not depend on the worker answering in order.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crimson-sun/slant/internal/model"
	"github.com/crimson-sun/slant/internal/protocol"
)

// LabelUnknown is reported for every item of a call that timed out.
const LabelUnknown model.Label = "Unknown"

// DefaultTimeout bounds a single Classify call.
const DefaultTimeout = 4 * time.Second

var (
	// ErrWorkerExited is returned to every pending and future call once the
	// worker's output stream ends.
	ErrWorkerExited = errors.New("client: worker exited")

	// ErrRemote wraps a failure response returned by the worker.
	ErrRemote = errors.New("client: worker returned error")
)

// Item is one text to classify. ID is echoed back on its result.
type Item struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type request struct {
	ID    string `json:"id"`
	Items []Item `json:"items"`
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger for unmatched or unparseable worker output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithIDFunc overrides request id generation.
func WithIDFunc(fn func() string) Option {
	return func(c *Client) { c.newID = fn }
}

// Client sends requests to one worker process.
type Client struct {
	timeout time.Duration
	log     *slog.Logger
	newID   func() string

	wmu sync.Mutex
	w   io.WriteCloser

	mu      sync.Mutex
	pending map[string]chan protocol.Response
	done    chan struct{}
	exitErr error

	cmd *exec.Cmd
}

// New wraps an already running worker: w is its stdin, r its stdout. The
// client owns w and closes it on Close.
func New(w io.WriteCloser, r io.Reader, opts ...Option) *Client {
	c := &Client{
		timeout: DefaultTimeout,
		log:     slog.Default(),
		newID:   uuid.NewString,
		w:       w,
		pending: make(map[string]chan protocol.Response),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.readLoop(r)
	return c
}

// Start spawns the worker binary and attaches a client to it. The worker's
// stderr is passed through to ours.
func Start(ctx context.Context, name string, args []string, opts ...Option) (*Client, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("client: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("client: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("client: start worker: %w", err)
	}
	c := New(stdin, stdout, opts...)
	c.cmd = cmd
	return c, nil
}

func (c *Client) readLoop(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp protocol.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.log.Warn("unparseable worker output", "error", err)
			continue
		}
		var id string
		if err := json.Unmarshal(resp.ID, &id); err != nil || id == "" {
			c.log.Warn("worker response without usable id", "error", resp.Error)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if !ok {
			c.log.Debug("late or unknown response", "id", id)
			continue
		}
		ch <- resp
	}

	err := ErrWorkerExited
	if scanErr := sc.Err(); scanErr != nil {
		err = fmt.Errorf("%w: %v", ErrWorkerExited, scanErr)
	}
	c.mu.Lock()
	c.exitErr = err
	c.pending = make(map[string]chan protocol.Response)
	c.mu.Unlock()
	close(c.done)
}

// Classify sends items as one request and waits for the matching response.
// When the call times out every item is labelled LabelUnknown and no error is
// returned. A failure response from the worker yields an error wrapping
// ErrRemote.
func (c *Client) Classify(ctx context.Context, items []Item) ([]protocol.Result, error) {
	if items == nil {
		items = []Item{}
	}
	id := c.newID()
	line, err := json.Marshal(request{ID: id, Items: items})
	if err != nil {
		return nil, fmt.Errorf("client: encode request: %w", err)
	}
	line = append(line, '\n')

	ch := make(chan protocol.Response, 1)
	c.mu.Lock()
	if c.exitErr != nil {
		err := c.exitErr
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.wmu.Lock()
	_, err = c.w.Write(line)
	c.wmu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("client: write request: %w", err)
	}

	var timeout <-chan time.Time
	if c.timeout > 0 {
		t := time.NewTimer(c.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case resp := <-ch:
		if resp.Failed() {
			return nil, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
		}
		return resp.Results, nil
	case <-timeout:
		c.forget(id)
		c.log.Warn("worker call timed out", "id", id, "items", len(items))
		return unknown(items), nil
	case <-c.done:
		select {
		case resp := <-ch:
			if resp.Failed() {
				return nil, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
			}
			return resp.Results, nil
		default:
		}
		return nil, c.err()
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// ClassifyText classifies a single text.
func (c *Client) ClassifyText(ctx context.Context, text string) (model.Label, error) {
	results, err := c.Classify(ctx, []Item{{ID: "single", Text: text}})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return LabelUnknown, nil
	}
	return results[0].Label, nil
}

// Done is closed when the worker's output stream ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close closes the worker's stdin, which makes it drain and exit, then waits
// for the process when the client started it.
func (c *Client) Close() error {
	c.wmu.Lock()
	err := c.w.Close()
	c.wmu.Unlock()
	if c.cmd != nil {
		<-c.done
		if werr := c.cmd.Wait(); werr != nil && err == nil {
			err = fmt.Errorf("client: worker: %w", werr)
		}
	}
	return err
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}

func unknown(items []Item) []protocol.Result {
	out := make([]protocol.Result, len(items))
	for i, it := range items {
		id, _ := json.Marshal(it.ID)
		out[i] = protocol.Result{ID: id, Label: LabelUnknown}
	}
	return out
}
