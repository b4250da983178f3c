// Package webhook delivers worker responses to an HTTP collector as numbered
// batches. Each batch is a Delivery envelope; a collector can deduplicate
// retried deliveries by their Idempotency-Key.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/crimson-sun/slant/internal/protocol"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 5 * time.Second
	defaultTimeout       = 10 * time.Second
)

// Delivery is the body of one POST. Failed counts the failure responses in
// Responses.
type Delivery struct {
	WorkerID  string              `json:"worker_id,omitempty"`
	Sequence  uint64              `json:"sequence"`
	SentAt    time.Time           `json:"sent_at"`
	Failed    int                 `json:"failed"`
	Responses []protocol.Response `json:"responses"`
}

// RetryPolicy bounds redelivery of one batch. Transport errors, 429 and 5xx
// are retried; any other status is final.
type RetryPolicy struct {
	MaxAttempts int           // total POSTs per batch, including the first
	Backoff     time.Duration // wait before the second attempt, doubled after each retry
	MaxBackoff  time.Duration // cap on any single wait, including Retry-After
}

// DefaultRetryPolicy is used unless WithRetry overrides it.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 4, Backoff: time.Second, MaxBackoff: 30 * time.Second}

func (p RetryPolicy) wait(attempt int, retryAfter time.Duration) time.Duration {
	d := p.Backoff << (attempt - 1)
	if retryAfter > d {
		d = retryAfter
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// StatusError is a non-2xx answer from the collector.
type StatusError struct {
	Code       int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string { return fmt.Sprintf("webhook: HTTP %d", e.Code) }

// Temporary reports whether the delivery may succeed if retried.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Option configures a webhook Output.
type Option func(*Output)

// WithWorkerID stamps every Delivery with id and uses it in the
// Idempotency-Key header.
func WithWorkerID(id string) Option {
	return func(o *Output) { o.workerID = id }
}

// WithBatchSize sets the number of responses per delivery. Default: 50.
func WithBatchSize(n int) Option {
	return func(o *Output) { o.batchSize = n }
}

// WithFlushInterval sets how long a partial batch may wait. Default: 5s.
func WithFlushInterval(d time.Duration) Option {
	return func(o *Output) { o.flushInterval = d }
}

// WithTimeout sets the per-POST timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(o *Output) { o.client.Timeout = d }
}

// WithRetry replaces DefaultRetryPolicy.
func WithRetry(p RetryPolicy) Option {
	return func(o *Output) { o.retry = p }
}

// WithFailuresOnly drops success responses, turning the webhook into an
// error feed.
func WithFailuresOnly() Option {
	return func(o *Output) { o.failuresOnly = true }
}

// WithOnError sets the callback for failed deliveries triggered by the flush
// interval. Default: a slog warning.
func WithOnError(f func(error)) Option {
	return func(o *Output) { o.errFunc = f }
}

// Output batches responses into Delivery envelopes and POSTs them to url.
// A batch is sent when it reaches batchSize or flushInterval after its first
// response, whichever comes first. Sequence numbers start at 1 and are not
// reused on retry.
type Output struct {
	client        *http.Client
	url           string
	workerID      string
	batchSize     int
	flushInterval time.Duration
	retry         RetryPolicy
	failuresOnly  bool
	errFunc       func(error)
	now           func() time.Time

	mu      sync.Mutex
	seq     uint64
	pending []protocol.Response
	failed  int
	timer   *time.Timer
}

// New creates a webhook output targeting url.
func New(url string, opts ...Option) *Output {
	o := &Output{
		client:        &http.Client{Timeout: defaultTimeout},
		url:           url,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		retry:         DefaultRetryPolicy,
		errFunc:       func(err error) { slog.Warn("webhook delivery failed", "error", err) },
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.retry.MaxAttempts < 1 {
		o.retry.MaxAttempts = 1
	}
	return o
}

// Write queues resp for the next delivery and sends the batch once full.
func (o *Output) Write(ctx context.Context, resp protocol.Response) error {
	if o.failuresOnly && !resp.Failed() {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending = append(o.pending, resp)
	if resp.Failed() {
		o.failed++
	}
	if len(o.pending) >= o.batchSize {
		return o.sendLocked(ctx)
	}
	if o.timer == nil {
		o.timer = time.AfterFunc(o.flushInterval, o.flushDue)
	}
	return nil
}

func (o *Output) flushDue() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.sendLocked(context.Background()); err != nil {
		o.errFunc(err)
	}
}

// Close sends the partial batch, if any.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sendLocked(context.Background())
}

// sendLocked turns the pending responses into the next Delivery and posts
// it. Caller must hold o.mu.
func (o *Output) sendLocked(ctx context.Context) error {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if len(o.pending) == 0 {
		return nil
	}

	o.seq++
	d := Delivery{
		WorkerID:  o.workerID,
		Sequence:  o.seq,
		SentAt:    o.now().UTC(),
		Failed:    o.failed,
		Responses: o.pending,
	}
	o.pending, o.failed = nil, 0

	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("webhook: delivery %d: %w", d.Sequence, err)
	}
	if err := o.deliver(ctx, o.idempotencyKey(d.Sequence), body); err != nil {
		return fmt.Errorf("webhook: delivery %d (%d responses) dropped: %w", d.Sequence, len(d.Responses), err)
	}
	return nil
}

func (o *Output) idempotencyKey(seq uint64) string {
	if o.workerID == "" {
		return strconv.FormatUint(seq, 10)
	}
	return o.workerID + "-" + strconv.FormatUint(seq, 10)
}

func (o *Output) deliver(ctx context.Context, key string, body []byte) error {
	for attempt := 1; ; attempt++ {
		err := o.post(ctx, key, body)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var retryAfter time.Duration
		var se *StatusError
		if errors.As(err, &se) {
			if !se.Temporary() {
				return err
			}
			retryAfter = se.RetryAfter
		}
		if attempt >= o.retry.MaxAttempts {
			return fmt.Errorf("%w (after %d attempts)", err, attempt)
		}

		t := time.NewTimer(o.retry.wait(attempt, retryAfter))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

func (o *Output) post(ctx context.Context, key string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{Code: resp.StatusCode, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), o.now())}
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
