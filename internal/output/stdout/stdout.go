// Package stdout writes the worker's protocol stream: one JSON response per
// line, flushed as soon as it is written.
package stdout

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/crimson-sun/slant/internal/protocol"
)

// Output encodes responses as NDJSON onto a writer.
type Output struct {
	w   *bufio.Writer
	enc *json.Encoder
}

// New returns an Output on os.Stdout.
func New() *Output {
	return NewWriter(os.Stdout)
}

// NewWriter returns an Output on w.
func NewWriter(w io.Writer) *Output {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &Output{w: bw, enc: enc}
}

// Write encodes resp as a single line and flushes it. Callers driving the
// worker block on each line, so nothing is left buffered.
func (o *Output) Write(_ context.Context, resp protocol.Response) error {
	if err := o.enc.Encode(resp); err != nil {
		return fmt.Errorf("stdout output: %w", err)
	}
	if err := o.w.Flush(); err != nil {
		return fmt.Errorf("stdout output: flush: %w", err)
	}
	return nil
}

// Close flushes any pending bytes.
func (o *Output) Close() error {
	return o.w.Flush()
}
