// Package output defines destinations for worker responses.
package output

import (
	"context"

	"github.com/crimson-sun/slant/internal/protocol"
)

// Output receives one response per processed request line.
type Output interface {
	Write(ctx context.Context, resp protocol.Response) error
	Close() error
}
