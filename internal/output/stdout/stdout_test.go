package stdout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/slant/internal/protocol"
)

func TestWriteOneLinePerResponse(t *testing.T) {
	var buf bytes.Buffer
	out := NewWriter(&buf)

	require.NoError(t, out.Write(context.Background(), protocol.Success(json.RawMessage(`"a"`), nil)))
	require.NoError(t, out.Write(context.Background(), protocol.Failure(nil, errors.New("bad"))))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"id":"a","results":[]}`, lines[0])
	assert.Equal(t, `{"error":"bad"}`, lines[1])
}

func TestWriteFlushesImmediately(t *testing.T) {
	var rec bytes.Buffer
	out := NewWriter(&rec)

	require.NoError(t, out.Write(context.Background(), protocol.Success(json.RawMessage(`1`), nil)))
	assert.Equal(t, "{\"id\":1,\"results\":[]}\n", rec.String(), "response must be delivered without Close")
}

func TestWriteDoesNotEscapeHTML(t *testing.T) {
	var buf bytes.Buffer
	out := NewWriter(&buf)
	require.NoError(t, out.Write(context.Background(), protocol.Failure(nil, errors.New("<b>&</b>"))))
	assert.Contains(t, buf.String(), "<b>&</b>")
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteReportsBrokenPipe(t *testing.T) {
	out := NewWriter(brokenWriter{})
	err := out.Write(context.Background(), protocol.Success(nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}
