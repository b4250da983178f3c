package protocol

import (
	"bytes"
	"encoding/json"
)

// Response is one output line. It is either a success carrying Results or a
// failure carrying Error, never both.
type Response struct {
	ID      json.RawMessage
	Results []Result
	Error   string

	failed bool
}

// Success builds a success response. A nil results slice is emitted as [].
func Success(id json.RawMessage, results []Result) Response {
	if results == nil {
		results = []Result{}
	}
	return Response{ID: id, Results: results}
}

// Failure builds a failure response. A nil id is omitted from the output.
func Failure(id json.RawMessage, err error) Response {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Response{ID: id, Error: msg, failed: true}
}

// Failed reports whether r is a failure response.
func (r Response) Failed() bool { return r.failed }

type successWire struct {
	ID      json.RawMessage `json:"id"`
	Results []Result        `json:"results"`
}

type failureWire struct {
	ID    json.RawMessage `json:"id,omitempty"`
	Error string          `json:"error"`
}

// MarshalJSON emits the success or failure shape.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.failed {
		return marshalNoEscape(failureWire{ID: r.ID, Error: r.Error})
	}
	results := r.Results
	if results == nil {
		results = []Result{}
	}
	return marshalNoEscape(successWire{ID: r.ID, Results: results})
}

// marshalNoEscape encodes v without HTML escaping. The caller's encoder
// decides whether <, > and & are escaped in the final output.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// UnmarshalJSON decodes either response shape. A line with an "error" key is
// a failure.
func (r *Response) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID      json.RawMessage `json:"id"`
		Results []Result        `json:"results"`
		Error   *string         `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Error != nil {
		*r = Response{ID: wire.ID, Error: *wire.Error, failed: true}
		return nil
	}
	*r = Success(wire.ID, wire.Results)
	return nil
}
