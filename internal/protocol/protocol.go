// Package protocol defines the line-delimited request/response wire format of
// the classification worker: one JSON object per line in, one JSON object per
// line out.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/crimson-sun/slant/internal/model"
)

var (
	// ErrMalformed is returned when a line is not valid JSON.
	ErrMalformed = errors.New("malformed request")
	// ErrNotObject is returned when a line is valid JSON but not an object.
	ErrNotObject = errors.New("request is not a JSON object")
	// ErrLabelCount is returned when the classifier output does not line up
	// with the request items.
	ErrLabelCount = errors.New("label count mismatch")
)

// NormalizedItem is a single text to classify with its optional caller id.
// A nil ID means the item carried no id and is emitted as null.
type NormalizedItem struct {
	ID   json.RawMessage
	Text string
}

// Request is one decoded input line.
type Request struct {
	ID    json.RawMessage // echoed verbatim; nil when absent
	Items []NormalizedItem
}

// Result pairs an item id with its predicted label.
type Result struct {
	ID    json.RawMessage `json:"id"`
	Label model.Label     `json:"label"`
}

// Decode parses a single request line and normalizes its items.
//
// Item normalization is permissive: a missing or non-array "items" yields no
// items, bare strings become id-less items, objects contribute their "id" and
// "text" (non-string text becomes ""), and any other shape becomes an empty,
// id-less item.
func Decode(line []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Request{}, ErrNotObject
		}
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		// literal null
		return Request{}, ErrNotObject
	}
	return Request{
		ID:    validID(fields["id"]),
		Items: normalizeItems(fields["items"]),
	}, nil
}

func normalizeItems(raw json.RawMessage) []NormalizedItem {
	var elems []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &elems) != nil {
		return []NormalizedItem{}
	}
	items := make([]NormalizedItem, len(elems))
	for i, e := range elems {
		items[i] = normalizeItem(e)
	}
	return items
}

func normalizeItem(raw json.RawMessage) NormalizedItem {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return NormalizedItem{}
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return NormalizedItem{}
		}
		return NormalizedItem{Text: s}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return NormalizedItem{}
		}
		item := NormalizedItem{ID: validID(obj["id"])}
		if t, ok := obj["text"]; ok {
			var s string
			if json.Unmarshal(t, &s) == nil {
				item.Text = s
			}
		}
		return item
	default:
		return NormalizedItem{}
	}
}

// RecoverID extracts the request id from a line that failed processing.
// It never fails: when the line is not a JSON object the id is dropped.
func RecoverID(line []byte) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil
	}
	return validID(probe.ID)
}

// validID returns raw unchanged when it is valid UTF-8. Otherwise the value is
// decoded and re-encoded so invalid sequences become U+FFFD.
func validID(raw json.RawMessage) json.RawMessage {
	if raw == nil || utf8.Valid(raw) {
		return raw
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	out, err := marshalNoEscape(v)
	if err != nil {
		return nil
	}
	return out
}

// Texts returns the item texts in order.
func Texts(items []NormalizedItem) []string {
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	return texts
}

// Assemble zips labels with item ids positionally.
func Assemble(items []NormalizedItem, labels []model.Label) ([]Result, error) {
	if len(labels) != len(items) {
		return nil, fmt.Errorf("%w: classifier returned %d labels for %d items",
			ErrLabelCount, len(labels), len(items))
	}
	results := make([]Result, len(items))
	for i, it := range items {
		results[i] = Result{ID: it.ID, Label: labels[i]}
	}
	return results, nil
}
