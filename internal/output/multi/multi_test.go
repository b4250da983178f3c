package multi

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/crimson-sun/slant/internal/protocol"
)

// mockOutput records calls for test assertions.
type mockOutput struct {
	resps  []protocol.Response
	closed bool
	err    error // if set, Write and Close return this error
}

func (m *mockOutput) Write(_ context.Context, resp protocol.Response) error {
	m.resps = append(m.resps, resp)
	return m.err
}

func (m *mockOutput) Close() error {
	m.closed = true
	return m.err
}

func testResponse(id string) protocol.Response {
	return protocol.Success(json.RawMessage(id), nil)
}

func TestFanOutDeliversToAll(t *testing.T) {
	a := &mockOutput{}
	b := &mockOutput{}
	c := &mockOutput{}
	m := New(a, b, c)

	if err := m.Write(context.Background(), testResponse(`"r1"`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, out := range []*mockOutput{a, b, c} {
		if len(out.resps) != 1 {
			t.Fatalf("output %d: got %d responses, want 1", i, len(out.resps))
		}
		if string(out.resps[0].ID) != `"r1"` {
			t.Errorf("output %d: got id %s, want \"r1\"", i, out.resps[0].ID)
		}
	}
}

func TestErrorDoesNotPreventDelivery(t *testing.T) {
	errA := errors.New("a failed")
	a := &mockOutput{err: errA}
	b := &mockOutput{}
	m := New(a, b)

	err := m.Write(context.Background(), testResponse("1"))
	if !errors.Is(err, errA) {
		t.Fatalf("expected joined error to wrap errA, got %v", err)
	}
	if len(b.resps) != 1 {
		t.Errorf("second output should still receive the response, got %d", len(b.resps))
	}
}

func TestMultipleErrorsJoined(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	m := New(&mockOutput{err: errA}, &mockOutput{err: errB})

	err := m.Write(context.Background(), testResponse("1"))
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both errors, got %v", err)
	}
}

func TestNilOutputsSkipped(t *testing.T) {
	a := &mockOutput{}
	m := New(nil, a, nil)
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
	if err := m.Write(context.Background(), testResponse("1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCloseClosesAll(t *testing.T) {
	a := &mockOutput{}
	b := &mockOutput{}
	m := New(a, b)

	if err := m.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("expected all outputs closed")
	}
}

func TestEmptyMulti(t *testing.T) {
	m := New()
	if err := m.Write(context.Background(), testResponse("1")); err != nil {
		t.Errorf("Write on empty Multi: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close on empty Multi: %v", err)
	}
}
