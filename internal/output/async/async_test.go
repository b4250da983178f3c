package async

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crimson-sun/slant/internal/protocol"
)

type mockOutput struct {
	mu     sync.Mutex
	resps  []protocol.Response
	closed bool
	err    error         // if set, Write returns this
	delay  time.Duration // if >0, Write sleeps first
}

func (m *mockOutput) Write(_ context.Context, resp protocol.Response) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	m.resps = append(m.resps, resp)
	m.mu.Unlock()
	return m.err
}

func (m *mockOutput) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mockOutput) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resps)
}

func testResponse(i int) protocol.Response {
	return protocol.Success(json.RawMessage(strconv.Itoa(i)), nil)
}

func TestResponsesFlowThroughInOrder(t *testing.T) {
	inner := &mockOutput{}
	a := New(inner, WithBufferSize(16))

	for i := 0; i < 10; i++ {
		if err := a.Write(context.Background(), testResponse(i)); err != nil {
			t.Fatalf("Write error: %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	if inner.count() != 10 {
		t.Fatalf("got %d responses, want 10", inner.count())
	}
	for i, r := range inner.resps {
		if string(r.ID) != strconv.Itoa(i) {
			t.Errorf("response %d has id %s", i, r.ID)
		}
	}
	if !inner.closed {
		t.Error("inner output should be closed")
	}
}

func TestBackpressureBlocks(t *testing.T) {
	inner := &mockOutput{delay: 50 * time.Millisecond}
	a := New(inner, WithBufferSize(1))
	defer a.Close()

	a.Write(context.Background(), testResponse(1))

	done := make(chan struct{})
	go func() {
		a.Write(context.Background(), testResponse(2))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Write blocked indefinitely (expected eventual unblock via drain)")
	}
}

func TestWriteHonoursContext(t *testing.T) {
	inner := &mockOutput{delay: time.Second}
	a := New(inner, WithBufferSize(1), WithDrainTimeout(10*time.Millisecond))
	defer a.Close()

	a.Write(context.Background(), testResponse(1)) // picked up by drain, which sleeps
	a.Write(context.Background(), testResponse(2)) // fills the buffer

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := a.Write(ctx, testResponse(3)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDropOnFull(t *testing.T) {
	inner := &mockOutput{delay: 100 * time.Millisecond}
	a := New(inner, WithBufferSize(1), WithDropOnFull())

	for i := 0; i < 20; i++ {
		if err := a.Write(context.Background(), testResponse(i)); err != nil {
			t.Fatalf("drop mode Write should never fail, got %v", err)
		}
	}
	dropped := a.Dropped()
	a.Close()

	if dropped == 0 {
		t.Error("expected some responses to be dropped in drop-on-full mode")
	}
	if inner.count() == 0 {
		t.Error("expected at least some responses to be delivered")
	}
	if uint64(inner.count())+dropped != 20 {
		t.Errorf("delivered %d + dropped %d != 20", inner.count(), dropped)
	}
}

func TestCloseDrainsRemaining(t *testing.T) {
	inner := &mockOutput{}
	a := New(inner, WithBufferSize(100))

	for i := 0; i < 50; i++ {
		a.Write(context.Background(), testResponse(i))
	}
	a.Close()

	if inner.count() != 50 {
		t.Errorf("after Close, got %d responses, want 50 (drain incomplete)", inner.count())
	}
}

func TestErrorCallbackInvoked(t *testing.T) {
	inner := &mockOutput{err: errors.New("write failed")}
	var errorCount atomic.Int64
	a := New(inner, WithBufferSize(16), WithOnError(func(err error) {
		errorCount.Add(1)
	}))

	for i := 0; i < 5; i++ {
		if err := a.Write(context.Background(), testResponse(i)); err != nil {
			t.Fatalf("inner errors must not surface from Write: %v", err)
		}
	}
	a.Close()

	if errorCount.Load() != 5 {
		t.Errorf("error callback called %d times, want 5", errorCount.Load())
	}
}

func TestWriteAfterClose(t *testing.T) {
	a := New(&mockOutput{}, WithBufferSize(4))
	if err := a.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := a.Write(context.Background(), testResponse(1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	select {
	case <-a.done:
	case <-time.After(time.Second):
		t.Fatal("drain goroutine did not exit after Close")
	}
}

func TestCloseIdempotent(t *testing.T) {
	a := New(&mockOutput{}, WithBufferSize(16))
	a.Write(context.Background(), testResponse(1))

	if err := a.Close(); err != nil {
		t.Fatalf("first Close error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}
