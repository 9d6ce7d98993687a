package changestream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// fakeSource delivers a fixed set of changes then blocks until ctx is
// canceled, optionally emitting one error on a later Watch call to exercise
// reconnect.
type fakeSource struct {
	mu         sync.Mutex
	watchCalls int
	changes    []Change
	errOnFirst bool
}

func (f *fakeSource) Watch(ctx context.Context) (<-chan Change, <-chan error) {
	f.mu.Lock()
	f.watchCalls++
	call := f.watchCalls
	f.mu.Unlock()

	changesCh := make(chan Change, len(f.changes))
	errCh := make(chan error, 1)

	for _, c := range f.changes {
		changesCh <- c
	}

	go func() {
		if f.errOnFirst && call == 1 {
			errCh <- errors.New("simulated disconnect")
			return
		}
		<-ctx.Done()
	}()

	return changesCh, errCh
}

func TestBridgeStartStopLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	source := &fakeSource{changes: []Change{
		{OperationType: "insert", FullDocument: map[string]interface{}{"_id": "inc_1"}},
	}}

	received := make(chan Notification, 1)
	b := New(source, nil)
	b.Start(func(n Notification) { received <- n })

	select {
	case n := <-received:
		if n.Type != "incident.insert" {
			t.Fatalf("expected type incident.insert, got %q", n.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}

	b.Stop()
}

func TestBridgeStartIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	source := &fakeSource{}
	b := New(source, nil)
	b.Start(func(Notification) {})
	b.Start(func(Notification) {}) // no-op, must not panic or spawn a second worker
	if !b.IsRunning() {
		t.Fatal("expected bridge to be running")
	}
	b.Stop()
}

func TestBridgeStopWithoutStartIsNoop(t *testing.T) {
	b := New(&fakeSource{}, nil)
	b.Stop() // must not block or panic
}

func TestBridgeReconnectsOnError(t *testing.T) {
	defer goleak.VerifyNone(t)

	source := &fakeSource{errOnFirst: true}
	b := New(source, nil)
	b.Start(func(Notification) {})

	// Give the reconnect path a moment to run (reconnectDelay is 5s in
	// production; this only checks the bridge survives a first-connection
	// error without exiting its loop).
	time.Sleep(100 * time.Millisecond)
	if !b.IsRunning() {
		t.Fatal("expected bridge to still be running after a stream error")
	}
	b.Stop()
}
