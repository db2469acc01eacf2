// Package chattest provides an in-memory connection for exercising chat sessions without a network.
package chattest

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"ChatHub/tools/errs"
)

// FakeConn is a scripted connection. Frames pushed with Push are returned by
// Read in order; everything sent to it is recorded.
type FakeConn struct {
	id    string
	inbox chan []byte

	mu          sync.Mutex
	sent        [][]byte
	sendErr     error
	closed      bool
	closeCode   int
	closeReason string
	notify      chan struct{}

	closedCh  chan struct{}
	closeOnce sync.Once
	hangOnce  sync.Once
}

func NewFakeConn(id string) *FakeConn {
	return &FakeConn{
		id:       id,
		inbox:    make(chan []byte, 64),
		notify:   make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

func (f *FakeConn) ID() string { return f.id }

func (f *FakeConn) Read() ([]byte, error) {
	select {
	case b, ok := <-f.inbox:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-f.closedCh:
		return nil, io.EOF
	}
}

func (f *FakeConn) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errs.ErrConnClosed.Wrap()
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), p...))
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return nil
}

func (f *FakeConn) Close(code int, reason string) error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.closeCode = code
		f.closeReason = reason
		f.mu.Unlock()
		close(f.closedCh)
	})
	return nil
}

// Push queues an inbound frame for Read.
func (f *FakeConn) Push(frame string) { f.inbox <- []byte(frame) }

// Hangup makes Read fail as if the peer went away.
func (f *FakeConn) Hangup() { f.hangOnce.Do(func() { close(f.inbox) }) }

// FailSends makes every later Send return err.
func (f *FakeConn) FailSends(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

// Closed reports the close code and reason, if Close was called.
func (f *FakeConn) Closed() (code int, reason string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.closeReason, f.closed
}

// Done is closed once Close has been called.
func (f *FakeConn) Done() <-chan struct{} { return f.closedCh }

func (f *FakeConn) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

// Envelopes decodes everything sent so far.
func (f *FakeConn) Envelopes(t testing.TB) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, b := range f.Sent() {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("sent payload is not json: %v: %s", err, b)
		}
		out = append(out, m)
	}
	return out
}

// OfType returns the sent envelopes whose "type" equals typ.
func (f *FakeConn) OfType(t testing.TB, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range f.Envelopes(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

// WaitFor blocks until an envelope matching pred has been sent, and returns it.
func (f *FakeConn) WaitFor(t testing.TB, pred func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, m := range f.Envelopes(t) {
			if pred(m) {
				return m
			}
		}
		select {
		case <-f.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("conn %s: no matching envelope, got %d: %v", f.id, len(f.Sent()), f.Envelopes(t))
			return nil
		}
	}
}

// Type matches envelopes by "type".
func Type(typ string) func(map[string]any) bool {
	return func(m map[string]any) bool { return m["type"] == typ }
}
