package testutil

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"filedrop/internal/drop"
)

// ErrConnBroken is returned by FakeConn.Send once the conn is broken.
var ErrConnBroken = errors.New("connection broken")

// FakeConn is an in-memory drop.Conn that records every frame it is sent.
// Safe for concurrent use.
type FakeConn struct {
	mu          sync.Mutex
	sent        [][]byte
	broken      bool
	closed      bool
	closeCode   int
	closeReason string
	failWhen    func(payload []byte) bool
}

// NewFakeConn creates a healthy FakeConn.
func NewFakeConn() *FakeConn {
	return &FakeConn{}
}

func (c *FakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWhen != nil && c.failWhen(payload) {
		c.broken = true
	}
	if c.broken || c.closed {
		return ErrConnBroken
	}
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *FakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	return nil
}

// Break makes every later Send fail.
func (c *FakeConn) Break() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken = true
}

// FailWhen breaks the conn on the first payload for which fn returns true.
func (c *FakeConn) FailWhen(fn func(payload []byte) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWhen = fn
}

// Closed reports whether Close was called and with which code.
func (c *FakeConn) Closed() (bool, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeReason
}

// Sent returns a copy of every payload delivered so far.
func (c *FakeConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// Frames decodes every delivered payload.
func (c *FakeConn) Frames(t *testing.T) []drop.ServerFrame {
	t.Helper()
	var frames []drop.ServerFrame
	for _, payload := range c.Sent() {
		var f drop.ServerFrame
		if err := json.Unmarshal(payload, &f); err != nil {
			t.Fatalf("decoding frame %s: %v", payload, err)
		}
		frames = append(frames, f)
	}
	return frames
}

// Events returns the delivered broadcast events in order.
func (c *FakeConn) Events(t *testing.T) []drop.LogEvent {
	t.Helper()
	var events []drop.LogEvent
	for _, f := range c.Frames(t) {
		if f.IsEvent() {
			events = append(events, f.LogEvent)
		}
	}
	return events
}

// Reset forgets every delivered payload.
func (c *FakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

var _ drop.Conn = (*FakeConn)(nil)
