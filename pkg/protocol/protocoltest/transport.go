// Package protocoltest provides a scripted Transport for exercising the
// protocol engine without hardware.
package protocoltest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"lx200/pkg/protocol"
)

// Transport replays canned replies and records every command written.
// A command without a scripted reply produces silence, which the Executor
// reports as a timeout. Reads never block.
type Transport struct {
	mu       sync.Mutex
	once     map[string][]string
	always   map[string]string
	prefixes map[string]string
	handler  func(cmd string) (string, bool)

	writes  []string
	pending []byte
	closed  bool
	dials   int

	// WriteErr, when set, is returned by every Write.
	WriteErr error
	// DialErr, when set, is returned by Dial.
	DialErr error
}

func New() *Transport {
	return &Transport{
		once:     make(map[string][]string),
		always:   make(map[string]string),
		prefixes: make(map[string]string),
	}
}

// On answers cmd with reply every time.
func (t *Transport) On(cmd, reply string) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.always[cmd] = reply
	return t
}

// Once queues reply for the next cmd only; queued replies win over On.
func (t *Transport) Once(cmd, reply string) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.once[cmd] = append(t.once[cmd], reply)
	return t
}

// OnPrefix answers any command starting with prefix.
func (t *Transport) OnPrefix(prefix, reply string) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prefixes[prefix] = reply
	return t
}

// Handle installs a fallback consulted when no scripted reply matches.
func (t *Transport) Handle(fn func(cmd string) (string, bool)) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
	return t
}

func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, errors.New("write on closed transport")
	}
	if t.WriteErr != nil {
		return 0, t.WriteErr
	}

	cmd := string(p)
	t.writes = append(t.writes, cmd)

	if q := t.once[cmd]; len(q) > 0 {
		t.pending = append(t.pending, q[0]...)
		t.once[cmd] = q[1:]
		return len(p), nil
	}
	if reply, ok := t.always[cmd]; ok {
		t.pending = append(t.pending, reply...)
		return len(p), nil
	}
	for prefix, reply := range t.prefixes {
		if strings.HasPrefix(cmd, prefix) {
			t.pending = append(t.pending, reply...)
			return len(p), nil
		}
	}
	if t.handler != nil {
		if reply, ok := t.handler(cmd); ok {
			t.pending = append(t.pending, reply...)
		}
	}
	return len(p), nil
}

func (t *Transport) ReadByte(deadline time.Time) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, errors.New("read on closed transport")
	}
	if len(t.pending) == 0 {
		return 0, protocol.ErrTimeout
	}
	b := t.pending[0]
	t.pending = t.pending[1:]
	return b, nil
}

func (t *Transport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = nil
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Dial makes the Transport its own Dialer; every dial reopens it.
func (t *Transport) Dial(ctx context.Context) (protocol.Transport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.DialErr != nil {
		return nil, t.DialErr
	}
	t.dials++
	t.closed = false
	return t, nil
}

func (t *Transport) String() string {
	return "scripted transport"
}

// Writes returns every command written so far.
func (t *Transport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// WriteCount returns the number of commands written.
func (t *Transport) WriteCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.writes)
}

// Reset forgets recorded writes.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = nil
}

// Dials returns how many times the transport was opened.
func (t *Transport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// Closed reports whether the transport is currently closed.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
