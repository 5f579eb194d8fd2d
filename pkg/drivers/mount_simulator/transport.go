package mount_simulator

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"lx200/pkg/protocol"
)

var errClosed = errors.New("simulator link closed")

// Dialer connects to the controller in memory.
func (c *Controller) Dialer() protocol.Dialer {
	return dialer{c}
}

type dialer struct {
	c *Controller
}

func (d dialer) String() string {
	return "simulator"
}

func (d dialer) Dial(ctx context.Context) (protocol.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &link{c: d.c}, nil
}

// link frames written bytes into commands at '#' and queues the replies.
type link struct {
	c *Controller

	mu      sync.Mutex
	partial []byte
	pending []byte
	closed  bool
}

func (l *link) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, errClosed
	}
	for _, b := range p {
		l.partial = append(l.partial, b)
		if b == '#' {
			l.pending = append(l.pending, l.c.Handle(string(l.partial))...)
			l.partial = l.partial[:0]
		}
	}
	return len(p), nil
}

// ReadByte never waits: replies are produced synchronously by Write, so an
// empty queue means silence.
func (l *link) ReadByte(deadline time.Time) (byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, errClosed
	}
	if len(l.pending) == 0 {
		return 0, protocol.ErrTimeout
	}
	b := l.pending[0]
	l.pending = l.pending[1:]
	return b, nil
}

func (l *link) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = l.pending[:0]
	l.partial = l.partial[:0]
	return nil
}

func (l *link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Serve answers LX200 commands on every connection accepted from ln until
// ctx is done, the way a WiFi-bridged controller does on its TCP port.
func (c *Controller) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.logger.Infof("Simulator client connected from %s", conn.RemoteAddr())
		go c.serveConn(ctx, conn)
	}
}

func (c *Controller) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	l := &link{c: c}
	r := bufio.NewReader(conn)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return
		}
		l.Write([]byte{b})
		for {
			out, err := l.ReadByte(time.Time{})
			if err != nil {
				break
			}
			if _, err := conn.Write([]byte{out}); err != nil {
				return
			}
		}
	}
}
