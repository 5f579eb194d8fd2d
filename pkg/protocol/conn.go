package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultTimeout = 3 * time.Second
	DefaultSettle  = 50 * time.Millisecond
)

// Connection is the physical link shared by every device of one mount. It is
// opened by the first Acquire and closed by the last Release.
type Connection struct {
	dialer  Dialer
	timeout time.Duration
	logger  log.FieldLogger

	// mu serializes exchanges: at most one request is in flight.
	mu sync.Mutex

	refMu     sync.Mutex
	refs      int
	transport Transport
	listeners []func(error)
}

// NewConnection creates a closed connection using dialer.
func NewConnection(dialer Dialer, timeout time.Duration, logger log.FieldLogger) *Connection {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Connection{
		dialer:  dialer,
		timeout: timeout,
		logger:  logger.WithField("component", "connection"),
	}
}

// Acquire takes a reference, dialing the transport if this is the first one.
// It reports whether the link was opened by this call.
func (c *Connection) Acquire(ctx context.Context) (bool, error) {
	c.refMu.Lock()
	defer c.refMu.Unlock()

	if c.refs > 0 {
		c.refs++
		return false, nil
	}

	t, err := c.dialer.Dial(ctx)
	if err != nil {
		return false, &TransportError{Op: "open", Err: err}
	}

	c.transport = t
	c.refs = 1
	c.logger.Infof("Opened %s", c.dialer)
	return true, nil
}

// Release drops a reference and closes the link when none remain. It
// reports whether the link was closed by this call.
func (c *Connection) Release() (bool, error) {
	c.refMu.Lock()
	defer c.refMu.Unlock()

	if c.refs == 0 {
		return false, ErrNotConnected
	}

	c.refs--
	if c.refs > 0 {
		return false, nil
	}

	err := c.closeLocked()
	c.logger.Infof("Closed %s", c.dialer)
	return true, err
}

// Refs returns the number of holders.
func (c *Connection) Refs() int {
	c.refMu.Lock()
	defer c.refMu.Unlock()
	return c.refs
}

// Timeout returns the reply timeout.
func (c *Connection) Timeout() time.Duration {
	return c.timeout
}

// OnFailure registers fn to be called, once per failure, when a transport
// error closes the link.
func (c *Connection) OnFailure(fn func(error)) {
	c.refMu.Lock()
	defer c.refMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// fail closes the link after a transport error and notifies listeners.
// Holders lose their references.
func (c *Connection) fail(err error) {
	c.refMu.Lock()
	if c.transport == nil {
		c.refMu.Unlock()
		return
	}
	c.closeLocked()
	c.refs = 0
	listeners := append([]func(error){}, c.listeners...)
	c.refMu.Unlock()

	c.logger.Errorf("Connection lost: %v", err)
	for _, fn := range listeners {
		go fn(err)
	}
}

func (c *Connection) closeLocked() error {
	if c.transport == nil {
		return nil
	}
	err := c.transport.Close()
	c.transport = nil
	if err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

func (c *Connection) current() Transport {
	c.refMu.Lock()
	defer c.refMu.Unlock()
	return c.transport
}
