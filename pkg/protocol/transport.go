package protocol

import (
	"context"
	"time"
)

// Transport is a half-duplex byte channel to the controller. Implementations
// return ErrTimeout from ReadByte when the deadline passes without data; any
// other error is treated as a lost link.
type Transport interface {
	Write(p []byte) (int, error)
	ReadByte(deadline time.Time) (byte, error)
	// Flush discards input that arrived outside an exchange.
	Flush() error
	Close() error
}

// Dialer opens a Transport. It is called once per physical connection.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
	String() string
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}

func (f DialerFunc) String() string {
	return "dialer"
}
