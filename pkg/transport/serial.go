// Package transport opens byte links to mount controllers over a serial
// port or a TCP socket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"

	"lx200/pkg/protocol"
)

// SerialDialer opens a serial port at a fixed baud rate, 8N1.
type SerialDialer struct {
	Path string
	Baud int
}

func (d SerialDialer) String() string {
	return fmt.Sprintf("%s@%d", d.Path, d.Baud)
}

// Dial opens the port. serial.Open does not take a context, so it races
// against ctx and a port opened after cancellation is closed again.
func (d SerialDialer) Dial(ctx context.Context) (protocol.Transport, error) {
	if d.Path == "" {
		return nil, errors.New("serial port path is required")
	}

	mode := &serial.Mode{
		BaudRate: d.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	type result struct {
		port serial.Port
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		port, err := serial.Open(d.Path, mode)
		ch <- result{port, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				r.port.Close()
			}
		}()
		return nil, ctx.Err()

	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", d.Path, r.err)
		}
		return &serialTransport{port: r.port}, nil
	}
}

type serialTransport struct {
	port serial.Port
	buf  [1]byte
}

func (t *serialTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *serialTransport) ReadByte(deadline time.Time) (byte, error) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0, protocol.ErrTimeout
	}
	if err := t.port.SetReadTimeout(remaining); err != nil {
		return 0, err
	}
	n, err := t.port.Read(t.buf[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, protocol.ErrTimeout
	}
	return t.buf[0], nil
}

func (t *serialTransport) Flush() error {
	return t.port.ResetInputBuffer()
}

func (t *serialTransport) Close() error {
	return t.port.Close()
}
