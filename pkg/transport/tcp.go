package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"time"

	"lx200/pkg/protocol"
)

// Well known ports of network attached controllers.
const (
	DefaultTCPPort = 9999
	ZwoTCPPort     = 4030
)

// drainWindow is how long Flush waits for stray input on a socket.
const drainWindow = 5 * time.Millisecond

// TCPDialer connects to a controller exposed on host:port, either natively
// (WiFi mounts) or through a serial-to-network bridge.
type TCPDialer struct {
	Address string
	Timeout time.Duration
}

func (d TCPDialer) String() string {
	return "tcp://" + d.Address
}

func (d TCPDialer) Dial(ctx context.Context) (protocol.Transport, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return &tcpTransport{conn: conn, r: bufio.NewReader(conn)}, nil
}

type tcpTransport struct {
	conn net.Conn
	r    *bufio.Reader
}

func (t *tcpTransport) Write(p []byte) (int, error) {
	t.conn.SetWriteDeadline(time.Now().Add(protocol.DefaultTimeout))
	return t.conn.Write(p)
}

func (t *tcpTransport) ReadByte(deadline time.Time) (byte, error) {
	if t.r.Buffered() == 0 {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return 0, err
		}
	}
	b, err := t.r.ReadByte()
	if isTimeout(err) {
		return 0, protocol.ErrTimeout
	}
	return b, err
}

// Flush discards buffered input and anything arriving within drainWindow.
func (t *tcpTransport) Flush() error {
	if n := t.r.Buffered(); n > 0 {
		t.r.Discard(n)
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(drainWindow)); err != nil {
		return err
	}
	buf := make([]byte, 64)
	for {
		_, err := t.conn.Read(buf)
		if isTimeout(err) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
