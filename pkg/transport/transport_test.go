package transport_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lx200/pkg/protocol"
	"lx200/pkg/transport"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    transport.Endpoint
		expectError bool
	}{
		{name: "Serial device", input: "/dev/ttyUSB0", expected: transport.Endpoint{Serial: true, Address: "/dev/ttyUSB0"}},
		{name: "Windows port", input: "COM3", expected: transport.Endpoint{Serial: true, Address: "COM3"}},
		{name: "Host and port", input: "192.168.4.1:4030", expected: transport.Endpoint{Address: "192.168.4.1:4030"}},
		{name: "Scheme", input: "tcp://mount.local:9999", expected: transport.Endpoint{Address: "mount.local:9999"}},
		{name: "Bare host", input: "mount.local", expected: transport.Endpoint{Address: "mount.local:4030"}},
		{name: "Missing host", input: ":4030", expectError: true},
		{name: "Bad port", input: "mount:x", expectError: true},
		{name: "Empty", input: " ", expectError: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ep, err := transport.ParseEndpoint(tc.input, transport.ZwoTCPPort)
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, ep)
		})
	}
}

func TestEndpointDialer(t *testing.T) {
	serial := transport.Endpoint{Serial: true, Address: "/dev/ttyACM0"}
	assert.Equal(t, transport.SerialDialer{Path: "/dev/ttyACM0", Baud: 19200}, serial.Dialer(19200, time.Second))

	tcp := transport.Endpoint{Address: "localhost:9999"}
	assert.Equal(t, "tcp://localhost:9999", tcp.Dialer(9600, time.Second).String())
}

// fakeController answers :GR# and stays silent on anything else.
func fakeController(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			cmd, err := r.ReadString('#')
			if err != nil {
				return
			}
			if cmd == ":GR#" {
				conn.Write([]byte("12:34:56#"))
			}
		}
	}()
	return ln.Addr().String()
}

func TestTCPExchange(t *testing.T) {
	addr := fakeController(t)
	dialer := transport.TCPDialer{Address: addr, Timeout: time.Second}
	conn := protocol.NewConnection(dialer, 200*time.Millisecond, log.New())
	_, err := conn.Acquire(context.Background())
	require.NoError(t, err)
	defer conn.Release()

	exec := protocol.NewExecutor(conn, 0, log.New())

	resp, err := exec.Execute(context.Background(), ":GR#", protocol.Terminated)
	require.NoError(t, err)
	assert.Equal(t, "12:34:56", resp.Text)

	_, err = exec.Execute(context.Background(), ":GD#", protocol.Terminated)
	assert.ErrorIs(t, err, protocol.ErrTimeout)
	assert.Equal(t, 1, conn.Refs())
}

func TestTCPDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	conn := protocol.NewConnection(transport.TCPDialer{Address: addr, Timeout: time.Second}, 0, log.New())
	_, err = conn.Acquire(context.Background())
	assert.True(t, protocol.IsFatal(err))
}
