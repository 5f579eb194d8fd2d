package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"lx200/pkg/protocol"
)

// Endpoint is a parsed connection address: a serial device path or a TCP
// host:port.
type Endpoint struct {
	Serial  bool
	Address string
}

// ParseEndpoint accepts "/dev/ttyUSB0", "COM3", "tcp://host:port",
// "host:port" or a bare host, which gets defaultPort.
func ParseEndpoint(s string, defaultPort int) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("empty endpoint")
	}

	if strings.HasPrefix(s, "/") || strings.HasPrefix(strings.ToUpper(s), "COM") {
		return Endpoint{Serial: true, Address: s}, nil
	}

	s = strings.TrimPrefix(s, "tcp://")
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		if defaultPort == 0 {
			defaultPort = DefaultTCPPort
		}
		return Endpoint{Address: net.JoinHostPort(s, strconv.Itoa(defaultPort))}, nil
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("missing host in %q", s)
	}
	if p, err := strconv.Atoi(port); err != nil || p <= 0 || p > 65535 {
		return Endpoint{}, fmt.Errorf("invalid port in %q", s)
	}
	return Endpoint{Address: s}, nil
}

func (e Endpoint) String() string {
	if e.Serial {
		return e.Address
	}
	return "tcp://" + e.Address
}

// Dialer returns a dialer for the endpoint. The baud rate is ignored for
// TCP endpoints.
func (e Endpoint) Dialer(baud int, timeout time.Duration) protocol.Dialer {
	if e.Serial {
		return SerialDialer{Path: e.Address, Baud: baud}
	}
	return TCPDialer{Address: e.Address, Timeout: timeout}
}
