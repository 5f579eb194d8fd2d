package alpaca

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DiscoveryPort    = 32227
	discoveryMessage = "alpacadiscovery1"
)

// DiscoveryResponder answers Alpaca UDP discovery broadcasts with the port
// of the HTTP API.
type DiscoveryResponder struct {
	addr     string
	port     int
	response []byte
	logger   log.FieldLogger
}

// NewDiscoveryResponder creates a responder listening on addr, answering
// with alpacaPort.
func NewDiscoveryResponder(addr string, alpacaPort int, logger log.FieldLogger) *DiscoveryResponder {
	return &DiscoveryResponder{
		addr:     addr,
		port:     DiscoveryPort,
		response: []byte(fmt.Sprintf(`{"AlpacaPort":%d}`, alpacaPort)),
		logger:   logger.WithField("component", "discovery"),
	}
}

// Run serves discovery requests until ctx is done.
func (d *DiscoveryResponder) Run(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", net.JoinHostPort(d.addr, fmt.Sprint(d.port)))
	if err != nil {
		return fmt.Errorf("cannot bind discovery socket: %v", err)
	}
	return d.serve(ctx, conn)
}

func (d *DiscoveryResponder) serve(ctx context.Context, conn net.PacketConn) error {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	d.logger.Debugf("Discovery responder started on %s", conn.LocalAddr())
	buf := make([]byte, 1024)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("discovery read failed: %v", err)
		}

		data := string(buf[:n])
		d.logger.Debugf("Received %s from %s", data, addr)

		if strings.HasPrefix(data, discoveryMessage) {
			if _, err := conn.WriteTo(d.response, addr); err != nil {
				d.logger.Errorf("Error writing to socket: %v", err)
			}
		}
	}
}
