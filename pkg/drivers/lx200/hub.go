// Package lx200 publishes an LX200 mount as the property-bus and Alpaca
// devices a client sees: the mount itself, its guide port, its focuser
// port and its auxiliary outlets. All of them share one Session through a
// Hub.
package lx200

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"lx200/pkg/config"
	"lx200/pkg/detect"
	"lx200/pkg/mount"
	"lx200/pkg/protocol"
	"lx200/pkg/trace"
)

// stopTimeout bounds the stop command sent when the last client leaves.
const stopTimeout = 2 * time.Second

// Client is a façade sharing the Hub's session.
type Client interface {
	// Disconnected is called when the connection fails under the client.
	Disconnected(err error)
}

// Hub opens the mount connection for the first client, shares its Session
// with every later one and closes it when the last client leaves. The
// connection holds one reference per client.
type Hub struct {
	store  *config.Store
	logger log.FieldLogger

	dial  detect.DialerFunc
	bauds []int

	mu      sync.Mutex
	clients map[Client]struct{}
	session *mount.Session
	conn    *protocol.Connection
	tracer  *trace.FileTracer
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(store *config.Store, logger log.FieldLogger) *Hub {
	return &Hub{
		store:   store,
		logger:  logger.WithField("component", "hub"),
		clients: make(map[Client]struct{}),
	}
}

// SetDialer replaces the configured endpoint, for the simulator.
func (h *Hub) SetDialer(dial detect.DialerFunc, bauds []int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dial = dial
	h.bauds = bauds
}

// Session returns the shared session, or nil when no client is connected.
func (h *Hub) Session() *mount.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// Acquire connects c, opening the mount if c is the first client.
func (h *Hub) Acquire(ctx context.Context, c Client) (*mount.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		return h.session, nil
	}
	if h.session != nil {
		if _, err := h.conn.Acquire(ctx); err != nil {
			return nil, err
		}
		h.clients[c] = struct{}{}
		return h.session, nil
	}

	if err := h.open(ctx); err != nil {
		return nil, err
	}
	h.clients[c] = struct{}{}
	return h.session, nil
}

// open detects the mount, initializes the session and starts polling.
func (h *Hub) open(ctx context.Context) error {
	cfg, err := h.store.GetMountConfig()
	if err != nil {
		return fmt.Errorf("failed to get mount config: %v", err)
	}

	dial, bauds := h.dial, h.bauds
	if dial == nil {
		ep, err := cfg.ParseEndpoint()
		if err != nil {
			return err
		}
		dial = func(baud int) protocol.Dialer { return ep.Dialer(baud, cfg.Timeout) }
		bauds = []int{0}
		if ep.Serial {
			bauds = cfg.Bauds()
		}
	}

	res, exec, err := detect.ResolveWithFallback(ctx, dial, bauds, cfg.DialectValue(), detect.Options{
		Timeout: cfg.Timeout,
		Settle:  cfg.Settle,
		Logger:  h.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to identify mount: %w", err)
	}
	conn := exec.Connection()

	var tracer *trace.FileTracer
	if cfg.Trace != "" {
		if tracer, err = trace.NewFileTracer(cfg.Trace, res.Dialect.String()); err != nil {
			h.logger.Warnf("Command trace disabled: %v", err)
		} else {
			exec.SetObserver(tracer)
		}
	}

	opts, err := cfg.SessionOptions()
	if err == nil {
		h.session, err = mount.NewSession(exec, res.Dialect, res.Product, opts, h.logger)
	}
	if err == nil {
		err = h.session.Init(ctx)
	}
	if err != nil {
		h.session = nil
		conn.Release()
		if tracer != nil {
			tracer.Close()
		}
		return err
	}

	h.conn = conn
	h.tracer = tracer
	// the failure may surface inside Release, which holds h.mu
	conn.OnFailure(func(err error) { go h.fail(conn, err) })

	pollCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})

	poller := mount.NewPoller(h.session, h.logger)
	poller.SetIntervals(cfg.BusyPoll, cfg.IdlePoll)
	go func(done chan struct{}) {
		defer close(done)
		poller.Run(pollCtx)
	}(h.done)

	info := h.session.Info()
	h.logger.Infof("Connected to %s (%s, firmware %s)", info.Product, res.Dialect, info.Firmware)
	return nil
}

// Release disconnects c. The last client stops the mount and closes the
// connection.
func (h *Hub) Release(c Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return nil
	}
	delete(h.clients, c)

	if len(h.clients) > 0 {
		_, err := h.conn.Release()
		return err
	}

	h.cancel()
	<-h.done

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := h.session.Abort(ctx); err != nil {
		h.logger.Warnf("Failed to stop the mount: %v", err)
	}

	_, err := h.conn.Release()
	h.closeLocked()
	h.logger.Info("Disconnected from mount")
	return err
}

// closeLocked forgets the session after the connection is gone.
func (h *Hub) closeLocked() {
	h.session.Close()
	if h.tracer != nil {
		h.tracer.Close()
	}
	h.session = nil
	h.conn = nil
	h.tracer = nil
	h.cancel = nil
	h.done = nil
}

// fail tears down after a transport failure on conn and tells every client.
func (h *Hub) fail(conn *protocol.Connection, err error) {
	h.mu.Lock()
	if h.conn != conn {
		h.mu.Unlock()
		return
	}
	h.logger.Errorf("Connection lost: %v", err)

	h.cancel()
	clients := make([]Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[Client]struct{})
	h.closeLocked()
	h.mu.Unlock()

	for _, c := range clients {
		c.Disconnected(err)
	}
}
