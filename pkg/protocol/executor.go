package protocol

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Observer sees every completed exchange.
type Observer interface {
	Exchange(command string, resp Response, err error, elapsed time.Duration)
}

// Executor sends commands over a Connection and reads replies against a
// Grammar. It never retries.
type Executor struct {
	conn     *Connection
	settle   time.Duration
	observer Observer
	logger   log.FieldLogger

	sleep func(time.Duration)
}

// NewExecutor returns an Executor with the given post-command settle delay.
func NewExecutor(conn *Connection, settle time.Duration, logger log.FieldLogger) *Executor {
	return &Executor{
		conn:   conn,
		settle: settle,
		logger: logger.WithField("component", "executor"),
		sleep:  time.Sleep,
	}
}

// SetObserver installs an exchange observer, replacing any previous one.
func (e *Executor) SetObserver(o Observer) {
	e.observer = o
}

// Connection returns the underlying link.
func (e *Executor) Connection() *Connection {
	return e.conn
}

// Execute performs one exchange while holding the connection mutex.
func (e *Executor) Execute(ctx context.Context, command string, g Grammar) (Response, error) {
	var resp Response
	err := e.Transaction(ctx, func(tx *Tx) error {
		var err error
		resp, err = tx.Exchange(command, g)
		return err
	})
	return resp, err
}

// Transaction runs fn with the connection mutex held, so a multi-command
// sequence cannot be interleaved with commands from other devices.
func (e *Executor) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	e.conn.mu.Lock()
	defer e.conn.mu.Unlock()

	t := e.conn.current()
	if t == nil {
		return ErrNotConnected
	}

	return fn(&Tx{ctx: ctx, exec: e, transport: t})
}

// Tx is a sequence of exchanges under one mutex acquisition.
type Tx struct {
	ctx       context.Context
	exec      *Executor
	transport Transport
}

// Exchange writes command and reads a reply shaped by g, then waits for
// the settle delay.
func (tx *Tx) Exchange(command string, g Grammar) (Response, error) {
	e := tx.exec
	if err := tx.ctx.Err(); err != nil {
		return Response{}, err
	}

	start := time.Now()
	resp, err := tx.exchange(command, g)
	elapsed := time.Since(start)

	if e.observer != nil {
		e.observer.Exchange(command, resp, err, elapsed)
	}

	var malformed *MalformedError
	switch {
	case err == nil:
		e.logger.Debugf("%s -> %q (%s)", command, resp.Raw, elapsed)
	case IsFatal(err):
		e.conn.fail(err)
	case errors.As(err, &malformed):
		e.logger.WithField("raw", malformed.Raw).Warnf("%s: %v", command, err)
	default:
		e.logger.Debugf("%s: %v", command, err)
	}

	if e.settle > 0 {
		e.sleep(e.settle)
	}
	return resp, err
}

func (tx *Tx) exchange(command string, g Grammar) (Response, error) {
	t := tx.transport

	if err := t.Flush(); err != nil {
		return Response{}, &TransportError{Op: "flush", Err: err}
	}
	if _, err := t.Write([]byte(command)); err != nil {
		return Response{}, &TransportError{Op: "write", Err: err}
	}

	deadline := time.Now().Add(tx.exec.conn.timeout)
	if d, ok := tx.ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	r := reader{t: t, deadline: deadline, command: command}

	switch g.Kind {
	case ReplyNone:
		return Response{}, nil

	case ReplyFixed:
		raw, err := r.fixed(g.Length)
		if err != nil {
			return Response{Raw: raw}, err
		}
		return Response{Raw: raw, Status: raw[0], Text: raw}, nil

	case ReplyTerminated:
		raw, err := r.line()
		return Response{Raw: raw, Text: raw}, err

	case ReplyStatus:
		status, err := r.byte()
		if err != nil {
			return Response{}, err
		}
		resp := Response{Status: status, Raw: string(status)}
		if status == g.Success && g.Lines == 0 {
			return resp, nil
		}
		if status != g.Success && g.Lines > 0 {
			return resp, nil
		}

		lines := g.Lines
		if status != g.Success {
			lines = 1
		}
		texts := make([]string, 0, lines)
		for i := 0; i < lines; i++ {
			line, err := r.line()
			resp.Raw += line
			if err != nil {
				return resp, err
			}
			texts = append(texts, strings.TrimSpace(line))
		}
		resp.Text = strings.TrimSpace(strings.Join(texts, " "))
		return resp, nil
	}

	return Response{}, &MalformedError{Command: command, Reason: "unknown reply grammar"}
}

type reader struct {
	t        Transport
	deadline time.Time
	command  string
}

func (r *reader) byte() (byte, error) {
	b, err := r.t.ReadByte(r.deadline)
	if errors.Is(err, ErrTimeout) {
		return 0, ErrTimeout
	}
	if err != nil {
		return 0, &TransportError{Op: "read", Err: err}
	}
	return b, nil
}

func (r *reader) fixed(n int) (string, error) {
	buf := make([]byte, 0, n)
	for len(buf) < n {
		b, err := r.byte()
		if err != nil {
			return string(buf), err
		}
		buf = append(buf, b)
	}
	return string(buf), nil
}

func (r *reader) line() (string, error) {
	var sb strings.Builder
	for {
		b, err := r.byte()
		if err != nil {
			return sb.String(), err
		}
		if b == Terminator {
			return sb.String(), nil
		}
		if sb.Len() >= maxReplyLength {
			return sb.String(), &MalformedError{Command: r.command, Raw: sb.String(), Reason: "reply too long"}
		}
		sb.WriteByte(b)
	}
}
