// Package detect classifies the controller on a fresh connection.
package detect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"lx200/pkg/dialect"
	"lx200/pkg/protocol"
)

// ErrUnrecognized is returned when neither the product string nor the
// generic probe identify the controller.
var ErrUnrecognized = errors.New("unrecognized mount")

const identifyCommand = ":GVP#"

// genericProbe is the baseline every LX200 descendant answers.
var genericProbe = []string{":GR#", ":GD#", ":GC#", ":GL#", ":GG#", ":Gt#", ":Gg#"}

// Result is the outcome of a successful resolution.
type Result struct {
	Dialect dialect.Dialect
	Product string
}

// Resolve returns configured without any I/O unless it is AutoDetect. In
// that case the product string is matched against the identification table,
// and if nothing matches the generic probe decides between Generic and
// ErrUnrecognized. Resolve can be repeated after a reconnect.
func Resolve(ctx context.Context, exec *protocol.Executor, configured dialect.Dialect) (Result, error) {
	if configured != dialect.AutoDetect {
		return Result{Dialect: configured}, nil
	}

	resp, err := exec.Execute(ctx, identifyCommand, protocol.Terminated)
	if protocol.IsFatal(err) || errors.Is(err, context.Canceled) {
		return Result{}, err
	}

	product := strings.TrimSpace(resp.Text)
	if err == nil {
		if d, ok := dialect.Identify(product); ok {
			return Result{Dialect: d, Product: product}, nil
		}
	}

	if err := probe(ctx, exec); err != nil {
		return Result{}, err
	}
	return Result{Dialect: dialect.Generic, Product: product}, nil
}

func probe(ctx context.Context, exec *protocol.Executor) error {
	for _, cmd := range genericProbe {
		resp, err := exec.Execute(ctx, cmd, protocol.Terminated)
		switch {
		case protocol.IsFatal(err), errors.Is(err, context.Canceled):
			return err
		case err != nil:
			return fmt.Errorf("%w: %s: %v", ErrUnrecognized, cmd, err)
		}
		if err := protocol.NonEmpty(cmd, resp); err != nil {
			return fmt.Errorf("%w: %v", ErrUnrecognized, err)
		}
	}
	return nil
}

// DialerFunc builds a dialer for one baud rate.
type DialerFunc func(baud int) protocol.Dialer

// Options tune the connections opened by ResolveWithFallback.
type Options struct {
	Timeout time.Duration
	Settle  time.Duration
	Logger  log.FieldLogger
}

// ResolveWithFallback opens a connection at each rate in bauds until one is
// identified, and returns that connection's executor holding one reference.
// Rates after the first success are never tried.
func ResolveWithFallback(ctx context.Context, dial DialerFunc, bauds []int, configured dialect.Dialect, opts Options) (Result, *protocol.Executor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	if len(bauds) == 0 {
		bauds = configured.Descriptor().BaudRates()
	}

	var lastErr error
	for _, baud := range bauds {
		dialer := dial(baud)
		conn := protocol.NewConnection(dialer, opts.Timeout, logger)
		if _, err := conn.Acquire(ctx); err != nil {
			return Result{}, nil, err
		}
		exec := protocol.NewExecutor(conn, opts.Settle, logger)

		res, err := Resolve(ctx, exec, configured)
		if err == nil {
			logger.Infof("Detected %s on %s (%q)", res.Dialect, dialer, res.Product)
			return res, exec, nil
		}

		conn.Release()
		if !errors.Is(err, ErrUnrecognized) {
			return Result{}, nil, err
		}
		logger.Debugf("No answer at %d baud: %v", baud, err)
		lastErr = err
	}
	return Result{}, nil, lastErr
}
