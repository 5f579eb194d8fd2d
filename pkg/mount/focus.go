package mount

import (
	"context"
	"strconv"
	"strings"

	"lx200/pkg/bus"
	"lx200/pkg/dialect"
	"lx200/pkg/protocol"
)

// Focus starts a continuous focuser motion, outward when out is set. It
// stays Busy until FocusStop.
func (s *Session) Focus(ctx context.Context, out, fast bool) error {
	if !s.desc.Caps.Focuser {
		return s.unsupported(ActFocus, "focus")
	}

	speed := dialect.OpFocusSlow
	if fast {
		speed = dialect.OpFocusFast
	}
	op := dialect.OpFocusIn
	if out {
		op = dialect.OpFocusOut
	}

	s.setActivity(ActFocus, bus.Busy, "")
	err := s.exec.Transaction(ctx, func(tx *protocol.Tx) error {
		if _, err := s.runTx(tx, speed); err != nil {
			return err
		}
		_, err := s.runTx(tx, op)
		return err
	})
	if err != nil {
		return s.fail(ActFocus, err)
	}
	return nil
}

func (s *Session) FocusStop(ctx context.Context) error {
	if !s.desc.Caps.Focuser {
		return s.unsupported(ActFocus, "focus")
	}
	return s.perform(ActFocus, func() error {
		_, err := s.run(ctx, dialect.OpFocusStop)
		return err
	})
}

// FocusPosition reads the absolute focuser position on dialects that
// report one.
func (s *Session) FocusPosition(ctx context.Context) (int, error) {
	if !s.desc.Supports(dialect.OpFocusPosition) {
		return 0, protocol.ErrUnsupported
	}
	cmd, g, err := s.desc.Format(dialect.OpFocusPosition)
	if err != nil {
		return 0, err
	}
	resp, err := s.exec.Execute(ctx, cmd, g)
	if err != nil {
		return 0, err
	}
	return protocol.ParseInt(cmd, resp)
}

// FocusGoto moves the focuser to an absolute position.
func (s *Session) FocusGoto(ctx context.Context, position int) error {
	if !s.desc.Supports(dialect.OpFocusGoto) {
		return s.unsupported(ActFocus, "focuser goto")
	}
	return s.perform(ActFocus, func() error {
		_, err := s.run(ctx, dialect.OpFocusGoto, position)
		return err
	})
}

func (s *Session) checkOutlet(index int) error {
	n := s.desc.Caps.AuxOutlets
	if n == 0 || !s.desc.Supports(dialect.OpAuxGet) {
		return protocol.ErrUnsupported
	}
	if index < 1 || index > n {
		return protocol.Precondition("outlet %d out of range 1..%d", index, n)
	}
	return nil
}

// Aux reads the value of auxiliary outlet index, counted from 1.
func (s *Session) Aux(ctx context.Context, index int) (int, error) {
	if err := s.checkOutlet(index); err != nil {
		return 0, err
	}
	cmd, g, err := s.desc.Format(dialect.OpAuxGet, index)
	if err != nil {
		return 0, err
	}
	resp, err := s.exec.Execute(ctx, cmd, g)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(resp.Text))
	if err != nil {
		return 0, &protocol.MalformedError{Command: cmd, Raw: resp.Raw, Reason: "expected an outlet value"}
	}
	return v, nil
}

// SetAux sets outlet index to value, 0 for off and up to 255 for a dimmed
// or analog output.
func (s *Session) SetAux(ctx context.Context, index, value int) error {
	if err := s.checkOutlet(index); err != nil {
		return s.fail(ActAux, err)
	}
	value = max(0, min(value, 255))
	return s.perform(ActAux, func() error {
		_, err := s.run(ctx, dialect.OpAuxSet, index, value)
		return err
	})
}
