package mount

import (
	"context"
	"time"

	"lx200/pkg/bus"
	"lx200/pkg/dialect"
)

// maxPulse is the longest pulse the four digit duration field can carry.
const maxPulse = 9999 * time.Millisecond

// pulse is the pending guide pulse of one axis.
type pulse struct {
	dir      Direction
	duration time.Duration
	deadline time.Time
	cancel   context.CancelFunc
}

// PendingPulse describes the guide pulse in progress on an axis.
type PendingPulse struct {
	Direction Direction
	Duration  time.Duration
	Deadline  time.Time
}

func guideActivity(a Axis) Activity {
	if a == AxisRA {
		return ActGuideRA
	}
	return ActGuideDec
}

// GuideDec issues a Dec pulse. When both durations are positive north wins
// and south is ignored.
func (s *Session) GuideDec(ctx context.Context, north, south time.Duration) error {
	return s.guide(ctx, AxisDec, North, north, South, south)
}

// GuideRA issues an RA pulse. When both durations are positive west wins
// and east is ignored.
func (s *Session) GuideRA(ctx context.Context, west, east time.Duration) error {
	return s.guide(ctx, AxisRA, West, west, East, east)
}

func (s *Session) guide(ctx context.Context, axis Axis, first Direction, d1 time.Duration, second Direction, d2 time.Duration) error {
	a := guideActivity(axis)
	if !s.desc.Caps.GuidePulse || !s.desc.Supports(dialect.OpGuide) {
		return s.unsupported(a, "guide pulse")
	}
	if err := s.checkUnparked(a, "guide"); err != nil {
		return err
	}

	dir, d := first, d1
	if d <= 0 {
		dir, d = second, d2
	}
	if d <= 0 {
		s.setActivity(a, bus.Ok, "")
		return nil
	}
	d = min(d, maxPulse)

	s.setActivity(a, bus.Busy, "")
	if _, err := s.run(ctx, dialect.OpGuide, byte(dir), d.Milliseconds()); err != nil {
		s.cancelPulse(axis)
		return s.fail(a, err)
	}
	s.schedulePulse(axis, dir, d)
	return nil
}

// schedulePulse replaces the pending pulse of axis with a new one whose
// completion returns the guide activity to Ok.
func (s *Session) schedulePulse(axis Axis, dir Direction, d time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pulse{dir: dir, duration: d, deadline: s.now().Add(d), cancel: cancel}

	s.mu.Lock()
	if prev := s.pulses[axis]; prev != nil {
		prev.cancel()
	}
	s.pulses[axis] = p
	s.mu.Unlock()

	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.mu.Lock()
		if s.pulses[axis] != p {
			s.mu.Unlock()
			return
		}
		s.pulses[axis] = nil
		n := s.setLocked(guideActivity(axis), bus.Ok, "")
		s.mu.Unlock()
		s.deliver(n)
	}()
}

func (s *Session) cancelPulse(axis Axis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.pulses[axis]; p != nil {
		p.cancel()
		s.pulses[axis] = nil
	}
}

// Pending returns the pulse in progress on axis.
func (s *Session) Pending(axis Axis) (PendingPulse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pulses[axis]
	if p == nil {
		return PendingPulse{}, false
	}
	return PendingPulse{Direction: p.dir, Duration: p.duration, Deadline: p.deadline}, true
}

// Guiding reports whether any pulse is pending.
func (s *Session) Guiding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulses[AxisDec] != nil || s.pulses[AxisRA] != nil
}
