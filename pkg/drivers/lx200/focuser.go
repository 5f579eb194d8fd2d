package lx200

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"lx200/pkg/alpaca"
	"lx200/pkg/bus"
	"lx200/pkg/config"
	"lx200/pkg/dialect"
	"lx200/pkg/mount"
)

const (
	propFocusMotion   = "FOCUSER_MOTION"
	propFocusSpeed    = "FOCUSER_SPEED"
	propFocusPosition = "FOCUSER_POSITION"
	propFocusAbort    = "FOCUSER_ABORT_MOTION"

	// maxFocusPosition is the travel reported for absolute focusers.
	maxFocusPosition = 65535
	// maxFocusIncrement is the longest timed move, in milliseconds.
	maxFocusIncrement = 9999
)

// Focuser drives the focuser port of the controller. Controllers without
// position feedback are exposed as a relative focuser whose steps are
// milliseconds of motion at slow speed.
type Focuser struct {
	device

	timerMu sync.Mutex
	timer   *time.Timer
}

func NewFocuser(number int, hub *Hub, store *config.Store, logger log.FieldLogger) (*Focuser, error) {
	id, err := store.DeviceID("focuser")
	if err != nil {
		return nil, fmt.Errorf("failed to get device id: %v", err)
	}
	f := &Focuser{}
	f.init(alpaca.DeviceInfo{
		Name:        "LX200 Focuser",
		Description: "LX200 mount focuser port",
		Type:        alpaca.DeviceFocuser,
		Number:      number,
		UniqueID:    id,
	}, hub, logger)
	f.impl = f
	return f, nil
}

func absoluteFocuser(desc *dialect.Descriptor) bool {
	return desc.Supports(dialect.OpFocusPosition) && desc.Supports(dialect.OpFocusGoto)
}

func (f *Focuser) properties(s *mount.Session) []*bus.Property {
	desc := s.Descriptor()
	if !desc.Caps.Focuser {
		return nil
	}
	name := f.info.Name
	props := []*bus.Property{
		bus.SwitchProperty(name, propFocusMotion, "Main", "Motion", bus.AtMostOne,
			bus.Item{Name: "IN", Label: "Focus in"},
			bus.Item{Name: "OUT", Label: "Focus out"},
		),
		bus.SwitchProperty(name, propFocusSpeed, "Main", "Speed", bus.OneOfMany,
			bus.Item{Name: "FAST", Label: "Fast"},
			bus.Item{Name: "SLOW", Label: "Slow", On: true},
		),
		bus.SwitchProperty(name, propFocusAbort, "Main", "Abort", bus.AtMostOne,
			bus.Item{Name: "ABORT", Label: "Abort"},
		),
	}
	if absoluteFocuser(desc) {
		pos, err := s.FocusPosition(context.Background())
		if err != nil {
			f.logger.Warnf("Failed to read focuser position: %v", err)
		}
		props = append(props, bus.NumberProperty(name, propFocusPosition, "Main", "Position",
			bus.Item{Name: "POSITION", Label: "Position", Number: float64(pos), Max: maxFocusPosition},
		))
	}
	for _, p := range props {
		p.State = bus.Ok
	}
	return props
}

func (f *Focuser) fast() bool {
	p, ok := f.property(propFocusSpeed)
	return ok && p.Selected() == "FAST"
}

func (f *Focuser) change(ctx context.Context, s *mount.Session, req bus.Property) error {
	p, err := f.applied(req.Name, req)
	if err != nil {
		return err
	}

	switch req.Name {
	case propFocusMotion:
		f.assign(p)
		switch p.Selected() {
		case "IN":
			return s.Focus(ctx, false, f.fast())
		case "OUT":
			return s.Focus(ctx, true, f.fast())
		}
		f.stopTimer()
		return s.FocusStop(ctx)

	case propFocusSpeed:
		f.update(propFocusSpeed, func(cur *bus.Property) { cur.Items = p.Items })
		return nil

	case propFocusAbort:
		if p.Selected() == "" {
			return f.release(propFocusAbort, nil)
		}
		f.stopTimer()
		return f.release(propFocusAbort, s.FocusStop(ctx))

	case propFocusPosition:
		f.assign(p)
		return s.FocusGoto(ctx, int(p.Item("POSITION").Number))
	}
	return fmt.Errorf("%s: %w", req.Name, bus.ErrUnknownProperty)
}

func (f *Focuser) activityChanged(a mount.Activity, st mount.ActivityState) {
	if a != mount.ActFocus {
		return
	}
	f.update(propFocusMotion, func(p *bus.Property) {
		if st.State != bus.Busy {
			for i := range p.Items {
				p.Items[i].On = false
			}
		}
		p.State, p.Message = st.State, st.Message
	})
	if st.State == bus.Ok {
		go f.refreshPosition()
	}
}

// refreshPosition publishes the position after a motion ends.
func (f *Focuser) refreshPosition() {
	s, err := f.sessionOrErr()
	if err != nil || !absoluteFocuser(s.Descriptor()) {
		return
	}
	var pos int
	err = withTimeout(func(ctx context.Context) error {
		var err error
		pos, err = s.FocusPosition(ctx)
		return err
	})
	if err != nil {
		f.logger.Warnf("Failed to read focuser position: %v", err)
		return
	}
	f.update(propFocusPosition, func(p *bus.Property) {
		p.SetNumber("POSITION", float64(pos))
		p.State = bus.Ok
	})
}

func (f *Focuser) stateChanged(mount.Field, mount.LogicalState) {}

// stopTimer cancels a pending timed move.
func (f *Focuser) stopTimer() {
	f.timerMu.Lock()
	defer f.timerMu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

// Alpaca Focuser

func (f *Focuser) GetState() []alpaca.StateProperty {
	props := []alpaca.StateProperty{
		{Name: "TimeStamp", Value: time.Now().Format(time.RFC3339)},
	}
	if f.Connected() {
		props = append(props, f.Status().ToProperties()...)
	}
	return props
}

func (f *Focuser) Absolute() bool {
	s, err := f.sessionOrErr()
	return err == nil && absoluteFocuser(s.Descriptor())
}

func (f *Focuser) MaxStep() int {
	if f.Absolute() {
		return maxFocusPosition
	}
	return maxFocusIncrement
}

func (f *Focuser) MaxIncrement() int {
	if f.Absolute() {
		return maxFocusPosition
	}
	return maxFocusIncrement
}

func (f *Focuser) Status() alpaca.FocuserStatus {
	s, err := f.sessionOrErr()
	if err != nil {
		return alpaca.FocuserStatus{}
	}
	st := alpaca.FocuserStatus{IsMoving: s.Activity(mount.ActFocus).State == bus.Busy}
	if p, ok := f.property(propFocusPosition); ok {
		st.Position = int(p.Item("POSITION").Number)
	}
	return st
}

// Move goes to position on an absolute focuser. On a relative one position
// is an offset: the focuser moves at slow speed for that many milliseconds,
// outward when positive.
func (f *Focuser) Move(position int) error {
	s, err := f.sessionOrErr()
	if err != nil {
		return err
	}
	if !s.Descriptor().Caps.Focuser {
		return alpaca.ErrPropertyNotImplemented
	}
	if absoluteFocuser(s.Descriptor()) {
		return withTimeout(func(ctx context.Context) error { return s.FocusGoto(ctx, position) })
	}
	if position == 0 {
		return nil
	}

	d := time.Duration(min(abs(position), maxFocusIncrement)) * time.Millisecond
	f.stopTimer()
	if err := withTimeout(func(ctx context.Context) error { return s.Focus(ctx, position > 0, false) }); err != nil {
		return err
	}

	f.timerMu.Lock()
	defer f.timerMu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		f.timerMu.Lock()
		if f.timer != t {
			f.timerMu.Unlock()
			return
		}
		f.timer = nil
		f.timerMu.Unlock()
		if err := withTimeout(s.FocusStop); err != nil {
			f.logger.Errorf("Failed to stop focuser: %v", err)
		}
	})
	f.timer = t
	return nil
}

func (f *Focuser) Halt() error {
	s, err := f.sessionOrErr()
	if err != nil {
		return err
	}
	f.stopTimer()
	return withTimeout(s.FocusStop)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

var _ alpaca.Focuser = (*Focuser)(nil)
