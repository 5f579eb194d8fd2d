package mount

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"lx200/pkg/bus"
	"lx200/pkg/dialect"
	"lx200/pkg/protocol"
)

const (
	BusyPollInterval = 500 * time.Millisecond
	IdlePollInterval = time.Second
)

func (s *Session) readPosition(ctx context.Context) (ra, dec float64, err error) {
	err = s.exec.Transaction(ctx, func(tx *protocol.Tx) error {
		cmd, g, err := s.desc.Format(dialect.OpGetRA)
		if err != nil {
			return err
		}
		resp, err := tx.Exchange(cmd, g)
		if err != nil {
			return err
		}
		if ra, err = protocol.ParseAngle(cmd, resp, s.desc.Sentinels); err != nil {
			return err
		}

		cmd, g, err = s.desc.Format(dialect.OpGetDec)
		if err != nil {
			return err
		}
		resp, err = tx.Exchange(cmd, g)
		if err != nil {
			return err
		}
		dec, err = protocol.ParseAngle(cmd, resp, s.desc.Sentinels)
		return err
	})
	return ra, dec, err
}

func (s *Session) lostPosition(err error) {
	s.mu.Lock()
	s.positionLost = true
	s.mu.Unlock()
	s.fail(ActSlew, err)
}

// readStatus runs the dialect's status probes on top of prev. A probe that
// fails keeps the previous values and is returned in missed; only transport
// failures are returned as err.
func (s *Session) readStatus(ctx context.Context, prev dialect.Status) (st dialect.Status, missed error, err error) {
	st = prev
	for _, probe := range s.desc.Probes {
		cmd, g, err := s.desc.Format(probe.Op)
		if err != nil {
			continue
		}
		resp, err := s.exec.Execute(ctx, cmd, g)
		if err != nil {
			if fatal(err) || ctx.Err() != nil {
				return prev, nil, err
			}
			s.logger.WithField("command", cmd).Debugf("Status probe failed: %v", err)
			missed = errors.Join(missed, fmt.Errorf("%s: %w", cmd, err))
			continue
		}
		next, err := probe.Parse(resp.Text, st)
		if err != nil {
			s.logger.WithField("raw", resp.Raw).Warnf("Failed to decode %s: %v", cmd, err)
			continue
		}
		st = next
	}
	return st, missed, nil
}

// statusActivities are the activities whose state comes from the status
// probes.
var statusActivities = []Activity{ActTracking}

// statusLockedUpdate marks the status activities Alert while probes go
// unanswered and back to Ok on the first complete read.
func (s *Session) statusLockedUpdate(missed error) []notification {
	var ns []notification
	switch {
	case missed != nil && !s.statusLost:
		s.statusLost = true
		for _, a := range statusActivities {
			ns = append(ns, s.setLocked(a, bus.Alert, "Status unavailable: "+missed.Error()))
		}
	case missed == nil && s.statusLost:
		s.statusLost = false
		for _, a := range statusActivities {
			if s.activities[a].State == bus.Alert {
				ns = append(ns, s.setLocked(a, bus.Ok, ""))
			}
		}
	}
	return ns
}

// readTrackingError checks :GAT# and reports a new tracking stop.
func (s *Session) readTrackingError(ctx context.Context) error {
	resp, err := s.query(ctx, dialect.OpTrackingError)
	if err != nil {
		if fatal(err) {
			return err
		}
		return nil
	}
	_, code, err := dialect.ParseTrackingError(resp.Text)
	if err != nil {
		s.logger.WithField("raw", resp.Raw).Warn(err)
		return nil
	}

	s.mu.Lock()
	prev := s.trackingCode
	s.trackingCode = code
	s.mu.Unlock()

	if code != 0 && code != prev {
		s.notice("Tracking stopped: %v", s.desc.VendorError(code, resp.Raw, ""))
	}
	return nil
}

// Poll reads the position and status of the mount, advances the pending
// park, home, slew and abort operations and returns the new LogicalState.
// A failed position read marks the coordinates Alert and returns the error.
// Unanswered status probes mark tracking Alert without failing the poll.
func (s *Session) Poll(ctx context.Context) (LogicalState, error) {
	ra, dec, err := s.readPosition(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.lostPosition(err)
		}
		return s.State(), err
	}
	ra, dec = s.fromMount(ra, dec)

	s.mu.Lock()
	raw := s.raw
	s.mu.Unlock()

	raw, missed, err := s.readStatus(ctx, raw)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.lostPosition(err)
		}
		return s.State(), err
	}
	if s.desc.Supports(dialect.OpTrackingError) {
		if err := s.readTrackingError(ctx); err != nil {
			s.lostPosition(err)
			return s.State(), err
		}
	}

	s.mu.Lock()
	if !s.desc.Caps.MotionStatus {
		raw.Slewing = s.polled && !samePosition(s.state.RA, s.state.Dec, ra, dec)
	}
	s.raw = raw
	ns := s.advanceLocked(raw)
	ns = append(ns, s.statusLockedUpdate(missed)...)
	s.polled = true

	s.state.RA, s.state.Dec = ra, dec
	s.state.Tracking = raw.Tracking
	s.state.Slewing = raw.Slewing
	s.state.Guiding = raw.Guiding || s.pulses[AxisDec] != nil || s.pulses[AxisRA] != nil
	s.state.PierSide = raw.PierSide
	st := s.stateLocked()
	if s.positionLost {
		s.positionLost = false
		if !s.slewRequested {
			ns = append(ns, s.setLocked(ActSlew, bus.Ok, ""))
		}
	}
	s.mu.Unlock()

	s.deliver(ns...)
	return st, nil
}

// advanceLocked moves the pending operations forward given the latest raw
// status and returns the resulting notifications.
func (s *Session) advanceLocked(raw dialect.Status) []notification {
	var ns []notification
	moving := raw.Slewing

	if s.abortRequested && !moving {
		s.abortRequested = false
		for _, a := range []Activity{ActSlew, ActPark, ActHome} {
			if s.activities[a].State == bus.Busy {
				ns = append(ns, s.setLocked(a, bus.Alert, "Aborted"))
			}
		}
		if s.park == dialect.Parking {
			s.park = dialect.Unparked
		}
		if s.home == dialect.Homing {
			s.home = dialect.NotHome
		}
		s.slewRequested, s.parkRequested, s.homeRequested = false, false, false
		ns = append(ns, s.setLocked(ActAbort, bus.Ok, "Aborted"))
	}

	if s.slewRequested && !moving {
		s.slewRequested = false
		ns = append(ns, s.setLocked(ActSlew, bus.Ok, ""))
	}

	reportsPark := raw.Park != dialect.ParkUnknown && !s.desc.Caps.ParkByMotion
	switch {
	case s.parkRequested && reportsPark:
		switch raw.Park {
		case dialect.Parked:
			s.park, s.parkRequested = dialect.Parked, false
			ns = append(ns, s.setLocked(ActPark, bus.Ok, "Parked"))
		case dialect.ParkFailed:
			s.park, s.parkRequested = dialect.ParkFailed, false
			ns = append(ns, s.setLocked(ActPark, bus.Alert, "Park failed"))
		}
	case s.parkRequested:
		if !moving {
			s.park, s.parkRequested = dialect.Parked, false
			ns = append(ns, s.setLocked(ActPark, bus.Ok, "Parked"))
		}
	case s.unparkRequested:
		if !reportsPark || (raw.Park != dialect.Parked && raw.Park != dialect.Parking) {
			s.unparkRequested = false
			if reportsPark {
				s.park = raw.Park
			}
			ns = append(ns, s.setLocked(ActPark, bus.Ok, "Unparked"))
		}
	case reportsPark:
		s.park = raw.Park
	}

	switch {
	case s.homeRequested:
		if raw.Home == dialect.AtHome || (raw.Home == dialect.HomeUnknown && !moving) {
			s.home, s.homeRequested = dialect.AtHome, false
			ns = append(ns, s.setLocked(ActHome, bus.Ok, "At home"))
		}
	case raw.Home != dialect.HomeUnknown:
		s.home = raw.Home
	}
	return ns
}

// allFields lists every logical field in publication order.
var allFields = []Field{FieldCoordinates, FieldTracking, FieldSlewing, FieldGuiding, FieldPark, FieldHome, FieldPierSide}

// notifyLocked records st as published and returns one notification per
// field.
func (s *Session) notifyLocked(st LogicalState, fields []Field) []notification {
	s.last = st
	ns := make([]notification, 0, len(fields))
	for _, f := range fields {
		ns = append(ns, func(o Observer) { o.StateChanged(f, st) })
	}
	return ns
}

// changesLocked returns the notifications for the fields an operation just
// changed. The poller diffs against the same snapshot, so the change is not
// published a second time.
func (s *Session) changesLocked() []notification {
	st := s.stateLocked()
	return s.notifyLocked(st, st.Diff(s.last)[1:])
}

// publish delivers the fields that differ from the last published state,
// always including the coordinates, or every field when all is set.
func (s *Session) publish(all bool) {
	s.mu.Lock()
	st := s.stateLocked()
	fields := allFields
	if !all {
		fields = st.Diff(s.last)
	}
	ns := s.notifyLocked(st, fields)
	s.mu.Unlock()
	s.deliver(ns...)
}

// Poller drives Session.Poll on its own goroutine, every BusyPollInterval
// while the mount moves and every IdlePollInterval otherwise, and publishes
// only the fields that changed.
type Poller struct {
	session *Session
	logger  log.FieldLogger

	busy, idle time.Duration
	published  bool
}

func NewPoller(session *Session, logger log.FieldLogger) *Poller {
	return &Poller{
		session: session,
		logger:  logger.WithField("component", "poller"),
		busy:    BusyPollInterval,
		idle:    IdlePollInterval,
	}
}

// SetIntervals replaces the poll periods. Zero keeps the current value.
func (p *Poller) SetIntervals(busy, idle time.Duration) {
	if busy > 0 {
		p.busy = busy
	}
	if idle > 0 {
		p.idle = idle
	}
}

// Run polls until ctx is done or the connection fails.
func (p *Poller) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if err := p.Cycle(ctx); err != nil {
			if fatal(err) {
				p.logger.Errorf("Polling stopped: %v", err)
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Debugf("Poll failed: %v", err)
		}

		if p.session.Busy() {
			timer.Reset(p.busy)
		} else {
			timer.Reset(p.idle)
		}
	}
}

// Cycle runs one poll and delivers the changed fields to the session's
// observers. The coordinates are delivered every cycle, and the first cycle
// delivers every field.
func (p *Poller) Cycle(ctx context.Context) error {
	if _, err := p.session.Poll(ctx); err != nil {
		return err
	}
	p.session.publish(!p.published)
	p.published = true
	return nil
}
