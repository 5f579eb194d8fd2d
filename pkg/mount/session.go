// Package mount is the stateful side of the protocol engine. A Session
// turns abstract mount operations into dialect command sequences, tracks the
// progress of each operation class and derives a LogicalState from polls.
package mount

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"lx200/pkg/bus"
	"lx200/pkg/coord"
	"lx200/pkg/dialect"
	"lx200/pkg/protocol"
)

// Site is an observing location, longitude east positive.
type Site struct {
	Latitude  float64
	Longitude float64
	Elevation float64
}

// Options tune how a Session initializes the controller.
type Options struct {
	// Site is written to the controller when its clock is found unset, or
	// always when SyncOnConnect is set.
	Site *Site
	// Location is the zone used when pushing the host clock. Nil means the
	// host zone.
	Location *time.Location
	// SyncOnConnect pushes the host time and Site during Init.
	SyncOnConnect bool
	// GuideRate is the guide speed in percent of sidereal set during Init.
	// Zero keeps the controller's value.
	GuideRate int
	// Meridian, when set, replaces the controller's meridian settings.
	Meridian *dialect.MeridianSettings
}

// Observer receives every state change of a Session. Calls are made without
// the Session lock held and must not block.
type Observer interface {
	ActivityChanged(a Activity, st ActivityState)
	StateChanged(f Field, st LogicalState)
	Notice(message string)
}

// Info is controller data read during Init and kept current by setters.
type Info struct {
	Product   string
	Firmware  string
	Site      Site
	SiteKnown bool
	Clock     time.Time
	TrackRate dialect.TrackRate
	GuideRate int
	Buzzer    int
	Meridian  dialect.MeridianSettings
}

// Session is one connected mount. It is safe for concurrent use by the
// façades sharing it.
type Session struct {
	exec   *protocol.Executor
	desc   *dialect.Descriptor
	opts   Options
	logger log.FieldLogger
	now    func() time.Time

	mu         sync.Mutex
	observers  []Observer
	activities [numActivities]ActivityState
	info       Info

	raw   dialect.Status
	state LogicalState
	// last is the state observers were last told about
	last  LogicalState
	park  dialect.ParkState
	home  dialect.HomeState

	slewRequested   bool
	parkRequested   bool
	unparkRequested bool
	homeRequested   bool
	abortRequested  bool
	polled          bool
	positionLost    bool
	statusLost      bool
	trackingCode    int

	targetRA, targetDec float64

	pulses [2]*pulse
	moving [2]Direction
}

// NewSession wraps exec for dialect d. The executor's connection must be
// acquired by the caller.
func NewSession(exec *protocol.Executor, d dialect.Dialect, product string, opts Options, logger log.FieldLogger) (*Session, error) {
	desc := d.Descriptor()
	if desc == nil {
		return nil, fmt.Errorf("no descriptor for dialect %s", d)
	}
	s := &Session{
		exec:   exec,
		desc:   desc,
		opts:   opts,
		logger: logger.WithField("dialect", d.String()),
		now:    time.Now,
		park:   dialect.Unparked,
		home:   dialect.HomeUnknown,
	}
	s.info.Product = product
	s.state.Park = dialect.Unparked
	s.state.Home = dialect.HomeUnknown
	s.last = s.state
	return s, nil
}

func (s *Session) Dialect() dialect.Dialect {
	return s.desc.Dialect
}

func (s *Session) Descriptor() *dialect.Descriptor {
	return s.desc
}

func (s *Session) Executor() *protocol.Executor {
	return s.exec
}

// Info returns a copy of the controller data.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// State returns the most recent LogicalState.
func (s *Session) State() LogicalState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Activity returns the current state of a.
func (s *Session) Activity(a Activity) ActivityState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activities[a]
}

// Target returns the last commanded J2000 target.
func (s *Session) Target() (ra, dec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetRA, s.targetDec
}

// Busy reports whether any motion is in progress. The poller runs faster
// while it is.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slewRequested || s.parkRequested || s.homeRequested || s.abortRequested || s.state.Slewing
}

func (s *Session) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Session) RemoveObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, obs := range s.observers {
		if obs == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

// Close cancels pending guide pulses. The connection is left to its owner.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pulses {
		if p != nil {
			p.cancel()
			s.pulses[i] = nil
		}
	}
}

// notification is an observer call collected under the lock and delivered
// after it is released.
type notification func(o Observer)

func (s *Session) deliver(ns ...notification) {
	if len(ns) == 0 {
		return
	}
	s.mu.Lock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()
	for _, n := range ns {
		for _, o := range observers {
			n(o)
		}
	}
}

// setLocked records a transition of a; the caller delivers the result.
func (s *Session) setLocked(a Activity, state bus.State, message string) notification {
	st := ActivityState{State: state, Message: message}
	s.activities[a] = st
	return func(o Observer) { o.ActivityChanged(a, st) }
}

func (s *Session) setActivity(a Activity, state bus.State, message string) {
	s.mu.Lock()
	n := s.setLocked(a, state, message)
	s.mu.Unlock()
	s.deliver(n)
}

func (s *Session) notice(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.logger.Warn(msg)
	s.deliver(func(o Observer) { o.Notice(msg) })
}

// fail reports err on a and returns it.
func (s *Session) fail(a Activity, err error) error {
	s.setActivity(a, bus.Alert, err.Error())
	return err
}

// perform runs fn as a Busy to Ok/Alert transition of a.
func (s *Session) perform(a Activity, fn func() error) error {
	s.setActivity(a, bus.Busy, "")
	if err := fn(); err != nil {
		return s.fail(a, err)
	}
	s.setActivity(a, bus.Ok, "")
	return nil
}

func (s *Session) unsupported(a Activity, what string) error {
	return s.fail(a, fmt.Errorf("%s: %w", what, protocol.ErrUnsupported))
}

// checkUnparked rejects motion while the mount is parked or parking,
// without any I/O.
func (s *Session) checkUnparked(a Activity, what string) error {
	s.mu.Lock()
	park := s.park
	s.mu.Unlock()

	switch park {
	case dialect.Parked:
		return s.fail(a, protocol.Precondition("cannot %s: mount is parked", what))
	case dialect.Parking:
		return s.fail(a, protocol.Precondition("cannot %s: mount is parking", what))
	}
	return nil
}

// run executes op and checks its acknowledgement, if the reply carries one.
func (s *Session) run(ctx context.Context, op dialect.Op, args ...any) (protocol.Response, error) {
	cmd, g, err := s.desc.Format(op, args...)
	if err != nil {
		return protocol.Response{}, err
	}
	resp, err := s.exec.Execute(ctx, cmd, g)
	if err != nil {
		return resp, err
	}
	return resp, check(cmd, g, resp)
}

// runTx is run inside a transaction.
func (s *Session) runTx(tx *protocol.Tx, op dialect.Op, args ...any) (protocol.Response, error) {
	cmd, g, err := s.desc.Format(op, args...)
	if err != nil {
		return protocol.Response{}, err
	}
	resp, err := tx.Exchange(cmd, g)
	if err != nil {
		return resp, err
	}
	return resp, check(cmd, g, resp)
}

// query executes op and requires a non-empty payload.
func (s *Session) query(ctx context.Context, op dialect.Op) (protocol.Response, error) {
	cmd, g, err := s.desc.Format(op)
	if err != nil {
		return protocol.Response{}, err
	}
	resp, err := s.exec.Execute(ctx, cmd, g)
	if err != nil {
		return resp, err
	}
	return resp, protocol.NonEmpty(cmd, resp)
}

func check(cmd string, g protocol.Grammar, resp protocol.Response) error {
	switch {
	case g.Kind == protocol.ReplyFixed && g.Length == 1:
		return protocol.ExpectAck(cmd, resp)
	case g.Kind == protocol.ReplyStatus && resp.Status != g.Success:
		return &protocol.VendorRejectedError{Code: 0, Message: cmd + " rejected"}
	}
	return nil
}

// fatal reports errors that end the session.
func fatal(err error) bool {
	return protocol.IsFatal(err) || errors.Is(err, protocol.ErrNotConnected)
}

// Init reads the controller configuration and brings its clock and site up
// to date. Only transport failures are returned; anything else is logged
// and the session continues with what could be read.
func (s *Session) Init(ctx context.Context) error {
	caps := s.desc.Caps

	if s.desc.Supports(dialect.OpFirmware) {
		resp, err := s.query(ctx, dialect.OpFirmware)
		switch {
		case fatal(err):
			return err
		case err != nil:
			s.logger.Warnf("Failed to read firmware version: %v", err)
		default:
			s.mu.Lock()
			s.info.Firmware = strings.TrimSpace(resp.Text)
			s.mu.Unlock()
			s.logger.Infof("Firmware %s", resp.Text)
		}
	}

	if caps.PrecisionToggle {
		if err := s.ensureHighPrecision(ctx); fatal(err) {
			return err
		}
	}

	if caps.MeridianFlip && s.meridianSupported() {
		m, err := s.ReadMeridian(ctx)
		switch {
		case fatal(err):
			return err
		case err != nil:
			s.logger.Warnf("Failed to read meridian settings: %v", err)
		case s.opts.Meridian != nil && *s.opts.Meridian != m:
			if err := s.SetMeridian(ctx, *s.opts.Meridian); fatal(err) {
				return err
			}
		}
	}

	if caps.GuideRate {
		rate, err := s.ReadGuideRate(ctx)
		if fatal(err) {
			return err
		}
		want := s.opts.GuideRate
		if err != nil && want == 0 {
			want = defaultGuideRate
		}
		if want != 0 && want != rate {
			if err := s.SetGuideRate(ctx, want); fatal(err) {
				return err
			}
		}
	}

	if s.desc.Supports(dialect.OpGetLatitude) && s.desc.Supports(dialect.OpGetLongitude) {
		if _, err := s.ReadSite(ctx); fatal(err) {
			return err
		} else if err != nil {
			s.logger.Warnf("Failed to read site: %v", err)
		}
	}

	if err := s.initClock(ctx); err != nil {
		return err
	}

	if s.desc.Supports(dialect.OpGetTrackRate) {
		resp, err := s.query(ctx, dialect.OpGetTrackRate)
		if fatal(err) {
			return err
		}
		if err == nil {
			if rate, err := dialect.ParseTrackRate(resp.Text); err == nil {
				s.mu.Lock()
				s.info.TrackRate = rate
				s.mu.Unlock()
			}
		}
	}

	if s.desc.Supports(dialect.OpGetBuzzer) {
		resp, err := s.query(ctx, dialect.OpGetBuzzer)
		if fatal(err) {
			return err
		}
		if err == nil {
			if level, err := parseLevel(resp.Text); err == nil {
				s.mu.Lock()
				s.info.Buzzer = level
				s.mu.Unlock()
			}
		}
	}
	return nil
}

// initClock pushes the host time and site when the controller clock reads
// as never set, or when configured to always do so. The site is the
// configured one, else the one read back during Init.
func (s *Session) initClock(ctx context.Context) error {
	push := s.opts.SyncOnConnect
	if s.desc.Supports(dialect.OpGetDate) && s.desc.Supports(dialect.OpGetTime) {
		clock, err := s.ReadTime(ctx)
		switch {
		case fatal(err):
			return err
		case err != nil:
			s.logger.Warnf("Failed to read controller clock: %v", err)
			push = true
		case clock.Before(coord.UninitializedBefore):
			s.logger.Infof("Controller clock %s is not set", clock.Format(time.RFC3339))
			push = true
		}
	}
	if !push {
		return nil
	}

	if s.desc.Supports(dialect.OpSetDate) {
		loc := s.opts.Location
		if loc == nil {
			loc = time.Local
		}
		if err := s.SetTime(ctx, s.now().In(loc)); fatal(err) {
			return err
		}
	}
	if !s.desc.Supports(dialect.OpSetLatitude) {
		return nil
	}
	site := s.opts.Site
	if site == nil {
		// without a configured site, write back what the controller reported
		s.mu.Lock()
		if s.info.SiteKnown {
			cur := s.info.Site
			site = &cur
		}
		s.mu.Unlock()
	}
	if site != nil {
		if err := s.SetSite(ctx, *site); fatal(err) {
			return err
		}
	}
	return nil
}

// ensureHighPrecision toggles :U# when :GR# answers in the short format.
func (s *Session) ensureHighPrecision(ctx context.Context) error {
	resp, err := s.query(ctx, dialect.OpGetRA)
	if err != nil {
		return err
	}
	if !strings.Contains(resp.Text, ".") {
		return nil
	}
	s.logger.Info("Switching controller to high precision")
	_, err = s.run(ctx, dialect.OpPrecision)
	return err
}

// meridianSupported gates :GTa# on ZWO firmware 1.2.4 and later. Unparsable
// versions are assumed recent.
func (s *Session) meridianSupported() bool {
	fw := s.Info().Firmware
	var major, minor, patch int
	if _, err := fmt.Sscanf(fw, "%d.%d.%d", &major, &minor, &patch); err != nil {
		return true
	}
	return major*10000+minor*100+patch >= 10204
}
