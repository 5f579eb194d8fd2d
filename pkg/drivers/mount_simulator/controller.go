// Package mount_simulator emulates a ZWO AM-series controller speaking the
// LX200 dialect over an in-memory transport, for running the server without
// hardware.
package mount_simulator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"lx200/pkg/coord"
	"lx200/pkg/dialect"
)

const (
	siderealRate = 1.00273790935
	arcsecPerSec = 15.041 // sidereal rate in arcseconds per second
	parkDec      = 90.0
	settleRange  = 1.0 / 3600
)

// moveRates are the manual motion speeds of :R1#, :R4#, :R7# and :R9# in
// multiples of sidereal.
var moveRates = map[byte]float64{'1': 1, '4': 16, '7': 256, '9': 1440}

// Controller is the simulated mount. All state advances lazily from the
// elapsed wall time whenever a command arrives.
type Controller struct {
	logger log.FieldLogger
	now    func() time.Time

	mu     sync.Mutex
	cfg    SimulatorConfig
	last   time.Time
	clock  time.Duration // controller UTC minus host time
	offset float64       // wire UTC offset, hours
	timeOK bool

	ra, dec             float64 // hours, degrees
	targetRA, targetDec float64
	slewing             bool
	tracking            bool
	trackRate           dialect.TrackRate
	parking, parked     bool
	homing, atHome      bool
	moving              map[byte]bool
	moveRate            float64
	guideRate           float64
	buzzer              int
	meridian            string
	trackError          int
}

func NewController(cfg SimulatorConfig, logger log.FieldLogger) *Controller {
	return newController(cfg, time.Now, logger)
}

func newController(cfg SimulatorConfig, now func() time.Time, logger log.FieldLogger) *Controller {
	start := now()
	c := &Controller{
		logger:    logger.WithField("component", "mount-simulator"),
		now:       now,
		cfg:       cfg,
		last:      start,
		clock:     coord.UninitializedBefore.Add(-time.Hour).Sub(start),
		dec:       parkDec,
		atHome:    true,
		moving:    make(map[byte]bool),
		moveRate:  moveRates['9'],
		guideRate: cfg.GuideRate,
		meridian:  "00+00",
	}
	c.ra = c.lst(start)
	return c
}

// Config returns the settings the controller was built with.
func (c *Controller) Config() SimulatorConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *Controller) utc(now time.Time) time.Time {
	return now.Add(c.clock).UTC()
}

func (c *Controller) lst(now time.Time) float64 {
	return coord.LST(c.utc(now), c.cfg.Longitude)
}

// Position returns the current pointing in hours and degrees.
func (c *Controller) Position() (ra, dec float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance()
	return c.ra, c.dec
}

// advance moves the axes by the time elapsed since the last call.
func (c *Controller) advance() {
	now := c.now()
	dt := now.Sub(c.last).Seconds()
	c.last = now
	if dt <= 0 {
		return
	}

	if !c.tracking {
		c.ra = coord.NormalizeHours(c.ra + dt*siderealRate/3600)
	}

	for dir, on := range c.moving {
		if !on {
			continue
		}
		step := c.moveRate * arcsecPerSec * dt / 3600
		switch dir {
		case 'n':
			c.dec = math.Min(c.dec+step, 90)
		case 's':
			c.dec = math.Max(c.dec-step, -90)
		case 'e':
			c.ra = coord.NormalizeHours(c.ra - step/15)
		case 'w':
			c.ra = coord.NormalizeHours(c.ra + step/15)
		}
	}

	if !c.slewing {
		return
	}
	step := c.cfg.SlewSpeed * dt
	dRA := hoursDelta(c.ra, c.targetRA) * 15
	dDec := c.targetDec - c.dec
	c.ra = coord.NormalizeHours(c.ra + approach(dRA, step)/15)
	c.dec += approach(dDec, step)
	if math.Abs(hoursDelta(c.ra, c.targetRA)*15) <= settleRange && math.Abs(c.targetDec-c.dec) <= settleRange {
		c.ra, c.dec = c.targetRA, c.targetDec
		c.arrive()
	}
}

func (c *Controller) arrive() {
	c.slewing = false
	switch {
	case c.parking:
		c.parking, c.parked = false, true
		c.tracking = false
		c.logger.Info("Parked")
	case c.homing:
		c.homing, c.atHome = false, true
		c.logger.Info("At home")
	}
}

// hoursDelta is the signed shortest distance from a to b in hours.
func hoursDelta(a, b float64) float64 {
	return math.Mod(b-a+36, 24) - 12
}

func approach(delta, step float64) float64 {
	if math.Abs(delta) <= step {
		return delta
	}
	return math.Copysign(step, delta)
}

func (c *Controller) startSlew(ra, dec float64) {
	c.targetRA, c.targetDec = ra, dec
	c.slewing = true
	c.atHome = false
}

func (c *Controller) stopAll() {
	c.slewing = false
	c.parking, c.homing = false, false
	clear(c.moving)
}

// Handle executes one framed command and returns the bytes the controller
// sends back, empty for commands without a reply.
func (c *Controller) Handle(cmd string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance()

	body := strings.TrimSuffix(strings.TrimPrefix(cmd, ":"), "#")
	reply := c.dispatch(body)
	c.logger.WithField("command", cmd).Tracef("Reply %q", reply)
	return reply
}

func (c *Controller) dispatch(body string) string {
	switch body {
	case "GVP":
		return c.cfg.Product + "#"
	case "GV":
		return c.cfg.Firmware + "#"
	case "GR":
		return coord.FormatHours(c.ra) + "#"
	case "GD":
		return coord.FormatDegrees(c.dec) + "#"
	case "MS":
		return c.gotoTarget()
	case "CM":
		c.ra, c.dec = c.targetRA, c.targetDec
		return "N/A#"
	case "Q":
		c.stopAll()
		return ""
	case "hP":
		c.parking, c.homing = true, false
		c.startSlew(c.ra, parkDec)
		return ""
	case "hC":
		c.homing, c.parking, c.parked = true, false, false
		c.startSlew(c.ra, parkDec)
		return ""
	case "Te":
		c.tracking, c.parked = true, false
		c.trackError = 0
		return "1"
	case "Td":
		c.tracking = false
		return "1"
	case "TQ":
		c.trackRate = dialect.RateSidereal
		return ""
	case "TL":
		c.trackRate = dialect.RateLunar
		return ""
	case "TS":
		c.trackRate = dialect.RateSolar
		return ""
	case "GT":
		return trackRateCode(c.trackRate) + "#"
	case "GU":
		return c.status() + "#"
	case "Gm":
		return c.pierSide() + "#"
	case "GAT":
		switch {
		case c.trackError != 0:
			return fmt.Sprintf("e%d#", c.trackError)
		case c.tracking:
			return "1#"
		}
		return "0#"
	case "GC":
		return c.local().Format("01/02/06") + "#"
	case "GL":
		return c.local().Format("15:04:05") + "#"
	case "GG":
		return coord.FormatUTCOffset(c.offset) + "#"
	case "Gt":
		return coord.FormatDegreesLow(c.cfg.Latitude) + "#"
	case "Gg":
		return coord.FormatLongitude(coord.ToProtocolLongitude(c.cfg.Longitude)) + "#"
	case "Ggr":
		return strconv.FormatFloat(c.guideRate, 'f', 2, 64) + "#"
	case "GBu":
		return strconv.Itoa(c.buzzer) + "#"
	case "GTa":
		return c.meridian + "#"
	case "NSC":
		return "1"
	}

	if len(body) == 0 {
		return ""
	}
	arg := body[min(len(body), 2):]
	switch {
	case strings.HasPrefix(body, "Mg") && len(body) > 3:
		return c.guide(body[2], body[3:])
	case strings.HasPrefix(body, "STa"):
		if _, err := dialect.ParseMeridian(body[3:]); err != nil {
			return "0#"
		}
		c.meridian = body[3:]
		return "1#"
	case strings.HasPrefix(body, "SBu"):
		if v, err := strconv.Atoi(body[3:]); err == nil && v >= 0 && v <= 2 {
			c.buzzer = v
		}
		return ""
	case strings.HasPrefix(body, "Rg"):
		if v, err := strconv.ParseFloat(body[2:], 64); err == nil && v > 0 && v < 1 {
			c.guideRate = v
		}
		return ""
	case len(body) == 2 && body[0] == 'R':
		if rate, ok := moveRates[body[1]]; ok {
			c.moveRate = rate
		}
		return ""
	case len(body) == 2 && body[0] == 'M' && strings.ContainsRune("nsew", rune(body[1])):
		if c.parked || c.parking {
			return ""
		}
		c.atHome = false
		c.moving[body[1]] = true
		return ""
	case len(body) == 2 && body[0] == 'Q':
		delete(c.moving, body[1])
		return ""
	case strings.HasPrefix(body, "Sr"):
		return c.setAngle(arg, &c.targetRA, 0, 24)
	case strings.HasPrefix(body, "Sd"):
		return c.setAngle(arg, &c.targetDec, -90, 90)
	case strings.HasPrefix(body, "St"):
		return c.setAngle(arg, &c.cfg.Latitude, -90, 90)
	case strings.HasPrefix(body, "Sg"):
		var west float64
		if ok := c.setAngle(arg, &west, 0, 360); ok != "1" {
			return ok
		}
		c.cfg.Longitude = coord.FromProtocolLongitude(west)
		return "1"
	case strings.HasPrefix(body, "SG"):
		v, err := coord.ParseUTCOffset(arg)
		if err != nil || v < -14 || v > 12 {
			return "0"
		}
		local := c.local()
		c.offset = v
		c.setLocal(local)
		return "1"
	case strings.HasPrefix(body, "SC"):
		var month, day, year int
		if _, err := fmt.Sscanf(arg, "%d/%d/%d", &month, &day, &year); err != nil || month < 1 || month > 12 || day < 1 || day > 31 {
			return "0"
		}
		local := c.local()
		c.setLocal(time.Date(2000+year, time.Month(month), day, local.Hour(), local.Minute(), local.Second(), 0, time.UTC))
		return "1"
	case strings.HasPrefix(body, "SL"):
		var h, m, s int
		if _, err := fmt.Sscanf(arg, "%d:%d:%d", &h, &m, &s); err != nil || h > 23 || m > 59 || s > 59 {
			return "0"
		}
		local := c.local()
		c.setLocal(time.Date(local.Year(), local.Month(), local.Day(), h, m, s, 0, time.UTC))
		c.timeOK = true
		return "1"
	}

	c.logger.Debugf("Unknown command :%s#", body)
	return ""
}

// local is the controller's wall clock, expressed in the UTC location.
func (c *Controller) local() time.Time {
	return coord.LocalTime(c.utc(c.now()), c.offset)
}

func (c *Controller) setLocal(local time.Time) {
	c.clock = coord.UTCFromLocal(local, c.offset).Sub(c.now())
}

func (c *Controller) setAngle(arg string, dst *float64, lo, hi float64) string {
	v, err := coord.ParseSexagesimal(arg)
	if err != nil || v < lo || v > hi {
		return "0"
	}
	*dst = v
	return "1"
}

func (c *Controller) gotoTarget() string {
	switch {
	case !c.timeOK:
		return "e7#"
	case c.slewing:
		return "e4#"
	case c.altitude(c.targetRA, c.targetDec) < 0:
		return "e5#"
	}
	c.parked, c.parking, c.homing = false, false, false
	c.tracking = true
	c.startSlew(c.targetRA, c.targetDec)
	c.logger.Infof("Slewing to %s %s", coord.FormatHours(c.targetRA), coord.FormatDegrees(c.targetDec))
	return "0"
}

func (c *Controller) altitude(ra, dec float64) float64 {
	ha := coord.HourAngle(c.lst(c.now()), ra) * 15 * math.Pi / 180
	lat := c.cfg.Latitude * math.Pi / 180
	d := dec * math.Pi / 180
	sinAlt := math.Sin(lat)*math.Sin(d) + math.Cos(lat)*math.Cos(d)*math.Cos(ha)
	return math.Asin(sinAlt) * 180 / math.Pi
}

func (c *Controller) guide(dir byte, ms string) string {
	d, err := strconv.Atoi(ms)
	if err != nil || c.parked {
		return ""
	}
	step := c.guideRate * arcsecPerSec * float64(d) / 1000 / 3600
	switch dir {
	case 'n':
		c.dec = math.Min(c.dec+step, 90)
	case 's':
		c.dec = math.Max(c.dec-step, -90)
	case 'e':
		c.ra = coord.NormalizeHours(c.ra - step/15)
	case 'w':
		c.ra = coord.NormalizeHours(c.ra + step/15)
	}
	return ""
}

// status renders the :GU# letters: n not tracking, N not slewing, H at home,
// P parked, G equatorial mode.
func (c *Controller) status() string {
	var b strings.Builder
	if !c.tracking {
		b.WriteByte('n')
	}
	if !c.slewing && !c.anyMoving() {
		b.WriteByte('N')
	}
	if c.atHome {
		b.WriteByte('H')
	}
	if c.parked {
		b.WriteByte('P')
	}
	b.WriteByte('G')
	return b.String()
}

func trackRateCode(r dialect.TrackRate) string {
	switch r {
	case dialect.RateLunar:
		return "1"
	case dialect.RateSolar:
		return "2"
	}
	return "0"
}

func (c *Controller) anyMoving() bool {
	for _, on := range c.moving {
		if on {
			return true
		}
	}
	return false
}

func (c *Controller) pierSide() string {
	if coord.HourAngle(c.lst(c.now()), c.ra) < 0 {
		return "W"
	}
	return "E"
}

// StopTracking simulates the controller halting at the meridian limit.
func (c *Controller) StopTracking(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance()
	c.tracking = false
	c.trackError = code
}
