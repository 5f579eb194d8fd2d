package lx200

import (
	"context"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"lx200/pkg/alpaca"
	"lx200/pkg/bus"
	"lx200/pkg/config"
	"lx200/pkg/dialect"
	"lx200/pkg/mount"
)

// Mount property names.
const (
	propInfo          = "INFO"
	propCoordinates   = "MOUNT_EQUATORIAL_COORDINATES"
	propOnSet         = "MOUNT_ON_COORDINATES_SET"
	propAbort         = "MOUNT_ABORT_MOTION"
	propPark          = "MOUNT_PARK"
	propParkSet       = "MOUNT_PARK_SET"
	propHome          = "MOUNT_HOME"
	propHomeSet       = "MOUNT_HOME_SET"
	propTracking      = "MOUNT_TRACKING"
	propTrackRate     = "MOUNT_TRACK_RATE"
	propSlewRate      = "MOUNT_SLEW_RATE"
	propMotionNS      = "MOUNT_MOTION_NS"
	propMotionWE      = "MOUNT_MOTION_WE"
	propPierSide      = "MOUNT_SIDE_OF_PIER"
	propSite          = "GEOGRAPHIC_COORDINATES"
	propTime          = "TIME_UTC"
	propPEC           = "MOUNT_PEC"
	propGuideRate     = "MOUNT_GUIDE_RATE"
	propBuzzer        = "MOUNT_BUZZER"
	propMeridianFlip  = "MOUNT_MERIDIAN_FLIP"
	propMeridianLimit = "MOUNT_MERIDIAN_LIMIT"
	propAlignment     = "MOUNT_ALIGNMENT_RESET"
)

var (
	slewRates      = []string{"GUIDE", "CENTERING", "FIND", "MAX"}
	slewRateLabels = []string{"Guide", "Centering", "Find", "Max"}
)

var buzzerLevels = []string{"OFF", "LOW", "HIGH"}

var trackRates = map[dialect.TrackRate]string{
	dialect.RateSidereal: "SIDEREAL",
	dialect.RateLunar:    "LUNAR",
	dialect.RateSolar:    "SOLAR",
	dialect.RateKing:     "KING",
}

// activityProps maps session activities onto the mount property showing
// their progress.
var activityProps = map[mount.Activity]string{
	mount.ActSlew:      propCoordinates,
	mount.ActSync:      propCoordinates,
	mount.ActPark:      propPark,
	mount.ActHome:      propHome,
	mount.ActTracking:  propTracking,
	mount.ActTrackRate: propTrackRate,
	mount.ActSlewRate:  propSlewRate,
	mount.ActSite:      propSite,
	mount.ActTime:      propTime,
	mount.ActPEC:       propPEC,
	mount.ActGuideRate: propGuideRate,
	mount.ActBuzzer:    propBuzzer,
}

// Mount is the telescope mount façade: pointing, tracking, parking and the
// controller settings. It is published on the bus and as Alpaca
// telescope.
type Mount struct {
	device
	store *config.Store
	tmpl  *template.Template
}

func NewMount(number int, hub *Hub, store *config.Store, tmpl *template.Template, logger log.FieldLogger) (*Mount, error) {
	id, err := store.DeviceID("mount")
	if err != nil {
		return nil, fmt.Errorf("failed to get device id: %v", err)
	}

	m := &Mount{store: store, tmpl: tmpl}
	m.init(alpaca.DeviceInfo{
		Name:        "LX200 Mount",
		Description: "LX200 family telescope mount",
		Type:        alpaca.DeviceTelescope,
		Number:      number,
		UniqueID:    id,
	}, hub, logger)
	m.impl = m
	return m, nil
}

func (m *Mount) properties(s *mount.Session) []*bus.Property {
	name := m.info.Name
	desc := s.Descriptor()
	caps := desc.Caps
	info := s.Info()
	st := s.State()

	infoProp := bus.TextProperty(name, propInfo, "Main", "Mount info",
		bus.Item{Name: "PRODUCT", Label: "Product", Text: info.Product},
		bus.Item{Name: "FIRMWARE", Label: "Firmware", Text: info.Firmware},
		bus.Item{Name: "DIALECT", Label: "Dialect", Text: s.Dialect().String()},
	)
	infoProp.ReadOnly = true

	props := []*bus.Property{
		infoProp,
		bus.NumberProperty(name, propCoordinates, "Main", "Eq. coordinates",
			bus.Item{Name: "RA", Label: "RA (h)", Number: st.RA, Max: 24},
			bus.Item{Name: "DEC", Label: "Dec (deg)", Number: st.Dec, Min: -90, Max: 90},
		),
		bus.SwitchProperty(name, propOnSet, "Main", "On coordinates set", bus.OneOfMany,
			bus.Item{Name: "TRACK", Label: "Slew", On: true},
			bus.Item{Name: "SYNC", Label: "Sync"},
		),
		bus.SwitchProperty(name, propAbort, "Main", "Abort motion", bus.AtMostOne,
			bus.Item{Name: "ABORT", Label: "Abort"},
		),
	}

	if caps.Park {
		props = append(props, bus.SwitchProperty(name, propPark, "Main", "Park", bus.OneOfMany,
			bus.Item{Name: "PARKED", Label: "Park", On: st.Parked()},
			bus.Item{Name: "UNPARKED", Label: "Unpark", On: !st.Parked()},
		))
	}
	if caps.ParkSet {
		props = append(props, bus.SwitchProperty(name, propParkSet, "Main", "Park position", bus.AtMostOne,
			bus.Item{Name: "SET", Label: "Set current"},
		))
	}
	if caps.Home {
		props = append(props, bus.SwitchProperty(name, propHome, "Main", "Home", bus.AtMostOne,
			bus.Item{Name: "HOME", Label: "Find home"},
		))
	}
	if caps.HomeSet {
		props = append(props, bus.SwitchProperty(name, propHomeSet, "Main", "Home position", bus.AtMostOne,
			bus.Item{Name: "SET", Label: "Set current"},
		))
	}
	if caps.Tracking {
		props = append(props, bus.SwitchProperty(name, propTracking, "Main", "Tracking", bus.OneOfMany,
			bus.Item{Name: "ON", Label: "On", On: st.Tracking},
			bus.Item{Name: "OFF", Label: "Off", On: !st.Tracking},
		))
	}
	if caps.TrackRates {
		items := []bus.Item{
			{Name: "SIDEREAL", Label: "Sidereal"},
			{Name: "LUNAR", Label: "Lunar"},
			{Name: "SOLAR", Label: "Solar"},
		}
		if caps.KingRate {
			items = append(items, bus.Item{Name: "KING", Label: "King"})
		}
		p := bus.SwitchProperty(name, propTrackRate, "Main", "Track rate", bus.OneOfMany, items...)
		p.Select(trackRates[info.TrackRate])
		props = append(props, p)
	}
	if len(desc.MoveRates) > 0 {
		items := make([]bus.Item, 0, len(desc.MoveRates))
		for i := range desc.MoveRates {
			items = append(items, bus.Item{Name: slewRates[i], Label: slewRateLabels[i]})
		}
		p := bus.SwitchProperty(name, propSlewRate, "Motion", "Slew rate", bus.OneOfMany, items...)
		p.Select(slewRates[len(items)-1])
		props = append(props, p)
	}
	if desc.Supports(dialect.OpMove) {
		props = append(props,
			bus.SwitchProperty(name, propMotionNS, "Motion", "Move N/S", bus.AtMostOne,
				bus.Item{Name: "NORTH", Label: "North"},
				bus.Item{Name: "SOUTH", Label: "South"},
			),
			bus.SwitchProperty(name, propMotionWE, "Motion", "Move W/E", bus.AtMostOne,
				bus.Item{Name: "WEST", Label: "West"},
				bus.Item{Name: "EAST", Label: "East"},
			),
		)
	}
	if caps.SideOfPier {
		p := bus.SwitchProperty(name, propPierSide, "Main", "Side of pier", bus.AtMostOne,
			bus.Item{Name: "EAST", Label: "East"},
			bus.Item{Name: "WEST", Label: "West"},
		)
		p.ReadOnly = true
		props = append(props, p)
	}

	props = append(props,
		bus.NumberProperty(name, propSite, "Site", "Location",
			bus.Item{Name: "LAT", Label: "Latitude (deg)", Number: info.Site.Latitude, Min: -90, Max: 90},
			bus.Item{Name: "LONG", Label: "Longitude (deg E)", Number: info.Site.Longitude, Min: -180, Max: 360},
			bus.Item{Name: "ELEV", Label: "Elevation (m)", Number: info.Site.Elevation, Min: -300, Max: 10000},
		),
		bus.TextProperty(name, propTime, "Site", "UTC time",
			bus.Item{Name: "UTC", Label: "UTC", Text: formatClock(info.Clock)},
			bus.Item{Name: "OFFSET", Label: "UTC offset (h)", Text: "0"},
		),
	)

	if caps.PEC {
		props = append(props, bus.SwitchProperty(name, propPEC, "Settings", "PEC", bus.OneOfMany,
			bus.Item{Name: "ON", Label: "On"},
			bus.Item{Name: "OFF", Label: "Off", On: true},
		))
	}
	if caps.GuideRate {
		props = append(props, bus.NumberProperty(name, propGuideRate, "Settings", "Guide rate",
			bus.Item{Name: "RATE", Label: "Rate (% sidereal)", Number: float64(info.GuideRate), Min: 10, Max: 90},
		))
	}
	if caps.Buzzer {
		p := bus.SwitchProperty(name, propBuzzer, "Settings", "Buzzer", bus.OneOfMany,
			bus.Item{Name: "OFF", Label: "Off"},
			bus.Item{Name: "LOW", Label: "Low"},
			bus.Item{Name: "HIGH", Label: "High"},
		)
		if info.Buzzer >= 0 && info.Buzzer < len(buzzerLevels) {
			p.Select(buzzerLevels[info.Buzzer])
		}
		props = append(props, p)
	}
	if caps.MeridianFlip {
		props = append(props,
			bus.SwitchProperty(name, propMeridianFlip, "Settings", "Meridian flip", bus.AnyOfMany,
				bus.Item{Name: "AUTO_FLIP", Label: "Flip automatically", On: info.Meridian.AutoFlip},
				bus.Item{Name: "TRACK_PASSED", Label: "Track past meridian", On: info.Meridian.TrackPassed},
			),
			bus.NumberProperty(name, propMeridianLimit, "Settings", "Meridian limit",
				bus.Item{Name: "LIMIT", Label: "Limit (deg)", Number: float64(info.Meridian.Limit), Min: -15, Max: 15},
			),
		)
	}
	if caps.AlignmentReset {
		props = append(props, bus.SwitchProperty(name, propAlignment, "Settings", "Alignment", bus.AtMostOne,
			bus.Item{Name: "RESET", Label: "Clear sync points"},
		))
	}

	for _, p := range props {
		p.State = bus.Ok
	}
	return props
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (m *Mount) change(ctx context.Context, s *mount.Session, req bus.Property) error {
	p, err := m.applied(req.Name, req)
	if err != nil {
		return err
	}

	switch req.Name {
	case propCoordinates:
		ra, dec := p.Item("RA").Number, p.Item("DEC").Number
		if ra < 0 || ra >= 24 || dec < -90 || dec > 90 {
			return m.failProperty(propCoordinates, fmt.Errorf("coordinates out of range"))
		}
		onSet, _ := m.property(propOnSet)
		if onSet.Selected() == "SYNC" {
			return s.Sync(ctx, ra, dec)
		}
		return s.Slew(ctx, ra, dec)

	case propOnSet:
		m.update(propOnSet, func(cur *bus.Property) { cur.Items = p.Items })
		return nil

	case propAbort:
		if p.Selected() == "" {
			return m.release(propAbort, nil)
		}
		return s.Abort(ctx)

	case propPark:
		if p.Selected() == "PARKED" {
			return s.Park(ctx)
		}
		return s.Unpark(ctx)

	case propParkSet:
		if p.Selected() == "" {
			return m.release(propParkSet, nil)
		}
		m.setState(propParkSet, mount.ActivityState{State: bus.Busy})
		return m.release(propParkSet, s.SetPark(ctx))

	case propHome:
		if p.Selected() == "" {
			return nil
		}
		return s.Home(ctx)

	case propHomeSet:
		if p.Selected() == "" {
			return m.release(propHomeSet, nil)
		}
		m.setState(propHomeSet, mount.ActivityState{State: bus.Busy})
		return m.release(propHomeSet, s.SetHome(ctx))

	case propTracking:
		return s.SetTracking(ctx, p.Selected() == "ON")

	case propTrackRate:
		for rate, item := range trackRates {
			if item == p.Selected() {
				m.assign(p)
				return s.SetTrackRate(ctx, rate)
			}
		}
		return nil

	case propSlewRate:
		for i, item := range slewRates {
			if item == p.Selected() {
				m.assign(p)
				return s.SetSlewRate(ctx, i)
			}
		}
		return nil

	case propMotionNS:
		return m.move(ctx, s, p, mount.North, mount.South)

	case propMotionWE:
		return m.move(ctx, s, p, mount.West, mount.East)

	case propSite:
		m.assign(p)
		return s.SetSite(ctx, mount.Site{
			Latitude:  p.Item("LAT").Number,
			Longitude: p.Item("LONG").Number,
			Elevation: p.Item("ELEV").Number,
		})

	case propTime:
		t, err := parseClock(p.Item("UTC").Text, p.Item("OFFSET").Text)
		if err != nil {
			return m.failProperty(propTime, err)
		}
		m.assign(p)
		return s.SetTime(ctx, t)

	case propPEC:
		m.assign(p)
		return s.SetPEC(ctx, p.Selected() == "ON")

	case propGuideRate:
		m.assign(p)
		return s.SetGuideRate(ctx, int(p.Item("RATE").Number+0.5))

	case propBuzzer:
		for level, item := range buzzerLevels {
			if item == p.Selected() {
				m.assign(p)
				return s.SetBuzzer(ctx, level)
			}
		}
		return nil

	case propMeridianFlip, propMeridianLimit:
		m.assign(p)
		return s.SetMeridian(ctx, m.meridian())

	case propAlignment:
		if p.Selected() == "" {
			return m.release(propAlignment, nil)
		}
		m.setState(propAlignment, mount.ActivityState{State: bus.Busy})
		return m.release(propAlignment, s.ClearAlignment(ctx))
	}
	return fmt.Errorf("%s: %w", req.Name, bus.ErrUnknownProperty)
}

// move starts motion toward the selected direction or stops the axis when
// none is selected.
func (m *Mount) move(ctx context.Context, s *mount.Session, p bus.Property, first, second mount.Direction) error {
	m.assign(p)
	switch p.Selected() {
	case p.Items[0].Name:
		return s.Move(ctx, first, true)
	case p.Items[1].Name:
		return s.Move(ctx, second, true)
	}
	current := s.Moving(first.Axis())
	if current == 0 {
		return m.release(p.Name, nil)
	}
	return s.Move(ctx, current, false)
}

// meridian collects the meridian settings from both properties.
func (m *Mount) meridian() dialect.MeridianSettings {
	flip, _ := m.property(propMeridianFlip)
	limit, _ := m.property(propMeridianLimit)
	var ms dialect.MeridianSettings
	if it := flip.Item("AUTO_FLIP"); it != nil {
		ms.AutoFlip = it.On
	}
	if it := flip.Item("TRACK_PASSED"); it != nil {
		ms.TrackPassed = it.On
	}
	if it := limit.Item("LIMIT"); it != nil {
		ms.Limit = int(it.Number)
	}
	return ms
}

// parseClock reads the TIME_UTC items. An empty time means now.
func parseClock(utc, offset string) (time.Time, error) {
	hours := 0.0
	if strings.TrimSpace(offset) != "" {
		var err error
		if hours, err = strconv.ParseFloat(strings.TrimSpace(offset), 64); err != nil || hours < -14 || hours > 14 {
			return time.Time{}, fmt.Errorf("invalid UTC offset %q", offset)
		}
	}
	t := time.Now()
	if strings.TrimSpace(utc) != "" {
		var err error
		if t, err = time.Parse(time.RFC3339, strings.TrimSpace(utc)); err != nil {
			return time.Time{}, fmt.Errorf("invalid time %q", utc)
		}
	}
	return t.In(time.FixedZone("", int(hours*3600))), nil
}

func (m *Mount) failProperty(name string, err error) error {
	m.setState(name, mount.ActivityState{State: bus.Alert, Message: err.Error()})
	return err
}

func (m *Mount) activityChanged(a mount.Activity, st mount.ActivityState) {
	switch a {
	case mount.ActAbort:
		if st.State == bus.Busy {
			m.setState(propAbort, st)
		} else {
			m.update(propAbort, func(p *bus.Property) {
				p.Items[0].On = false
				p.State, p.Message = st.State, st.Message
			})
		}
	case mount.ActMotionNS, mount.ActMotionWE:
		m.motionChanged(a, st)
	case mount.ActMeridian:
		m.setState(propMeridianFlip, st)
		m.setState(propMeridianLimit, st)
	case mount.ActAlignment:
		// reported by release
	default:
		if name, ok := activityProps[a]; ok {
			m.setState(name, st)
		}
	}
}

// motionChanged keeps the motion switches in line with the axis.
func (m *Mount) motionChanged(a mount.Activity, st mount.ActivityState) {
	name, axis := propMotionNS, mount.AxisDec
	if a == mount.ActMotionWE {
		name, axis = propMotionWE, mount.AxisRA
	}
	s, err := m.sessionOrErr()
	if err != nil {
		return
	}
	dir := s.Moving(axis)
	m.update(name, func(p *bus.Property) {
		// while Busy the switches show the requested direction
		if st.State != bus.Busy {
			for i := range p.Items {
				p.Items[i].On = directionItem(dir) == p.Items[i].Name
			}
		}
		p.State, p.Message = st.State, st.Message
	})
}

func directionItem(d mount.Direction) string {
	switch d {
	case mount.North:
		return "NORTH"
	case mount.South:
		return "SOUTH"
	case mount.East:
		return "EAST"
	case mount.West:
		return "WEST"
	}
	return ""
}

func (m *Mount) stateChanged(f mount.Field, st mount.LogicalState) {
	switch f {
	case mount.FieldCoordinates:
		m.update(propCoordinates, func(p *bus.Property) {
			p.SetNumber("RA", st.RA)
			p.SetNumber("DEC", st.Dec)
		})
	case mount.FieldTracking:
		m.update(propTracking, func(p *bus.Property) { p.Select(onOff(st.Tracking)) })
	case mount.FieldPark:
		m.update(propPark, func(p *bus.Property) {
			if st.Parked() {
				p.Select("PARKED")
			} else {
				p.Select("UNPARKED")
			}
		})
	case mount.FieldHome:
		m.update(propHome, func(p *bus.Property) { p.Items[0].On = st.Home == dialect.Homing })
	case mount.FieldPierSide:
		m.update(propPierSide, func(p *bus.Property) {
			p.Items[0].On = st.PierSide == dialect.PierEast
			p.Items[1].On = st.PierSide == dialect.PierWest
		})
	}
}

// notice shows controller notices, such as tracking stopped by a limit, on
// the INFO property.
func (m *Mount) notice(message string) {
	m.update(propInfo, func(p *bus.Property) {
		p.State = bus.Alert
		p.Message = message
	})
}

// Alpaca Telescope

func (m *Mount) GetState() []alpaca.StateProperty {
	props := []alpaca.StateProperty{
		{Name: "TimeStamp", Value: time.Now().Format(time.RFC3339)},
	}
	if m.Connected() {
		props = append(props, m.Status().ToProperties()...)
	}
	return props
}

// descriptor returns the connected dialect's descriptor, or the configured
// one while disconnected. It is nil for an undetected mount.
func (m *Mount) descriptor() *dialect.Descriptor {
	if s, err := m.sessionOrErr(); err == nil {
		return s.Descriptor()
	}
	cfg, err := m.store.GetMountConfig()
	if err != nil {
		return nil
	}
	return cfg.DialectValue().Descriptor()
}

func (m *Mount) Capabilities() alpaca.TelescopeCapabilities {
	desc := m.descriptor()
	if desc == nil {
		return alpaca.TelescopeCapabilities{CanSlew: true, CanSlewAsync: true, CanSync: true}
	}
	caps := desc.Caps
	return alpaca.TelescopeCapabilities{
		CanFindHome:      caps.Home && desc.Supports(dialect.OpHome),
		CanPark:          caps.Park && desc.Supports(dialect.OpPark),
		CanUnpark:        caps.Park,
		CanSetPark:       caps.ParkSet && desc.Supports(dialect.OpSetPark),
		CanPulseGuide:    caps.GuidePulse && desc.Supports(dialect.OpGuide),
		CanSetTracking:   caps.Tracking,
		CanSlew:          desc.Supports(dialect.OpSlew),
		CanSlewAsync:     desc.Supports(dialect.OpSlew),
		CanSync:          desc.Supports(dialect.OpSync),
		CanSetGuideRates: false,
	}
}

func (m *Mount) TrackingRates() []alpaca.DriveRate {
	rates := []alpaca.DriveRate{alpaca.DriveSidereal}
	desc := m.descriptor()
	if desc == nil || !desc.Caps.TrackRates {
		return rates
	}
	rates = append(rates, alpaca.DriveLunar, alpaca.DriveSolar)
	if desc.Caps.KingRate {
		rates = append(rates, alpaca.DriveKing)
	}
	return rates
}

func (m *Mount) Status() alpaca.TelescopeStatus {
	s, err := m.sessionOrErr()
	if err != nil {
		return alpaca.TelescopeStatus{}
	}
	st := s.State()
	info := s.Info()

	pier := alpaca.PierUnknown
	switch st.PierSide {
	case dialect.PierEast:
		pier = alpaca.PierEast
	case dialect.PierWest:
		pier = alpaca.PierWest
	}

	return alpaca.TelescopeStatus{
		RightAscension: st.RA,
		Declination:    st.Dec,
		SiderealTime:   s.Sidereal(),
		Tracking:       st.Tracking,
		TrackingRate:   alpaca.DriveRate(info.TrackRate),
		AtPark:         st.Park == dialect.Parked,
		AtHome:         st.Home == dialect.AtHome,
		Slewing:        st.Slewing || st.Park == dialect.Parking || st.Home == dialect.Homing,
		IsPulseGuiding: s.Guiding(),
		SideOfPier:     pier,
		SiteLatitude:   info.Site.Latitude,
		SiteLongitude:  info.Site.Longitude,
		SiteElevation:  info.Site.Elevation,
		UTCDate:        time.Now().UTC(),
	}
}

// unparked returns the session for a motion request, refusing it while
// parked with the Alpaca parked error.
func (m *Mount) unparked() (*mount.Session, error) {
	s, err := m.sessionOrErr()
	if err != nil {
		return nil, err
	}
	if s.State().Parked() {
		return nil, alpaca.ErrParked
	}
	return s, nil
}

func (m *Mount) SlewToCoordinates(ra, dec float64) error {
	s, err := m.unparked()
	if err != nil {
		return err
	}
	return withTimeout(func(ctx context.Context) error { return s.Slew(ctx, ra, dec) })
}

func (m *Mount) SyncToCoordinates(ra, dec float64) error {
	s, err := m.unparked()
	if err != nil {
		return err
	}
	return withTimeout(func(ctx context.Context) error { return s.Sync(ctx, ra, dec) })
}

func (m *Mount) AbortSlew() error {
	s, err := m.sessionOrErr()
	if err != nil {
		return err
	}
	return withTimeout(s.Abort)
}

func (m *Mount) Park() error {
	s, err := m.sessionOrErr()
	if err != nil {
		return err
	}
	return withTimeout(s.Park)
}

func (m *Mount) Unpark() error {
	s, err := m.sessionOrErr()
	if err != nil {
		return err
	}
	return withTimeout(s.Unpark)
}

func (m *Mount) SetPark() error {
	s, err := m.sessionOrErr()
	if err != nil {
		return err
	}
	return withTimeout(s.SetPark)
}

func (m *Mount) FindHome() error {
	s, err := m.unparked()
	if err != nil {
		return err
	}
	return withTimeout(s.Home)
}

func (m *Mount) SetTracking(on bool) error {
	s, err := m.sessionOrErr()
	if err != nil {
		return err
	}
	if on && s.State().Parked() {
		return alpaca.ErrParked
	}
	return withTimeout(func(ctx context.Context) error { return s.SetTracking(ctx, on) })
}

func (m *Mount) SetTrackingRate(rate alpaca.DriveRate) error {
	s, err := m.sessionOrErr()
	if err != nil {
		return err
	}
	return withTimeout(func(ctx context.Context) error { return s.SetTrackRate(ctx, dialect.TrackRate(rate)) })
}

func (m *Mount) PulseGuide(dir alpaca.GuideDirection, d time.Duration) error {
	s, err := m.unparked()
	if err != nil {
		return err
	}
	return withTimeout(func(ctx context.Context) error {
		switch dir {
		case alpaca.GuideNorth:
			return s.GuideDec(ctx, d, 0)
		case alpaca.GuideSouth:
			return s.GuideDec(ctx, 0, d)
		case alpaca.GuideWest:
			return s.GuideRA(ctx, d, 0)
		case alpaca.GuideEast:
			return s.GuideRA(ctx, 0, d)
		}
		return fmt.Errorf("%w: guide direction %d", alpaca.ErrInvalidValue, dir)
	})
}

func (m *Mount) SetSite(latitude, longitude, elevation float64) error {
	s, err := m.sessionOrErr()
	if err != nil {
		return err
	}
	return withTimeout(func(ctx context.Context) error {
		return s.SetSite(ctx, mount.Site{Latitude: latitude, Longitude: longitude, Elevation: elevation})
	})
}

// SetUTCDate sets the controller clock in the configured zone.
func (m *Mount) SetUTCDate(t time.Time) error {
	s, err := m.sessionOrErr()
	if err != nil {
		return err
	}
	loc := time.Local
	if cfg, err := m.store.GetMountConfig(); err == nil {
		if l, err := cfg.Location(); err == nil && l != nil {
			loc = l
		}
	}
	return withTimeout(func(ctx context.Context) error { return s.SetTime(ctx, t.In(loc)) })
}

var _ alpaca.Telescope = (*Mount)(nil)
var _ alpaca.SetupHandler = (*Mount)(nil)
