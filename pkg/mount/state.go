package mount

import (
	"fmt"
	"math"

	"lx200/pkg/bus"
	"lx200/pkg/dialect"
)

// Activity is one class of mount operation whose progress is reported as a
// property state.
type Activity int

const (
	// ActSlew also carries the state of the coordinates: Busy while the
	// mount moves to a target, Alert when the position cannot be read.
	ActSlew Activity = iota
	ActSync
	ActAbort
	ActPark
	ActHome
	ActTracking
	ActTrackRate
	ActSlewRate
	ActMotionNS
	ActMotionWE
	ActGuideDec
	ActGuideRA
	ActSite
	ActTime
	ActPEC
	ActBuzzer
	ActGuideRate
	ActMeridian
	ActAlignment
	ActFocus
	ActAux
	numActivities
)

func (a Activity) String() string {
	switch a {
	case ActSlew:
		return "slew"
	case ActSync:
		return "sync"
	case ActAbort:
		return "abort"
	case ActPark:
		return "park"
	case ActHome:
		return "home"
	case ActTracking:
		return "tracking"
	case ActTrackRate:
		return "track rate"
	case ActSlewRate:
		return "slew rate"
	case ActMotionNS:
		return "motion N/S"
	case ActMotionWE:
		return "motion W/E"
	case ActGuideDec:
		return "guide Dec"
	case ActGuideRA:
		return "guide RA"
	case ActSite:
		return "site"
	case ActTime:
		return "time"
	case ActPEC:
		return "PEC"
	case ActBuzzer:
		return "buzzer"
	case ActGuideRate:
		return "guide rate"
	case ActMeridian:
		return "meridian"
	case ActAlignment:
		return "alignment"
	case ActFocus:
		return "focus"
	case ActAux:
		return "aux"
	}
	return fmt.Sprintf("Activity(%d)", int(a))
}

// ActivityState is the published state of an Activity.
type ActivityState struct {
	State   bus.State
	Message string
}

// Field names one component of LogicalState.
type Field int

const (
	FieldCoordinates Field = iota
	FieldTracking
	FieldSlewing
	FieldGuiding
	FieldPark
	FieldHome
	FieldPierSide
)

func (f Field) String() string {
	switch f {
	case FieldCoordinates:
		return "coordinates"
	case FieldTracking:
		return "tracking"
	case FieldSlewing:
		return "slewing"
	case FieldGuiding:
		return "guiding"
	case FieldPark:
		return "park"
	case FieldHome:
		return "home"
	case FieldPierSide:
		return "pier side"
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// LogicalState is the dialect independent view of the mount derived from
// one poll.
type LogicalState struct {
	RA, Dec  float64 // J2000, hours and degrees
	Tracking bool
	Slewing  bool
	Guiding  bool
	Park     dialect.ParkState
	Home     dialect.HomeState
	PierSide dialect.PierSide
}

// Parked reports whether the mount is parked or on its way to park.
func (s LogicalState) Parked() bool {
	return s.Park == dialect.Parked || s.Park == dialect.Parking
}

// Diff returns the fields of s that differ from prev. The coordinates are
// always listed first so the position is republished on every poll.
func (s LogicalState) Diff(prev LogicalState) []Field {
	fields := []Field{FieldCoordinates}
	if s.Tracking != prev.Tracking {
		fields = append(fields, FieldTracking)
	}
	if s.Slewing != prev.Slewing {
		fields = append(fields, FieldSlewing)
	}
	if s.Guiding != prev.Guiding {
		fields = append(fields, FieldGuiding)
	}
	if s.Park != prev.Park {
		fields = append(fields, FieldPark)
	}
	if s.Home != prev.Home {
		fields = append(fields, FieldHome)
	}
	if s.PierSide != prev.PierSide {
		fields = append(fields, FieldPierSide)
	}
	return fields
}

// positionEpsilon is the movement in degrees below which two successive
// polls count as stationary.
const positionEpsilon = 15.0 / 3600

func samePosition(ra0, dec0, ra1, dec1 float64) bool {
	dra := math.Abs(ra0 - ra1)
	if dra > 12 {
		dra = 24 - dra
	}
	return dra*15 < positionEpsilon && math.Abs(dec0-dec1) < positionEpsilon
}
