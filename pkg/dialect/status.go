package dialect

import (
	"fmt"
	"strconv"
	"strings"
)

type ParkState int

const (
	ParkUnknown ParkState = iota
	Unparked
	Parking
	Parked
	ParkFailed
)

func (p ParkState) String() string {
	switch p {
	case Unparked:
		return "unparked"
	case Parking:
		return "parking"
	case Parked:
		return "parked"
	case ParkFailed:
		return "error"
	}
	return "unknown"
}

type HomeState int

const (
	HomeUnknown HomeState = iota
	NotHome
	Homing
	AtHome
)

func (h HomeState) String() string {
	switch h {
	case NotHome:
		return "not at home"
	case Homing:
		return "homing"
	case AtHome:
		return "at home"
	}
	return "unknown"
}

type PierSide int

const (
	PierUnknown PierSide = iota
	PierEast
	PierWest
)

func (p PierSide) String() string {
	switch p {
	case PierEast:
		return "east"
	case PierWest:
		return "west"
	}
	return "unknown"
}

// Status is the raw mount state decoded from status replies.
type Status struct {
	Tracking bool
	Slewing  bool
	Guiding  bool
	Park     ParkState
	Home     HomeState
	PierSide PierSide
}

// StatusParser decodes one status reply. Fields the reply does not carry
// keep their value from prev.
type StatusParser func(raw string, prev Status) (Status, error)

// parseLetterStatus decodes the :GU# flag string of OnStep and its
// derivatives. Absent park letters leave the park state unchanged.
func parseLetterStatus(raw string, prev Status) (Status, error) {
	raw = strings.TrimSuffix(raw, "#")
	if raw == "" {
		return prev, fmt.Errorf("empty status")
	}
	st := prev
	st.Tracking = !strings.ContainsRune(raw, 'n')
	st.Slewing = !strings.ContainsRune(raw, 'N')
	st.Guiding = strings.ContainsRune(raw, 'G')

	switch {
	case strings.ContainsRune(raw, 'P'):
		st.Park = Parked
	case strings.ContainsRune(raw, 'I'):
		st.Park = Parking
	case strings.ContainsRune(raw, 'F'):
		st.Park = ParkFailed
	case strings.ContainsRune(raw, 'p'):
		st.Park = Unparked
	}

	switch {
	case strings.ContainsRune(raw, 'H'):
		st.Home = AtHome
	case strings.ContainsRune(raw, 'h'):
		st.Home = Homing
	default:
		st.Home = NotHome
	}
	return st, nil
}

// parseZwoStatus decodes the ZWO :GU# flags. The firmware has no park
// letters and uses 'G'/'Z' for the mount mode.
func parseZwoStatus(raw string, prev Status) (Status, error) {
	raw = strings.TrimSuffix(raw, "#")
	if raw == "" {
		return prev, fmt.Errorf("empty status")
	}
	st := prev
	st.Tracking = !strings.ContainsRune(raw, 'n')
	st.Slewing = !strings.ContainsRune(raw, 'N')
	if strings.ContainsRune(raw, 'H') {
		st.Home = AtHome
	} else {
		st.Home = NotHome
	}
	return st, nil
}

// parseMeadeStatus decodes the :GW# alignment status "PT1": mount type,
// tracking flag, alignment stars.
func parseMeadeStatus(raw string, prev Status) (Status, error) {
	raw = strings.TrimSuffix(raw, "#")
	if len(raw) < 2 {
		return prev, fmt.Errorf("short status %q", raw)
	}
	st := prev
	switch raw[1] {
	case 'T':
		st.Tracking = true
	case 'N':
		st.Tracking = false
	}
	return st, nil
}

// parseGeminiStatus decodes the single character :Gv# reply.
func parseGeminiStatus(raw string, prev Status) (Status, error) {
	raw = strings.TrimSuffix(raw, "#")
	if raw == "" {
		return prev, fmt.Errorf("empty status")
	}
	st := prev
	switch raw[0] {
	case 'T':
		st.Tracking, st.Slewing, st.Guiding = true, false, false
	case 'G':
		st.Tracking, st.Slewing, st.Guiding = true, false, true
	case 'C', 'S':
		st.Slewing = true
	case 'N':
		st.Tracking, st.Slewing, st.Guiding = false, false, false
	default:
		return prev, fmt.Errorf("unknown status %q", raw)
	}
	return st, nil
}

// parseTenMicronsStatus decodes the numeric :Gstat# code.
func parseTenMicronsStatus(raw string, prev Status) (Status, error) {
	code, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(raw), "#"))
	if err != nil {
		return prev, fmt.Errorf("invalid status %q", raw)
	}
	st := prev
	switch code {
	case 0, 10, 11:
		st.Tracking, st.Slewing, st.Park = true, false, Unparked
	case 1, 7:
		st.Tracking, st.Slewing, st.Park = false, false, Unparked
	case 2:
		st.Tracking, st.Slewing, st.Park = false, true, Parking
	case 3:
		st.Slewing, st.Park = true, Unparked
	case 4:
		st.Slewing, st.Home = true, Homing
	case 5:
		st.Tracking, st.Slewing, st.Park = false, false, Parked
	case 6:
		st.Slewing, st.Park = true, Unparked
	case 99:
		st.Slewing, st.Park = false, ParkFailed
	default:
		return prev, fmt.Errorf("unknown status code %d", code)
	}
	if code != 4 && st.Home == Homing {
		st.Home = NotHome
	}
	return st, nil
}

// parseAvalonMotion decodes :X34# "mXY": RA and Dec motor states where 0 is
// stopped, 1 is tracking and anything higher is a slew.
func parseAvalonMotion(raw string, prev Status) (Status, error) {
	raw = strings.TrimSuffix(raw, "#")
	if len(raw) != 3 || raw[0] != 'm' {
		return prev, fmt.Errorf("invalid motion status %q", raw)
	}
	st := prev
	ra, dec := raw[1], raw[2]
	st.Tracking = ra == '1'
	st.Slewing = ra > '1' || dec > '1'
	return st, nil
}

// parseAvalonPark decodes :X38# "p0" unparked, "p1" parked, "p2" parking.
func parseAvalonPark(raw string, prev Status) (Status, error) {
	raw = strings.TrimSuffix(raw, "#")
	if len(raw) != 2 || raw[0] != 'p' {
		return prev, fmt.Errorf("invalid park status %q", raw)
	}
	st := prev
	switch raw[1] {
	case '0':
		st.Park = Unparked
	case '1':
		st.Park = Parked
	case '2':
		st.Park = Parking
	default:
		return prev, fmt.Errorf("invalid park status %q", raw)
	}
	return st, nil
}

// parseTeenAstroStatus decodes the positional :GXI# block: [0] motion,
// [2] park, [3] home, [13] pier side. Short replies leave the missing
// fields unchanged.
func parseTeenAstroStatus(raw string, prev Status) (Status, error) {
	raw = strings.TrimSuffix(raw, "#")
	if raw == "" {
		return prev, fmt.Errorf("empty status")
	}
	st := prev
	switch raw[0] {
	case '0':
		st.Tracking, st.Slewing = false, false
	case '1':
		st.Tracking, st.Slewing = true, false
	case '2':
		st.Slewing = true
	}
	if len(raw) > 2 {
		switch raw[2] {
		case 'p':
			st.Park = Unparked
		case 'I':
			st.Park = Parking
		case 'P':
			st.Park = Parked
		case 'F':
			st.Park = ParkFailed
		}
	}
	if len(raw) > 3 {
		if raw[3] == 'H' {
			st.Home = AtHome
		} else {
			st.Home = NotHome
		}
	}
	if len(raw) > 13 {
		st.PierSide = pierFromByte(raw[13], st.PierSide)
	}
	return st, nil
}

// parseOATStatus decodes the OpenAstroTech :GX# reply whose first comma
// separated field is the state name.
func parseOATStatus(raw string, prev Status) (Status, error) {
	fields := strings.Split(strings.TrimSuffix(raw, "#"), ",")
	if len(fields) == 0 || fields[0] == "" {
		return prev, fmt.Errorf("empty status")
	}
	st := prev
	switch fields[0] {
	case "Parked":
		st.Park, st.Slewing, st.Tracking = Parked, false, false
	case "Parking":
		st.Park, st.Slewing = Parking, true
	case "Homing":
		st.Home, st.Slewing = Homing, true
	case "SlewToTarget", "FreeSlew", "ManualSlew":
		st.Slewing = true
		st.Park = Unparked
	case "Tracking":
		st.Tracking, st.Slewing, st.Park = true, false, Unparked
	case "Idle":
		st.Tracking, st.Slewing = false, false
	default:
		return prev, fmt.Errorf("unknown state %q", fields[0])
	}
	if fields[0] != "Homing" && st.Home == Homing {
		st.Home = AtHome
	}
	if len(fields) > 1 && len(fields[1]) > 2 {
		st.Tracking = fields[1][2] == 'T'
	}
	return st, nil
}

// parsePierSide decodes "E", "W", "N", "East" or "West".
func parsePierSide(raw string, prev Status) (Status, error) {
	raw = strings.TrimSpace(strings.TrimSuffix(raw, "#"))
	if raw == "" {
		return prev, fmt.Errorf("empty pier side")
	}
	st := prev
	st.PierSide = pierFromByte(raw[0], PierUnknown)
	return st, nil
}

func pierFromByte(b byte, fallback PierSide) PierSide {
	switch b {
	case 'E', 'e':
		return PierEast
	case 'W', 'w':
		return PierWest
	case 'N', ' ', '?':
		return PierUnknown
	}
	return fallback
}

type TrackRate int

const (
	RateSidereal TrackRate = iota
	RateLunar
	RateSolar
	RateKing
)

func (r TrackRate) String() string {
	switch r {
	case RateSidereal:
		return "sidereal"
	case RateLunar:
		return "lunar"
	case RateSolar:
		return "solar"
	case RateKing:
		return "king"
	}
	return fmt.Sprintf("TrackRate(%d)", int(r))
}

// Op returns the command selecting r.
func (r TrackRate) Op() Op {
	switch r {
	case RateLunar:
		return OpRateLunar
	case RateSolar:
		return OpRateSolar
	case RateKing:
		return OpRateKing
	}
	return OpRateSidereal
}

// ParseTrackRate decodes the numeric :GT# reply: 0 sidereal, 1 lunar,
// 2 solar.
func ParseTrackRate(raw string) (TrackRate, error) {
	switch strings.TrimSpace(strings.TrimSuffix(raw, "#")) {
	case "0":
		return RateSidereal, nil
	case "1":
		return RateLunar, nil
	case "2":
		return RateSolar, nil
	}
	return RateSidereal, fmt.Errorf("unknown tracking rate %q", raw)
}

// ParseTrackingError decodes :GAT#: "0" idle, "1" tracking, "eN" tracking
// stopped by error N.
func ParseTrackingError(raw string) (tracking bool, code int, err error) {
	raw = strings.TrimSpace(strings.TrimSuffix(raw, "#"))
	switch {
	case raw == "0":
		return false, 0, nil
	case raw == "1":
		return true, 0, nil
	case len(raw) > 1 && raw[0] == 'e':
		code, err := strconv.Atoi(raw[1:])
		if err != nil {
			return false, 0, fmt.Errorf("invalid tracking status %q", raw)
		}
		return false, code, nil
	}
	return false, 0, fmt.Errorf("invalid tracking status %q", raw)
}
