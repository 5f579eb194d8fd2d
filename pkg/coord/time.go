package coord

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	jdUnixEpoch = 2440587.5
	jdJ2000     = 2451545.0
)

// UninitializedBefore is the instant before which a controller clock is
// considered never set (2001-01-01T01:00:00Z).
var UninitializedBefore = time.Unix(978310800, 0).UTC()

// JulianDate returns the Julian date of t.
func JulianDate(t time.Time) float64 {
	return jdUnixEpoch + float64(t.UnixNano())/86400e9
}

// GMST returns Greenwich mean sidereal time in hours.
func GMST(t time.Time) float64 {
	d := JulianDate(t) - jdJ2000
	c := d / 36525
	gmst := 280.46061837 + 360.98564736629*d + 0.000387933*c*c - c*c*c/38710000
	return NormalizeHours(gmst / 15)
}

// LST returns local sidereal time in hours for a longitude given positive east.
func LST(t time.Time, longitude float64) float64 {
	return NormalizeHours(GMST(t) + longitude/15)
}

// HourAngle returns LST - RA wrapped into [-12, 12).
func HourAngle(lst, ra float64) float64 {
	ha := NormalizeHours(lst - ra)
	if ha >= 12 {
		ha -= 24
	}
	return ha
}

// ToProtocolLongitude converts a longitude given positive east into the
// controllers' west-positive [0, 360) form.
func ToProtocolLongitude(east float64) float64 {
	return NormalizeDegrees(360 - east)
}

// FromProtocolLongitude is the inverse of ToProtocolLongitude; the result is
// positive east in (-180, 180].
func FromProtocolLongitude(west float64) float64 {
	east := NormalizeDegrees(-west)
	if east > 180 {
		east -= 360
	}
	return east
}

// WireUTCOffset converts a zone offset (local minus UTC, hours) into the
// controller convention: hours added to local time to obtain UTC.
func WireUTCOffset(zoneOffset float64) float64 {
	return -zoneOffset
}

// ZoneOffset is the inverse of WireUTCOffset.
func ZoneOffset(wire float64) float64 {
	return -wire
}

// FormatUTCOffset encodes a wire offset as sHH or sHH:MM.
func FormatUTCOffset(wire float64) string {
	sign, minutes := splitSign(wire, 60)
	if minutes%60 == 0 {
		return fmt.Sprintf("%c%02d", sign, minutes/60)
	}
	return fmt.Sprintf("%c%02d:%02d", sign, minutes/60, minutes%60)
}

// ParseUTCOffset decodes sHH, sHH:MM or sHH.H.
func ParseUTCOffset(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(s, "#"))
	if strings.Contains(s, ":") {
		return ParseSexagesimal(s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid utc offset %q: %w", s, err)
	}
	return v, nil
}

// Astro-Physics controllers encode negative wire offsets as a letter+digit
// pair: '@' carries -0..-9 and 'A' carries -10..-12.
var apOffsetPrefix = map[byte]int{'@': 0, 'A': 10}

// FormatAPUTCOffset encodes a whole-hour wire offset for Astro-Physics.
func FormatAPUTCOffset(wire int) (string, error) {
	switch {
	case wire < -12 || wire > 12:
		return "", fmt.Errorf("utc offset out of range: %d", wire)
	case wire >= 0:
		return fmt.Sprintf("%02d", wire), nil
	case wire > -10:
		return fmt.Sprintf("@%d", -wire), nil
	default:
		return fmt.Sprintf("A%d", -wire-10), nil
	}
}

// ParseAPUTCOffset decodes an Astro-Physics offset reply.
func ParseAPUTCOffset(s string) (int, error) {
	s = strings.TrimSpace(strings.TrimSuffix(s, "#"))
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid astro-physics utc offset %q", s)
	}
	if base, ok := apOffsetPrefix[s[0]]; ok {
		digit := s[1]
		if digit < '0' || digit > '9' || len(s) != 2 {
			return 0, fmt.Errorf("invalid astro-physics utc offset %q", s)
		}
		v := base + int(digit-'0')
		if v > 12 {
			return 0, fmt.Errorf("astro-physics utc offset out of range: %q", s)
		}
		return -v, nil
	}
	v, err := strconv.Atoi(strings.TrimPrefix(s, "+"))
	if err != nil {
		return 0, fmt.Errorf("invalid astro-physics utc offset %q: %w", s, err)
	}
	return v, nil
}

// LocalTime splits a UTC instant into the controller's local calendar fields
// given a wire offset.
func LocalTime(utc time.Time, wire float64) time.Time {
	return utc.Add(-time.Duration(wire * float64(time.Hour))).UTC()
}

// UTCFromLocal rebuilds the UTC instant from controller-local date/time
// fields and a wire offset.
func UTCFromLocal(local time.Time, wire float64) time.Time {
	return local.Add(time.Duration(wire * float64(time.Hour))).UTC()
}

// ParseControllerDateTime combines the MM/DD/YY reply of :GC# and the
// HH:MM:SS reply of :GL# into a local wall-clock time (expressed in UTC
// location, without offset applied).
func ParseControllerDateTime(date, clock string) (time.Time, error) {
	date = strings.TrimSuffix(strings.TrimSpace(date), "#")
	clock = strings.TrimSuffix(strings.TrimSpace(clock), "#")

	var month, day, year int
	if _, err := fmt.Sscanf(date, "%d/%d/%d", &month, &day, &year); err != nil {
		return time.Time{}, fmt.Errorf("invalid controller date %q: %w", date, err)
	}
	if year < 100 {
		year += 2000
	}

	var h, m, sec int
	if _, err := fmt.Sscanf(clock, "%d:%d:%d", &h, &m, &sec); err != nil {
		return time.Time{}, fmt.Errorf("invalid controller time %q: %w", clock, err)
	}

	return time.Date(year, time.Month(month), day, h, m, sec, 0, time.UTC), nil
}
