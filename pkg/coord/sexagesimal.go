// Package coord holds the angle, time and epoch arithmetic shared by every
// dialect: sexagesimal encoding, sidereal time, J2000/JNow conversion and
// the site conventions used on the wire.
package coord

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

var ErrEmptyAngle = errors.New("empty sexagesimal value")

// FormatHours encodes hours as HH:MM:SS, rounded to the nearest second of time.
func FormatHours(hours float64) string {
	total := int64(math.Round(NormalizeHours(hours)*3600)) % 86400
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// FormatHoursLow encodes hours as HH:MM.T (tenths of a minute).
func FormatHoursLow(hours float64) string {
	tenths := int64(math.Round(NormalizeHours(hours)*600)) % 14400
	return fmt.Sprintf("%02d:%02d.%d", tenths/600, (tenths%600)/10, tenths%10)
}

// FormatDegrees encodes a signed angle as sDD*MM:SS.
func FormatDegrees(deg float64) string {
	sign, total := splitSign(deg, 3600)
	return fmt.Sprintf("%c%02d*%02d:%02d", sign, total/3600, (total%3600)/60, total%60)
}

// FormatDegreesLow encodes a signed angle as sDD*MM.
func FormatDegreesLow(deg float64) string {
	sign, total := splitSign(deg, 60)
	return fmt.Sprintf("%c%02d*%02d", sign, total/60, total%60)
}

// FormatLongitude encodes an unsigned protocol longitude as DDD*MM.
func FormatLongitude(deg float64) string {
	total := int64(math.Round(NormalizeDegrees(deg)*60)) % 21600
	return fmt.Sprintf("%03d*%02d", total/60, total%60)
}

func splitSign(v float64, scale float64) (byte, int64) {
	sign := byte('+')
	if v < 0 {
		sign = '-'
		v = -v
	}
	total := int64(math.Round(v * scale))
	if total == 0 {
		sign = '+'
	}
	return sign, total
}

// ParseSexagesimal decodes [s]D[sep]M[sep]S, [s]D[sep]M.m or a bare decimal.
// Accepted separators are '*', ':', '\'', the degree sign and the 0xDF byte
// some controllers send in its place. A trailing '#' is ignored.
func ParseSexagesimal(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "#"))
	if s == "" {
		return 0, ErrEmptyAngle
	}

	sign := 1.0
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}

	parts := strings.FieldsFunc(s, isSeparator)
	if len(parts) == 0 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid sexagesimal value %q", s)
	}

	var value float64
	scale := 1.0
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid sexagesimal field %q: %w", p, err)
		}
		if f < 0 || (i > 0 && f >= 60) {
			return 0, fmt.Errorf("sexagesimal field out of range: %q", p)
		}
		value += f / scale
		scale *= 60
	}

	return sign * value, nil
}

func isSeparator(r rune) bool {
	switch r {
	case '*', ':', '\'', '"', '°', 'ß', utf8.RuneError:
		return true
	}
	return false
}

// NormalizeHours wraps h into [0, 24).
func NormalizeHours(h float64) float64 {
	h = math.Mod(h, 24)
	if h < 0 {
		h += 24
	}
	return h
}

// NormalizeDegrees wraps d into [0, 360).
func NormalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}
