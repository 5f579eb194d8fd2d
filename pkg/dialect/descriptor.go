package dialect

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"lx200/pkg/coord"
	"lx200/pkg/protocol"
)

// Op is a logical mount operation.
type Op int

const (
	OpProduct Op = iota
	OpFirmware
	OpGetRA
	OpGetDec
	OpSetRA
	OpSetDec
	OpSlew
	OpSync
	OpAbort
	OpPark
	OpUnpark
	OpSetPark
	OpHome
	OpSetHome
	OpTrackOn
	OpTrackOff
	OpTrackingStatus
	OpParkStatus
	OpTrackingError
	OpGetTrackRate
	OpRateSidereal
	OpRateSolar
	OpRateLunar
	OpRateKing
	OpGuide
	OpMove
	OpStop
	OpSlewGuide
	OpSlewCenter
	OpSlewFind
	OpSlewMax
	OpPierSide
	OpGetDate
	OpGetTime
	OpGetUTCOffset
	OpGetLatitude
	OpGetLongitude
	OpSetDate
	OpSetTime
	OpSetUTCOffset
	OpSetLatitude
	OpSetLongitude
	OpDST
	OpPrecision
	OpPECOn
	OpPECOff
	OpGetBuzzer
	OpSetBuzzer
	OpGetGuideRate
	OpSetGuideRate
	OpClearAlignment
	OpGetMeridian
	OpSetMeridian
	OpFocusIn
	OpFocusOut
	OpFocusStop
	OpFocusFast
	OpFocusSlow
	OpFocusPosition
	OpFocusGoto
	OpAuxGet
	OpAuxSet
)

// Command is a printf template plus the grammar of its reply.
type Command struct {
	Template string
	Reply    protocol.Grammar
}

// Capabilities are the optional features of a dialect.
type Capabilities struct {
	Park            bool
	NativeUnpark    bool // false: unpark is a local flag reset
	ParkSet         bool
	Home            bool
	HomeSet         bool
	PEC             bool
	Buzzer          bool
	SideOfPier      bool
	DSTCommand      bool
	PrecisionToggle bool
	Tracking        bool
	TrackRates      bool
	KingRate        bool
	TrackBeforeGoto bool // goto is refused unless tracking is on
	GuidePulse      bool
	GuideRate       bool
	MeridianFlip    bool
	AlignmentReset  bool
	Focuser         bool
	AuxOutlets      int
	// ParkByMotion marks firmware that never reports a parked state; a park
	// is considered complete once the mount stops moving.
	ParkByMotion bool
	// MotionStatus marks dialects whose status probes report slewing. Others
	// are considered moving while successive positions differ.
	MotionStatus bool
	// Apparent marks controllers that report and accept JNow coordinates.
	Apparent bool
}

// StatusProbe is one status query run by the poller.
type StatusProbe struct {
	Op    Op
	Parse StatusParser
}

// Descriptor is the complete, immutable description of a dialect.
type Descriptor struct {
	Dialect  Dialect
	Caps     Capabilities
	Commands map[Op]Command
	// Errors maps vendor codes of a rejected slew or sync to messages.
	Errors map[int]string
	// Sentinels are characters some firmware sends in place of '*'.
	Sentinels string
	// Baud is the preferred serial rate; zero means the default.
	Baud   int
	Probes []StatusProbe
	// APOffset selects the Astro-Physics letter table for UTC offsets.
	APOffset bool
	// MoveRates are the slew rate selectors from slowest to fastest.
	MoveRates []Op
}

// Supports reports whether op has a command in this dialect.
func (d *Descriptor) Supports(op Op) bool {
	_, ok := d.Commands[op]
	return ok
}

// Format renders the command for op with args.
func (d *Descriptor) Format(op Op, args ...any) (string, protocol.Grammar, error) {
	cmd, ok := d.Commands[op]
	if !ok {
		return "", protocol.Grammar{}, fmt.Errorf("%s: %w", d.Dialect, protocol.ErrUnsupported)
	}
	if len(args) == 0 {
		return cmd.Template, cmd.Reply, nil
	}
	return fmt.Sprintf(cmd.Template, args...), cmd.Reply, nil
}

// VendorError maps a vendor code to an error using the dialect's table.
func (d *Descriptor) VendorError(code int, raw, text string) error {
	if d.Errors != nil {
		if msg, ok := d.Errors[code]; ok {
			return &protocol.VendorRejectedError{Code: code, Message: msg}
		}
		return &protocol.UnknownVendorCodeError{Code: code, Raw: raw}
	}
	if text != "" {
		return &protocol.VendorRejectedError{Code: code, Message: text}
	}
	return &protocol.UnknownVendorCodeError{Code: code, Raw: raw}
}

// SlewResult interprets the reply to the goto commit. "0" is success;
// a digit or 'e' followed by a number is a vendor code.
func (d *Descriptor) SlewResult(command string, resp protocol.Response) error {
	switch {
	case resp.Status == '0':
		return nil
	case resp.Status >= '1' && resp.Status <= '9':
		return d.VendorError(int(resp.Status-'0'), resp.Raw, resp.Text)
	case resp.Status == 'e' || resp.Status == 'E':
		code, err := strconv.Atoi(strings.TrimSpace(resp.Text))
		if err != nil {
			return &protocol.MalformedError{Command: command, Raw: resp.Raw, Reason: "invalid error code"}
		}
		return d.VendorError(code, resp.Raw, "")
	}
	return &protocol.MalformedError{Command: command, Raw: resp.Raw, Reason: "unexpected goto reply"}
}

// SyncResult interprets the reply to :CM#. Controllers answer with free
// text (an object name or "N/A") on success and eN/EN on failure.
func (d *Descriptor) SyncResult(command string, resp protocol.Response) error {
	text := strings.TrimSpace(resp.Text)
	if len(text) >= 2 && (text[0] == 'e' || text[0] == 'E') {
		if code, err := strconv.Atoi(text[1:]); err == nil {
			return d.VendorError(code, resp.Raw, "")
		}
	}
	if resp.Raw == "0" {
		return &protocol.VendorRejectedError{Code: 0, Message: "sync rejected"}
	}
	return nil
}

// FormatUTCOffset renders a wire offset for the set-offset command. The
// Astro-Physics encoding only carries whole hours.
func (d *Descriptor) FormatUTCOffset(wire float64) (string, error) {
	if d.APOffset {
		if wire != math.Trunc(wire) {
			return "", fmt.Errorf("utc offset %v is not a whole hour", wire)
		}
		return coord.FormatAPUTCOffset(int(wire))
	}
	return coord.FormatUTCOffset(wire), nil
}

// ParseUTCOffset decodes the reply of the get-offset command.
func (d *Descriptor) ParseUTCOffset(raw string) (float64, error) {
	if d.APOffset {
		v, err := coord.ParseAPUTCOffset(raw)
		return float64(v), err
	}
	return coord.ParseUTCOffset(raw)
}

// DefaultBaud is the serial rate tried first.
const DefaultBaud = 9600

// BaudRates lists serial rates to try for d, preferred first.
func (d *Descriptor) BaudRates() []int {
	rates := []int{DefaultBaud, 19200, 38400, 57600, 115200}
	if d == nil || d.Baud == 0 || d.Baud == DefaultBaud {
		return rates
	}
	out := []int{d.Baud}
	for _, r := range rates {
		if r != d.Baud {
			out = append(out, r)
		}
	}
	return out
}

// MeridianSettings is the ZWO :GTa# block.
type MeridianSettings struct {
	AutoFlip    bool
	TrackPassed bool
	Limit       int // degrees past the meridian, -15..15
}

// ParseMeridian decodes the five character :GTa# reply ("11+05").
func ParseMeridian(raw string) (MeridianSettings, error) {
	raw = strings.TrimSuffix(raw, "#")
	if len(raw) != 5 {
		return MeridianSettings{}, fmt.Errorf("unexpected meridian settings %q", raw)
	}
	limit, err := strconv.Atoi(raw[2:])
	if err != nil {
		return MeridianSettings{}, fmt.Errorf("invalid meridian limit %q: %w", raw, err)
	}
	return MeridianSettings{
		AutoFlip:    raw[0] != '0',
		TrackPassed: raw[1] != '0',
		Limit:       limit,
	}, nil
}

// String renders the settings in :STa# form.
func (m MeridianSettings) String() string {
	return fmt.Sprintf("%d%d%+03d", boolToInt(m.AutoFlip), boolToInt(m.TrackPassed), m.Limit)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
