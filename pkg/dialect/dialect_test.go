package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lx200/pkg/protocol"
)

func TestIdentify(t *testing.T) {
	tests := []struct {
		name     string
		product  string
		expected Dialect
		ok       bool
	}{
		{name: "OnStep", product: "On-Step#", expected: OnStep, ok: true},
		{name: "ZWO AM5", product: "AM5", expected: ZwoAM, ok: true},
		{name: "ZWO AM3", product: "AM3#", expected: ZwoAM, ok: true},
		{name: "AM without digit", product: "AMX", expected: AutoDetect, ok: false},
		{name: "Pegasus NYX", product: "NYX-101", expected: PegasusNyx, ok: true},
		{name: "TeenAstro", product: "TeenAstro", expected: TeenAstro, ok: true},
		{name: "OpenAstroTracker", product: "OpenAstroTracker", expected: OpenAstroTech, ok: true},
		{name: "OpenAstroMount", product: "OpenAstroMount", expected: OpenAstroTech, ok: true},
		{name: "aGotino", product: "aGotino", expected: AGotino, ok: true},
		{name: "10micron", product: "10micron GM1000HPS", expected: TenMicrons, ok: true},
		{name: "Losmandy", product: "Losmandy Gemini", expected: Gemini, ok: true},
		{name: "StarGO2 before StarGO", product: "StarGO2", expected: AvalonStarGO2, ok: true},
		{name: "Avalon", product: "Avalon StarGO", expected: AvalonStarGO, ok: true},
		{name: "Astro-Physics", product: "Astro-Physics GTO", expected: AstroPhysics, ok: true},
		{name: "LX200", product: "LX2001", expected: Meade, ok: true},
		{name: "Autostar", product: "Autostar II", expected: Meade, ok: true},
		{name: "Unknown", product: "Telescope", expected: AutoDetect, ok: false},
		{name: "Empty", product: "", expected: AutoDetect, ok: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, ok := Identify(tc.product)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, d)
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input       string
		expected    Dialect
		expectError bool
	}{
		{input: "", expected: AutoDetect},
		{input: "auto", expected: AutoDetect},
		{input: "ZWO AM", expected: ZwoAM},
		{input: "zwo", expected: ZwoAM},
		{input: "10Micron", expected: TenMicrons},
		{input: "onstep", expected: OnStep},
		{input: "Pegasus-NYX", expected: PegasusNyx},
		{input: "generic", expected: Generic},
		{input: "celestron", expectError: true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			d, err := Parse(tc.input)
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, d)
		})
	}

	for _, d := range All() {
		parsed, err := Parse(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}
}

func TestDescriptors(t *testing.T) {
	for _, d := range All() {
		t.Run(d.String(), func(t *testing.T) {
			desc := d.Descriptor()
			require.NotNil(t, desc)
			assert.Equal(t, d, desc.Dialect)

			for _, op := range []Op{OpGetRA, OpGetDec, OpSetRA, OpSetDec, OpSlew, OpSync, OpAbort, OpGuide} {
				assert.True(t, desc.Supports(op), "op %d", op)
			}
			if desc.Caps.Park {
				assert.True(t, desc.Supports(OpPark))
			}
			if desc.Caps.NativeUnpark {
				assert.True(t, desc.Supports(OpUnpark))
			}
			if desc.Caps.Home {
				assert.True(t, desc.Supports(OpHome))
			}
			if desc.Caps.SideOfPier {
				assert.NotEmpty(t, desc.Probes)
			}
			if desc.Caps.Tracking {
				assert.True(t, desc.Supports(OpTrackOn))
				assert.True(t, desc.Supports(OpTrackOff))
			}
			for _, probe := range desc.Probes {
				assert.True(t, desc.Supports(probe.Op))
				assert.NotNil(t, probe.Parse)
			}
			assert.Len(t, desc.MoveRates, 4)
		})
	}
	assert.Nil(t, AutoDetect.Descriptor())
}

func TestFormat(t *testing.T) {
	desc := Generic.Descriptor()

	cmd, g, err := desc.Format(OpSetRA, "10:00:00")
	require.NoError(t, err)
	assert.Equal(t, ":Sr10:00:00#", cmd)
	assert.Equal(t, protocol.Ack, g)

	cmd, _, err = desc.Format(OpGuide, 'n', 500)
	require.NoError(t, err)
	assert.Equal(t, ":Mgn0500#", cmd)

	_, _, err = desc.Format(OpPECOn)
	assert.ErrorIs(t, err, protocol.ErrUnsupported)

	cmd, g, err = ZwoAM.Descriptor().Format(OpSetGuideRate, 0.5)
	require.NoError(t, err)
	assert.Equal(t, ":Rg0.5#", cmd)
	assert.Equal(t, protocol.NoReply, g)
}

func TestSlewResult(t *testing.T) {
	tests := []struct {
		name     string
		dialect  Dialect
		resp     protocol.Response
		rejected string
		unknown  int
		mal      bool
	}{
		{name: "Success", dialect: Generic, resp: protocol.Response{Raw: "0", Status: '0'}},
		{
			name:     "Meade below horizon",
			dialect:  Meade,
			resp:     protocol.Response{Raw: "1Object Below Horizon", Status: '1', Text: "Object Below Horizon"},
			rejected: "Object below horizon",
		},
		{
			name:     "ZWO e5",
			dialect:  ZwoAM,
			resp:     protocol.Response{Raw: "e5", Status: 'e', Text: "5"},
			rejected: "Target is below horizon",
		},
		{
			name:    "ZWO code outside table",
			dialect: ZwoAM,
			resp:    protocol.Response{Raw: "e12", Status: 'e', Text: "12"},
			unknown: 12,
		},
		{
			name:     "No table falls back to text",
			dialect:  EQMac,
			resp:     protocol.Response{Raw: "3Busy", Status: '3', Text: "Busy"},
			rejected: "Busy",
		},
		{
			name:    "No table and no text",
			dialect: EQMac,
			resp:    protocol.Response{Raw: "3", Status: '3'},
			unknown: 3,
		},
		{
			name:    "Garbage",
			dialect: Generic,
			resp:    protocol.Response{Raw: "x", Status: 'x'},
			mal:     true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.dialect.Descriptor().SlewResult(":MS#", tc.resp)

			var rejected *protocol.VendorRejectedError
			var unknown *protocol.UnknownVendorCodeError
			var malformed *protocol.MalformedError
			switch {
			case tc.rejected != "":
				require.ErrorAs(t, err, &rejected)
				assert.Equal(t, tc.rejected, rejected.Message)
			case tc.unknown != 0:
				require.ErrorAs(t, err, &unknown)
				assert.Equal(t, tc.unknown, unknown.Code)
				assert.Equal(t, tc.resp.Raw, unknown.Raw)
			case tc.mal:
				assert.ErrorAs(t, err, &malformed)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestSyncResult(t *testing.T) {
	desc := ZwoAM.Descriptor()

	assert.NoError(t, desc.SyncResult(":CM#", protocol.Response{Raw: "N/A", Text: "N/A"}))
	assert.NoError(t, desc.SyncResult(":CM#", protocol.Response{Raw: "M31 EX GAL", Text: "M31 EX GAL"}))

	var rejected *protocol.VendorRejectedError
	require.ErrorAs(t, desc.SyncResult(":CM#", protocol.Response{Raw: "e4", Text: "e4"}), &rejected)
	assert.Equal(t, 4, rejected.Code)

	assert.ErrorAs(t, desc.SyncResult(":CM#", protocol.Response{Raw: "0", Text: "0"}), &rejected)
}

func TestUTCOffset(t *testing.T) {
	tests := []struct {
		name     string
		dialect  Dialect
		wire     float64
		expected string
		wantErr  bool
	}{
		{name: "astro-physics east", dialect: AstroPhysics, wire: -5, expected: "@5"},
		{name: "astro-physics far east", dialect: AstroPhysics, wire: -11, expected: "A1"},
		{name: "astro-physics west", dialect: AstroPhysics, wire: 3, expected: "03"},
		{name: "astro-physics half hour", dialect: AstroPhysics, wire: -5.5, wantErr: true},
		{name: "astro-physics quarter hour", dialect: AstroPhysics, wire: 5.75, wantErr: true},
		{name: "generic whole hour", dialect: Generic, wire: -5, expected: "-05"},
		{name: "generic half hour", dialect: Generic, wire: -5.5, expected: "-05:30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := tt.dialect.Descriptor().FormatUTCOffset(tt.wire)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, s)
		})
	}

	v, err := Generic.Descriptor().ParseUTCOffset("+03")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)
}

func TestBaudRates(t *testing.T) {
	assert.Equal(t, []int{9600, 19200, 38400, 57600, 115200}, Generic.Descriptor().BaudRates())

	var none *Descriptor
	assert.Equal(t, DefaultBaud, none.BaudRates()[0])

	custom := &Descriptor{Baud: 19200}
	assert.Equal(t, []int{19200, 9600, 38400, 57600, 115200}, custom.BaudRates())
}

func TestMeridian(t *testing.T) {
	m, err := ParseMeridian("10+05#")
	require.NoError(t, err)
	assert.Equal(t, MeridianSettings{AutoFlip: true, TrackPassed: false, Limit: 5}, m)
	assert.Equal(t, "10+05", m.String())

	m = MeridianSettings{TrackPassed: true, Limit: -3}
	assert.Equal(t, "01-03", m.String())

	_, err = ParseMeridian("1+05")
	assert.Error(t, err)
}

func TestStatusParsers(t *testing.T) {
	tests := []struct {
		name        string
		parse       StatusParser
		raw         string
		prev        Status
		expected    Status
		expectError bool
	}{
		{
			name:     "OnStep tracking",
			parse:    parseLetterStatus,
			raw:      "NpH",
			expected: Status{Tracking: true, Park: Unparked, Home: AtHome},
		},
		{
			name:     "OnStep parked",
			parse:    parseLetterStatus,
			raw:      "nNP",
			expected: Status{Park: Parked, Home: NotHome},
		},
		{
			name:     "OnStep slewing keeps park state",
			parse:    parseLetterStatus,
			raw:      "n",
			prev:     Status{Park: Parking},
			expected: Status{Slewing: true, Park: Parking, Home: NotHome},
		},
		{
			name:     "OnStep guiding",
			parse:    parseLetterStatus,
			raw:      "NGp",
			expected: Status{Tracking: true, Guiding: true, Park: Unparked, Home: NotHome},
		},
		{
			name:     "ZWO tracking at home",
			parse:    parseZwoStatus,
			raw:      "NHG#",
			prev:     Status{Park: Parked},
			expected: Status{Tracking: true, Home: AtHome, Park: Parked},
		},
		{
			name:     "ZWO slewing",
			parse:    parseZwoStatus,
			raw:      "nG",
			expected: Status{Slewing: true, Home: NotHome},
		},
		{
			name:     "Meade tracking",
			parse:    parseMeadeStatus,
			raw:      "PT1",
			expected: Status{Tracking: true},
		},
		{
			name:     "Meade not tracking",
			parse:    parseMeadeStatus,
			raw:      "AN0#",
			prev:     Status{Tracking: true},
			expected: Status{},
		},
		{
			name:        "Meade short",
			parse:       parseMeadeStatus,
			raw:         "P",
			expectError: true,
		},
		{
			name:     "Gemini guiding",
			parse:    parseGeminiStatus,
			raw:      "G",
			expected: Status{Tracking: true, Guiding: true},
		},
		{
			name:     "Gemini slewing",
			parse:    parseGeminiStatus,
			raw:      "S",
			prev:     Status{Tracking: true},
			expected: Status{Tracking: true, Slewing: true},
		},
		{
			name:     "10Micron parked",
			parse:    parseTenMicronsStatus,
			raw:      "5#",
			prev:     Status{Tracking: true},
			expected: Status{Park: Parked},
		},
		{
			name:     "10Micron homing",
			parse:    parseTenMicronsStatus,
			raw:      "4",
			expected: Status{Slewing: true, Home: Homing},
		},
		{
			name:        "10Micron unknown",
			parse:       parseTenMicronsStatus,
			raw:         "42",
			expectError: true,
		},
		{
			name:     "Avalon tracking",
			parse:    parseAvalonMotion,
			raw:      "m10",
			expected: Status{Tracking: true},
		},
		{
			name:     "Avalon slewing",
			parse:    parseAvalonMotion,
			raw:      "m22",
			expected: Status{Slewing: true},
		},
		{
			name:     "Avalon parking",
			parse:    parseAvalonPark,
			raw:      "p2",
			expected: Status{Park: Parking},
		},
		{
			name:     "TeenAstro parked west",
			parse:    parseTeenAstroStatus,
			raw:      "00P-000000000W",
			expected: Status{Park: Parked, Home: NotHome, PierSide: PierWest},
		},
		{
			name:     "TeenAstro short keeps fields",
			parse:    parseTeenAstroStatus,
			raw:      "1",
			prev:     Status{Park: Unparked, PierSide: PierEast},
			expected: Status{Tracking: true, Park: Unparked, PierSide: PierEast},
		},
		{
			name:     "OAT tracking",
			parse:    parseOATStatus,
			raw:      "Tracking,--T--,0,0,0,0,0#",
			expected: Status{Tracking: true, Park: Unparked},
		},
		{
			name:     "OAT homing finished",
			parse:    parseOATStatus,
			raw:      "Idle,-----",
			prev:     Status{Home: Homing},
			expected: Status{Home: AtHome},
		},
		{
			name:     "Pier east",
			parse:    parsePierSide,
			raw:      "E#",
			expected: Status{PierSide: PierEast},
		},
		{
			name:     "Pier West word",
			parse:    parsePierSide,
			raw:      "West",
			expected: Status{PierSide: PierWest},
		},
		{
			name:     "Pier none",
			parse:    parsePierSide,
			raw:      "N",
			prev:     Status{PierSide: PierEast},
			expected: Status{PierSide: PierUnknown},
		},
		{
			name:        "Empty letters",
			parse:       parseLetterStatus,
			raw:         "#",
			expectError: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st, err := tc.parse(tc.raw, tc.prev)
			if tc.expectError {
				assert.Error(t, err)
				assert.Equal(t, tc.prev, st)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, st)
		})
	}
}

func TestTrackRate(t *testing.T) {
	rate, err := ParseTrackRate("1#")
	require.NoError(t, err)
	assert.Equal(t, RateLunar, rate)
	assert.Equal(t, OpRateLunar, rate.Op())
	assert.Equal(t, OpRateKing, RateKing.Op())

	_, err = ParseTrackRate("7")
	assert.Error(t, err)
}

func TestParseTrackingError(t *testing.T) {
	tests := []struct {
		raw         string
		tracking    bool
		code        int
		expectError bool
	}{
		{raw: "0", tracking: false},
		{raw: "1#", tracking: true},
		{raw: "e8", code: 8},
		{raw: "ex", expectError: true},
		{raw: "2", expectError: true},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			tracking, code, err := ParseTrackingError(tc.raw)
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.tracking, tracking)
			assert.Equal(t, tc.code, code)
		})
	}
}
