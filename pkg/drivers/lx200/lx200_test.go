package lx200

import (
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"lx200/pkg/alpaca"
	"lx200/pkg/bus"
	"lx200/pkg/config"
	"lx200/pkg/dialect"
	"lx200/pkg/drivers/mount_simulator"
	"lx200/pkg/mount"
	"lx200/pkg/protocol"
	"lx200/pkg/protocol/protocoltest"
)

func testLogger() *log.Logger {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	return logger
}

func newTestStore(t *testing.T, d dialect.Dialect) *config.Store {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "lx200.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultMount()
	cfg.Dialect = d.String()
	cfg.Timeout = 200 * time.Millisecond
	store, err := config.NewStore(db, cfg)
	require.NoError(t, err)
	return store
}

// newSimulatorHub returns a hub connected to a simulated AM5.
func newSimulatorHub(t *testing.T) (*Hub, *config.Store) {
	t.Helper()
	store := newTestStore(t, dialect.AutoDetect)
	sim := mount_simulator.NewController(mount_simulator.DefaultConfig(), testLogger())
	hub := NewHub(store, testLogger())
	hub.SetDialer(func(int) protocol.Dialer { return sim.Dialer() }, []int{0})
	return hub, store
}

// newScriptedHub returns a hub talking OnStep to a scripted transport.
func newScriptedHub(t *testing.T, tr *protocoltest.Transport) (*Hub, *config.Store) {
	t.Helper()
	store := newTestStore(t, dialect.OnStep)
	hub := NewHub(store, testLogger())
	hub.SetDialer(func(int) protocol.Dialer { return tr }, []int{0})
	return hub, store
}

func defined(rec *bus.Recorder) []string {
	var names []string
	for _, ev := range rec.Events() {
		if ev.Kind == bus.Defined {
			names = append(names, ev.Property.Name)
		}
	}
	return names
}

func connect(t *testing.T, d interface {
	Attach(bus.Publisher) error
	Connect() error
	Disconnect() error
}) *bus.Recorder {
	t.Helper()
	rec := &bus.Recorder{}
	require.NoError(t, d.Attach(rec))
	require.NoError(t, d.Connect())
	t.Cleanup(func() { d.Disconnect() })
	return rec
}

func TestMountConnect(t *testing.T) {
	hub, store := newSimulatorHub(t)
	m, err := NewMount(0, hub, store, nil, testLogger())
	require.NoError(t, err)

	assert.False(t, m.Connected())
	assert.Equal(t, alpaca.TelescopeCapabilities{CanSlew: true, CanSlewAsync: true, CanSync: true}, m.Capabilities())

	rec := connect(t, m)
	assert.True(t, m.Connected())

	names := defined(rec)
	for _, name := range []string{
		connectionProperty, propInfo, propCoordinates, propPark, propHome, propTracking,
		propTrackRate, propSlewRate, propMotionNS, propPierSide, propSite, propTime,
		propGuideRate, propBuzzer, propMeridianFlip, propMeridianLimit, propAlignment,
	} {
		assert.Contains(t, names, name)
	}
	for _, name := range []string{propParkSet, propHomeSet, propPEC} {
		assert.NotContains(t, names, name)
	}

	info, ok := rec.Last(propInfo)
	require.True(t, ok)
	assert.Equal(t, "AM5", info.Item("PRODUCT").Text)
	assert.Equal(t, "1.3.2", info.Item("FIRMWARE").Text)

	conn, _ := rec.Last(connectionProperty)
	assert.Equal(t, "CONNECTED", conn.Selected())
	assert.Equal(t, bus.Ok, conn.State)

	caps := m.Capabilities()
	assert.True(t, caps.CanPark)
	assert.True(t, caps.CanFindHome)
	assert.True(t, caps.CanPulseGuide)
	assert.False(t, caps.CanSetPark)
	assert.Equal(t, []alpaca.DriveRate{alpaca.DriveSidereal, alpaca.DriveLunar, alpaca.DriveSolar}, m.TrackingRates())

	require.NoError(t, m.Disconnect())
	assert.False(t, m.Connected())
	assert.Nil(t, hub.Session())
	assert.Len(t, m.EnumerateProperties(), 1)

	var deleted []string
	for _, ev := range rec.Events() {
		if ev.Kind == bus.Deleted {
			deleted = append(deleted, ev.Property.Name)
		}
	}
	assert.Contains(t, deleted, propCoordinates)
	assert.NotContains(t, deleted, connectionProperty)
}

func TestHubSharesSession(t *testing.T) {
	hub, store := newSimulatorHub(t)
	m, err := NewMount(0, hub, store, nil, testLogger())
	require.NoError(t, err)
	g, err := NewGuider(hub, store, testLogger())
	require.NoError(t, err)

	connect(t, m)
	s := hub.Session()
	require.NotNil(t, s)

	grec := connect(t, g)
	assert.Same(t, s, hub.Session())
	assert.Contains(t, defined(grec), propGuideDec)

	require.NoError(t, m.Disconnect())
	assert.Same(t, s, hub.Session())
	assert.True(t, g.Connected())

	require.NoError(t, g.Disconnect())
	assert.Nil(t, hub.Session())
}

func TestMountAlpaca(t *testing.T) {
	hub, store := newSimulatorHub(t)
	m, err := NewMount(0, hub, store, nil, testLogger())
	require.NoError(t, err)

	assert.ErrorIs(t, m.SlewToCoordinates(1, 2), alpaca.ErrNotConnected)
	connect(t, m)

	status := m.Status()
	assert.False(t, status.AtPark)
	assert.InDelta(t, 51.4769, status.SiteLatitude, 1.0/60)
	assert.WithinDuration(t, time.Now(), status.UTCDate, 5*time.Second)

	require.NoError(t, m.SetTracking(true))
	assert.True(t, m.Status().Tracking)

	require.NoError(t, m.SlewToCoordinates(status.SiderealTime, 10))
	require.NoError(t, m.AbortSlew())

	require.NoError(t, m.Park())
	assert.True(t, hub.Session().State().Parked())
	assert.ErrorIs(t, m.SlewToCoordinates(1, 2), alpaca.ErrParked)
	assert.ErrorIs(t, m.PulseGuide(alpaca.GuideNorth, 100*time.Millisecond), alpaca.ErrParked)
	assert.ErrorIs(t, m.SetTracking(true), alpaca.ErrParked)

	state := m.GetState()
	require.NotEmpty(t, state)
	assert.Equal(t, "TimeStamp", state[0].Name)
	assert.Greater(t, len(state), 1)
}

func TestMountChangeProperty(t *testing.T) {
	hub, store := newSimulatorHub(t)
	m, err := NewMount(0, hub, store, nil, testLogger())
	require.NoError(t, err)

	assert.ErrorIs(t, m.ChangeProperty("test", bus.Property{Name: propTracking}), bus.ErrUnknownProperty)

	rec := connect(t, m)

	assert.ErrorIs(t, m.ChangeProperty("test", bus.Property{Name: "NOPE"}), bus.ErrUnknownProperty)
	assert.ErrorIs(t, m.ChangeProperty("test", bus.Property{Name: propPierSide}), bus.ErrReadOnly)

	require.NoError(t, m.ChangeProperty("test", bus.Property{
		Name:  propTracking,
		Items: []bus.Item{{Name: "ON", On: true}},
	}))
	assert.Eventually(t, func() bool {
		p, ok := rec.Last(propTracking)
		return ok && p.Selected() == "ON" && p.State == bus.Ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.ChangeProperty("test", bus.Property{
		Name:  propBuzzer,
		Items: []bus.Item{{Name: "HIGH", On: true}},
	}))
	assert.Eventually(t, func() bool {
		p, ok := rec.Last(propBuzzer)
		return ok && p.Selected() == "HIGH" && p.State == bus.Ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, hub.Session().Info().Buzzer)

	require.NoError(t, m.ChangeProperty("test", bus.Property{
		Name:  propCoordinates,
		Items: []bus.Item{{Name: "RA", Number: 25}, {Name: "DEC", Number: 0}},
	}))
	assert.Eventually(t, func() bool {
		p, ok := rec.Last(propCoordinates)
		return ok && p.State == bus.Alert
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMountMotion(t *testing.T) {
	hub, store := newSimulatorHub(t)
	m, err := NewMount(0, hub, store, nil, testLogger())
	require.NoError(t, err)
	rec := connect(t, m)

	require.NoError(t, m.ChangeProperty("test", bus.Property{
		Name:  propMotionNS,
		Items: []bus.Item{{Name: "NORTH", On: true}},
	}))
	assert.Eventually(t, func() bool {
		return hub.Session().Moving(mount.AxisDec) == mount.North
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.ChangeProperty("test", bus.Property{
		Name:  propMotionNS,
		Items: []bus.Item{{Name: "NORTH"}},
	}))
	assert.Eventually(t, func() bool {
		p, ok := rec.Last(propMotionNS)
		return ok && p.Selected() == "" && p.State == bus.Ok && hub.Session().Moving(mount.AxisDec) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPulseGuideDirections(t *testing.T) {
	tests := []struct {
		name string
		dir  alpaca.GuideDirection
		axis mount.Axis
		want mount.Direction
	}{
		{"north", alpaca.GuideNorth, mount.AxisDec, mount.North},
		{"south", alpaca.GuideSouth, mount.AxisDec, mount.South},
		{"east", alpaca.GuideEast, mount.AxisRA, mount.East},
		{"west", alpaca.GuideWest, mount.AxisRA, mount.West},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := protocoltest.New()
			hub, store := newScriptedHub(t, tr)
			m, err := NewMount(0, hub, store, nil, testLogger())
			require.NoError(t, err)
			connect(t, m)

			require.NoError(t, m.PulseGuide(tt.dir, 500*time.Millisecond))
			p, ok := hub.Session().Pending(tt.axis)
			require.True(t, ok)
			assert.Equal(t, tt.want, p.Direction)
			assert.Equal(t, 500*time.Millisecond, p.Duration)
			assert.True(t, m.Status().IsPulseGuiding)
			assert.Contains(t, tr.Writes(), ":Mg"+string(rune(tt.want))+"0500#")
		})
	}
}

func TestGuider(t *testing.T) {
	tr := protocoltest.New().
		On(":GR#", "01:00:00#").
		On(":GD#", "+45*00:00#").
		On(":GU#", "Np#").
		On(":Gm#", "E#")
	hub, store := newScriptedHub(t, tr)
	g, err := NewGuider(hub, store, testLogger())
	require.NoError(t, err)
	rec := connect(t, g)

	require.NoError(t, g.ChangeProperty("test", bus.Property{
		Name:  propGuideRA,
		Items: []bus.Item{{Name: "WEST", Number: 50}},
	}))
	assert.Eventually(t, func() bool {
		return slices.Contains(tr.Writes(), ":Mgw0050#")
	}, 2*time.Second, 10*time.Millisecond)

	// the pulse reports Busy, then Ok with the duration cleared
	assert.Eventually(t, func() bool {
		updates := rec.Updates(propGuideRA)
		busy := slices.IndexFunc(updates, func(p bus.Property) bool { return p.State == bus.Busy })
		if busy < 0 {
			return false
		}
		for _, p := range updates[busy+1:] {
			if p.State == bus.Ok && p.Item("WEST").Number == 0 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFocuser(t *testing.T) {
	tr := protocoltest.New().On(":FG#", "1250#").On(":FS1500#", "1")
	hub, store := newScriptedHub(t, tr)
	f, err := NewFocuser(0, hub, store, testLogger())
	require.NoError(t, err)
	rec := connect(t, f)

	names := defined(rec)
	assert.Contains(t, names, propFocusMotion)
	assert.Contains(t, names, propFocusPosition)

	assert.True(t, f.Absolute())
	assert.Equal(t, maxFocusPosition, f.MaxStep())
	assert.Equal(t, 1250, f.Status().Position)

	require.NoError(t, f.Move(1500))
	assert.Contains(t, tr.Writes(), ":FS1500#")

	require.NoError(t, f.Halt())
	assert.Contains(t, tr.Writes(), ":FQ#")
	assert.False(t, f.Status().IsMoving)

	require.NoError(t, f.ChangeProperty("test", bus.Property{
		Name:  propFocusMotion,
		Items: []bus.Item{{Name: "OUT", On: true}},
	}))
	assert.Eventually(t, func() bool {
		p, ok := rec.Last(propFocusMotion)
		return ok && p.State == bus.Busy && p.Selected() == "OUT"
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, f.Status().IsMoving)
	assert.Eventually(t, func() bool {
		return slices.Contains(tr.Writes(), ":F-#")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAux(t *testing.T) {
	tr := protocoltest.New().On(":GXX3#", "128#").On(":SXX3,V255#", "1")
	hub, store := newScriptedHub(t, tr)
	a, err := NewAux(0, hub, store, testLogger())
	require.NoError(t, err)
	rec := connect(t, a)

	p, ok := rec.Last(propOutlets)
	require.True(t, ok)
	require.Len(t, p.Items, 8)
	assert.Equal(t, 128.0, p.Item("OUTLET_3").Number)

	switches := a.Switches()
	require.Len(t, switches, 8)
	assert.Equal(t, "Outlet 1", switches[0].Name)
	assert.Equal(t, 255.0, switches[0].Max)

	v, err := a.SwitchValue(2)
	require.NoError(t, err)
	assert.Equal(t, 128.0, v)

	require.NoError(t, a.SetSwitchValue(2, 255))
	assert.Contains(t, tr.Writes(), ":SXX3,V255#")
	p, _ = rec.Last(propOutlets)
	assert.Equal(t, 255.0, p.Item("OUTLET_3").Number)

	assert.ErrorIs(t, a.SetSwitchValue(8, 1), protocol.ErrPreconditionFailed)
}

func TestTransportFailure(t *testing.T) {
	tr := protocoltest.New()
	hub, store := newScriptedHub(t, tr)
	m, err := NewMount(0, hub, store, nil, testLogger())
	require.NoError(t, err)
	rec := connect(t, m)

	tr.WriteErr = assert.AnError
	assert.Error(t, m.SetTracking(false))

	assert.Eventually(t, func() bool {
		p, ok := rec.Last(connectionProperty)
		return ok && p.State == bus.Alert && p.Selected() == "DISCONNECTED"
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, m.Connected())
	assert.Nil(t, hub.Session())
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		name    string
		utc     string
		offset  string
		want    time.Time
		wantErr bool
	}{
		{"utc", "2024-03-05T20:00:00Z", "", time.Date(2024, 3, 5, 20, 0, 0, 0, time.UTC), false},
		{"offset", "2024-03-05T20:00:00Z", "-5", time.Date(2024, 3, 5, 20, 0, 0, 0, time.UTC), false},
		{"bad time", "yesterday", "0", time.Time{}, true},
		{"bad offset", "2024-03-05T20:00:00Z", "20", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseClock(tt.utc, tt.offset)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got))
		})
	}

	got, err := parseClock("2024-03-05T20:00:00Z", "2")
	require.NoError(t, err)
	_, offset := got.Zone()
	assert.Equal(t, 7200, offset)
	assert.Equal(t, 22, got.Hour())
}

func TestParseMountSetupForm(t *testing.T) {
	form := url.Values{
		"dialect":         {"OnStep"},
		"endpoint":        {"192.168.1.20:9999"},
		"baud":            {"19200"},
		"latitude":        {"40.5"},
		"longitude":       {"-3.7"},
		"timeout-ms":      {"1500"},
		"sync-on-connect": {"true"},
		"auto-flip":       {"true"},
		"meridian-limit":  {"5"},
	}
	r := httptest.NewRequest("POST", "/setup", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	base := config.DefaultMount()
	cfg, err := parseMountSetupForm(r, base)
	require.NoError(t, err)
	assert.Equal(t, "OnStep", cfg.Dialect)
	assert.Equal(t, "192.168.1.20:9999", cfg.Endpoint)
	assert.Equal(t, 19200, cfg.Baud)
	assert.Equal(t, 40.5, cfg.Latitude)
	assert.Equal(t, -3.7, cfg.Longitude)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeout)
	assert.True(t, cfg.SyncOnConnect)
	assert.True(t, cfg.Meridian.AutoFlip)
	assert.False(t, cfg.Meridian.Override)
	assert.Equal(t, 5, cfg.Meridian.Limit)
	assert.Equal(t, base.BusyPoll, cfg.BusyPoll)

	r = httptest.NewRequest("POST", "/setup", strings.NewReader("baud=fast"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, err = parseMountSetupForm(r, base)
	assert.Error(t, err)
}
