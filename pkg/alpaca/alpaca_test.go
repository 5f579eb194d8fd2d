package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lx200/pkg/protocol"
)

type fakeDevice struct {
	info      DeviceInfo
	connected bool
}

func (d *fakeDevice) DeviceInfo() DeviceInfo { return d.info }
func (d *fakeDevice) DriverInfo() DriverInfo {
	return DriverInfo{Name: "fake", Version: "1.0", InterfaceVersion: 3}
}
func (d *fakeDevice) GetState() []StateProperty { return nil }
func (d *fakeDevice) Connected() bool           { return d.connected }
func (d *fakeDevice) Connecting() bool          { return false }
func (d *fakeDevice) Connect() error            { d.connected = true; return nil }
func (d *fakeDevice) Disconnect() error         { d.connected = false; return nil }

type fakeTelescope struct {
	fakeDevice
	status  TelescopeStatus
	slewRA  float64
	slewDec float64
	pulses  []time.Duration
	err     error
}

func (t *fakeTelescope) Capabilities() TelescopeCapabilities {
	return TelescopeCapabilities{CanPark: true, CanSlewAsync: true}
}
func (t *fakeTelescope) Status() TelescopeStatus     { return t.status }
func (t *fakeTelescope) TrackingRates() []DriveRate { return []DriveRate{DriveSidereal, DriveLunar} }
func (t *fakeTelescope) SlewToCoordinates(ra, dec float64) error {
	t.slewRA, t.slewDec = ra, dec
	return t.err
}
func (t *fakeTelescope) SyncToCoordinates(ra, dec float64) error { return t.err }
func (t *fakeTelescope) AbortSlew() error                        { return t.err }
func (t *fakeTelescope) Park() error                             { return t.err }
func (t *fakeTelescope) Unpark() error                           { return t.err }
func (t *fakeTelescope) SetPark() error                          { return t.err }
func (t *fakeTelescope) FindHome() error                         { return t.err }
func (t *fakeTelescope) SetTracking(on bool) error               { t.status.Tracking = on; return t.err }
func (t *fakeTelescope) SetTrackingRate(rate DriveRate) error    { t.status.TrackingRate = rate; return t.err }
func (t *fakeTelescope) PulseGuide(dir GuideDirection, d time.Duration) error {
	t.pulses = append(t.pulses, d)
	return t.err
}
func (t *fakeTelescope) SetSite(lat, lon, elev float64) error {
	t.status.SiteLatitude, t.status.SiteLongitude, t.status.SiteElevation = lat, lon, elev
	return t.err
}
func (t *fakeTelescope) SetUTCDate(tm time.Time) error { t.status.UTCDate = tm; return t.err }

type fakeFocuser struct {
	fakeDevice
	moves []int
}

func (f *fakeFocuser) Absolute() bool        { return false }
func (f *fakeFocuser) MaxStep() int          { return 9999 }
func (f *fakeFocuser) MaxIncrement() int     { return 9999 }
func (f *fakeFocuser) Status() FocuserStatus { return FocuserStatus{} }
func (f *fakeFocuser) Move(p int) error      { f.moves = append(f.moves, p); return nil }
func (f *fakeFocuser) Halt() error           { return nil }

type fakeSwitch struct {
	fakeDevice
	values []float64
}

func (s *fakeSwitch) Switches() []SwitchDescription {
	out := make([]SwitchDescription, len(s.values))
	for i := range out {
		out[i] = SwitchDescription{Name: "Outlet", Max: 255, Step: 1, CanWrite: true}
	}
	return out
}
func (s *fakeSwitch) SwitchValue(id int) (float64, error) { return s.values[id], nil }
func (s *fakeSwitch) SetSwitchValue(id int, v float64) error {
	s.values[id] = v
	return nil
}

type response struct {
	ClientTransactionID uint32
	ServerTransactionID uint32
	ErrorNumber         int
	ErrorMessage        string
	Value               json.RawMessage
}

func newTestServer(t *testing.T, devices ...Device) *httptest.Server {
	t.Helper()
	tmpl := template.Must(template.New("setup.html").Parse(`{{.Name}}{{range .Devices}} {{.Name}}{{end}}`))
	s := NewServer(ServerDescription{Name: "test", Manufacturer: "lx200"}, devices, tmpl)
	ts := httptest.NewServer(s.AddRoutes())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, path string) response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var r response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	return r
}

func put(t *testing.T, ts *httptest.Server, path string, form url.Values) response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, ts.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var r response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	return r
}

func newTelescope() *fakeTelescope {
	return &fakeTelescope{fakeDevice: fakeDevice{
		info:      DeviceInfo{Name: "Mount", Type: DeviceTelescope, Number: 0, UniqueID: "id-0"},
		connected: true,
	}}
}

func TestManagement(t *testing.T) {
	ts := newTestServer(t, newTelescope())

	r := get(t, ts, "/management/apiversions?ClientTransactionID=7")
	assert.Equal(t, uint32(7), r.ClientTransactionID)
	assert.NotZero(t, r.ServerTransactionID)
	assert.JSONEq(t, `[1]`, string(r.Value))

	r = get(t, ts, "/management/v1/configureddevices")
	var devices []map[string]any
	require.NoError(t, json.Unmarshal(r.Value, &devices))
	require.Len(t, devices, 1)
	assert.Equal(t, "Telescope", devices[0]["DeviceType"])
	assert.Equal(t, "id-0", devices[0]["UniqueID"])

	resp, err := http.Get(ts.URL + "/management/apiversions?ClientTransactionID=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSetupPage(t *testing.T) {
	ts := newTestServer(t, newTelescope())

	resp, err := http.Get(ts.URL + "/setup")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "test Mount", string(body))
}

func TestTelescope(t *testing.T) {
	tel := newTelescope()
	tel.status = TelescopeStatus{RightAscension: 5.5, Declination: -20, Tracking: true}
	ts := newTestServer(t, tel)

	t.Run("status", func(t *testing.T) {
		r := get(t, ts, "/api/v1/telescope/0/rightascension")
		assert.Zero(t, r.ErrorNumber)
		assert.JSONEq(t, `5.5`, string(r.Value))

		r = get(t, ts, "/api/v1/telescope/0/canpark")
		assert.JSONEq(t, `true`, string(r.Value))
		r = get(t, ts, "/api/v1/telescope/0/cansync")
		assert.JSONEq(t, `false`, string(r.Value))
	})

	t.Run("slew", func(t *testing.T) {
		r := put(t, ts, "/api/v1/telescope/0/slewtocoordinatesasync",
			url.Values{"rightascension": {"10.25"}, "DECLINATION": {"45"}, "ClientTransactionID": {"3"}})
		assert.Zero(t, r.ErrorNumber, r.ErrorMessage)
		assert.Equal(t, uint32(3), r.ClientTransactionID)
		assert.Equal(t, 10.25, tel.slewRA)
		assert.Equal(t, 45.0, tel.slewDec)

		r = get(t, ts, "/api/v1/telescope/0/targetrightascension")
		assert.JSONEq(t, `10.25`, string(r.Value))
	})

	t.Run("invalid values", func(t *testing.T) {
		tests := []struct {
			path string
			form url.Values
		}{
			{"/slewtocoordinatesasync", url.Values{"RightAscension": {"24"}, "Declination": {"0"}}},
			{"/slewtocoordinatesasync", url.Values{"RightAscension": {"1"}, "Declination": {"91"}}},
			{"/slewtocoordinatesasync", url.Values{"RightAscension": {"x"}, "Declination": {"0"}}},
			{"/pulseguide", url.Values{"Direction": {"4"}, "Duration": {"100"}}},
			{"/pulseguide", url.Values{"Direction": {"0"}, "Duration": {"10000"}}},
			{"/trackingrate", url.Values{"TrackingRate": {"3"}}},
			{"/sitelatitude", url.Values{"SiteLatitude": {"100"}}},
			{"/utcdate", url.Values{"UTCDate": {"yesterday"}}},
		}
		for _, tc := range tests {
			r := put(t, ts, "/api/v1/telescope/0"+tc.path, tc.form)
			assert.Equal(t, codeInvalidValue, r.ErrorNumber, "%s %v", tc.path, tc.form)
		}
	})

	t.Run("pulse guide", func(t *testing.T) {
		r := put(t, ts, "/api/v1/telescope/0/pulseguide", url.Values{"Direction": {"2"}, "Duration": {"250"}})
		assert.Zero(t, r.ErrorNumber)
		assert.Equal(t, []time.Duration{250 * time.Millisecond}, tel.pulses)
	})

	t.Run("site keeps other fields", func(t *testing.T) {
		tel.status.SiteLongitude = 12
		r := put(t, ts, "/api/v1/telescope/0/sitelatitude", url.Values{"SiteLatitude": {"40.5"}})
		assert.Zero(t, r.ErrorNumber)
		assert.Equal(t, 40.5, tel.status.SiteLatitude)
		assert.Equal(t, 12.0, tel.status.SiteLongitude)
	})

	t.Run("utc date", func(t *testing.T) {
		r := put(t, ts, "/api/v1/telescope/0/utcdate", url.Values{"UTCDate": {"2024-03-01T20:00:00.000Z"}})
		assert.Zero(t, r.ErrorNumber)
		assert.Equal(t, time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC), tel.status.UTCDate)
	})

	t.Run("errors map to alpaca codes", func(t *testing.T) {
		tests := []struct {
			err  error
			code int
		}{
			{protocol.Precondition("mount is parked"), codeInvalidOperation},
			{protocol.ErrUnsupported, codeNotImplemented},
			{protocol.ErrNotConnected, codeNotConnected},
			{ErrParked, codeParked},
			{errors.New("boom"), codeDriverError},
		}
		for _, tc := range tests {
			tel.err = tc.err
			r := put(t, ts, "/api/v1/telescope/0/park", nil)
			assert.Equal(t, tc.code, r.ErrorNumber, tc.err.Error())
		}
		tel.err = nil
	})

	t.Run("not connected", func(t *testing.T) {
		tel.connected = false
		defer func() { tel.connected = true }()

		r := get(t, ts, "/api/v1/telescope/0/declination")
		assert.Equal(t, codeNotConnected, r.ErrorNumber)
	})
}

func TestConnect(t *testing.T) {
	tel := newTelescope()
	tel.connected = false
	ts := newTestServer(t, tel)

	r := put(t, ts, "/api/v1/telescope/0/connected", url.Values{"Connected": {"true"}})
	assert.Zero(t, r.ErrorNumber)
	assert.True(t, tel.connected)

	r = get(t, ts, "/api/v1/telescope/0/connected")
	assert.JSONEq(t, `true`, string(r.Value))

	r = put(t, ts, "/api/v1/telescope/0/disconnect", nil)
	assert.Zero(t, r.ErrorNumber)
	assert.False(t, tel.connected)

	r = put(t, ts, "/api/v1/telescope/0/connected", url.Values{"Connected": {"maybe"}})
	assert.Equal(t, codeInvalidValue, r.ErrorNumber)
}

func TestFocuserAndSwitch(t *testing.T) {
	foc := &fakeFocuser{fakeDevice: fakeDevice{
		info:      DeviceInfo{Name: "Focuser", Type: DeviceFocuser, Number: 0},
		connected: true,
	}}
	sw := &fakeSwitch{
		fakeDevice: fakeDevice{info: DeviceInfo{Name: "Aux", Type: DeviceSwitch, Number: 0}, connected: true},
		values:     []float64{0, 0},
	}
	ts := newTestServer(t, foc, sw)

	r := put(t, ts, "/api/v1/focuser/0/move", url.Values{"Position": {"-300"}})
	assert.Zero(t, r.ErrorNumber)
	assert.Equal(t, []int{-300}, foc.moves)

	r = get(t, ts, "/api/v1/focuser/0/position")
	assert.Equal(t, codeNotImplemented, r.ErrorNumber)

	r = get(t, ts, "/api/v1/switch/0/maxswitch")
	assert.JSONEq(t, `2`, string(r.Value))

	r = put(t, ts, "/api/v1/switch/0/setswitchvalue", url.Values{"Id": {"1"}, "Value": {"128"}})
	assert.Zero(t, r.ErrorNumber)
	assert.Equal(t, 128.0, sw.values[1])

	r = get(t, ts, "/api/v1/switch/0/getswitch?Id=1")
	assert.JSONEq(t, `true`, string(r.Value))

	r = put(t, ts, "/api/v1/switch/0/setswitch", url.Values{"Id": {"0"}, "State": {"true"}})
	assert.Zero(t, r.ErrorNumber)
	assert.Equal(t, 255.0, sw.values[0])

	tests := []url.Values{
		{"Id": {"2"}, "Value": {"1"}},
		{"Id": {"0"}, "Value": {"256"}},
		{"Id": {"-1"}, "Value": {"1"}},
	}
	for _, form := range tests {
		r = put(t, ts, "/api/v1/switch/0/setswitchvalue", form)
		assert.Equal(t, codeInvalidValue, r.ErrorNumber, form.Encode())
	}
}

func TestDiscovery(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	d := NewDiscoveryResponder("127.0.0.1", 8090, log.New())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.serve(ctx, conn) }()

	client, err := net.Dial("udp", conn.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("alpacadiscovery1"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.JSONEq(t, `{"AlpacaPort":8090}`, string(buf[:n]))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("discovery responder did not stop")
	}
}

func TestAdvertiserTXT(t *testing.T) {
	a := NewAdvertiser("lx200", 8090, []Device{newTelescope()}, log.New())
	assert.Equal(t, []string{"apiversion=1", "Telescope0=Mount"}, a.txt())
}
