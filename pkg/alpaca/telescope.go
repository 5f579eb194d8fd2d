package alpaca

import (
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type TelescopeCapabilities struct {
	CanFindHome      bool `json:"CanFindHome"`
	CanPark          bool `json:"CanPark"`
	CanUnpark        bool `json:"CanUnpark"`
	CanSetPark       bool `json:"CanSetPark"`
	CanPulseGuide    bool `json:"CanPulseGuide"`
	CanSetTracking   bool `json:"CanSetTracking"`
	CanSlew          bool `json:"CanSlew"`
	CanSlewAsync     bool `json:"CanSlewAsync"`
	CanSync          bool `json:"CanSync"`
	CanSetPierSide   bool `json:"CanSetPierSide"`
	CanSetGuideRates bool `json:"CanSetGuideRates"`
}

// PierSide values of the Alpaca SideOfPier property.
type PierSide int

const (
	PierUnknown PierSide = -1
	PierEast    PierSide = 0
	PierWest    PierSide = 1
)

// DriveRate values of the Alpaca TrackingRate property.
type DriveRate int

const (
	DriveSidereal DriveRate = iota
	DriveLunar
	DriveSolar
	DriveKing
)

// GuideDirection values of PulseGuide.
type GuideDirection int

const (
	GuideNorth GuideDirection = iota
	GuideSouth
	GuideEast
	GuideWest
)

type TelescopeStatus struct {
	RightAscension float64   `json:"RightAscension"` // hours
	Declination    float64   `json:"Declination"`    // degrees
	SiderealTime   float64   `json:"SiderealTime"`   // hours
	Tracking       bool      `json:"Tracking"`
	TrackingRate   DriveRate `json:"TrackingRate"`
	AtPark         bool      `json:"AtPark"`
	AtHome         bool      `json:"AtHome"`
	Slewing        bool      `json:"Slewing"`
	IsPulseGuiding bool      `json:"IsPulseGuiding"`
	SideOfPier     PierSide  `json:"SideOfPier"`
	SiteLatitude   float64   `json:"SiteLatitude"`
	SiteLongitude  float64   `json:"SiteLongitude"`
	SiteElevation  float64   `json:"SiteElevation"`
	UTCDate        time.Time `json:"UTCDate"`
}

func (ts TelescopeStatus) ToProperties() []StateProperty {
	return []StateProperty{
		{"Altitude", 0.0},
		{"AtHome", ts.AtHome},
		{"AtPark", ts.AtPark},
		{"Azimuth", 0.0},
		{"Declination", ts.Declination},
		{"IsPulseGuiding", ts.IsPulseGuiding},
		{"RightAscension", ts.RightAscension},
		{"SideOfPier", ts.SideOfPier},
		{"SiderealTime", ts.SiderealTime},
		{"Slewing", ts.Slewing},
		{"Tracking", ts.Tracking},
		{"UTCDate", ts.UTCDate.Format(utcDateLayout)},
	}
}

// utcDateLayout is the ISO 8601 form Alpaca clients exchange.
const utcDateLayout = "2006-01-02T15:04:05.0000000Z"

type Telescope interface {
	Device

	Capabilities() TelescopeCapabilities
	Status() TelescopeStatus
	TrackingRates() []DriveRate

	SlewToCoordinates(ra, dec float64) error
	SyncToCoordinates(ra, dec float64) error
	AbortSlew() error
	Park() error
	Unpark() error
	SetPark() error
	FindHome() error
	SetTracking(on bool) error
	SetTrackingRate(rate DriveRate) error
	PulseGuide(dir GuideDirection, d time.Duration) error
	SetSite(latitude, longitude, elevation float64) error
	SetUTCDate(t time.Time) error
}

type TelescopeHandler struct {
	DeviceHandler
	dev Telescope

	// targets set through the TargetRightAscension and TargetDeclination
	// properties
	mu                  sync.Mutex
	targetRA, targetDec *float64
}

func NewTelescopeHandler(dev Telescope) *TelescopeHandler {
	return &TelescopeHandler{
		DeviceHandler: DeviceHandler{dev: dev},
		dev:           dev,
	}
}

func (th *TelescopeHandler) RegisterRoutes(mux *http.ServeMux) {
	th.DeviceHandler.RegisterRoutes(mux)

	for _, p := range []string{
		"rightascension", "declination", "siderealtime", "tracking", "trackingrate",
		"atpark", "athome", "slewing", "ispulseguiding", "sideofpier",
		"sitelatitude", "sitelongitude", "siteelevation", "utcdate",
	} {
		mux.HandleFunc("GET /"+p, th.handleStatus)
	}
	for _, p := range []string{
		"canfindhome", "canpark", "canunpark", "cansetpark", "canpulseguide",
		"cansettracking", "canslew", "canslewasync", "cansync", "cansetpierside",
		"cansetguiderates", "canslewaltaz", "canslewaltazasync", "cansyncaltaz",
		"cansetdeclinationrate", "cansetrightascensionrate",
	} {
		mux.HandleFunc("GET /"+p, th.handleCapabilities)
	}

	mux.HandleFunc("GET /alignmentmode", th.handleConstant(2))    // German polar
	mux.HandleFunc("GET /equatorialsystem", th.handleConstant(1)) // topocentric
	mux.HandleFunc("GET /trackingrates", th.handleTrackingRates)
	mux.HandleFunc("GET /canmoveaxis", th.handleConstantBool(false))
	mux.HandleFunc("GET /targetrightascension", th.handleTarget)
	mux.HandleFunc("GET /targetdeclination", th.handleTarget)

	mux.HandleFunc("PUT /tracking", th.handleSetTracking)
	mux.HandleFunc("PUT /trackingrate", th.handleSetTrackingRate)
	mux.HandleFunc("PUT /sitelatitude", th.handleSetSite)
	mux.HandleFunc("PUT /sitelongitude", th.handleSetSite)
	mux.HandleFunc("PUT /siteelevation", th.handleSetSite)
	mux.HandleFunc("PUT /utcdate", th.handleSetUTCDate)
	mux.HandleFunc("PUT /targetrightascension", th.handleSetTarget)
	mux.HandleFunc("PUT /targetdeclination", th.handleSetTarget)

	mux.HandleFunc("PUT /slewtocoordinatesasync", th.handleSlewToCoordinates)
	mux.HandleFunc("PUT /slewtotargetasync", th.handleSlewToTarget)
	mux.HandleFunc("PUT /synctocoordinates", th.handleSyncToCoordinates)
	mux.HandleFunc("PUT /synctotarget", th.handleSyncToTarget)
	mux.HandleFunc("PUT /abortslew", th.handleAction(th.dev.AbortSlew))
	mux.HandleFunc("PUT /park", th.handleAction(th.dev.Park))
	mux.HandleFunc("PUT /unpark", th.handleAction(th.dev.Unpark))
	mux.HandleFunc("PUT /setpark", th.handleAction(th.dev.SetPark))
	mux.HandleFunc("PUT /findhome", th.handleAction(th.dev.FindHome))
	mux.HandleFunc("PUT /pulseguide", th.handlePulseGuide)
}

func (th *TelescopeHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	property := strings.TrimPrefix(r.URL.Path, "/")
	log.Debugf("Telescope property: %s", property)

	if !th.dev.Connected() {
		handleError(w, r, ErrNotConnected)
		return
	}
	status := th.dev.Status()

	switch property {
	case "rightascension":
		handleResponse(w, r, status.RightAscension)
	case "declination":
		handleResponse(w, r, status.Declination)
	case "siderealtime":
		handleResponse(w, r, status.SiderealTime)
	case "tracking":
		handleResponse(w, r, status.Tracking)
	case "trackingrate":
		handleResponse(w, r, status.TrackingRate)
	case "atpark":
		handleResponse(w, r, status.AtPark)
	case "athome":
		handleResponse(w, r, status.AtHome)
	case "slewing":
		handleResponse(w, r, status.Slewing)
	case "ispulseguiding":
		handleResponse(w, r, status.IsPulseGuiding)
	case "sideofpier":
		handleResponse(w, r, status.SideOfPier)
	case "sitelatitude":
		handleResponse(w, r, status.SiteLatitude)
	case "sitelongitude":
		handleResponse(w, r, status.SiteLongitude)
	case "siteelevation":
		handleResponse(w, r, status.SiteElevation)
	case "utcdate":
		handleResponse(w, r, status.UTCDate.UTC().Format(utcDateLayout))
	default:
		handleError(w, r, ErrPropertyNotImplemented)
	}
}

func (th *TelescopeHandler) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	property := strings.TrimPrefix(r.URL.Path, "/")
	caps := th.dev.Capabilities()

	switch property {
	case "canfindhome":
		handleResponse(w, r, caps.CanFindHome)
	case "canpark":
		handleResponse(w, r, caps.CanPark)
	case "canunpark":
		handleResponse(w, r, caps.CanUnpark)
	case "cansetpark":
		handleResponse(w, r, caps.CanSetPark)
	case "canpulseguide":
		handleResponse(w, r, caps.CanPulseGuide)
	case "cansettracking":
		handleResponse(w, r, caps.CanSetTracking)
	case "canslew", "canslewasync":
		handleResponse(w, r, caps.CanSlewAsync)
	case "cansync":
		handleResponse(w, r, caps.CanSync)
	case "cansetpierside":
		handleResponse(w, r, caps.CanSetPierSide)
	case "cansetguiderates":
		handleResponse(w, r, caps.CanSetGuideRates)
	default:
		handleResponse(w, r, false)
	}
}

func (th *TelescopeHandler) handleConstant(v int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handleResponse(w, r, v)
	}
}

func (th *TelescopeHandler) handleConstantBool(v bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handleResponse(w, r, v)
	}
}

func (th *TelescopeHandler) handleTrackingRates(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, r, th.dev.TrackingRates())
}

func (th *TelescopeHandler) handleAction(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			handleError(w, r, err)
			return
		}
		handleResponse(w, r, nil)
	}
}

func (th *TelescopeHandler) handleSetTracking(w http.ResponseWriter, r *http.Request) {
	on, err := parseBoolRequest(r, "Tracking")
	if err != nil {
		handleError(w, r, err)
		return
	}
	th.handleAction(func() error { return th.dev.SetTracking(on) })(w, r)
}

func (th *TelescopeHandler) handleSetTrackingRate(w http.ResponseWriter, r *http.Request) {
	rate, err := parseIntRequest(r, "TrackingRate")
	if err != nil {
		handleError(w, r, err)
		return
	}
	supported := false
	for _, dr := range th.dev.TrackingRates() {
		supported = supported || int(dr) == rate
	}
	if !supported {
		handleError(w, r, invalidValue("tracking rate %d not supported", rate))
		return
	}
	th.handleAction(func() error { return th.dev.SetTrackingRate(DriveRate(rate)) })(w, r)
}

func (th *TelescopeHandler) handleSetSite(w http.ResponseWriter, r *http.Request) {
	if !th.dev.Connected() {
		handleError(w, r, ErrNotConnected)
		return
	}
	st := th.dev.Status()
	lat, lon, elev := st.SiteLatitude, st.SiteLongitude, st.SiteElevation

	var err error
	switch strings.TrimPrefix(r.URL.Path, "/") {
	case "sitelatitude":
		lat, err = parseFloatRequest(r, "SiteLatitude")
		if err == nil && (lat < -90 || lat > 90) {
			err = invalidValue("latitude %v out of range", lat)
		}
	case "sitelongitude":
		lon, err = parseFloatRequest(r, "SiteLongitude")
		if err == nil && (lon < -180 || lon > 180) {
			err = invalidValue("longitude %v out of range", lon)
		}
	case "siteelevation":
		elev, err = parseFloatRequest(r, "SiteElevation")
		if err == nil && (elev < -300 || elev > 10000) {
			err = invalidValue("elevation %v out of range", elev)
		}
	}
	if err != nil {
		handleError(w, r, err)
		return
	}
	th.handleAction(func() error { return th.dev.SetSite(lat, lon, elev) })(w, r)
}

func (th *TelescopeHandler) handleSetUTCDate(w http.ResponseWriter, r *http.Request) {
	value, err := parseRequest(r, "UTCDate")
	if err != nil {
		handleError(w, r, err)
		return
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		handleError(w, r, invalidValue("UTCDate %q is not ISO 8601", value))
		return
	}
	th.handleAction(func() error { return th.dev.SetUTCDate(t) })(w, r)
}

func (th *TelescopeHandler) handleTarget(w http.ResponseWriter, r *http.Request) {
	th.mu.Lock()
	defer th.mu.Unlock()
	target := th.targetRA
	if strings.TrimPrefix(r.URL.Path, "/") == "targetdeclination" {
		target = th.targetDec
	}
	if target == nil {
		handleError(w, r, ErrInvalidOperation)
		return
	}
	handleResponse(w, r, *target)
}

func (th *TelescopeHandler) handleSetTarget(w http.ResponseWriter, r *http.Request) {
	if strings.TrimPrefix(r.URL.Path, "/") == "targetdeclination" {
		dec, err := parseFloatRequest(r, "TargetDeclination")
		if err == nil && (dec < -90 || dec > 90) {
			err = invalidValue("declination %v out of range", dec)
		}
		if err != nil {
			handleError(w, r, err)
			return
		}
		th.mu.Lock()
		th.targetDec = &dec
		th.mu.Unlock()
	} else {
		ra, err := parseFloatRequest(r, "TargetRightAscension")
		if err == nil && (ra < 0 || ra >= 24) {
			err = invalidValue("right ascension %v out of range", ra)
		}
		if err != nil {
			handleError(w, r, err)
			return
		}
		th.mu.Lock()
		th.targetRA = &ra
		th.mu.Unlock()
	}
	handleResponse(w, r, nil)
}

func (th *TelescopeHandler) setTarget(ra, dec *float64) {
	th.mu.Lock()
	th.targetRA, th.targetDec = ra, dec
	th.mu.Unlock()
}

func (th *TelescopeHandler) target() (ra, dec float64, ok bool) {
	th.mu.Lock()
	defer th.mu.Unlock()
	if th.targetRA == nil || th.targetDec == nil {
		return 0, 0, false
	}
	return *th.targetRA, *th.targetDec, true
}

// parseCoordinates reads and range checks RightAscension and Declination.
func parseCoordinates(r *http.Request) (ra, dec float64, err error) {
	if ra, err = parseFloatRequest(r, "RightAscension"); err != nil {
		return 0, 0, err
	}
	if dec, err = parseFloatRequest(r, "Declination"); err != nil {
		return 0, 0, err
	}
	if ra < 0 || ra >= 24 {
		return 0, 0, invalidValue("right ascension %v out of range", ra)
	}
	if dec < -90 || dec > 90 {
		return 0, 0, invalidValue("declination %v out of range", dec)
	}
	return ra, dec, nil
}

func (th *TelescopeHandler) handleSlewToCoordinates(w http.ResponseWriter, r *http.Request) {
	ra, dec, err := parseCoordinates(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	th.setTarget(&ra, &dec)
	th.handleAction(func() error { return th.dev.SlewToCoordinates(ra, dec) })(w, r)
}

func (th *TelescopeHandler) handleSyncToCoordinates(w http.ResponseWriter, r *http.Request) {
	ra, dec, err := parseCoordinates(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	th.setTarget(&ra, &dec)
	th.handleAction(func() error { return th.dev.SyncToCoordinates(ra, dec) })(w, r)
}

func (th *TelescopeHandler) handleSlewToTarget(w http.ResponseWriter, r *http.Request) {
	ra, dec, ok := th.target()
	if !ok {
		handleError(w, r, ErrInvalidOperation)
		return
	}
	th.handleAction(func() error { return th.dev.SlewToCoordinates(ra, dec) })(w, r)
}

func (th *TelescopeHandler) handleSyncToTarget(w http.ResponseWriter, r *http.Request) {
	ra, dec, ok := th.target()
	if !ok {
		handleError(w, r, ErrInvalidOperation)
		return
	}
	th.handleAction(func() error { return th.dev.SyncToCoordinates(ra, dec) })(w, r)
}

func (th *TelescopeHandler) handlePulseGuide(w http.ResponseWriter, r *http.Request) {
	dir, err := parseIntRequest(r, "Direction")
	if err != nil {
		handleError(w, r, err)
		return
	}
	ms, err := parseIntRequest(r, "Duration")
	if err != nil {
		handleError(w, r, err)
		return
	}
	if dir < int(GuideNorth) || dir > int(GuideWest) {
		handleError(w, r, invalidValue("guide direction %d", dir))
		return
	}
	if ms < 0 || ms > 9999 {
		handleError(w, r, invalidValue("guide duration %d ms out of range", ms))
		return
	}
	th.handleAction(func() error {
		return th.dev.PulseGuide(GuideDirection(dir), time.Duration(ms)*time.Millisecond)
	})(w, r)
}
