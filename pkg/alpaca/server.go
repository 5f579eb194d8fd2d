// Documentation: https://ascom-standards.org/api/?urls.primaryName=ASCOM+Alpaca+Management+API

package alpaca

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

type ServerDescription struct {
	Name                string `json:"ServerName"`
	Manufacturer        string `json:"Manufacturer"`
	ManufacturerVersion string `json:"ManufacturerVersion"`
	Location            string `json:"Location"`
}

// Server is an Alpaca server that provides information about itself and
// routes the device API to the devices it manages.
type Server struct {
	description ServerDescription
	devices     []Device
	extra       map[string]http.Handler

	tmpl *template.Template
}

func NewServer(description ServerDescription, devices []Device, tmpl *template.Template) *Server {
	return &Server{
		description: description,
		devices:     devices,
		extra:       make(map[string]http.Handler),
		tmpl:        tmpl,
	}
}

// Handle adds a route outside the Alpaca API, such as the property stream.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.extra[pattern] = h
}

type DeviceHTTPHandler interface {
	RegisterRoutes(mux *http.ServeMux)
}

func newDeviceHandler(dev Device) DeviceHTTPHandler {
	switch d := dev.(type) {
	case Telescope:
		log.Infof("Creating new TelescopeHandler for %s", dev.DeviceInfo().Name)
		return NewTelescopeHandler(d)
	case Focuser:
		log.Infof("Creating new FocuserHandler for %s", dev.DeviceInfo().Name)
		return NewFocuserHandler(d)
	case Switch:
		log.Infof("Creating new SwitchHandler for %s", dev.DeviceInfo().Name)
		return NewSwitchHandler(d)
	}
	log.Errorf("Unknown device type: %T", dev)
	return NewDeviceHandler(dev)
}

func (s *Server) AddRoutes() *http.ServeMux {
	r := http.NewServeMux()

	// Management API
	r.Handle("GET /management/apiversions", handleMgm(s.handleAPIVersions))
	r.Handle("GET /management/v1/description", handleMgm(s.handleDescription))
	r.Handle("GET /management/v1/configureddevices", handleMgm(s.handleConfiguredDevices))
	r.HandleFunc("GET /setup", s.handleSetup)
	r.HandleFunc("GET /setup/v1", s.handleSetup)

	for _, dev := range s.devices {
		mux := http.NewServeMux()
		newDeviceHandler(dev).RegisterRoutes(mux)

		devType := strings.ToLower(dev.DeviceInfo().Type.String())
		devNumber := dev.DeviceInfo().Number

		apiPrefix := fmt.Sprintf("/api/v1/%s/%d", devType, devNumber)
		r.Handle(apiPrefix+"/", http.StripPrefix(apiPrefix, mux))

		if sh, ok := dev.(SetupHandler); ok {
			setupPath := fmt.Sprintf("/setup/v1/%s/%d/setup", devType, devNumber)
			r.HandleFunc(setupPath, sh.HandleSetup)
		}
	}

	for pattern, h := range s.extra {
		r.Handle(pattern, h)
	}

	return r
}

func (s *Server) handleAPIVersions(r *http.Request) (any, error) {
	return []int{1}, nil
}

func (s *Server) handleDescription(r *http.Request) (any, error) {
	return s.description, nil
}

func (s *Server) handleConfiguredDevices(r *http.Request) (any, error) {
	deviceInfo := make([]DeviceInfo, 0, len(s.devices))
	for _, device := range s.devices {
		deviceInfo = append(deviceInfo, device.DeviceInfo())
	}

	return deviceInfo, nil
}

type setupDevice struct {
	DeviceInfo
	Connected bool
	SetupURL  string
}

// handleSetup renders the server page listing the devices and their setup
// pages.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	devices := make([]setupDevice, 0, len(s.devices))
	for _, dev := range s.devices {
		info := dev.DeviceInfo()
		sd := setupDevice{DeviceInfo: info, Connected: dev.Connected()}
		if _, ok := dev.(SetupHandler); ok {
			sd.SetupURL = fmt.Sprintf("/setup/v1/%s/%d/setup", strings.ToLower(info.Type.String()), info.Number)
		}
		devices = append(devices, sd)
	}

	data := struct {
		ServerDescription
		Devices []setupDevice
	}{s.description, devices}

	if err := s.tmpl.ExecuteTemplate(w, "setup.html", data); err != nil {
		http.Error(w, "Error rendering template", http.StatusInternalServerError)
		log.Errorf("Error rendering template: %v", err)
	}
}
