package alpaca

import (
	"net/http"
	"strings"
)

// SwitchDescription describes one switch of a Switch device.
type SwitchDescription struct {
	Name        string
	Description string
	Min, Max    float64
	Step        float64
	CanWrite    bool
}

type Switch interface {
	Device

	Switches() []SwitchDescription
	SwitchValue(id int) (float64, error)
	SetSwitchValue(id int, value float64) error
}

type SwitchHandler struct {
	DeviceHandler
	dev Switch
}

func NewSwitchHandler(dev Switch) *SwitchHandler {
	return &SwitchHandler{
		DeviceHandler: DeviceHandler{dev: dev},
		dev:           dev,
	}
}

func (sh *SwitchHandler) RegisterRoutes(mux *http.ServeMux) {
	sh.DeviceHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /maxswitch", sh.handleMaxSwitch)
	for _, p := range []string{
		"canwrite", "getswitchname", "getswitchdescription",
		"minswitchvalue", "maxswitchvalue", "switchstep",
		"getswitch", "getswitchvalue",
	} {
		mux.HandleFunc("GET /"+p, sh.handleGet)
	}
	mux.HandleFunc("PUT /setswitch", sh.handleSet)
	mux.HandleFunc("PUT /setswitchvalue", sh.handleSet)
	mux.HandleFunc("PUT /setswitchname", sh.handleNotImplemented)
}

func (sh *SwitchHandler) handleMaxSwitch(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, r, len(sh.dev.Switches()))
}

func (sh *SwitchHandler) handleNotImplemented(w http.ResponseWriter, r *http.Request) {
	handleError(w, r, ErrPropertyNotImplemented)
}

// switchID reads and range checks the Id parameter.
func (sh *SwitchHandler) switchID(r *http.Request) (int, SwitchDescription, error) {
	id, err := parseIntRequest(r, "Id")
	if err != nil {
		return 0, SwitchDescription{}, err
	}
	switches := sh.dev.Switches()
	if id < 0 || id >= len(switches) {
		return 0, SwitchDescription{}, invalidValue("switch %d out of range", id)
	}
	return id, switches[id], nil
}

func (sh *SwitchHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, desc, err := sh.switchID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}

	switch strings.TrimPrefix(r.URL.Path, "/") {
	case "canwrite":
		handleResponse(w, r, desc.CanWrite)
	case "getswitchname":
		handleResponse(w, r, desc.Name)
	case "getswitchdescription":
		handleResponse(w, r, desc.Description)
	case "minswitchvalue":
		handleResponse(w, r, desc.Min)
	case "maxswitchvalue":
		handleResponse(w, r, desc.Max)
	case "switchstep":
		handleResponse(w, r, desc.Step)
	case "getswitch", "getswitchvalue":
		if !sh.dev.Connected() {
			handleError(w, r, ErrNotConnected)
			return
		}
		value, err := sh.dev.SwitchValue(id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		if strings.HasSuffix(r.URL.Path, "value") {
			handleResponse(w, r, value)
		} else {
			handleResponse(w, r, value > desc.Min)
		}
	}
}

func (sh *SwitchHandler) handleSet(w http.ResponseWriter, r *http.Request) {
	id, desc, err := sh.switchID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if !desc.CanWrite {
		handleError(w, r, ErrInvalidOperation)
		return
	}

	var value float64
	if strings.HasSuffix(r.URL.Path, "value") {
		value, err = parseFloatRequest(r, "Value")
		if err == nil && (value < desc.Min || value > desc.Max) {
			err = invalidValue("value %v out of range", value)
		}
	} else {
		var on bool
		on, err = parseBoolRequest(r, "State")
		value = desc.Min
		if on {
			value = desc.Max
		}
	}
	if err != nil {
		handleError(w, r, err)
		return
	}

	if err := sh.dev.SetSwitchValue(id, value); err != nil {
		handleError(w, r, err)
		return
	}
	handleResponse(w, r, nil)
}
