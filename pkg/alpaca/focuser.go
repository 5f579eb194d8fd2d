package alpaca

import (
	"net/http"
	"strings"
)

type FocuserStatus struct {
	Position int  `json:"Position"`
	IsMoving bool `json:"IsMoving"`
}

func (fs FocuserStatus) ToProperties() []StateProperty {
	return []StateProperty{
		{"IsMoving", fs.IsMoving},
		{"Position", fs.Position},
	}
}

type Focuser interface {
	Device

	// Absolute reports whether Move takes a position rather than an offset.
	Absolute() bool
	MaxStep() int
	MaxIncrement() int
	Status() FocuserStatus

	Move(position int) error
	Halt() error
}

type FocuserHandler struct {
	DeviceHandler
	dev Focuser
}

func NewFocuserHandler(dev Focuser) *FocuserHandler {
	return &FocuserHandler{
		DeviceHandler: DeviceHandler{dev: dev},
		dev:           dev,
	}
}

func (fh *FocuserHandler) RegisterRoutes(mux *http.ServeMux) {
	fh.DeviceHandler.RegisterRoutes(mux)

	for _, p := range []string{"absolute", "maxstep", "maxincrement", "ismoving", "position"} {
		mux.HandleFunc("GET /"+p, fh.handleStatus)
	}
	mux.HandleFunc("GET /tempcomp", fh.handleFalse)
	mux.HandleFunc("GET /tempcompavailable", fh.handleFalse)
	mux.HandleFunc("GET /temperature", fh.handleNotImplemented)
	mux.HandleFunc("GET /stepsize", fh.handleNotImplemented)
	mux.HandleFunc("PUT /tempcomp", fh.handleNotImplemented)

	mux.HandleFunc("PUT /halt", fh.handleHalt)
	mux.HandleFunc("PUT /move", fh.handleMove)
}

func (fh *FocuserHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	switch strings.TrimPrefix(r.URL.Path, "/") {
	case "absolute":
		handleResponse(w, r, fh.dev.Absolute())
		return
	case "maxstep":
		handleResponse(w, r, fh.dev.MaxStep())
		return
	case "maxincrement":
		handleResponse(w, r, fh.dev.MaxIncrement())
		return
	}

	if !fh.dev.Connected() {
		handleError(w, r, ErrNotConnected)
		return
	}
	status := fh.dev.Status()

	switch strings.TrimPrefix(r.URL.Path, "/") {
	case "ismoving":
		handleResponse(w, r, status.IsMoving)
	case "position":
		if !fh.dev.Absolute() {
			handleError(w, r, ErrPropertyNotImplemented)
			return
		}
		handleResponse(w, r, status.Position)
	}
}

func (fh *FocuserHandler) handleFalse(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, r, false)
}

func (fh *FocuserHandler) handleNotImplemented(w http.ResponseWriter, r *http.Request) {
	handleError(w, r, ErrPropertyNotImplemented)
}

func (fh *FocuserHandler) handleHalt(w http.ResponseWriter, r *http.Request) {
	if err := fh.dev.Halt(); err != nil {
		handleError(w, r, err)
		return
	}
	handleResponse(w, r, nil)
}

func (fh *FocuserHandler) handleMove(w http.ResponseWriter, r *http.Request) {
	position, err := parseIntRequest(r, "Position")
	if err != nil {
		handleError(w, r, err)
		return
	}

	if fh.dev.Absolute() {
		if position < 0 || position > fh.dev.MaxStep() {
			handleError(w, r, invalidValue("position %d out of range", position))
			return
		}
	} else if position < -fh.dev.MaxIncrement() || position > fh.dev.MaxIncrement() {
		handleError(w, r, invalidValue("offset %d out of range", position))
		return
	}

	if err := fh.dev.Move(position); err != nil {
		handleError(w, r, err)
		return
	}
	handleResponse(w, r, nil)
}
