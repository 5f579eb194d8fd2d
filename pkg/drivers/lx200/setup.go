package lx200

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"lx200/pkg/config"
	"lx200/pkg/dialect"
)

// HandleSetup serves the mount setup form. Saved settings apply from the
// next connection.
func (m *Mount) HandleSetup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := m.store.GetMountConfig()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		m.renderSetupForm(w, cfg, false, "")

	case http.MethodPost:
		cfg, err := m.store.GetMountConfig()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		cfg, err = parseMountSetupForm(r, cfg)
		if err == nil {
			err = m.store.SetMountConfig(cfg)
		}
		if err != nil {
			m.renderSetupForm(w, cfg, false, err.Error())
			return
		}

		m.logger.Infof("Setting mount config: %+v", cfg)
		m.renderSetupForm(w, cfg, true, "")

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *Mount) renderSetupForm(w http.ResponseWriter, cfg config.MountConfig, success bool, err string) {
	data := struct {
		config.MountConfig
		Dialects  []string
		TimeoutMs int64
		SettleMs  int64
		Connected bool
		Success   bool
		Error     string
	}{
		MountConfig: cfg,
		TimeoutMs:   cfg.Timeout.Milliseconds(),
		SettleMs:    cfg.Settle.Milliseconds(),
		Connected:   m.Connected(),
		Success:     success,
		Error:       err,
	}
	for _, d := range dialect.All() {
		data.Dialects = append(data.Dialects, d.String())
	}

	if err := m.tmpl.ExecuteTemplate(w, "mount_setup.html", data); err != nil {
		http.Error(w, "Error rendering template", http.StatusInternalServerError)
		m.logger.Errorf("Error rendering template: %v", err)
	}
}

// parseMountSetupForm applies the form over cfg. Fields the form does not
// show, such as the poll intervals, keep their values.
func parseMountSetupForm(r *http.Request, cfg config.MountConfig) (config.MountConfig, error) {
	if err := r.ParseForm(); err != nil {
		return cfg, fmt.Errorf("error parsing form: %v", err)
	}

	cfg.Dialect = r.FormValue("dialect")
	cfg.Endpoint = r.FormValue("endpoint")
	cfg.Timezone = r.FormValue("timezone")
	cfg.Trace = r.FormValue("trace")

	var err error
	ints := []struct {
		field string
		dst   *int
	}{
		{"baud", &cfg.Baud},
		{"guide-rate", &cfg.GuideRate},
		{"meridian-limit", &cfg.Meridian.Limit},
	}
	for _, f := range ints {
		if *f.dst, err = formInt(r, f.field); err != nil {
			return cfg, err
		}
	}

	floats := []struct {
		field string
		dst   *float64
	}{
		{"latitude", &cfg.Latitude},
		{"longitude", &cfg.Longitude},
		{"elevation", &cfg.Elevation},
		{"utc-offset", &cfg.UTCOffset},
	}
	for _, f := range floats {
		if *f.dst, err = formFloat(r, f.field); err != nil {
			return cfg, err
		}
	}

	timeout, err := formInt(r, "timeout-ms")
	if err != nil {
		return cfg, err
	}
	settle, err := formInt(r, "settle-ms")
	if err != nil {
		return cfg, err
	}
	if timeout > 0 {
		cfg.Timeout = time.Duration(timeout) * time.Millisecond
	}
	cfg.Settle = time.Duration(settle) * time.Millisecond

	cfg.SyncOnConnect = r.FormValue("sync-on-connect") == "true"
	cfg.Meridian.Override = r.FormValue("meridian-override") == "true"
	cfg.Meridian.AutoFlip = r.FormValue("auto-flip") == "true"
	cfg.Meridian.TrackPassed = r.FormValue("track-passed") == "true"

	return cfg, nil
}

func formInt(r *http.Request, field string) (int, error) {
	v := r.FormValue(field)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", field, v)
	}
	return n, nil
}

func formFloat(r *http.Request, field string) (float64, error) {
	v := r.FormValue(field)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", field, v)
	}
	return f, nil
}
