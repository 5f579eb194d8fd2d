package lx200

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"lx200/pkg/alpaca"
	"lx200/pkg/bus"
	"lx200/pkg/config"
	"lx200/pkg/mount"
)

const (
	propGuideDec = "GUIDER_GUIDE_DEC"
	propGuideRA  = "GUIDER_GUIDE_RA"

	maxPulseMs = 9999
)

// Guider is the ST-4 style guide port of the mount. It is only published on
// the bus; Alpaca clients guide through the telescope.
type Guider struct {
	device
}

func NewGuider(hub *Hub, store *config.Store, logger log.FieldLogger) (*Guider, error) {
	id, err := store.DeviceID("guider")
	if err != nil {
		return nil, fmt.Errorf("failed to get device id: %v", err)
	}
	g := &Guider{}
	g.init(alpaca.DeviceInfo{
		Name:        "LX200 Guider",
		Description: "LX200 mount guide port",
		UniqueID:    id,
	}, hub, logger)
	g.impl = g
	return g, nil
}

func (g *Guider) properties(s *mount.Session) []*bus.Property {
	if !s.Descriptor().Caps.GuidePulse {
		return nil
	}
	name := g.info.Name
	dec := bus.NumberProperty(name, propGuideDec, "Main", "Guide N/S",
		bus.Item{Name: "NORTH", Label: "North (ms)", Max: maxPulseMs},
		bus.Item{Name: "SOUTH", Label: "South (ms)", Max: maxPulseMs},
	)
	ra := bus.NumberProperty(name, propGuideRA, "Main", "Guide W/E",
		bus.Item{Name: "WEST", Label: "West (ms)", Max: maxPulseMs},
		bus.Item{Name: "EAST", Label: "East (ms)", Max: maxPulseMs},
	)
	dec.State, ra.State = bus.Ok, bus.Ok
	return []*bus.Property{dec, ra}
}

func (g *Guider) change(ctx context.Context, s *mount.Session, req bus.Property) error {
	p, err := g.applied(req.Name, req)
	if err != nil {
		return err
	}
	g.assign(p)

	switch req.Name {
	case propGuideDec:
		return s.GuideDec(ctx, pulseDuration(p.Item("NORTH")), pulseDuration(p.Item("SOUTH")))
	case propGuideRA:
		return s.GuideRA(ctx, pulseDuration(p.Item("WEST")), pulseDuration(p.Item("EAST")))
	}
	return fmt.Errorf("%s: %w", req.Name, bus.ErrUnknownProperty)
}

func pulseDuration(it *bus.Item) time.Duration {
	if it == nil || it.Number <= 0 {
		return 0
	}
	return time.Duration(min(it.Number, maxPulseMs)) * time.Millisecond
}

func (g *Guider) activityChanged(a mount.Activity, st mount.ActivityState) {
	var name string
	switch a {
	case mount.ActGuideDec:
		name = propGuideDec
	case mount.ActGuideRA:
		name = propGuideRA
	default:
		return
	}
	g.update(name, func(p *bus.Property) {
		if st.State != bus.Busy {
			for i := range p.Items {
				p.Items[i].Number = 0
			}
		}
		p.State, p.Message = st.State, st.Message
	})
}

func (g *Guider) stateChanged(mount.Field, mount.LogicalState) {}
