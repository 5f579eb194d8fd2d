package lx200

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"lx200/pkg/alpaca"
	"lx200/pkg/bus"
	"lx200/pkg/config"
	"lx200/pkg/mount"
)

const (
	propOutlets = "AUX_OUTLETS"

	outletPrefix = "OUTLET_"
	maxOutlet    = 255
)

// Aux exposes the auxiliary outlets of controllers that have them, such as
// dew heaters and power ports. Alpaca switch ids count from 0, outlets
// from 1.
type Aux struct {
	device
}

func NewAux(number int, hub *Hub, store *config.Store, logger log.FieldLogger) (*Aux, error) {
	id, err := store.DeviceID("aux")
	if err != nil {
		return nil, fmt.Errorf("failed to get device id: %v", err)
	}
	a := &Aux{}
	a.init(alpaca.DeviceInfo{
		Name:        "LX200 Outlets",
		Description: "LX200 mount auxiliary outlets",
		Type:        alpaca.DeviceSwitch,
		Number:      number,
		UniqueID:    id,
	}, hub, logger)
	a.impl = a
	return a, nil
}

func outletName(index int) string {
	return outletPrefix + strconv.Itoa(index)
}

func outletIndex(name string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(name, outletPrefix))
	return n, err == nil && strings.HasPrefix(name, outletPrefix)
}

func (a *Aux) properties(s *mount.Session) []*bus.Property {
	n := s.Descriptor().Caps.AuxOutlets
	if n == 0 {
		return nil
	}
	items := make([]bus.Item, 0, n)
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	for i := 1; i <= n; i++ {
		v, err := s.Aux(ctx, i)
		if err != nil {
			a.logger.Warnf("Failed to read outlet %d: %v", i, err)
		}
		items = append(items, bus.Item{
			Name:   outletName(i),
			Label:  fmt.Sprintf("Outlet %d", i),
			Number: float64(v),
			Max:    maxOutlet,
		})
	}
	p := bus.NumberProperty(a.info.Name, propOutlets, "Main", "Outlets", items...)
	p.State = bus.Ok
	return []*bus.Property{p}
}

func (a *Aux) change(ctx context.Context, s *mount.Session, req bus.Property) error {
	if req.Name != propOutlets {
		return fmt.Errorf("%s: %w", req.Name, bus.ErrUnknownProperty)
	}
	cur, ok := a.property(propOutlets)
	if !ok {
		return fmt.Errorf("%s: %w", req.Name, bus.ErrUnknownProperty)
	}

	// only the outlets named in the request are written
	for _, it := range req.Items {
		index, ok := outletIndex(it.Name)
		if !ok || cur.Item(it.Name) == nil {
			continue
		}
		if err := s.SetAux(ctx, index, int(it.Number+0.5)); err != nil {
			return err
		}
		a.update(propOutlets, func(p *bus.Property) { p.SetNumber(it.Name, float64(max(0, min(int(it.Number+0.5), maxOutlet)))) })
	}
	return nil
}

func (a *Aux) activityChanged(act mount.Activity, st mount.ActivityState) {
	if act == mount.ActAux {
		a.setState(propOutlets, st)
	}
}

func (a *Aux) stateChanged(mount.Field, mount.LogicalState) {}

// Alpaca Switch

func (a *Aux) GetState() []alpaca.StateProperty {
	return []alpaca.StateProperty{
		{Name: "TimeStamp", Value: time.Now().Format(time.RFC3339)},
	}
}

func (a *Aux) Switches() []alpaca.SwitchDescription {
	p, ok := a.property(propOutlets)
	if !ok {
		return nil
	}
	out := make([]alpaca.SwitchDescription, 0, len(p.Items))
	for _, it := range p.Items {
		out = append(out, alpaca.SwitchDescription{
			Name:        it.Label,
			Description: "Auxiliary " + strings.ToLower(it.Label),
			Min:         0,
			Max:         maxOutlet,
			Step:        1,
			CanWrite:    true,
		})
	}
	return out
}

func (a *Aux) SwitchValue(id int) (float64, error) {
	s, err := a.sessionOrErr()
	if err != nil {
		return 0, err
	}
	var v int
	err = withTimeout(func(ctx context.Context) error {
		var err error
		v, err = s.Aux(ctx, id+1)
		return err
	})
	if err != nil {
		return 0, err
	}
	a.update(propOutlets, func(p *bus.Property) { p.SetNumber(outletName(id+1), float64(v)) })
	return float64(v), nil
}

func (a *Aux) SetSwitchValue(id int, value float64) error {
	s, err := a.sessionOrErr()
	if err != nil {
		return err
	}
	v := int(value + 0.5)
	err = withTimeout(func(ctx context.Context) error { return s.SetAux(ctx, id+1, v) })
	if err != nil {
		return err
	}
	a.update(propOutlets, func(p *bus.Property) { p.SetNumber(outletName(id+1), float64(v)) })
	return nil
}

var _ alpaca.Switch = (*Aux)(nil)
