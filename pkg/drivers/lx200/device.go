package lx200

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"lx200/pkg/alpaca"
	"lx200/pkg/bus"
	"lx200/pkg/mount"
)

const (
	driverName    = "LX200 Mount Driver"
	driverVersion = "1.0"

	connectionProperty = "CONNECTION"

	// connectTimeout covers detection at every baud rate and Init.
	connectTimeout = 30 * time.Second
	// opTimeout bounds one operation started from a change request.
	opTimeout = 10 * time.Second
)

var ErrConnecting = errors.New("connection in progress")

// facade is the part of a device specific to one sub-unit of the mount.
type facade interface {
	// properties builds the properties offered while connected to s.
	properties(s *mount.Session) []*bus.Property
	// change runs a request for one of those properties. It is called on
	// its own goroutine.
	change(ctx context.Context, s *mount.Session, req bus.Property) error
	activityChanged(a mount.Activity, st mount.ActivityState)
	stateChanged(f mount.Field, st mount.LogicalState)
}

// device is the connection handling and property bookkeeping shared by the
// façades. It implements bus.Device, mount.Observer and Client, and the
// connection half of alpaca.Device.
type device struct {
	info   alpaca.DeviceInfo
	hub    *Hub
	logger log.FieldLogger
	impl   facade

	mu         sync.Mutex
	pub        bus.Publisher
	session    *mount.Session
	props      map[string]*bus.Property
	order      []string
	connecting bool
}

// init prepares d with its CONNECTION property. impl must be set by the
// caller.
func (d *device) init(info alpaca.DeviceInfo, hub *Hub, logger log.FieldLogger) {
	d.info = info
	d.hub = hub
	d.logger = logger.WithField("device", info.Name)
	d.props = make(map[string]*bus.Property)

	conn := bus.SwitchProperty(info.Name, connectionProperty, "Main", "Connection", bus.OneOfMany,
		bus.Item{Name: "CONNECTED", Label: "Connect"},
		bus.Item{Name: "DISCONNECTED", Label: "Disconnect", On: true},
	)
	conn.State = bus.Idle
	d.props[connectionProperty] = conn
	d.order = []string{connectionProperty}
}

func (d *device) Name() string {
	return d.info.Name
}

func (d *device) DeviceInfo() alpaca.DeviceInfo {
	return d.info
}

func (d *device) DriverInfo() alpaca.DriverInfo {
	return alpaca.DriverInfo{
		Name:             driverName,
		Version:          driverVersion,
		InterfaceVersion: 3,
	}
}

func (d *device) Attach(pub bus.Publisher) error {
	d.mu.Lock()
	if d.pub != nil {
		d.mu.Unlock()
		return fmt.Errorf("%s is already attached", d.info.Name)
	}
	d.pub = pub
	d.mu.Unlock()

	for _, p := range d.EnumerateProperties() {
		pub.DefineProperty(p)
	}
	return nil
}

// Detach disconnects and stops publishing.
func (d *device) Detach() error {
	err := d.Disconnect()

	d.mu.Lock()
	pub := d.pub
	d.pub = nil
	d.mu.Unlock()
	if pub != nil {
		pub.DeleteProperty(d.info.Name, connectionProperty)
	}
	return err
}

func (d *device) EnumerateProperties() []bus.Property {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]bus.Property, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.props[name].Clone())
	}
	return out
}

// ChangeProperty validates req and runs it in the background. Progress is
// published as property updates.
func (d *device) ChangeProperty(client string, req bus.Property) error {
	if req.Name == connectionProperty {
		return d.changeConnection(req)
	}

	d.mu.Lock()
	p, ok := d.props[req.Name]
	s := d.session
	readOnly := ok && p.ReadOnly
	d.mu.Unlock()

	switch {
	case !ok:
		return fmt.Errorf("%s.%s: %w", d.info.Name, req.Name, bus.ErrUnknownProperty)
	case readOnly:
		return fmt.Errorf("%s.%s: %w", d.info.Name, req.Name, bus.ErrReadOnly)
	case s == nil:
		return alpaca.ErrNotConnected
	}

	d.logger.Debugf("Change of %s requested by %s", req.Name, client)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := d.impl.change(ctx, s, req); err != nil {
			d.logger.Warnf("%s: %v", req.Name, err)
		}
	}()
	return nil
}

func (d *device) changeConnection(req bus.Property) error {
	d.mu.Lock()
	p := d.props[connectionProperty].Clone()
	d.mu.Unlock()
	if err := p.Apply(req); err != nil {
		return err
	}

	go func() {
		var err error
		if p.Selected() == "CONNECTED" {
			err = d.Connect()
		} else {
			err = d.Disconnect()
		}
		if err != nil {
			d.logger.Errorf("Connection change failed: %v", err)
		}
	}()
	return nil
}

func (d *device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session != nil
}

func (d *device) Connecting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connecting
}

// Connect joins the hub's session and defines the façade's properties.
func (d *device) Connect() error {
	d.mu.Lock()
	switch {
	case d.session != nil:
		d.mu.Unlock()
		return nil
	case d.connecting:
		d.mu.Unlock()
		return ErrConnecting
	}
	d.connecting = true
	d.mu.Unlock()
	d.setConnection(bus.Busy, false, "Connecting")

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	s, err := d.hub.Acquire(ctx, d)
	if err != nil {
		d.mu.Lock()
		d.connecting = false
		d.mu.Unlock()
		d.setConnection(bus.Alert, false, err.Error())
		return err
	}

	props := d.impl.properties(s)
	d.mu.Lock()
	d.session = s
	d.connecting = false
	for _, p := range props {
		d.props[p.Name] = p
		d.order = append(d.order, p.Name)
	}
	pub := d.pub
	d.mu.Unlock()

	if pub != nil {
		for _, p := range props {
			pub.DefineProperty(p.Clone())
		}
	}
	s.AddObserver(d)

	// the poller publishes every field only to the first client
	st := s.State()
	for _, f := range []mount.Field{mount.FieldCoordinates, mount.FieldTracking, mount.FieldSlewing,
		mount.FieldGuiding, mount.FieldPark, mount.FieldHome, mount.FieldPierSide} {
		d.impl.stateChanged(f, st)
	}

	d.setConnection(bus.Ok, true, "")
	d.logger.Info("Connected")
	return nil
}

// Disconnect leaves the hub and deletes the façade's properties.
func (d *device) Disconnect() error {
	s := d.drop()
	if s == nil {
		return nil
	}
	err := d.hub.Release(d)
	d.setConnection(bus.Idle, false, "")
	d.logger.Info("Disconnected")
	return err
}

// Disconnected is called by the hub after a transport failure.
func (d *device) Disconnected(err error) {
	if d.drop() == nil {
		return
	}
	d.setConnection(bus.Alert, false, "Device disconnected unexpectedly: "+err.Error())
	d.logger.Errorf("Disconnected: %v", err)
}

// drop forgets the session and deletes every property but CONNECTION.
func (d *device) drop() *mount.Session {
	d.mu.Lock()
	s := d.session
	if s == nil {
		d.mu.Unlock()
		return nil
	}
	d.session = nil
	names := append([]string(nil), d.order[1:]...)
	for _, name := range names {
		delete(d.props, name)
	}
	d.order = d.order[:1]
	pub := d.pub
	d.mu.Unlock()

	s.RemoveObserver(d)
	if pub != nil {
		for _, name := range names {
			pub.DeleteProperty(d.info.Name, name)
		}
	}
	return s
}

func (d *device) setConnection(state bus.State, connected bool, message string) {
	d.update(connectionProperty, func(p *bus.Property) {
		if connected {
			p.Select("CONNECTED")
		} else {
			p.Select("DISCONNECTED")
		}
		p.State = state
		p.Message = message
	})
}

// update modifies a defined property and publishes the result. Properties
// not defined, such as those of a disconnected façade, are skipped.
func (d *device) update(name string, fn func(p *bus.Property)) {
	d.mu.Lock()
	p, ok := d.props[name]
	if !ok {
		d.mu.Unlock()
		return
	}
	fn(p)
	c := p.Clone()
	pub := d.pub
	d.mu.Unlock()

	if pub != nil {
		pub.UpdateProperty(c)
	}
}

// setState publishes an activity transition on property name.
func (d *device) setState(name string, st mount.ActivityState) {
	d.update(name, func(p *bus.Property) {
		p.State = st.State
		p.Message = st.Message
	})
}

// property returns a copy of a defined property.
func (d *device) property(name string) (bus.Property, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.props[name]
	if !ok {
		return bus.Property{}, false
	}
	return p.Clone(), true
}

// applied returns name with req applied, without storing it.
func (d *device) applied(name string, req bus.Property) (bus.Property, error) {
	p, ok := d.property(name)
	if !ok {
		return p, fmt.Errorf("%s: %w", name, bus.ErrUnknownProperty)
	}
	if err := p.Apply(req); err != nil {
		return p, err
	}
	return p, nil
}

// sessionOrErr returns the session for Alpaca calls.
func (d *device) sessionOrErr() (*mount.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil, alpaca.ErrNotConnected
	}
	return d.session, nil
}

func (d *device) ActivityChanged(a mount.Activity, st mount.ActivityState) {
	d.impl.activityChanged(a, st)
}

func (d *device) StateChanged(f mount.Field, st mount.LogicalState) {
	d.impl.stateChanged(f, st)
}

// Notice is passed on to façades that show notices.
func (d *device) Notice(message string) {
	if n, ok := d.impl.(interface{ notice(string) }); ok {
		n.notice(message)
	}
}

// withTimeout runs fn for an Alpaca call.
func withTimeout(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return fn(ctx)
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

var _ bus.Device = (*device)(nil)
var _ mount.Observer = (*device)(nil)
var _ Client = (*device)(nil)

// assign stores the item values of p without publishing them. The activity
// transition that follows publishes them.
func (d *device) assign(p bus.Property) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.props[p.Name]; ok {
		cur.Items = p.Items
	}
}

// release turns every item of a momentary switch off and reports the
// outcome of its operation.
func (d *device) release(name string, err error) error {
	d.update(name, func(p *bus.Property) {
		for i := range p.Items {
			p.Items[i].On = false
		}
		p.State, p.Message = bus.Ok, ""
		if err != nil {
			p.State, p.Message = bus.Alert, err.Error()
		}
	})
	return err
}
