package bus

import "sync"

// EventKind says which Publisher call produced an Event.
type EventKind int

const (
	Defined EventKind = iota
	Updated
	Deleted
)

// Event is one recorded Publisher call.
type Event struct {
	Kind     EventKind
	Property Property
}

// Recorder is a Publisher that keeps every call in order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) DefineProperty(p Property) {
	r.add(Event{Kind: Defined, Property: p.Clone()})
}

func (r *Recorder) UpdateProperty(p Property) {
	r.add(Event{Kind: Updated, Property: p.Clone()})
}

func (r *Recorder) DeleteProperty(device, name string) {
	r.add(Event{Kind: Deleted, Property: Property{Device: device, Name: name}})
}

// Events returns the recorded calls.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Updates returns the updates of one property.
func (r *Recorder) Updates(name string) []Property {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Property
	for _, ev := range r.events {
		if ev.Kind == Updated && ev.Property.Name == name {
			out = append(out, ev.Property)
		}
	}
	return out
}

// Last returns the most recent definition or update of name.
func (r *Recorder) Last(name string) (Property, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		ev := r.events[i]
		if ev.Kind != Deleted && ev.Property.Name == name {
			return ev.Property, true
		}
	}
	return Property{}, false
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
