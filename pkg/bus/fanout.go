package bus

import "sync"

// Fanout forwards every call to each of its publishers in order.
type Fanout struct {
	mu   sync.RWMutex
	pubs []Publisher
}

func NewFanout(pubs ...Publisher) *Fanout {
	return &Fanout{pubs: pubs}
}

func (f *Fanout) Add(p Publisher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubs = append(f.pubs, p)
}

func (f *Fanout) publishers() []Publisher {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Publisher(nil), f.pubs...)
}

func (f *Fanout) DefineProperty(p Property) {
	for _, pub := range f.publishers() {
		pub.DefineProperty(p.Clone())
	}
}

func (f *Fanout) UpdateProperty(p Property) {
	for _, pub := range f.publishers() {
		pub.UpdateProperty(p.Clone())
	}
}

func (f *Fanout) DeleteProperty(device, name string) {
	for _, pub := range f.publishers() {
		pub.DeleteProperty(device, name)
	}
}
