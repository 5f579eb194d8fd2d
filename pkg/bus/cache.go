package bus

import (
	"sort"
	"sync"
)

type key struct {
	device, name string
}

// Cache keeps the latest definition of every property it is sent.
type Cache struct {
	mu    sync.RWMutex
	props map[key]Property
}

func NewCache() *Cache {
	return &Cache{props: make(map[key]Property)}
}

func (c *Cache) DefineProperty(p Property) {
	c.store(p)
}

func (c *Cache) UpdateProperty(p Property) {
	c.store(p)
}

func (c *Cache) store(p Property) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.props[key{p.Device, p.Name}] = p.Clone()
}

func (c *Cache) DeleteProperty(device, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" {
		for k := range c.props {
			if k.device == device {
				delete(c.props, k)
			}
		}
		return
	}
	delete(c.props, key{device, name})
}

// Get returns a copy of a cached property.
func (c *Cache) Get(device, name string) (Property, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.props[key{device, name}]
	if !ok {
		return Property{}, false
	}
	return p.Clone(), true
}

// Snapshot returns every cached property ordered by device and name.
func (c *Cache) Snapshot() []Property {
	c.mu.RLock()
	out := make([]Property, 0, len(c.props))
	for _, p := range c.props {
		out = append(out, p.Clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			return out[i].Device < out[j].Device
		}
		return out[i].Name < out[j].Name
	})
	return out
}
