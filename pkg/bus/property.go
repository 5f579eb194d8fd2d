package bus

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownProperty = errors.New("unknown property")
	ErrReadOnly        = errors.New("property is read only")
)

// Kind is the value type of a property's items.
type Kind int

const (
	Number Kind = iota
	Switch
	Text
	Light
)

func (k Kind) String() string {
	switch k {
	case Number:
		return "number"
	case Switch:
		return "switch"
	case Text:
		return "text"
	case Light:
		return "light"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for _, c := range []Kind{Number, Switch, Text, Light} {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown property kind %q", b)
}

// Rule constrains how many items of a switch property can be on.
type Rule int

const (
	OneOfMany Rule = iota
	AtMostOne
	AnyOfMany
)

// Item is one value of a property. Only the field matching the property's
// Kind is meaningful.
type Item struct {
	Name   string  `json:"name"`
	Label  string  `json:"label,omitempty"`
	Number float64 `json:"number,omitempty"`
	Min    float64 `json:"min,omitempty"`
	Max    float64 `json:"max,omitempty"`
	On     bool    `json:"on,omitempty"`
	Text   string  `json:"text,omitempty"`
	Light  State   `json:"light,omitempty"`
}

// Property is a named group of items owned by a device.
type Property struct {
	Device   string `json:"device"`
	Name     string `json:"name"`
	Group    string `json:"group,omitempty"`
	Label    string `json:"label,omitempty"`
	Kind     Kind   `json:"kind"`
	Rule     Rule   `json:"-"`
	ReadOnly bool   `json:"readOnly,omitempty"`
	State    State  `json:"state"`
	Message  string `json:"message,omitempty"`
	Items    []Item `json:"items"`
}

// Clone returns a deep copy of p, safe to hand to a publisher.
func (p *Property) Clone() Property {
	c := *p
	c.Items = append([]Item(nil), p.Items...)
	return c
}

// Item returns the item called name, or nil.
func (p *Property) Item(name string) *Item {
	for i := range p.Items {
		if p.Items[i].Name == name {
			return &p.Items[i]
		}
	}
	return nil
}

// Selected returns the name of the first switch item that is on.
func (p *Property) Selected() string {
	for _, it := range p.Items {
		if it.On {
			return it.Name
		}
	}
	return ""
}

// Select turns name on and, for OneOfMany and AtMostOne, every other item off.
func (p *Property) Select(name string) {
	for i := range p.Items {
		if p.Items[i].Name == name {
			p.Items[i].On = true
		} else if p.Rule != AnyOfMany {
			p.Items[i].On = false
		}
	}
}

// SetNumber sets item name of a number property.
func (p *Property) SetNumber(name string, v float64) {
	if it := p.Item(name); it != nil {
		it.Number = v
	}
}

// SetText sets item name of a text property.
func (p *Property) SetText(name, v string) {
	if it := p.Item(name); it != nil {
		it.Text = v
	}
}

// Apply copies the values of req into p. Items unknown to p are ignored.
// For a switch property with rule OneOfMany the request must turn one item
// on.
func (p *Property) Apply(req Property) error {
	if p.ReadOnly {
		return fmt.Errorf("%s: %w", p.Name, ErrReadOnly)
	}
	if p.Kind == Switch && p.Rule != AnyOfMany {
		on := ""
		for _, it := range req.Items {
			if it.On && p.Item(it.Name) != nil {
				on = it.Name
				break
			}
		}
		if on == "" && p.Rule == OneOfMany {
			return fmt.Errorf("%s: no item selected", p.Name)
		}
		for i := range p.Items {
			p.Items[i].On = p.Items[i].Name == on
		}
		return nil
	}
	for _, in := range req.Items {
		it := p.Item(in.Name)
		if it == nil {
			continue
		}
		switch p.Kind {
		case Number:
			it.Number = in.Number
		case Switch:
			it.On = in.On
		case Text:
			it.Text = in.Text
		}
	}
	return nil
}

// NumberProperty builds a number property with the given items.
func NumberProperty(device, name, group, label string, items ...Item) *Property {
	return &Property{Device: device, Name: name, Group: group, Label: label, Kind: Number, Items: items}
}

// SwitchProperty builds a switch property with the given items.
func SwitchProperty(device, name, group, label string, rule Rule, items ...Item) *Property {
	return &Property{Device: device, Name: name, Group: group, Label: label, Kind: Switch, Rule: rule, Items: items}
}

// TextProperty builds a text property with the given items.
func TextProperty(device, name, group, label string, items ...Item) *Property {
	return &Property{Device: device, Name: name, Group: group, Label: label, Kind: Text, Items: items}
}

// Publisher receives property changes from devices. Implementations must
// not block.
type Publisher interface {
	DefineProperty(p Property)
	UpdateProperty(p Property)
	DeleteProperty(device, name string)
}

// Device is the contract a driver offers to the bus. ChangeProperty returns
// as soon as the request is accepted; the outcome arrives later as property
// updates.
type Device interface {
	Name() string
	Attach(pub Publisher) error
	EnumerateProperties() []Property
	ChangeProperty(client string, req Property) error
	Detach() error
}
