// Package bus is the property model shared by the device drivers and the
// outer surfaces (Alpaca, MQTT, websocket). A Device owns properties and
// announces them to a Publisher; publishers fan the updates out to clients.
package bus

import "fmt"

// State is the lifecycle of a property: Idle before first use, Busy while a
// request is in flight, then Ok or Alert.
type State int

const (
	Idle State = iota
	Ok
	Busy
	Alert
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Ok:
		return "Ok"
	case Busy:
		return "Busy"
	case Alert:
		return "Alert"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Idle":
		*s = Idle
	case "Ok":
		*s = Ok
	case "Busy":
		*s = Busy
	case "Alert":
		*s = Alert
	default:
		return fmt.Errorf("unknown property state %q", b)
	}
	return nil
}
