package bus

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackRate() *Property {
	return SwitchProperty("Mount", "MOUNT_TRACK_RATE", "Main", "Track rate", OneOfMany,
		Item{Name: "SIDEREAL", On: true}, Item{Name: "SOLAR"}, Item{Name: "LUNAR"})
}

func TestApply(t *testing.T) {
	tests := []struct {
		name     string
		prop     *Property
		req      Property
		expected []Item
		wantErr  bool
		err      error
	}{
		{
			name:     "switch selects one",
			prop:     trackRate(),
			req:      Property{Items: []Item{{Name: "LUNAR", On: true}}},
			expected: []Item{{Name: "SIDEREAL"}, {Name: "SOLAR"}, {Name: "LUNAR", On: true}},
		},
		{
			name:    "switch without selection",
			prop:    trackRate(),
			req:     Property{Items: []Item{{Name: "LUNAR"}}},
			wantErr: true,
		},
		{
			name:     "number ignores unknown items",
			prop:     NumberProperty("Mount", "COORDS", "Main", "", Item{Name: "RA"}, Item{Name: "DEC"}),
			req:      Property{Items: []Item{{Name: "RA", Number: 10}, {Name: "ALT", Number: 5}}},
			expected: []Item{{Name: "RA", Number: 10}, {Name: "DEC"}},
		},
		{
			name: "read only",
			prop: &Property{Name: "PIER", Kind: Switch, ReadOnly: true},
			req:  Property{},
			err:  ErrReadOnly,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.prop.Apply(tt.req)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, tt.prop.Items)
		})
	}
}

func TestSelect(t *testing.T) {
	p := trackRate()
	p.Select("SOLAR")
	assert.Equal(t, "SOLAR", p.Selected())
	assert.False(t, p.Item("SIDEREAL").On)

	c := p.Clone()
	c.Select("LUNAR")
	assert.Equal(t, "SOLAR", p.Selected())
}

func TestCacheAndFanout(t *testing.T) {
	cache := NewCache()
	rec := &Recorder{}
	fan := NewFanout(cache)
	fan.Add(rec)

	p := trackRate()
	fan.DefineProperty(*p)
	p.Select("SOLAR")
	p.State = Ok
	fan.UpdateProperty(*p)
	fan.DefineProperty(Property{Device: "Guider", Name: "GUIDER_GUIDE_DEC"})

	got, ok := cache.Get("Mount", "MOUNT_TRACK_RATE")
	require.True(t, ok)
	assert.Equal(t, "SOLAR", got.Selected())
	assert.Equal(t, Ok, got.State)

	snap := cache.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "Guider", snap[0].Device)

	fan.DeleteProperty("Mount", "")
	_, ok = cache.Get("Mount", "MOUNT_TRACK_RATE")
	assert.False(t, ok)

	events := rec.Events()
	require.Len(t, events, 4)
	assert.Equal(t, []EventKind{Defined, Updated, Defined, Deleted},
		[]EventKind{events[0].Kind, events[1].Kind, events[2].Kind, events[3].Kind})
	assert.Len(t, rec.Updates("MOUNT_TRACK_RATE"), 1)
}

func TestStateText(t *testing.T) {
	for _, s := range []State{Idle, Ok, Busy, Alert} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
	var s State
	assert.Error(t, s.UnmarshalText([]byte("Broken")))
}

// device accepts changes and records them.
type device struct {
	mu      sync.Mutex
	changes []Property
	seen    chan struct{}
}

func newDevice() *device {
	return &device{seen: make(chan struct{}, 8)}
}

func (d *device) Name() string { return "Mount" }
func (d *device) Attach(Publisher) error { return nil }
func (d *device) EnumerateProperties() []Property { return nil }
func (d *device) Detach() error { return nil }

func (d *device) ChangeProperty(client string, req Property) error {
	d.mu.Lock()
	d.changes = append(d.changes, req)
	d.mu.Unlock()
	d.seen <- struct{}{}
	return nil
}

func (d *device) wait(t *testing.T) Property {
	t.Helper()
	select {
	case <-d.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("no change request")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.changes[len(d.changes)-1]
}

type token struct {
	err error
}

func (t *token) Wait() bool { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *token) Error() error { return t.err }

type message struct {
	topic   string
	payload []byte
}

func (m *message) Duplicate() bool { return false }
func (m *message) Qos() byte { return 0 }
func (m *message) Retained() bool { return false }
func (m *message) Topic() string { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte { return m.payload }
func (m *message) Ack() {}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mqtt.Client

	mu        sync.Mutex
	published []published
	handlers  map[string]mqtt.MessageHandler
}

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, _ := payload.([]byte)
	c.published = append(c.published, published{topic, retained, b})
	return &token{}
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[string]mqtt.MessageHandler)
	}
	c.handlers[topic] = cb
	return &token{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	return &token{}
}

func TestMQTTPublisher(t *testing.T) {
	client := &fakeClient{}
	pub := NewMQTTPublisher(client, "observatory/", log.New())

	p := trackRate()
	p.Device = "ZWO AM5"
	pub.UpdateProperty(*p)
	pub.DeleteProperty("ZWO AM5", "MOUNT_TRACK_RATE")

	require.Len(t, client.published, 2)
	assert.Equal(t, "observatory/ZWO_AM5/MOUNT_TRACK_RATE", client.published[0].topic)
	assert.True(t, client.published[0].retained)

	var decoded Property
	require.NoError(t, json.Unmarshal(client.published[0].payload, &decoded))
	assert.Equal(t, Switch, decoded.Kind)
	assert.Equal(t, "SIDEREAL", decoded.Selected())
	assert.Empty(t, client.published[1].payload)

	dev := newDevice()
	require.NoError(t, pub.Serve(dev))
	handler, ok := client.handlers["observatory/Mount/+/set"]
	require.True(t, ok)

	handler(client, &message{
		topic:   "observatory/Mount/MOUNT_TRACK_RATE/set",
		payload: []byte(`{"items":[{"name":"LUNAR","on":true}]}`),
	})
	req := dev.wait(t)
	assert.Equal(t, "MOUNT_TRACK_RATE", req.Name)
	assert.Equal(t, "Mount", req.Device)
	assert.True(t, req.Item("LUNAR").On)

	handler(client, &message{topic: "observatory/Mount/X/set", payload: []byte("nope")})
	pub.Unserve(dev)
	assert.Empty(t, client.handlers)
}

func TestWebsocketHub(t *testing.T) {
	hub := NewWebsocketHub(log.New())
	dev := newDevice()
	hub.Serve(dev)
	hub.DefineProperty(*trackRate())

	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var f Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, "define", f.Type)
	assert.Equal(t, "MOUNT_TRACK_RATE", f.Property.Name)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	p := trackRate()
	p.Select("SOLAR")
	hub.UpdateProperty(*p)
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, "update", f.Type)
	assert.Equal(t, "SOLAR", f.Property.Selected())

	change := trackRate()
	change.Select("LUNAR")
	require.NoError(t, conn.WriteJSON(Frame{Type: "change", Property: change}))
	got := dev.wait(t)
	assert.Equal(t, "LUNAR", got.Selected())
}
