package bus

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Frame is one message exchanged with websocket clients. The server sends
// define, update and delete frames; clients send change frames.
type Frame struct {
	Type     string    `json:"type"`
	Property *Property `json:"property,omitempty"`
	Device   string    `json:"device,omitempty"`
	Name     string    `json:"name,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WebsocketHub streams property changes to browser clients. New clients
// receive the current definitions first.
type WebsocketHub struct {
	cache    *Cache
	upgrader websocket.Upgrader
	logger   log.FieldLogger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	devices map[string]Device
}

func NewWebsocketHub(logger log.FieldLogger) *WebsocketHub {
	return &WebsocketHub{
		cache: NewCache(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.WithField("component", "websocket"),
		clients: make(map[*wsClient]struct{}),
		devices: make(map[string]Device),
	}
}

// Serve accepts change frames for dev.
func (h *WebsocketHub) Serve(dev Device) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.devices[dev.Name()] = dev
}

func (h *WebsocketHub) DefineProperty(p Property) {
	h.cache.DefineProperty(p)
	h.broadcast(Frame{Type: "define", Property: &p})
}

func (h *WebsocketHub) UpdateProperty(p Property) {
	h.cache.UpdateProperty(p)
	h.broadcast(Frame{Type: "update", Property: &p})
}

func (h *WebsocketHub) DeleteProperty(device, name string) {
	h.cache.DeleteProperty(device, name)
	h.broadcast(Frame{Type: "delete", Device: device, Name: name})
}

func (h *WebsocketHub) broadcast(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// client too slow, skip
		}
	}
}

// Clients returns the number of connected clients.
func (h *WebsocketHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebsocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugf("Upgrade failed: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}
	for _, p := range h.cache.Snapshot() {
		if data, err := json.Marshal(Frame{Type: "define", Property: &p}); err == nil {
			select {
			case client.send <- data:
			default:
			}
		}
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debugf("Client connected (%d total)", n)

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, client)
			close(client.send)
			h.mu.Unlock()
			h.logger.Debug("Client disconnected")
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			h.handleFrame(data)
		}
	}()
}

func (h *WebsocketHub) handleFrame(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type != "change" || f.Property == nil {
		h.logger.Debugf("Ignoring frame %s", data)
		return
	}

	h.mu.RLock()
	dev, ok := h.devices[f.Property.Device]
	h.mu.RUnlock()
	if !ok {
		h.logger.Warnf("Change request for unknown device %q", f.Property.Device)
		return
	}
	if err := dev.ChangeProperty("websocket", *f.Property); err != nil {
		h.logger.Warnf("Change of %s rejected: %v", f.Property.Name, err)
	}
}
