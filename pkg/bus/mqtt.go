package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

// MQTTOptions select the broker an MQTTPublisher talks to.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// ConnectMQTT returns a client connected to the broker.
func ConnectMQTT(opts MQTTOptions) (mqtt.Client, error) {
	o := mqtt.NewClientOptions()
	o.SetClientID(opts.ClientID)
	o.AddBroker(opts.Broker)
	o.SetUsername(opts.Username)
	o.SetPassword(opts.Password)
	o.SetAutoReconnect(true)

	client := mqtt.NewClient(o)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}
	return client, nil
}

// MQTTPublisher mirrors properties as retained JSON messages on
// <root>/<device>/<property>. Change requests published on
// <root>/<device>/<property>/set are handed to the device.
type MQTTPublisher struct {
	client mqtt.Client
	root   string
	logger log.FieldLogger
}

func NewMQTTPublisher(client mqtt.Client, root string, logger log.FieldLogger) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		root:   strings.TrimSuffix(root, "/"),
		logger: logger.WithField("component", "mqtt"),
	}
}

// topicSegment keeps names from introducing topic levels or wildcards.
func topicSegment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_").Replace(s)
}

func (m *MQTTPublisher) topic(device, name string) string {
	return m.root + "/" + topicSegment(device) + "/" + topicSegment(name)
}

func (m *MQTTPublisher) publish(topic string, payload []byte) {
	if !m.client.IsConnected() {
		return
	}
	token := m.client.Publish(topic, 0, true, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			m.logger.Warnf("Publish to %s timed out", topic)
			return
		}
		if err := token.Error(); err != nil {
			m.logger.Warnf("Failed to publish to %s: %v", topic, err)
		}
	}()
}

func (m *MQTTPublisher) DefineProperty(p Property) {
	m.UpdateProperty(p)
}

func (m *MQTTPublisher) UpdateProperty(p Property) {
	payload, err := json.Marshal(p)
	if err != nil {
		m.logger.Errorf("Failed to encode %s: %v", p.Name, err)
		return
	}
	m.publish(m.topic(p.Device, p.Name), payload)
}

// DeleteProperty clears the retained message of the property.
func (m *MQTTPublisher) DeleteProperty(device, name string) {
	m.publish(m.topic(device, name), nil)
}

// Serve subscribes to change requests for dev until Unserve.
func (m *MQTTPublisher) Serve(dev Device) error {
	filter := m.root + "/" + topicSegment(dev.Name()) + "/+/set"
	token := m.client.Subscribe(filter, 0, func(_ mqtt.Client, msg mqtt.Message) {
		m.handleChange(dev, msg)
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %v", filter, token.Error())
	}
	m.logger.Debugf("Accepting change requests on %s", filter)
	return nil
}

func (m *MQTTPublisher) Unserve(dev Device) {
	filter := m.root + "/" + topicSegment(dev.Name()) + "/+/set"
	m.client.Unsubscribe(filter)
}

func (m *MQTTPublisher) handleChange(dev Device, msg mqtt.Message) {
	var req Property
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		m.logger.Warnf("Ignoring change request on %s: %v", msg.Topic(), err)
		return
	}
	parts := strings.Split(msg.Topic(), "/")
	if len(parts) < 2 {
		return
	}
	name := parts[len(parts)-2]
	if req.Name == "" {
		req.Name = name
	}
	req.Device = dev.Name()
	if err := dev.ChangeProperty("mqtt", req); err != nil {
		m.logger.Warnf("Change of %s rejected: %v", req.Name, err)
	}
}
