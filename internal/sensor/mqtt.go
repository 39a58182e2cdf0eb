package sensor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/waypost/waypost/internal/config"
)

const (
	mqttConnectTimeout    = 5 * time.Second
	mqttDisconnectQuiesce = 250 // milliseconds, passed to paho Disconnect
)

// mqttSource subscribes to a broker topic carrying position fixes as JSON.
// Suits deployments where the positioning hardware publishes over MQTT
// rather than exposing a gpsd socket.
type mqttSource struct {
	cfg config.SensorConfig

	mu     sync.Mutex
	client mqtt.Client
}

func newMQTTSource(cfg config.SensorConfig) *mqttSource {
	return &mqttSource{cfg: cfg}
}

// mqttFix is the JSON payload expected on the position topic.
type mqttFix struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	CapturedAt time.Time `json:"captured_at"`
}

func (m *mqttSource) Subscribe(opts SubscribeOptions) (<-chan Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return nil, fmt.Errorf("sensor mqtt: already subscribed")
	}

	copts := mqtt.NewClientOptions()
	copts.AddBroker(m.cfg.Endpoint)
	copts.SetClientID("waypost-" + fmt.Sprintf("%d", time.Now().UnixNano()))
	copts.SetAutoReconnect(true)
	copts.SetConnectTimeout(mqttConnectTimeout)
	copts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("sensor: mqtt connection lost", "broker", m.cfg.Endpoint, "err", err)
	})

	client := mqtt.NewClient(copts)
	if token := client.Connect(); token.WaitTimeout(mqttConnectTimeout) && token.Error() != nil {
		return nil, fmt.Errorf("%w: mqtt connect %s: %v", ErrNoProvider, m.cfg.Endpoint, token.Error())
	}
	if !client.IsConnected() {
		client.Disconnect(0)
		return nil, fmt.Errorf("%w: mqtt connect %s: timed out", ErrNoProvider, m.cfg.Endpoint)
	}

	out := make(chan Sample, 16)
	th := newThrottle(opts)
	var thMu sync.Mutex

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		var fix mqttFix
		if err := json.Unmarshal(msg.Payload(), &fix); err != nil {
			slog.Warn("sensor: mqtt payload unparseable", "topic", msg.Topic(), "err", err)
			return
		}
		s := Sample{
			Latitude:   fix.Latitude,
			Longitude:  fix.Longitude,
			Accuracy:   fix.Accuracy,
			CapturedAt: fix.CapturedAt,
		}
		if s.CapturedAt.IsZero() {
			s.CapturedAt = time.Now().UTC()
		}

		// paho may invoke handlers concurrently — serialize the throttle.
		thMu.Lock()
		ok := th.admit(s)
		thMu.Unlock()
		if !ok {
			return
		}

		select {
		case out <- s:
		default:
			// Consumer is behind; dropping the fix here is fine, the next
			// one supersedes it.
		}
	}

	if token := client.Subscribe(m.cfg.Topic, 1, handler); token.WaitTimeout(mqttConnectTimeout) && token.Error() != nil {
		client.Disconnect(mqttDisconnectQuiesce)
		return nil, fmt.Errorf("%w: mqtt subscribe %s: %v", ErrNoProvider, m.cfg.Topic, token.Error())
	}

	m.client = client
	slog.Info("sensor: mqtt stream started", "broker", m.cfg.Endpoint, "topic", m.cfg.Topic)
	return out, nil
}

func (m *mqttSource) Unsubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return
	}
	m.client.Unsubscribe(m.cfg.Topic)
	m.client.Disconnect(mqttDisconnectQuiesce)
	m.client = nil
	slog.Info("sensor: mqtt stream stopped", "broker", m.cfg.Endpoint)
}
