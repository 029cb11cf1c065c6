package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"pantilt-remote/internal/debug"
	"pantilt-remote/internal/motion"
	"pantilt-remote/internal/protocol"
)

// MQTTConfig for the broker connection.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	// Skip position_updated events, which arrive once per poll interval.
	SkipPositions bool
}

// DefaultTopic is the topic prefix used when none is configured.
const DefaultTopic = "pantilt/events"

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes controller events as JSON to "<topic>/<kind>".
type MQTTSink struct {
	cfg    MQTTConfig
	pub    publisher
	client mqtt.Client
	now    func() time.Time
}

// DialMQTT connects to the broker. The client reconnects on its own after
// the first successful connection.
func DialMQTT(cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "pantilt-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		debug.Warn("MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}
	debug.Info("Connected to MQTT broker %s as %s", cfg.Broker, cfg.ClientID)

	s := newMQTTSink(cfg, client)
	s.client = client
	return s, nil
}

func newMQTTSink(cfg MQTTConfig, pub publisher) *MQTTSink {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	cfg.Topic = strings.TrimRight(cfg.Topic, "/")
	return &MQTTSink{cfg: cfg, pub: pub, now: time.Now}
}

// Publish implements motion.EventSink. It does not wait for delivery.
func (s *MQTTSink) Publish(e motion.Event) {
	if s.cfg.SkipPositions && e.Kind == motion.EventPositionUpdated {
		return
	}
	data, err := json.Marshal(protocol.NewEventPayload(e, s.now()))
	if err != nil {
		debug.Error(fmt.Errorf("encode MQTT event: %w", err))
		return
	}

	topic := s.cfg.Topic + "/" + e.Kind.String()
	token := s.pub.Publish(topic, 0, false, data)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			debug.Warn("MQTT publish to %s failed: %v", topic, token.Error())
		}
	}()
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	if s.client != nil {
		s.client.Disconnect(250)
	}
	return nil
}
