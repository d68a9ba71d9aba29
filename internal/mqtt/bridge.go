// Package mqtt mirrors the illuminance cluster to an MQTT broker and accepts
// attribute writes from remote clients.
package mqtt

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ztkent/lux-meter/internal/attribute"
	"github.com/ztkent/lux-meter/internal/illuminance"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string

	ConnectTimeout time.Duration // default 10s
	RetryInterval  time.Duration // default 5s
}

// Bridge publishes cluster state on every change and forwards /set commands into the store.
type Bridge struct {
	client   pahomqtt.Client
	store    *attribute.Store
	sensor   *illuminance.Sensor
	endpoint uint16
	prefix   string
	clientID string
	l        logrus.FieldLogger
	unsub    func()
}

func newBridge(store *attribute.Store, sensor *illuminance.Sensor, endpoint uint16, cfg Config, logger logrus.FieldLogger) *Bridge {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "luxmeter"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "lux-meter"
	}
	return &Bridge{
		store:    store,
		sensor:   sensor,
		endpoint: endpoint,
		prefix:   cfg.TopicPrefix,
		clientID: cfg.ClientID,
		l:        logger.WithField("component", "mqtt"),
	}
}

// NewBridge creates and connects an MQTT bridge. When the first connection
// fails the client is shut down, nothing keeps retrying in the background.
func NewBridge(store *attribute.Store, sensor *illuminance.Sensor, endpoint uint16, cfg Config, logger logrus.FieldLogger) (*Bridge, error) {
	b := newBridge(store, sensor, endpoint, cfg, logger)
	if err := b.connect(cfg); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bridge) connect(cfg Config) error {
	timeout, retry := cfg.ConnectTimeout, cfg.RetryInterval
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retry <= 0 {
		retry = 5 * time.Second
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(b.clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retry).
		SetWill(b.availabilityTopic(), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.l.Info("MQTT connected")
			b.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.l.WithError(err).Warn("MQTT connection lost")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(timeout) {
		b.client.Disconnect(0)
		return fmt.Errorf("mqtt connect timeout after %s", timeout)
	}
	if err := token.Error(); err != nil {
		b.client.Disconnect(0)
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Start subscribes to store changes.
func (b *Bridge) Start() {
	b.unsub = b.store.Subscribe(b.handleChange)
	b.l.WithField("prefix", b.prefix).Info("MQTT bridge started")
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publish(b.availabilityTopic(), []byte("offline"), true)
	if b.client != nil {
		b.client.Disconnect(1000)
	}
	b.l.Info("MQTT bridge stopped")
}

func (b *Bridge) stateTopic() string        { return b.prefix + "/illuminance" }
func (b *Bridge) commandTopic() string      { return b.prefix + "/illuminance/set" }
func (b *Bridge) availabilityTopic() string { return b.prefix + "/bridge/state" }

// onConnect runs after every (re)connection: announce, subscribe, then force a full resync.
func (b *Bridge) onConnect() {
	b.publish(b.availabilityTopic(), []byte("online"), true)
	msg := buildDiscovery(b.prefix, b.clientID)
	b.publish(msg.Topic, msg.Payload, true)
	if b.client != nil {
		token := b.client.Subscribe(b.commandTopic(), 1, func(_ pahomqtt.Client, m pahomqtt.Message) {
			b.handleCommand(m.Payload())
		})
		go b.await(token, b.commandTopic(), "subscribe")
	}
	if err := b.sensor.UpdateAllAttributeValues(); err != nil {
		b.l.WithError(err).Warn("Failed to resync measured value")
	}
	b.publishState()
}

func (b *Bridge) handleChange(c attribute.Change) {
	if c.Type != attribute.PostUpdate || c.Endpoint != b.endpoint || c.ClusterID != attribute.ClusterIlluminanceMeasurement {
		return
	}
	b.publishState()
}

// State is the retained JSON document on the state topic.
type State struct {
	Illuminance      *float64        `json:"illuminance"`
	MeasuredValue    attribute.Value `json:"measured_value"`
	MinMeasuredValue attribute.Value `json:"min_measured_value"`
	MaxMeasuredValue attribute.Value `json:"max_measured_value"`
}

func (b *Bridge) state() (State, error) {
	c, err := b.store.Cluster(b.endpoint, attribute.ClusterIlluminanceMeasurement)
	if err != nil {
		return State{}, err
	}
	snap := b.store.Snapshot(c)
	s := State{
		MeasuredValue:    snap["MeasuredValue"],
		MinMeasuredValue: snap["MinMeasuredValue"],
		MaxMeasuredValue: snap["MaxMeasuredValue"],
	}
	if s.MeasuredValue.Valid {
		lux := math.Round(illuminance.Lux(s.MeasuredValue.Data)*100) / 100
		s.Illuminance = &lux
	}
	return s, nil
}

func (b *Bridge) publishState() {
	s, err := b.state()
	if err != nil {
		b.l.WithError(err).Error("Failed to read illuminance cluster")
		return
	}
	payload, _ := json.Marshal(s)
	b.publish(b.stateTopic(), payload, true)
}

// Command is accepted on the command topic.
type Command struct {
	MeasuredValue *uint16 `json:"measured_value"`
	Resync        bool    `json:"resync"`
}

func (b *Bridge) handleCommand(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.l.WithError(err).Warn("invalid command JSON")
		return
	}
	if cmd.MeasuredValue != nil {
		a, err := b.store.Lookup(b.endpoint, attribute.ClusterIlluminanceMeasurement, attribute.AttrMeasuredValue)
		if err != nil {
			b.l.WithError(err).Error("Failed to get MeasuredValue attribute")
			return
		}
		if err := b.store.SetValue(a, attribute.Uint16(*cmd.MeasuredValue), uuid.New()); err != nil {
			b.l.WithError(err).Warn("measured_value command failed")
		}
	}
	if cmd.Resync {
		if err := b.sensor.UpdateAllAttributeValues(); err != nil {
			b.l.WithError(err).Warn("resync command failed")
		}
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if b.client == nil {
		return
	}
	token := b.client.Publish(topic, 1, retained, payload)
	go b.await(token, topic, "publish")
}

func (b *Bridge) await(token pahomqtt.Token, topic, op string) {
	if !token.WaitTimeout(5 * time.Second) {
		b.l.WithField("topic", topic).Warnf("MQTT %s timeout", op)
	} else if err := token.Error(); err != nil {
		b.l.WithError(err).WithField("topic", topic).Warnf("MQTT %s error", op)
	}
}
