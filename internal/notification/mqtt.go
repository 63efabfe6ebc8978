package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
)

const (
	defaultConnectTimeout    = 30 * time.Second
	defaultPublishTimeout    = 10 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	mqttChannel              = "mqtt"
)

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	Retain         bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTTPublisher publishes every stage event as JSON to one topic.
type MQTTPublisher struct {
	config    MQTTConfig
	metrics   ConnectionRecorder
	newClient func(*mqtt.ClientOptions) mqtt.Client
	logger    logger.Logger

	mu     sync.Mutex
	client mqtt.Client
}

// NewMQTTPublisher validates config. Connect must be called before events are sent.
func NewMQTTPublisher(config MQTTConfig, metrics ConnectionRecorder) (*MQTTPublisher, error) {
	if strings.TrimSpace(config.Broker) == "" {
		return nil, errors.Newf("mqtt broker is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if strings.TrimSpace(config.Topic) == "" {
		return nil, errors.Newf("mqtt topic is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("broker", config.Broker).
			Build()
	}
	if config.ClientID == "" {
		config.ClientID = "migration-assistant"
	}
	// brokers drop the older session when two clients share an ID
	config.ClientID = config.ClientID + "-" + uuid.NewString()[:8]
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaultConnectTimeout
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaultPublishTimeout
	}
	return &MQTTPublisher{
		config:    config,
		metrics:   metrics,
		newClient: mqtt.NewClient,
		logger:    GetLogger(),
	}, nil
}

func (p *MQTTPublisher) Name() string { return mqttChannel }

// Accepts every event; MQTT consumers filter on their side.
func (p *MQTTPublisher) Accepts(Event) bool { return true }

// Connect establishes the broker connection. paho reconnects on its own afterwards.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.config.Broker)
	opts.SetClientID(p.config.ClientID)
	opts.SetUsername(p.config.Username)
	opts.SetPassword(p.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)

	p.client = p.newClient(opts)

	timeout := p.config.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	token := p.client.Connect()
	if !token.WaitTimeout(timeout) {
		return errors.Newf("mqtt connection timeout").
			Component("notification").
			Category(errors.CategoryTimeout).
			Context("broker", p.config.Broker).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryNetwork).
			Context("broker", p.config.Broker).
			Build()
	}

	p.updateConnection(true)
	return nil
}

// Send publishes ev to the configured topic.
func (p *MQTTPublisher) Send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode stage event: %w", err)
	}

	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("notification").
			Category(errors.CategoryNetwork).
			Context("broker", p.config.Broker).
			Build()
	}

	token := client.Publish(p.config.Topic, 0, p.config.Retain, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.config.PublishTimeout):
		return errors.Newf("mqtt publish timeout").
			Component("notification").
			Category(errors.CategoryTimeout).
			Context("topic", p.config.Topic).
			Build()
	}
	return token.Error()
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(defaultDisconnectQuiesce)
		p.updateConnection(false)
	}
}

func (p *MQTTPublisher) onConnect(mqtt.Client) {
	p.logger.Info("connected to MQTT broker", logger.String("broker", p.config.Broker))
	p.updateConnection(true)
}

func (p *MQTTPublisher) onConnectionLost(_ mqtt.Client, err error) {
	p.logger.Warn("connection to MQTT broker lost",
		logger.String("broker", p.config.Broker),
		logger.Error(err))
	p.updateConnection(false)
}

func (p *MQTTPublisher) updateConnection(connected bool) {
	if p.metrics != nil {
		p.metrics.UpdateConnectionStatus(connected)
	}
}
