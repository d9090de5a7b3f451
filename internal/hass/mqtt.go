package hass

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// WillTopic receives "offline" when the connection drops unexpectedly.
	WillTopic string
}

// MQTTPublisher is a Publisher backed by a paho MQTT client.
type MQTTPublisher struct {
	client mqtt.Client
	broker string
	logger *zap.Logger
}

// NewMQTTPublisher configures the client without connecting. onConnect runs
// after every (re)connect, which is where discovery configs are re-announced.
func NewMQTTPublisher(cfg MQTTConfig, onConnect func(), logger *zap.Logger) *MQTTPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, payloadOffline, 1, true)
	}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
		if onConnect != nil {
			go onConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	return &MQTTPublisher{client: mqtt.NewClient(opts), broker: cfg.Broker, logger: logger}
}

// Connect dials the broker and waits for the session.
func (p *MQTTPublisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return fmt.Errorf("timeout connecting to MQTT broker %s", p.broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Start connects in the background until the broker accepts a session or ctx
// ends. Paho's auto reconnect covers later drops.
func (p *MQTTPublisher) Start(ctx context.Context) {
	go retryConnect(ctx, p.Connect, time.Second, time.Minute, p.logger)
}

// Publish sends payload with QoS 1.
func (p *MQTTPublisher) Publish(topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout publishing to %s", topic)
	}
	return token.Error()
}

// Close disconnects from the broker, letting in-flight messages drain.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
