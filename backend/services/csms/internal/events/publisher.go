package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/station"
)

const publishTimeout = 5 * time.Second

// PublisherConfig holds the MQTT publisher configuration
type PublisherConfig struct {
	BrokerURL   string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
	QoS         byte
	Retained    bool
	// MeterSamples also publishes every power sample, which is chatty.
	MeterSamples bool
}

// Publisher forwards station events to an MQTT broker.
type Publisher struct {
	client mqtt.Client
	config PublisherConfig
	logger *zap.Logger
}

// NewPublisher creates a publisher; call Connect before use.
func NewPublisher(config PublisherConfig, logger *zap.Logger) *Publisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.BrokerURL)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(30 * time.Second)
	opts.SetMaxReconnectInterval(5 * time.Minute)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", config.BrokerURL))
	})

	return newPublisher(mqtt.NewClient(opts), config, logger)
}

func newPublisher(client mqtt.Client, config PublisherConfig, logger *zap.Logger) *Publisher {
	if config.TopicPrefix == "" {
		config.TopicPrefix = "csms"
	}
	return &Publisher{client: client, config: config, logger: logger}
}

// Connect establishes connection to the MQTT broker
func (p *Publisher) Connect() error {
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Disconnect closes the connection to the MQTT broker
func (p *Publisher) Disconnect() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.logger.Info("mqtt disconnected")
	}
}

// Topic renders {prefix}/{category}s/{stationId}/{name}, e.g. csms/transactions/CP1/started.
func Topic(prefix string, ev station.Event) string {
	return fmt.Sprintf("%s/%ss/%s/%s", strings.TrimRight(prefix, "/"), ev.Category(), ev.StationID, ev.Name())
}

// Publish sends the event in the background. Events are dropped while disconnected.
func (p *Publisher) Publish(_ context.Context, ev station.Event) {
	if ev.Type == station.EventMeterSample && !p.config.MeterSamples {
		return
	}
	go func() {
		if err := p.publishSync(ev); err != nil {
			p.logger.Debug("mqtt publish failed", zap.String("event", string(ev.Type)), zap.Error(err))
		}
	}()
}

func (p *Publisher) publishSync(ev station.Event) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := Topic(p.config.TopicPrefix, ev)
	token := p.client.Publish(topic, p.config.QoS, p.config.Retained, body)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout waiting for MQTT publish to %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("publish to %s: %w", topic, token.Error())
	}
	return nil
}
