package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/cartvision/internal/events"
)

// DefaultMQTTTopicPrefix roots the per-session topics.
const DefaultMQTTTopicPrefix = "cartvision/sessions"

// MQTTConfig configures an MQTTPublisher.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	ConnectTimeout time.Duration
}

// MQTTPublisher pushes events to cart displays at QoS 0 on
// <prefix>/<session>/detections and <prefix>/<session>/alerts.
type MQTTPublisher struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
}

// DialMQTT connects to the broker and returns a publisher.
func DialMQTT(cfg MQTTConfig) (*MQTTPublisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "cartvision-" + randomID()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}
	return NewMQTTPublisher(client, cfg.TopicPrefix), nil
}

// NewMQTTPublisher wraps an already connected client.
func NewMQTTPublisher(client mqtt.Client, prefix string) *MQTTPublisher {
	if prefix == "" {
		prefix = DefaultMQTTTopicPrefix
	}
	return &MQTTPublisher{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		timeout: 5 * time.Second,
	}
}

// NotifyDetection implements Notifier.
func (p *MQTTPublisher) NotifyDetection(_ context.Context, d events.Detection) error {
	return p.publish(p.topic(d.SessionID, "detections"), events.DetectionMessage(d))
}

// NotifyAlert implements Notifier.
func (p *MQTTPublisher) NotifyAlert(_ context.Context, a events.Alert) error {
	return p.publish(p.topic(a.SessionID, "alerts"), events.AlertMessage(a))
}

func (p *MQTTPublisher) topic(sessionID, kind string) string {
	return p.prefix + "/" + sessionID + "/" + kind
}

func (p *MQTTPublisher) publish(topic string, msg events.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mqtt: encode %s: %w", msg.Type, err)
	}
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("mqtt: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
