package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/banshee-data/cartvision/internal/events"
)

// Default topic names.
const (
	DefaultDetectionTopic = "cartvision.detections"
	DefaultAlertTopic     = "cartvision.alerts"
)

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers        []string
	DetectionTopic string
	AlertTopic     string
	WriteTimeout   time.Duration
}

// KafkaPublisher writes event envelopes to Kafka, keyed by session id so a
// session's events stay on one partition in order.
type KafkaPublisher struct {
	writer         messageWriter
	detectionTopic string
	alertTopic     string
}

// NewKafkaPublisher creates a publisher. MaxAttempts is 1: a failed write
// is reported, never resent.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  1,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafkaPublisher(w, cfg)
}

func newKafkaPublisher(w messageWriter, cfg KafkaConfig) *KafkaPublisher {
	if cfg.DetectionTopic == "" {
		cfg.DetectionTopic = DefaultDetectionTopic
	}
	if cfg.AlertTopic == "" {
		cfg.AlertTopic = DefaultAlertTopic
	}
	return &KafkaPublisher{
		writer:         w,
		detectionTopic: cfg.DetectionTopic,
		alertTopic:     cfg.AlertTopic,
	}
}

// NotifyDetection implements Notifier.
func (p *KafkaPublisher) NotifyDetection(ctx context.Context, d events.Detection) error {
	return p.write(ctx, p.detectionTopic, events.DetectionMessage(d))
}

// NotifyAlert implements Notifier.
func (p *KafkaPublisher) NotifyAlert(ctx context.Context, a events.Alert) error {
	return p.write(ctx, p.alertTopic, events.AlertMessage(a))
}

func (p *KafkaPublisher) write(ctx context.Context, topic string, msg events.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kafka: encode %s: %w", msg.Type, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(msg.SessionID),
		Value: b,
		Time:  msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("kafka: publish %s to %s: %w", msg.Type, topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
