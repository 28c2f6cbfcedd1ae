// Package notify forwards raised alerts to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"hydrotwin/internal/config"
	"hydrotwin/internal/model"
)

type Publisher interface {
	Publish(ctx context.Context, alert model.Alert) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one JSON message per alert, keyed by station so a
// station's alerts stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher returns nil when Kafka notification is disabled.
func NewPublisher(cfg config.KafkaWriterConfig, logger *slog.Logger) Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		if logger != nil {
			logger.Info("kafka alert publishing disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("kafka alert publishing enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, alert model.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(alert.StationID),
		Value: payload,
		Time:  alert.Timestamp,
		Headers: []kafka.Header{
			{Key: "alert_type", Value: []byte(alert.AlertType)},
			{Key: "severity", Value: []byte(alert.Severity)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		if p.logger != nil {
			p.logger.Warn("kafka publish failed", "alert_id", alert.ID, "err", err)
		}
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
