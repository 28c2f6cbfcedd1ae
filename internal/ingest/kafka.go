package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"hydrotwin/internal/config"
	"hydrotwin/internal/model"
	"hydrotwin/internal/normalize"
	"hydrotwin/internal/telemetry"
)

// StartKafka consumes readings published by the SCADA gateway. The message key,
// when set, names the station.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.TelemetryReading, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	parser := NewParser()
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			r, ok := readingFromMessage(m, parser, cfg.Get())
			if !ok {
				continue
			}
			SendNonBlocking(ctx, out, r, logger)
		}
	}()
}

// readingFromMessage falls back to the message key for the station id.
func readingFromMessage(m kafka.Message, parser *Parser, cfg *config.Config) (model.TelemetryReading, bool) {
	fields, err := parser.ParseLine(string(m.Value))
	if err != nil || fields == nil {
		if err != nil {
			telemetry.ReadingsDropped.WithLabelValues("parse_error").Inc()
		}
		return model.TelemetryReading{}, false
	}
	if fields.StationID == "" && len(m.Key) > 0 {
		fields.StationID = string(m.Key)
	}
	r, err := normalize.Normalize(*fields, cfg)
	if err != nil {
		telemetry.ReadingsDropped.WithLabelValues("invalid").Inc()
		return model.TelemetryReading{}, false
	}
	r.Source = "kafka"
	return r, true
}
