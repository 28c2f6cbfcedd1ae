// Package ingest feeds live pump-station telemetry into the engine from REST,
// file tails, TCP streams, UDP datagrams and Kafka, and loads the historical
// CSV batch.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"hydrotwin/internal/config"
	"hydrotwin/internal/model"
	"hydrotwin/internal/normalize"
	"hydrotwin/internal/telemetry"
)

func SendNonBlocking(ctx context.Context, out chan<- model.TelemetryReading, r model.TelemetryReading, logger *slog.Logger) bool {
	select {
	case out <- r:
		telemetry.ReadingsIngested.WithLabelValues(r.Source).Inc()
		return true
	case <-ctx.Done():
		return false
	default:
		telemetry.ReadingsDropped.WithLabelValues("channel_full").Inc()
		if logger != nil {
			logger.Warn("reading channel full, dropping reading", "station_id", r.StationID, "timestamp", r.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// lineSource forwards lines from one producer: a tailed file, a TCP
// connection or a UDP peer. Each keeps its own parser so a CSV header seen on
// one producer never shapes rows from another.
type lineSource struct {
	cfg    *config.Manager
	out    chan<- model.TelemetryReading
	logger *slog.Logger
	name   string
	parser *Parser

	accepted int
	rejected int
}

func newLineSource(cfg *config.Manager, out chan<- model.TelemetryReading, logger *slog.Logger, name string) *lineSource {
	return &lineSource{cfg: cfg, out: out, logger: logger, name: name, parser: NewParser()}
}

// restart forgets the header, e.g. after a tailed export was rotated.
func (s *lineSource) restart() {
	s.parser = NewParser()
}

func (s *lineSource) handle(ctx context.Context, line string) {
	fields, err := s.parser.ParseLine(line)
	if err != nil {
		s.rejected++
		telemetry.ReadingsDropped.WithLabelValues("parse_error").Inc()
		return
	}
	if fields == nil {
		return
	}
	r, err := normalize.Normalize(*fields, s.cfg.Get())
	if err != nil {
		s.rejected++
		telemetry.ReadingsDropped.WithLabelValues("invalid").Inc()
		if s.logger != nil {
			s.logger.Warn(s.name+" normalize error", "err", err)
		}
		return
	}
	r.Source = s.name
	if SendNonBlocking(ctx, s.out, r, s.logger) {
		s.accepted++
	}
}
