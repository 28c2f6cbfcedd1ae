// Package normalize turns loosely typed telemetry fields from any ingest
// source into a model.TelemetryReading.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"hydrotwin/internal/config"
	"hydrotwin/internal/model"
)

var ErrNoPower = errors.New("reading carries no power_kw")

type ReadingFields struct {
	Timestamp   string
	StationID   string
	PowerKW     string
	LeakSpikeKW string
	VoltageV    string
	CurrentA    string
	FrequencyHz string
	PowerFactor string
	Extras      map[string]string
	Raw         string
}

// Normalize requires power_kw; the other electrical fields default to zero.
// Timestamps are kept verbatim because historical data uses clock-only labels.
func Normalize(fields ReadingFields, cfg *config.Config) (model.TelemetryReading, error) {
	station := strings.TrimSpace(fields.StationID)
	if station == "" {
		station = cfg.Ingest.Parser.DefaultStationID
	}
	if strings.TrimSpace(fields.PowerKW) == "" {
		return model.TelemetryReading{}, ErrNoPower
	}
	r := model.TelemetryReading{
		Timestamp: strings.TrimSpace(fields.Timestamp),
		StationID: station,
	}
	if r.Timestamp == "" {
		r.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	var err error
	targets := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"power_kw", fields.PowerKW, &r.PowerKW},
		{"leak_spike_kw", fields.LeakSpikeKW, &r.LeakSpikeKW},
		{"voltage_v", fields.VoltageV, &r.VoltageV},
		{"current_a", fields.CurrentA, &r.CurrentA},
		{"frequency_hz", fields.FrequencyHz, &r.FrequencyHz},
		{"power_factor", fields.PowerFactor, &r.PowerFactor},
	}
	for _, t := range targets {
		if *t.dst, err = ParseFloat(t.raw); err != nil {
			return model.TelemetryReading{}, fmt.Errorf("parse %s: %w", t.name, err)
		}
	}
	if r.PowerKW < 0 {
		return model.TelemetryReading{}, fmt.Errorf("negative power_kw %v", r.PowerKW)
	}
	return r, nil
}

var ErrNotFinite = errors.New("value is not finite")

// ParseFloat treats an empty value as zero and rejects NaN and infinities.
func ParseFloat(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q: %w", raw, ErrNotFinite)
	}
	return v, nil
}

// Location resolves the configured parser timezone, UTC when unset or invalid.
func Location(cfg *config.Config) *time.Location {
	if cfg != nil && cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			return l
		}
	}
	return time.UTC
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04",
	"Jan 02 15:04:05",
	"Jan 2 15:04:05",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if layout == "Jan 02 15:04:05" || layout == "Jan 2 15:04:05" {
			if t, err := time.ParseInLocation(layout, value, loc); err == nil {
				now := time.Now().In(loc)
				return time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
			}
			continue
		}
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
