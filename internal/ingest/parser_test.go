package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"hydrotwin/internal/config"
	"hydrotwin/internal/model"
	"hydrotwin/internal/normalize"
)

func TestParsePlainText(t *testing.T) {
	p := NewParser()
	line := "2026-02-23 12:34:56 P3 power_kw=48.2 voltage_v=412 current_a=66.1 pf=0.91"
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.StationID != "P3" {
		t.Fatalf("station id: %s", fields.StationID)
	}
	if fields.PowerKW != "48.2" || fields.PowerFactor != "0.91" {
		t.Fatalf("electrical fields missing: %+v", fields)
	}
	if fields.Timestamp != "2026-02-23 12:34:56" {
		t.Fatalf("timestamp: %q", fields.Timestamp)
	}
}

func TestParseClockOnlyLabel(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("14:05 station=P2 power_kw=52")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Timestamp != "14:05" || fields.StationID != "P2" {
		t.Fatalf("unexpected fields: %+v", fields)
	}
}

func TestParseCSV(t *testing.T) {
	p := NewParser()
	if fields, _ := p.ParseLine("timestamp,power_kw,leak_spike_kw,voltage_v,current_a,frequency_hz,power_factor"); fields != nil {
		t.Fatalf("expected header to return nil")
	}
	fields, err := p.ParseLine("14:05,45.1,72.4,415.2,63.0,50.01,0.89")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.PowerKW != "45.1" || fields.LeakSpikeKW != "72.4" || fields.FrequencyHz != "50.01" {
		t.Fatalf("csv parse mismatch: %+v", fields)
	}
}

func TestParseCSVWithoutHeaderUsesExportOrder(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("14:10,44.0,70.0,414.0,62.0,50.0,0.9")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Timestamp != "14:10" || fields.VoltageV != "414.0" || fields.PowerFactor != "0.9" {
		t.Fatalf("positional mismatch: %+v", fields)
	}
}

func TestParseJSON(t *testing.T) {
	p := NewParser()
	line := `{"timestamp":"2026-02-23T12:34:56Z","pump_id":"P9","power":47.5,"voltage":411,"ts_ms":1708691696000}`
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.StationID != "P9" || fields.PowerKW != "47.5" || fields.VoltageV != "411" {
		t.Fatalf("json parse mismatch: %+v", fields)
	}
	if fields.Extras["ts_ms"] != "1708691696000" {
		t.Fatalf("large numbers must not use exponent form: %q", fields.Extras["ts_ms"])
	}
}

func TestNormalizeRequiresPower(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := normalize.Normalize(normalize.ReadingFields{VoltageV: "410"}, cfg); !errors.Is(err, normalize.ErrNoPower) {
		t.Fatalf("expected ErrNoPower, got %v", err)
	}
	r, err := normalize.Normalize(normalize.ReadingFields{PowerKW: "45"}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if r.StationID != cfg.Ingest.Parser.DefaultStationID || r.Timestamp == "" {
		t.Fatalf("defaults not applied: %+v", r)
	}
	if _, err := normalize.Normalize(normalize.ReadingFields{PowerKW: "abc"}, cfg); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNormalizeRejectsNonFiniteValues(t *testing.T) {
	cfg := config.DefaultConfig()
	for _, raw := range []string{"NaN", "nan", "Inf", "+Inf", "-Inf"} {
		_, err := normalize.Normalize(normalize.ReadingFields{PowerKW: raw}, cfg)
		if !errors.Is(err, normalize.ErrNotFinite) {
			t.Fatalf("power_kw=%s: expected ErrNotFinite, got %v", raw, err)
		}
	}
	_, err := normalize.Normalize(normalize.ReadingFields{PowerKW: "45", VoltageV: "NaN"}, cfg)
	if !errors.Is(err, normalize.ErrNotFinite) {
		t.Fatalf("voltage_v=NaN: expected ErrNotFinite, got %v", err)
	}
}

func TestCSVFileLoadSkipsBadRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "energy.csv")
	data := strings.Join([]string{
		"timestamp,power_kw,leak_spike_kw,voltage_v,current_a,frequency_hz,power_factor",
		"14:00,45.0,70.0,415,63,50,0.9",
		"14:01,not-a-number,70.0,415,63,50,0.9",
		"",
		"14:02,46.0,71.0,414,64,50,0.9",
	}, "\n")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	src := NewCSVFile(path, config.NewStaticManager(nil), nil)
	rows, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[1].Timestamp != "14:02" || rows[1].LeakSpikeKW != 71 || rows[1].Source != "csv" {
		t.Fatalf("unexpected row: %+v", rows[1])
	}
}

func TestCSVFileMissing(t *testing.T) {
	src := NewCSVFile(filepath.Join(t.TempDir(), "absent.csv"), config.NewStaticManager(nil), nil)
	if _, err := src.Load(context.Background()); !errors.Is(err, model.ErrMissingInput) {
		t.Fatalf("expected missing input, got %v", err)
	}
}

func TestRESTAcceptsBatch(t *testing.T) {
	out := make(chan model.TelemetryReading, 4)
	srv := NewRESTServer(config.NewStaticManager(nil), out, nil)
	body := `[{"station_id":"P1","power_kw":45},{"station_id":"P1"}]`
	req := httptest.NewRequest(http.MethodPost, "/readings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"accepted":1`) || !strings.Contains(rec.Body.String(), `"failed":1`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if got := <-out; got.Source != "rest" || got.PowerKW != 45 {
		t.Fatalf("unexpected reading: %+v", got)
	}
}

func TestKafkaKeyFillsStation(t *testing.T) {
	cfg := config.DefaultConfig()
	msg := kafka.Message{Key: []byte("P7"), Value: []byte(`{"power_kw":50}`)}
	r, ok := readingFromMessage(msg, NewParser(), cfg)
	if !ok || r.StationID != "P7" || r.Source != "kafka" {
		t.Fatalf("unexpected reading: %+v ok=%v", r, ok)
	}
}

func TestSendNonBlockingDropsWhenFull(t *testing.T) {
	out := make(chan model.TelemetryReading, 1)
	ctx := context.Background()
	if !SendNonBlocking(ctx, out, model.TelemetryReading{Source: "test"}, nil) {
		t.Fatalf("first send should succeed")
	}
	if SendNonBlocking(ctx, out, model.TelemetryReading{Source: "test"}, nil) {
		t.Fatalf("second send should be dropped")
	}
}

func TestLineSourcesKeepSeparateHeaders(t *testing.T) {
	out := make(chan model.TelemetryReading, 4)
	cfg := config.NewStaticManager(nil)
	ctx := context.Background()
	a := newLineSource(cfg, out, nil, "tcp_stream")
	b := newLineSource(cfg, out, nil, "tcp_stream")

	a.handle(ctx, "power_kw,station_id")
	a.handle(ctx, "51.5,P4")
	b.handle(ctx, "14:20,47.0,70.1,410,60,50,0.9")

	first, second := <-out, <-out
	if first.StationID != "P4" || first.PowerKW != 51.5 {
		t.Fatalf("header source mismatch: %+v", first)
	}
	if second.Timestamp != "14:20" || second.PowerKW != 47 {
		t.Fatalf("positional source picked up a foreign header: %+v", second)
	}
	if a.accepted != 1 || b.accepted != 1 {
		t.Fatalf("accepted counts: %d %d", a.accepted, b.accepted)
	}
}

func TestTailerFollowsAppendsAndRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.csv")
	if err := os.WriteFile(path, []byte("timestamp,power_kw\n14:00,45.0\n14:01,4"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := make(chan model.TelemetryReading, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tl := &tailer{path: path, src: newLineSource(config.NewStaticManager(nil), out, nil, "file_tail")}
	go tl.run(ctx)

	if got := receive(t, out); got.Timestamp != "14:00" {
		t.Fatalf("first row: %+v", got)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString("6.5\n")
	_ = f.Close()
	if got := receive(t, out); got.Timestamp != "14:01" || got.PowerKW != 46.5 {
		t.Fatalf("partial row not joined: %+v", got)
	}

	if err := os.WriteFile(path, []byte("power_kw,timestamp\n50,15:00\n"), 0o644); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if got := receive(t, out); got.Timestamp != "15:00" || got.PowerKW != 50 {
		t.Fatalf("rotated file should use its own header: %+v", got)
	}
}

func receive(t *testing.T, out <-chan model.TelemetryReading) model.TelemetryReading {
	t.Helper()
	select {
	case r := <-out:
		return r
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for a reading")
	}
	return model.TelemetryReading{}
}
