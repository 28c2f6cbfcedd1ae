package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"hydrotwin/internal/config"
	"hydrotwin/internal/model"
	"hydrotwin/internal/normalize"
	"hydrotwin/internal/telemetry"
)

// CSVFile is the historical telemetry batch on disk. It is re-read on every
// Load so edits to the export show up without a restart.
type CSVFile struct {
	path   string
	cfg    *config.Manager
	logger *slog.Logger
}

func NewCSVFile(path string, cfg *config.Manager, logger *slog.Logger) *CSVFile {
	return &CSVFile{path: path, cfg: cfg, logger: logger}
}

func (f *CSVFile) Path() string {
	return f.path
}

// Load returns every parseable row in file order. Rows that fail to parse are
// skipped and counted; a missing file is ErrMissingInput.
func (f *CSVFile) Load(ctx context.Context) ([]model.TelemetryReading, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("telemetry %s: %w", f.path, model.ErrMissingInput)
		}
		return nil, err
	}
	defer file.Close()

	cfg := f.cfg.Get()
	parser := NewParser()
	out := make([]model.TelemetryReading, 0, 256)
	skipped := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if line%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fields, err := parser.ParseLine(scanner.Text())
		if err != nil {
			skipped++
			continue
		}
		if fields == nil {
			continue
		}
		r, err := normalize.Normalize(*fields, cfg)
		if err != nil {
			skipped++
			continue
		}
		r.Source = "csv"
		out = append(out, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read telemetry %s: %w", f.path, err)
	}
	if skipped > 0 {
		telemetry.ReadingsDropped.WithLabelValues("csv_row").Add(float64(skipped))
		if f.logger != nil {
			f.logger.Warn("skipped malformed telemetry rows", "path", f.path, "skipped", skipped)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("telemetry %s has no readings: %w", f.path, model.ErrMissingInput)
	}
	return out, nil
}
