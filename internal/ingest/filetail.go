package ingest

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"hydrotwin/internal/config"
	"hydrotwin/internal/model"
)

const (
	tailPollInterval  = 200 * time.Millisecond
	tailRetryInterval = 500 * time.Millisecond
)

// StartFileTail follows SCADA export files, typically the energy CSV a pump
// station logger keeps appending to.
func StartFileTail(ctx context.Context, cfg *config.Manager, out chan<- model.TelemetryReading, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		t := &tailer{path: path, startAtEnd: current.StartAtEnd, src: newLineSource(cfg, out, logger, "file_tail"), logger: logger}
		go t.run(ctx)
	}
}

type tailer struct {
	path       string
	startAtEnd bool
	src        *lineSource
	logger     *slog.Logger

	offset int64
}

func (t *tailer) run(ctx context.Context) {
	for ctx.Err() == nil {
		f, err := os.Open(t.path)
		if err != nil {
			if t.logger != nil {
				t.logger.Warn("tail open failed", "path", t.path, "err", err)
			}
			if !BackoffSleep(ctx, tailRetryInterval) {
				return
			}
			continue
		}
		err = t.follow(ctx, f)
		_ = f.Close()
		if err == nil {
			return
		}
		if errors.Is(err, errRotated) {
			if t.logger != nil {
				t.logger.Info("tailed file rotated", "path", t.path, "accepted", t.src.accepted, "rejected", t.src.rejected)
			}
			// a rotated export starts over with its own header
			t.offset = 0
			t.startAtEnd = false
			t.src.restart()
			continue
		}
		if t.logger != nil {
			t.logger.Warn("tail read error", "path", t.path, "err", err)
		}
	}
}

var errRotated = errors.New("file truncated or replaced")

// follow reads f until ctx ends (nil) or the file is rotated or unreadable.
func (t *tailer) follow(ctx context.Context, f *os.File) error {
	if t.startAtEnd {
		if pos, err := f.Seek(0, io.SeekEnd); err == nil {
			t.offset = pos
		}
		t.startAtEnd = false
	} else if t.offset > 0 {
		if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
			return err
		}
	}
	reader := bufio.NewReader(f)
	var partial string
	for {
		chunk, err := reader.ReadString('\n')
		if err == nil {
			line := partial + chunk
			t.offset += int64(len(line))
			t.src.handle(ctx, line)
			partial = ""
			continue
		}
		if !errors.Is(err, io.EOF) {
			return err
		}
		// keep an unterminated row until the writer finishes it
		partial += chunk
		if !BackoffSleep(ctx, tailPollInterval) {
			return nil
		}
		info, statErr := os.Stat(t.path)
		if statErr != nil || info.Size() < t.offset+int64(len(partial)) {
			return errRotated
		}
	}
}
