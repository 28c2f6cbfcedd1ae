// Package classifier scores pump-station telemetry with an isolation forest
// trained once over historical electrical features.
package classifier

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"hydrotwin/internal/model"
)

type State int

const (
	Untrained State = iota
	Trained
	// DegradedTrainedOnRequest means no training data was available at startup
	// and the forest was fitted on the first batch it was asked to score.
	DegradedTrainedOnRequest
)

func (s State) String() string {
	switch s {
	case Trained:
		return "trained"
	case DegradedTrainedOnRequest:
		return "degraded_trained_on_request"
	}
	return "untrained"
}

// minFitSamples is the smallest batch a forest is fitted on.
const minFitSamples = 2

// ErrInsufficientSpread is returned when the readings are too few or all
// identical, so no split can isolate anything.
var ErrInsufficientSpread = errors.New("readings have no spread to fit on")

type Options struct {
	Trees         int
	MaxSamples    int
	Contamination float64
	Seed          int64
}

func DefaultOptions() Options {
	return Options{Trees: 100, MaxSamples: 256, Contamination: 0.05, Seed: 42}
}

type Classifier struct {
	opts    Options
	logger  *slog.Logger
	mu      sync.RWMutex
	forest  *Forest
	state   State
	trained int
	skipped bool
}

func New(opts Options, logger *slog.Logger) *Classifier {
	def := DefaultOptions()
	if opts.Trees <= 0 {
		opts.Trees = def.Trees
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = def.MaxSamples
	}
	if opts.Contamination <= 0 {
		opts.Contamination = def.Contamination
	}
	return &Classifier{opts: opts, logger: logger}
}

// Train fits the forest on historical readings. It is meant to run once before
// the first Score call.
func (c *Classifier) Train(readings []model.TelemetryReading) error {
	if len(readings) == 0 {
		return fmt.Errorf("train classifier: %w", model.ErrMissingInput)
	}
	if !fittable(readings) {
		return fmt.Errorf("train classifier on %d readings: %w", len(readings), ErrInsufficientSpread)
	}
	forest := c.fit(readings)
	c.mu.Lock()
	c.forest = forest
	c.state = Trained
	c.trained = len(readings)
	c.mu.Unlock()
	if c.logger != nil {
		c.logger.Info("classifier trained", "samples", len(readings), "trees", c.opts.Trees, "offset", forest.Offset())
	}
	return nil
}

func (c *Classifier) fit(readings []model.TelemetryReading) *Forest {
	data := make([][]float64, len(readings))
	for i, r := range readings {
		data[i] = r.Features()
	}
	rng := rand.New(rand.NewSource(c.opts.Seed))
	return fitForest(data, c.opts.Trees, c.opts.MaxSamples, c.opts.Contamination, rng)
}

// fittable reports whether the batch has at least minFitSamples readings and
// at least one feature that varies.
func fittable(readings []model.TelemetryReading) bool {
	if len(readings) < minFitSamples {
		return false
	}
	first := readings[0].Features()
	for _, r := range readings[1:] {
		for j, v := range r.Features() {
			if v != first[j] {
				return true
			}
		}
	}
	return false
}

// Score labels every reading. An untrained classifier fits itself on the batch
// first and moves to DegradedTrainedOnRequest. A batch too small or too flat to
// fit on comes back unscored and the classifier stays Untrained.
func (c *Classifier) Score(readings []model.TelemetryReading) []model.AnomalyLabel {
	if len(readings) == 0 {
		return []model.AnomalyLabel{}
	}
	forest := c.ensureFitted(readings)
	out := make([]model.AnomalyLabel, len(readings))
	if forest == nil {
		for i := range out {
			out[i] = model.AnomalyLabel{Unscored: true}
		}
		return out
	}
	for i, r := range readings {
		d := forest.Decision(r.Features())
		out[i] = model.AnomalyLabel{IsAnomaly: d < 0, AnomalyScore: d}
	}
	return out
}

func (c *Classifier) ScoreOne(reading model.TelemetryReading) model.AnomalyLabel {
	return c.Score([]model.TelemetryReading{reading})[0]
}

// Label attaches labels to a batch without changing its order.
func (c *Classifier) Label(readings []model.TelemetryReading) []model.LabeledReading {
	labels := c.Score(readings)
	out := make([]model.LabeledReading, len(readings))
	for i, r := range readings {
		out[i] = model.LabeledReading{TelemetryReading: r, AnomalyLabel: labels[i]}
	}
	return out
}

func (c *Classifier) ensureFitted(batch []model.TelemetryReading) *Forest {
	c.mu.RLock()
	forest := c.forest
	c.mu.RUnlock()
	if forest != nil {
		return forest
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.forest != nil {
		return c.forest
	}
	if !fittable(batch) {
		if c.logger != nil && !c.skipped {
			c.logger.Warn("classifier not trained, batch too small to fit", "samples", len(batch))
		}
		c.skipped = true
		return nil
	}
	if c.logger != nil {
		c.logger.Warn("classifier not trained, fitting on request batch", "samples", len(batch))
	}
	c.forest = c.fit(batch)
	c.state = DegradedTrainedOnRequest
	c.trained = len(batch)
	return c.forest
}

func (c *Classifier) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Classifier) Ready() bool {
	return c.State() != Untrained
}

func (c *Classifier) TrainedSamples() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trained
}
