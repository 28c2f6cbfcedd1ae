// Package diagnosis separates a leak's localized moisture signature from
// area-wide rainfall before any alert is raised.
package diagnosis

import (
	"fmt"
	"strings"

	"hydrotwin/internal/model"
)

type Weather string

const (
	Clear Weather = "CLEAR"
	Rain  Weather = "RAIN"
)

const (
	SignalCommonMode   = "COMMON_MODE"
	SignalDifferential = "DIFFERENTIAL"
	SignalUnclassified = "UNCLASSIFIED"

	ActionSuppress = "SUPPRESS_ALERTS"
	ActionTrigger  = "TRIGGER_ALERT"

	rainMoistureIndex  = 0.92
	clearMoistureIndex = 0.05
)

func ParseWeather(raw string) (Weather, error) {
	switch w := Weather(strings.ToUpper(strings.TrimSpace(raw))); w {
	case Clear, Rain:
		return w, nil
	}
	return "", fmt.Errorf("weather %q: %w", raw, model.ErrUnknownWeather)
}

type Report struct {
	Weather             Weather `json:"weather_condition"`
	GlobalMoistureIndex float64 `json:"global_moisture_index"`
	SignalClass         string  `json:"signal_classification"`
	Action              string  `json:"action"`
	InputFeatures       int     `json:"input_features"`
	EmittedFeatures     int     `json:"emitted_features"`
	Summary             string  `json:"summary"`
}

type Result struct {
	Report   Report                  `json:"report"`
	Geometry model.FeatureCollection `json:"geometry"`
}

// Diagnose is all-or-nothing: rain suppresses every feature, clear skies pass
// every feature through with a persistence annotation. A weather value outside
// the known set suppresses like rain. Input is never mutated.
func Diagnose(w Weather, features model.FeatureCollection) Result {
	out := Result{
		Report:   Report{Weather: w, InputFeatures: len(features.Features)},
		Geometry: model.NewFeatureCollection(),
	}
	switch w {
	case Rain:
		out.Report.GlobalMoistureIndex = rainMoistureIndex
		out.Report.SignalClass = SignalCommonMode
		out.Report.Action = ActionSuppress
		out.Report.Summary = "Moisture is uniform across the monitored area; consistent with rainfall, not a leak."
	case Clear:
		out.Report.GlobalMoistureIndex = clearMoistureIndex
		out.Report.SignalClass = SignalDifferential
		out.Report.Action = ActionTrigger
		out.Report.Summary = "Localized moisture persists against a dry background; consistent with a subsurface leak."
		for _, f := range features.Features {
			enriched := f.Clone()
			enriched.Properties["persistence"] = "PERSISTENT"
			enriched.Properties["dried_out"] = false
			enriched.Properties["signal_classification"] = SignalDifferential
			out.Geometry.Features = append(out.Geometry.Features, enriched)
		}
	default:
		out.Report.SignalClass = SignalUnclassified
		out.Report.Action = ActionSuppress
		out.Report.Summary = fmt.Sprintf("Weather condition %q is not recognized; alerts suppressed.", string(w))
	}
	out.Report.EmittedFeatures = len(out.Geometry.Features)
	return out
}

// DiagnoseRaw parses the weather flag first; an unknown value is an error.
func DiagnoseRaw(weather string, features model.FeatureCollection) (Result, error) {
	w, err := ParseWeather(weather)
	if err != nil {
		return Result{}, err
	}
	return Diagnose(w, features), nil
}
