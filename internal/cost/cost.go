// Package cost prices a leak repair from the PHED Basic Schedule of Rates.
package cost

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"hydrotwin/internal/model"
)

const (
	LaborRatePerHour = 450.0
	ContingencyRate  = 0.15

	DefaultSeverity = "medium"
)

type Item struct {
	Key         string  `json:"key"`
	Code        string  `json:"code"`
	Description string  `json:"description"`
	BaseCost    float64 `json:"base_cost"`
	LaborHours  float64 `json:"labor_hours"`
}

var catalog = map[string]Item{
	"pipe_repair_small":  {Key: "pipe_repair_small", Code: "PHED-2024-Item-3.1", Description: "Pipe Repair < 50mm GI", BaseCost: 2500, LaborHours: 2},
	"pipe_repair_medium": {Key: "pipe_repair_medium", Code: "PHED-2024-Item-4.2", Description: "Pipe Repair > 100mm DI", BaseCost: 8500, LaborHours: 6},
	"pipe_repair_large":  {Key: "pipe_repair_large", Code: "PHED-2024-Item-5.3", Description: "Main Line Repair > 200mm", BaseCost: 25000, LaborHours: 12},
	// no severity maps here
	"valve_replacement": {Key: "valve_replacement", Code: "PHED-2024-Item-6.1", Description: "Valve Replacement", BaseCost: 4500, LaborHours: 3},
}

var severities = map[string]string{
	"small":  "pipe_repair_small",
	"medium": "pipe_repair_medium",
	"large":  "pipe_repair_large",
}

// Catalog lists every item ordered by code.
func Catalog() []Item {
	out := make([]Item, 0, len(catalog))
	for _, it := range catalog {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Estimate never fails: unknown severities are priced as medium.
func Estimate(severity string) model.CostEstimate {
	est, err := EstimateStrict(severity)
	if err != nil {
		est, _ = EstimateStrict(DefaultSeverity)
	}
	return est
}

// EstimateStrict rejects severities outside small, medium and large.
func EstimateStrict(severity string) (model.CostEstimate, error) {
	key, ok := severities[strings.ToLower(strings.TrimSpace(severity))]
	if !ok {
		return model.CostEstimate{}, fmt.Errorf("severity %q: %w", severity, model.ErrUnknownSeverity)
	}
	return Price(catalog[key]), nil
}

func Price(it Item) model.CostEstimate {
	labor := it.LaborHours * LaborRatePerHour
	contingency := it.BaseCost * ContingencyRate
	total := it.BaseCost + labor + contingency
	return model.CostEstimate{
		Code:        it.Code,
		Description: it.Description,
		Total:       total,
		EstCost:     FormatRupees(total),
		Breakdown: model.CostBreakdown{
			Material:    it.BaseCost,
			Labor:       labor,
			Contingency: int(contingency),
		},
	}
}

// FormatRupees truncates to whole rupees and groups thousands: "₹ 34,150".
func FormatRupees(v float64) string {
	return "₹ " + humanize.Comma(int64(v))
}
