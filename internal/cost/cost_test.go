package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrotwin/internal/model"
)

func TestEstimateLarge(t *testing.T) {
	est := Estimate("large")
	assert.Equal(t, "PHED-2024-Item-5.3", est.Code)
	assert.Equal(t, 25000*1.15+12*450, est.Total)
	assert.Equal(t, "₹ 34,150", est.EstCost)
	assert.Equal(t, model.CostBreakdown{Material: 25000, Labor: 5400, Contingency: 3750}, est.Breakdown)
}

func TestEstimateTiers(t *testing.T) {
	cases := []struct {
		severity string
		code     string
		cost     string
	}{
		{"small", "PHED-2024-Item-3.1", "₹ 3,775"},
		{"medium", "PHED-2024-Item-4.2", "₹ 12,475"},
		{"MEDIUM", "PHED-2024-Item-4.2", "₹ 12,475"},
		{"catastrophic", "PHED-2024-Item-4.2", "₹ 12,475"},
		{"", "PHED-2024-Item-4.2", "₹ 12,475"},
	}
	for _, tc := range cases {
		est := Estimate(tc.severity)
		assert.Equal(t, tc.code, est.Code, tc.severity)
		assert.Equal(t, tc.cost, est.EstCost, tc.severity)
	}
}

func TestEstimateStrict(t *testing.T) {
	_, err := EstimateStrict("catastrophic")
	require.ErrorIs(t, err, model.ErrUnknownSeverity)

	est, err := EstimateStrict("small")
	require.NoError(t, err)
	assert.Equal(t, 375, est.Breakdown.Contingency)
}

func TestValveReplacementIsCatalogOnly(t *testing.T) {
	var found bool
	for _, it := range Catalog() {
		if it.Code == "PHED-2024-Item-6.1" {
			found = true
			assert.Equal(t, "₹ 6,525", Price(it).EstCost)
		}
	}
	assert.True(t, found)
	assert.Len(t, Catalog(), 4)
	_, err := EstimateStrict("valve_replacement")
	require.ErrorIs(t, err, model.ErrUnknownSeverity)
}
