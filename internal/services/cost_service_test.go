package services

import (
	"testing"

	"github.com/luminapix/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func enhanceParams(quality string, steps int, guidance float64) models.JobParams {
	return models.JobParams{Enhance: &models.EnhanceParams{Quality: quality, Steps: steps, GuidanceScale: guidance}}
}

func upscaleParams(factor, steps int) models.JobParams {
	return models.JobParams{Upscale: &models.UpscaleParams{Factor: factor, Steps: steps}}
}

func TestEstimateCost(t *testing.T) {
	e := NewCostEstimator()

	tests := []struct {
		name     string
		op       models.Operation
		params   models.JobParams
		units    int
		expected int64
	}{
		{"enhance low", models.OpEnhance, enhanceParams("low", 0, 0), 1, 1},
		{"enhance medium", models.OpEnhance, enhanceParams("medium", 0, 0), 1, 2},
		{"enhance high", models.OpEnhance, enhanceParams("high", 0, 0), 1, 3},
		{"upscale 2x", models.OpUpscale, upscaleParams(2, 0), 1, 2},
		{"upscale 4x", models.OpUpscale, upscaleParams(4, 0), 1, 4},
		{"high step count multiplies", models.OpEnhance, enhanceParams("medium", 80, 0), 1, 3},
		{"high guidance multiplies", models.OpEnhance, enhanceParams("medium", 0, 20), 1, 2},
		{"both multipliers stack", models.OpEnhance, enhanceParams("medium", 80, 20), 1, 3},
		{"cost scales with unit count", models.OpEnhance, enhanceParams("medium", 0, 0), 3, 6},
		{"unknown quality falls back", models.OpEnhance, enhanceParams("cinematic", 0, 0), 1, 2},
		{"zero units treated as one", models.OpEnhance, enhanceParams("low", 0, 0), 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, e.EstimateCost(tt.op, tt.params, tt.units))
		})
	}
}

func TestEstimateDuration(t *testing.T) {
	e := NewCostEstimator()

	t.Run("enhance scales with quality", func(t *testing.T) {
		low := e.EstimateDuration(models.OpEnhance, enhanceParams("low", 0, 0), 1)
		ultra := e.EstimateDuration(models.OpEnhance, enhanceParams("ultra", 0, 0), 1)
		assert.Equal(t, 26, low)   // 30*0.7 + 5
		assert.Equal(t, 65, ultra) // 30*2 + 5
	})

	t.Run("upscale scales with factor", func(t *testing.T) {
		x2 := e.EstimateDuration(models.OpUpscale, upscaleParams(2, 0), 1)
		x4 := e.EstimateDuration(models.OpUpscale, upscaleParams(4, 0), 1)
		assert.Equal(t, 65, x2)  // 30*2 + 5
		assert.Equal(t, 125, x4) // 30*4 + 5
	})

	t.Run("queue wait allowance clamps at 30", func(t *testing.T) {
		got := e.EstimateDuration(models.OpEnhance, enhanceParams("medium", 0, 0), 20)
		assert.Equal(t, 30*20+30, got)
	})
}
