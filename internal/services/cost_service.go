package services

import (
	"fmt"

	"github.com/luminapix/backend/internal/models"
)

// CostEstimator prices operations from a static table. It has no side
// effects and never fails: unknown buckets fall back to a conservative
// per-unit cost so estimation is never the reason admission fails.
type CostEstimator struct {
	costs        map[string]int64
	fallbackCost int64
}

func NewCostEstimator() *CostEstimator {
	return &CostEstimator{
		costs: map[string]int64{
			"enhance_low":    1,
			"enhance_medium": 2,
			"enhance_high":   3,
			"upscale_2x":     2,
			"upscale_4x":     4,
		},
		fallbackCost: 2,
	}
}

// EstimateCost returns the total credit cost for processing unitCount
// images. Multipliers apply for expensive parameter regions; the result
// is floored at 1 credit per unit.
func (e *CostEstimator) EstimateCost(op models.Operation, params models.JobParams, unitCount int) int64 {
	if unitCount < 1 {
		unitCount = 1
	}

	base := e.fallbackCost
	var steps int
	var guidance float64

	switch op {
	case models.OpEnhance:
		if p := params.Enhance; p != nil {
			if c, ok := e.costs["enhance_"+p.Quality]; ok {
				base = c
			}
			steps = p.Steps
			guidance = p.GuidanceScale
		}
	case models.OpUpscale:
		if p := params.Upscale; p != nil {
			if c, ok := e.costs[fmt.Sprintf("upscale_%dx", p.Factor)]; ok {
				base = c
			}
			steps = p.Steps
			guidance = p.GuidanceScale
		}
	}

	if steps > 50 {
		base = int64(float64(base) * 1.5)
	}
	if guidance > 15 {
		base = int64(float64(base) * 1.2)
	}
	if base < 1 {
		base = 1
	}

	return base * int64(unitCount)
}

// EstimateDuration returns a rough caller-facing estimate in seconds.
// It has no effect on correctness.
func (e *CostEstimator) EstimateDuration(op models.Operation, params models.JobParams, unitCount int) int {
	if unitCount < 1 {
		unitCount = 1
	}

	base := 30.0

	switch op {
	case models.OpEnhance:
		if p := params.Enhance; p != nil {
			if p.Steps > 50 {
				base *= 1.5
			}
			switch p.Quality {
			case "low":
				base *= 0.7
			case "high":
				base *= 1.5
			case "ultra":
				base *= 2.0
			}
		}
	case models.OpUpscale:
		if p := params.Upscale; p != nil {
			if p.Factor > 0 {
				base *= float64(p.Factor)
			}
			if p.Steps > 50 {
				base *= 1.5
			}
		}
	default:
		return 60 * unitCount
	}

	total := int(base * float64(unitCount))

	// Queue wait allowance, 5-30 seconds.
	wait := unitCount * 2
	if wait < 5 {
		wait = 5
	}
	if wait > 30 {
		wait = 30
	}

	return total + wait
}
