package services

import (
	"fmt"
	"math"
)

// adaptiveStep picks the histogram step for a percent range: finer steps
// for tight ranges, coarser for wide ones.
func adaptiveStep(r float64) float64 {
	switch {
	case r <= 2:
		return 0.2
	case r <= 5:
		return 0.5
	case r <= 20:
		return 1
	case r <= 50:
		return 2
	default:
		return 5
	}
}

// bucketFloor maps a value onto the lower edge of its half-open bucket
func bucketFloor(x, step float64) float64 {
	return math.Floor(x/step) * step
}

// bucketLabel formats a bucket as "<lo>%~<hi>%", one decimal for
// sub-percent steps and whole numbers otherwise
func bucketLabel(lo, step float64) string {
	if step < 1 {
		return fmt.Sprintf("%.1f%%~%.1f%%", lo, lo+step)
	}
	return fmt.Sprintf("%.0f%%~%.0f%%", lo, lo+step)
}
