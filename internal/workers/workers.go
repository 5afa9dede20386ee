package workers

import (
	"os"
	"runtime"
	"strconv"
)

// Count returns the optimal number of workers for a given task type.
// It respects container CPU limits via GOMAXPROCS (Go 1.19+).
//
// The multiplier adjusts for task characteristics:
//   - 1.0 for CPU-bound tasks
//   - 2.0 for I/O-bound tasks
//   - 1.5 for mixed tasks
//
// The limit parameter caps the worker count to prevent resource
// exhaustion. Use 0 for no limit. If envVar is set to a positive
// integer, it overrides the computed count (still subject to limit).
func Count(envVar string, multiplier float64, limit int) int {
	if envVar != "" {
		if override := os.Getenv(envVar); override != "" {
			if count, err := strconv.Atoi(override); err == nil && count > 0 {
				if limit > 0 && count > limit {
					return limit
				}
				return count
			}
		}
	}

	available := runtime.GOMAXPROCS(0)

	count := int(float64(available) * multiplier)

	if count < 1 {
		count = 1
	}
	if limit > 0 && count > limit {
		count = limit
	}

	return count
}

// ForTransform returns the worker count for the transform pool.
// Transforms are CPU-heavy (full decode of the original codec).
func ForTransform(limit int) int {
	return Count("TRANSFORM_WORKERS", 1.0, limit)
}

// ForJoin returns the worker count for the join pool. Joins decode the
// cheap intermediate representation, so the mix leans toward I/O.
func ForJoin(limit int) int {
	return Count("JOIN_WORKERS", 1.5, limit)
}
