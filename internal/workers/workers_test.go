package workers

import (
	"runtime"
	"testing"
)

func TestCount(t *testing.T) {
	available := runtime.GOMAXPROCS(0)

	tests := []struct {
		name       string
		multiplier float64
		limit      int
		expected   int
	}{
		{name: "CPU bound", multiplier: 1.0, limit: 0, expected: available},
		{name: "limit caps count", multiplier: 2.0, limit: 1, expected: 1},
		{name: "never below one", multiplier: 0.01, limit: 0, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Count("", tt.multiplier, tt.limit); got != tt.expected {
				t.Errorf("Count(%v, %d) = %d, want %d", tt.multiplier, tt.limit, got, tt.expected)
			}
		})
	}
}

func TestCountEnvOverride(t *testing.T) {
	t.Setenv("TEST_POOL_WORKERS", "7")

	if got := Count("TEST_POOL_WORKERS", 1.0, 0); got != 7 {
		t.Errorf("Count with override = %d, want 7", got)
	}

	// Limit still wins over the override.
	if got := Count("TEST_POOL_WORKERS", 1.0, 3); got != 3 {
		t.Errorf("Count with override and limit = %d, want 3", got)
	}
}

func TestCountInvalidOverride(t *testing.T) {
	t.Setenv("TEST_POOL_WORKERS", "not-a-number")

	available := runtime.GOMAXPROCS(0)
	if got := Count("TEST_POOL_WORKERS", 1.0, 0); got != available {
		t.Errorf("Count with invalid override = %d, want %d", got, available)
	}
}
