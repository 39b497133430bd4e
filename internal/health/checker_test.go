package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestLiveness(t *testing.T) {
	t.Parallel()
	checker := NewChecker(nil)

	if got := checker.Liveness(context.Background()); got.Status != StatusHealthy {
		t.Errorf("Liveness() = %s, want healthy", got.Status)
	}
}

func TestReadinessAggregates(t *testing.T) {
	t.Parallel()

	ok := ReadinessFunc(func(ctx context.Context) error { return nil })
	broken := ReadinessFunc(func(ctx context.Context) error { return errors.New("store unreachable") })

	t.Run("all healthy", func(t *testing.T) {
		checker := NewChecker(map[string]ReadinessChecker{"store": ok, "backend": ok})
		got := checker.Readiness(context.Background())
		if got.Status != StatusHealthy || !got.IsHealthy() {
			t.Errorf("Readiness() = %s, want healthy", got.Status)
		}
		if len(got.Checks) != 2 {
			t.Errorf("checks = %v, want store and backend entries", got.Checks)
		}
	})

	t.Run("one failing check fails the probe", func(t *testing.T) {
		checker := NewChecker(map[string]ReadinessChecker{"store": broken, "backend": ok})
		got := checker.Readiness(context.Background())
		if got.Status != StatusUnhealthy {
			t.Fatalf("Readiness() = %s, want unhealthy", got.Status)
		}
		if got.Checks["store"].Message != "store unreachable" {
			t.Errorf("store check = %+v", got.Checks["store"])
		}
		if got.Checks["backend"].Status != StatusHealthy {
			t.Errorf("backend check = %+v", got.Checks["backend"])
		}
	})

	t.Run("nil check is unhealthy", func(t *testing.T) {
		checker := NewChecker(map[string]ReadinessChecker{"backend": nil})
		if got := checker.Readiness(context.Background()); got.Status != StatusUnhealthy {
			t.Errorf("Readiness() = %s, want unhealthy for a nil check", got.Status)
		}
	})
}

func TestReadinessCaches(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	counted := ReadinessFunc(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	checker := NewChecker(map[string]ReadinessChecker{"store": counted})

	checker.Readiness(context.Background())
	checker.Readiness(context.Background())
	if calls.Load() != 1 {
		t.Errorf("dependency checked %d times within the cache window, want 1", calls.Load())
	}
}

func TestShutdownFailsReadiness(t *testing.T) {
	t.Parallel()

	ok := ReadinessFunc(func(ctx context.Context) error { return nil })
	checker := NewChecker(map[string]ReadinessChecker{"store": ok})

	if got := checker.Readiness(context.Background()); !got.IsHealthy() {
		t.Fatal("setup: readiness not healthy")
	}

	checker.SetShuttingDown()
	got := checker.Readiness(context.Background())
	if got.Status != StatusUnhealthy {
		t.Errorf("Readiness() = %s, want unhealthy while shutting down", got.Status)
	}
	if _, present := got.Checks["shutdown"]; !present {
		t.Errorf("checks = %v, want a shutdown entry", got.Checks)
	}

	// Liveness stays healthy so the container is not restarted mid-drain.
	if got := checker.Liveness(context.Background()); got.Status != StatusHealthy {
		t.Errorf("Liveness() = %s, want healthy during shutdown", got.Status)
	}
}

func TestResponseIsHealthy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusHealthy, true},
		{StatusUnhealthy, false},
		{StatusDegraded, false},
	}
	for _, tt := range tests {
		r := &Response{Status: tt.status}
		if r.IsHealthy() != tt.want {
			t.Errorf("IsHealthy(%s) = %v, want %v", tt.status, r.IsHealthy(), tt.want)
		}
	}
}
