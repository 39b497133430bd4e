// Package backoff computes retry delays.
package backoff

import "time"

// Config bounds the delay schedule. Zero values fall back to the
// defaults of 100ms initial and 5s maximum.
type Config struct {
	Initial time.Duration
	Max     time.Duration
}

// Exponential returns the delay before the given attempt: the initial
// delay doubled once per prior attempt, capped at the maximum. Attempts
// below 1 get the initial delay.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	ceiling := 5 * time.Second
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			ceiling = cfg.Max
		}
	}

	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
