// Package backoff computes retry delays.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
	Jitter  float64       // fraction of the delay randomised, 0..1 (default: none)
}

// Exponential returns the delay before retry number attempt (1-based):
// Initial, 2*Initial, 4*Initial, ... capped at Max. With Jitter j the result
// is drawn uniformly from [d*(1-j), d].
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	jitter := 0.0
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
		jitter = math.Min(math.Max(cfg.Jitter, 0), 1)
	}

	d := float64(initial)
	if attempt > 1 {
		d *= math.Pow(2, float64(attempt-1))
	}
	d = math.Min(d, float64(maxBackoff))

	if jitter > 0 {
		d -= d * jitter * rand.Float64()
	}
	return time.Duration(d)
}
