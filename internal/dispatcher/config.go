package dispatcher

import (
	"time"
	"upgrader/internal/config"
)

// MemoryConfig holds configuration for the in-memory dispatcher.
type MemoryConfig struct {
	BufferSize       int           // pending events buffer (default: 256)
	Workers          int           // concurrent delivery goroutines (default: 2)
	HTTPTimeout      time.Duration // per-request timeout (default: 10s)
	MaxRetries       int           // retries after the first attempt (default: 3)
	InitialBackoff   time.Duration // default: 200ms
	MaxBackoff       time.Duration // default: 5s
	BreakerThreshold uint32        // consecutive failures that open a host's breaker (default: 5)
	BreakerCooldown  time.Duration // open -> half-open delay, also the requeue delay (default: 30s)
	MaxRequeues      int           // default: 10
}

// LoadConfigFromEnv loads dispatcher configuration from environment variables.
func LoadConfigFromEnv() MemoryConfig {
	cfg := MemoryConfig{
		BufferSize:      config.GetIntEnv("WEBHOOK_BUFFER_SIZE", 256),
		Workers:         config.GetIntEnv("WEBHOOK_WORKERS", 2),
		HTTPTimeout:     config.GetDurationEnv("WEBHOOK_HTTP_TIMEOUT", 10*time.Second),
		MaxRetries:      config.GetIntEnv("WEBHOOK_MAX_RETRIES", 3),
		BreakerCooldown: config.GetDurationEnv("WEBHOOK_BREAKER_COOLDOWN", 30*time.Second),
	}
	return cfg.withDefaults()
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.MaxRequeues <= 0 {
		c.MaxRequeues = 10
	}
	return c
}
