package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryConfig_WithDefaults(t *testing.T) {
	t.Parallel()
	cfg := MemoryConfig{}.withDefaults()

	assert.Equal(t, 256, cfg.BufferSize)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, uint32(5), cfg.BreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.BreakerCooldown)
	assert.Equal(t, 10, cfg.MaxRequeues)
}

func TestMemoryConfig_WithDefaults_KeepsValues(t *testing.T) {
	t.Parallel()
	cfg := MemoryConfig{BufferSize: 5, Workers: 1, MaxRetries: 7, BreakerCooldown: time.Second}.withDefaults()

	assert.Equal(t, 5, cfg.BufferSize)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.BreakerCooldown)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("WEBHOOK_WORKERS", "4")
	t.Setenv("WEBHOOK_MAX_RETRIES", "1")

	cfg := LoadConfigFromEnv()

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, 256, cfg.BufferSize)
}
