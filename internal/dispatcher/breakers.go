package dispatcher

import (
	"log/slog"
	"sync"
	"upgrader/pkg/cloudevent"

	"github.com/sony/gobreaker"
)

// breakers lazily creates one circuit breaker per destination host.
type breakers struct {
	mu        sync.RWMutex
	byHost    map[string]*gobreaker.CircuitBreaker
	threshold uint32
	settings  gobreaker.Settings
	logger    *slog.Logger
}

func newBreakers(cfg MemoryConfig, logger *slog.Logger) *breakers {
	b := &breakers{
		byHost:    make(map[string]*gobreaker.CircuitBreaker),
		threshold: cfg.BreakerThreshold,
		logger:    logger,
	}
	b.settings = gobreaker.Settings{
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.threshold
		},
		// A 4xx means the endpoint is up and rejected the event.
		IsSuccessful: func(err error) bool {
			return err == nil || cloudevent.IsClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Info("Circuit breaker state changed", "destination", name, "from", from.String(), "to", to.String())
		},
	}
	return b
}

func (b *breakers) get(host string) *gobreaker.CircuitBreaker {
	b.mu.RLock()
	cb, ok := b.byHost[host]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok = b.byHost[host]; ok {
		return cb
	}

	settings := b.settings
	settings.Name = host
	cb = gobreaker.NewCircuitBreaker(settings)
	b.byHost[host] = cb
	return cb
}

func (b *breakers) stats() (total, open int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, cb := range b.byHost {
		if cb.State() == gobreaker.StateOpen {
			open++
		}
	}
	return len(b.byHost), open
}
