package lease

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// The token check keeps a holder whose key expired from deleting or
// extending a lease someone else has since taken.
const (
	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

	extendScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`
)

// Redis is a multi-host lease: SET NX PX with a random token, renewed while held.
type Redis struct {
	client  *goredis.Client
	prefix  string
	ttl     time.Duration
	release *goredis.Script
	extend  *goredis.Script
	logger  *slog.Logger
}

// NewRedis creates a Redis lease. ttl bounds how long a crashed holder blocks others.
func NewRedis(client *goredis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		release: goredis.NewScript(releaseScript),
		extend:  goredis.NewScript(extendScript),
		logger:  slog.With("component", "lease", "backend", "redis"),
	}
}

func (r *Redis) key(name string) string {
	return r.prefix + name
}

// TryAcquire sets the key if absent and starts renewing it every ttl/3.
func (r *Redis) TryAcquire(ctx context.Context, name string) (Handle, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key(name), token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis acquire %q: %w", name, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	h := &redisHandle{
		r:      r,
		key:    r.key(name),
		token:  token,
		cancel: cancel,
		done:   make(chan struct{}),
		lost:   make(chan struct{}),
	}
	go h.renew(renewCtx)
	return h, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisHandle struct {
	r      *Redis
	key    string
	token  string
	cancel context.CancelFunc
	done   chan struct{}
	lost   chan struct{}
	once   sync.Once
	err    error
}

func (h *redisHandle) renew(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := h.r.extend.Run(ctx, h.r.client, []string{h.key}, h.token, h.r.ttl.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() == nil {
					h.r.logger.Warn("Failed to extend lease", "key", h.key, "error", err)
				}
				continue
			}
			if n == 0 {
				h.r.logger.Error("Lease lost before release", "key", h.key)
				close(h.lost)
				return
			}
		}
	}
}

// Lost is closed when a renewal finds the key expired or taken by another holder.
func (h *redisHandle) Lost() <-chan struct{} {
	return h.lost
}

func (h *redisHandle) Release(ctx context.Context) error {
	h.once.Do(func() {
		h.cancel()
		<-h.done
		if err := h.r.release.Run(ctx, h.r.client, []string{h.key}, h.token).Err(); err != nil {
			h.err = fmt.Errorf("redis release: %w", err)
		}
	})
	return h.err
}

var (
	_ Backend  = (*Redis)(nil)
	_ Expiring = (*redisHandle)(nil)
)
