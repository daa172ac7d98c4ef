package lease

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
	"upgrader/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultName is the lease name used for upgrade runs.
const DefaultName = "upgrader"

// Config selects and configures a lease backend.
type Config struct {
	Backend     string        `validate:"oneof=file memory redis postgres"`
	Name        string        `validate:"required"`
	Path        string        `validate:"required_if=Backend file"`
	TTL         time.Duration `validate:"min=1s"`
	RedisURL    string        `validate:"required_if=Backend redis"`
	KeyPrefix   string
	DatabaseURL string `validate:"required_if=Backend postgres"`
}

// LoadConfigFromEnv loads lease configuration. The file lease lives under the
// deployment's storage/framework directory unless LOCK_PATH overrides it.
func LoadConfigFromEnv(deployRoot string) Config {
	return Config{
		Backend:     config.GetEnv("LEASE_BACKEND", "file"),
		Name:        config.GetEnv("LEASE_NAME", DefaultName),
		Path:        config.GetEnv("LOCK_PATH", filepath.Join(deployRoot, "storage", "framework", "upgrader.lock")),
		TTL:         config.GetDurationEnv("LEASE_TTL", 30*time.Second),
		RedisURL:    config.GetEnv("REDIS_URL", ""),
		KeyPrefix:   config.GetEnv("LEASE_KEY_PREFIX", "upgrader:lease:"),
		DatabaseURL: config.GetEnv("DATABASE_URL", ""),
	}
}

// Open validates cfg and constructs the selected backend.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case "file":
		return NewFile(cfg.Path), nil
	case "memory":
		return NewMemory(), nil
	case "redis":
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return NewRedis(client, cfg.KeyPrefix, cfg.TTL), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		return NewPostgres(pool), nil
	default:
		return nil, fmt.Errorf("unknown lease backend %q", cfg.Backend)
	}
}
