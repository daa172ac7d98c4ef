package lease

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a multi-host lease built on session-level advisory locks. The
// lock lives on one pooled connection for as long as the handle is held.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates an advisory-lock lease on pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// TryAcquire pins a pooled connection and tries pg_try_advisory_lock on name.
func (p *Postgres) TryAcquire(ctx context.Context, name string) (Handle, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres acquire connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", name).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("postgres try lock %q: %w", name, err)
	}
	if !locked {
		conn.Release()
		return nil, ErrHeld
	}
	return &postgresHandle{conn: conn, name: name}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

type postgresHandle struct {
	conn *pgxpool.Conn
	name string
	once sync.Once
	err  error
}

func (h *postgresHandle) Release(ctx context.Context) error {
	h.once.Do(func() {
		defer h.conn.Release()
		if _, err := h.conn.Exec(ctx, "SELECT pg_advisory_unlock(hashtext($1))", h.name); err != nil {
			// Closing the session drops every advisory lock it holds.
			_ = h.conn.Conn().Close(context.WithoutCancel(ctx))
			h.err = fmt.Errorf("postgres unlock %q: %w", h.name, err)
		}
	})
	return h.err
}

var _ Backend = (*Postgres)(nil)
