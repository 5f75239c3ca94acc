// Package store is the durable key-value layer shared by every replica.
//
// Reads may lag writes made by other replicas. Callers must not rely on
// read-your-writes across processes.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kvsync/backend/internal/config"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("store: key not found")

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// Put writes value under key. A ttl of zero means the entry never expires.
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Open connects to the backend named by cfg.Store.Backend.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case "", "redis":
		return NewRedis(ctx, cfg.Redis)
	case "postgres":
		pg, err := NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}
}
