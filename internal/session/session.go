// Package session stores per-conversation engine state.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ebcs/coach/config"
	"github.com/ebcs/coach/internal/coach"
)

// ErrNotFound is returned when a session id is unknown or expired.
var ErrNotFound = errors.New("session not found")

// Store hands out and persists sessions. Every implementation refreshes
// the TTL on Save.
type Store interface {
	Ensure(ctx context.Context, id string) (*coach.Session, error)
	Get(ctx context.Context, id string) (*coach.Session, error)
	Save(ctx context.Context, sess *coach.Session) error
	Delete(ctx context.Context, id string) error
}

// NewStore builds the configured store flavor.
func NewStore(cfg config.SessionConfig, redisCfg config.RedisConfig) (Store, error) {
	switch cfg.Store {
	case "", "inmemory":
		return NewInMemoryStore(cfg.TTL), nil
	case "redis":
		return NewRedisStore(redisCfg, cfg.TTL)
	default:
		return nil, fmt.Errorf("unsupported session store type: %s", cfg.Store)
	}
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 2 * time.Hour
	}
	return ttl
}
