package store

import (
	"context"
	"fmt"

	"github.com/hieutrtr/ragforge/config"
	"github.com/hieutrtr/ragforge/internal/retrieval"
)

// Store persists conversation history per session. History returns the most
// recent messages in chronological order, capped at limit.
type Store interface {
	AppendMessage(ctx context.Context, sessionID string, msg retrieval.Message) error
	History(ctx context.Context, sessionID string, limit int) ([]retrieval.Message, error)
	Close() error
}

// New selects a store backend from config.
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "postgres":
		return NewPostgresStore(cfg.Postgres)
	case "redis":
		return NewRedisStore(cfg.Redis)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
