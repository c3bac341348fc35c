package store

import (
	"fmt"

	"tab-relay/internal/config"
)

// OpenBackend builds the backend selected by cfg.StoreBackend.
func OpenBackend(cfg config.Config) (Backend, error) {
	switch cfg.StoreBackend {
	case "redis":
		return NewRedisBackend(cfg.RedisAddr, cfg.RedisPrefix, cfg.RedisTTL), nil
	case "sqlite":
		return NewSQLiteBackend(cfg.SQLitePath)
	case "memory", "":
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
