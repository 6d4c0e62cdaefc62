package kvstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/aiox-platform/notigen/internal/config"
	redisclient "github.com/aiox-platform/notigen/internal/redis"
)

// Open builds the configured Store. When the redis backend is unreachable and
// fallback is enabled, a MemoryStore is returned instead. The returned client
// is nil unless Redis is in use; callers own closing it.
func Open(ctx context.Context, storeCfg config.StoreConfig, redisCfg config.RedisConfig) (Store, *redis.Client, error) {
	switch storeCfg.Backend {
	case "memory":
		slog.Info("using in-process key-value store")
		return NewMemoryStore(), nil, nil
	case "redis":
		client, err := redisclient.NewClient(ctx, redisCfg)
		if err != nil {
			if !storeCfg.FallbackToMemory {
				return nil, nil, err
			}
			slog.Warn("redis unavailable, falling back to in-process key-value store", "error", err)
			return NewMemoryStore(), nil, nil
		}
		return NewRedisStore(client), client, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", storeCfg.Backend)
	}
}
