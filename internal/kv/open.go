package kv

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ticks-app/ticks/internal/config"
)

const redisKeyPrefix = "ticks"

// Open builds the store selected by the [Banner] config section.
func Open(cfg config.BannerConfig, logger *logrus.Logger) (Store, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return NewMemoryStore(), nil
	case config.BackendSQLite:
		return OpenSQLite(cfg.SQLitePath)
	case config.BackendRedis:
		return OpenRedis(RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   redisKeyPrefix,
			Channel:  cfg.RedisChannel,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported kv backend %q", cfg.Backend)
	}
}
