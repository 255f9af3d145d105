package chatstore

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/snapdesk/pkg/config"
)

// Open builds the store selected by cfg.Backend.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewInMemoryStore(cfg.MaxPerSession), nil
	case "sqlite":
		dsn, err := SQLiteDSNForFile(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLiteStore(dsn, cfg.MaxPerSession)
		if err != nil {
			return nil, err
		}
		log.Info().Str("component", "chatstore").Str("path", cfg.SQLitePath).Msg("using sqlite chat store")
		return s, nil
	case "redis":
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		log.Info().Str("component", "chatstore").Str("addr", addr).Dur("ttl", cfg.RedisTTL).Msg("using redis chat store")
		return NewRedisStore(addr, cfg.RedisTTL, cfg.MaxPerSession), nil
	}
	return nil, errors.Errorf("unknown chat store backend %q", cfg.Backend)
}
