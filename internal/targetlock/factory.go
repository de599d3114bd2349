package targetlock

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/me/testfleet/internal/config"
)

// NewBackend builds the backend named by cfg.Backend.
func NewBackend(cfg config.LockConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("lock backend http: url is required")
		}
		return NewHTTPBackend(cfg.URL, cfg.ReadKey, cfg.WriteKey, cfg.Timeout), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			DialTimeout: cfg.Timeout,
		})
		return NewRedisBackend(client, cfg.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}
