package store

import (
	"context"
	"fmt"
	"io"

	"github.com/go-authgate/oidc-account/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the backend named by settings.TokenStore. The returned closer
// releases connections held by the backend.
func Open(ctx context.Context, settings config.Settings) (Store, io.Closer, error) {
	switch settings.TokenStore {
	case "", "file":
		return NewFileStore(settings.TokenFile), nopCloser{}, nil
	case "memory":
		return NewMemoryStore(), nopCloser{}, nil
	case "redis":
		if settings.RedisURL == "" {
			return nil, nil, fmt.Errorf("redis token store requires REDIS_URL")
		}
		client, err := DialRedis(ctx, settings.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisStore(client), client, nil
	case "sqlite", "postgres":
		driver := settings.DatabaseDriver
		if driver == "" {
			driver = map[string]string{"sqlite": "sqlite3", "postgres": "postgres"}[settings.TokenStore]
		}
		if settings.DatabaseDSN == "" {
			return nil, nil, fmt.Errorf("%s token store requires DATABASE_DSN", settings.TokenStore)
		}
		s, err := OpenSQL(ctx, driver, settings.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown token store %q", settings.TokenStore)
	}
}
