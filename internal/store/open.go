package store

import (
	"context"
	"fmt"
	"io"

	"github.com/soyeahso/oracle/internal/agent"
	"github.com/soyeahso/oracle/internal/config"
	"github.com/soyeahso/oracle/internal/logging"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open returns the session store selected by cfg. The returned closer
// releases the backend.
func Open(ctx context.Context, cfg config.SessionConfig, paths config.Paths, log *logging.Logger) (agent.SessionStore, io.Closer, error) {
	switch cfg.Store {
	case "memory":
		return agent.NewMemorySessionStore(), nopCloser{}, nil
	case "bolt":
		b, err := OpenBolt(paths.SessionStorePath(cfg), log)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case "redis":
		r, err := OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix, log)
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	case "", "sqlite":
		db, err := OpenSQLite(paths.SessionStorePath(cfg), log)
		if err != nil {
			return nil, nil, err
		}
		return NewSQLiteSessionStore(db), db, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}
