package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/oracle/internal/agent"
	"github.com/soyeahso/oracle/internal/domain"
	"github.com/soyeahso/oracle/internal/logging"
)

// RedisSessionStore keeps session documents in Redis so several gateways
// can share them. Each session is a string key; a sorted set scored by
// updatedAt indexes them for listing.
type RedisSessionStore struct {
	rdb    redis.UniversalClient
	prefix string
	log    *logging.Logger
}

// OpenRedis connects to Redis and checks the connection.
func OpenRedis(ctx context.Context, addr, password string, db int, prefix string, log *logging.Logger) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis failed: %w", err)
	}

	r := NewRedisSessionStore(client, prefix, log)
	r.log.Info().Str("addr", addr).Str("prefix", r.prefix).Msg("redis store opened")
	return r, nil
}

// NewRedisSessionStore wraps an existing client.
func NewRedisSessionStore(rdb redis.UniversalClient, prefix string, log *logging.Logger) *RedisSessionStore {
	if prefix == "" {
		prefix = "oracle"
	}
	return &RedisSessionStore{rdb: rdb, prefix: prefix, log: log.Sub("store")}
}

// Close closes the client.
func (r *RedisSessionStore) Close() error {
	return r.rdb.Close()
}

func (r *RedisSessionStore) sessionKey(id string) string {
	return r.prefix + ":session:" + id
}

func (r *RedisSessionStore) indexKey() string {
	return r.prefix + ":sessions"
}

func (r *RedisSessionStore) Load(ctx context.Context, id string) (*domain.Session, error) {
	data, err := r.rdb.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &domain.NotFoundError{Kind: "session", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return decodeSession(data)
}

func (r *RedisSessionStore) Save(ctx context.Context, s *domain.Session) error {
	data, err := encodeSession(s)
	if err != nil {
		return err
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.sessionKey(s.ID), data, 0)
		p.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(s.UpdatedAt), Member: s.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving session %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, r.sessionKey(id))
		p.ZRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if del.Val() == 0 {
		return &domain.NotFoundError{Kind: "session", ID: id}
	}
	return nil
}

// List reads the index newest first and decodes each document. Index
// entries whose document is gone are dropped from the index.
func (r *RedisSessionStore) List(ctx context.Context) ([]domain.SessionSummary, error) {
	ids, err := r.rdb.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	out := []domain.SessionSummary{}
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading sessions: %w", err)
	}

	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		s, err := decodeSession([]byte(str))
		if err != nil {
			r.log.Warn().Str("id", ids[i]).Err(err).Msg("skipping unreadable session")
			continue
		}
		out = append(out, s.Summary())
	}
	if len(stale) > 0 {
		if err := r.rdb.ZRem(ctx, r.indexKey(), stale...).Err(); err != nil {
			r.log.Warn().Err(err).Msg("pruning session index")
		}
	}
	agent.SortSummaries(out)
	return out, nil
}
