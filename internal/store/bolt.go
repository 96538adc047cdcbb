package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/soyeahso/oracle/internal/agent"
	"github.com/soyeahso/oracle/internal/domain"
	"github.com/soyeahso/oracle/internal/logging"
)

var bucketSessions = []byte("sessions")

// BoltSessionStore keeps one JSON document per session in a bbolt file.
type BoltSessionStore struct {
	db  *bolt.DB
	log *logging.Logger
}

// OpenBolt opens (or creates) the bbolt file at path.
func OpenBolt(path string, log *logging.Logger) (*BoltSessionStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	b := &BoltSessionStore{db: db, log: log.Sub("store")}
	b.log.Info().Str("path", path).Msg("bolt store opened")
	return b, nil
}

// Close closes the bbolt file.
func (b *BoltSessionStore) Close() error {
	return b.db.Close()
}

func (b *BoltSessionStore) Load(_ context.Context, id string) (*domain.Session, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketSessions).Get([]byte(id)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, &domain.NotFoundError{Kind: "session", ID: id}
	}
	return decodeSession(data)
}

func (b *BoltSessionStore) Save(_ context.Context, s *domain.Session) error {
	data, err := encodeSession(s)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(s.ID), data)
	})
}

func (b *BoltSessionStore) Delete(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSessions)
		if bucket.Get([]byte(id)) == nil {
			return &domain.NotFoundError{Kind: "session", ID: id}
		}
		return bucket.Delete([]byte(id))
	})
}

// List decodes every document; documents that fail to decode are logged and
// skipped.
func (b *BoltSessionStore) List(_ context.Context) ([]domain.SessionSummary, error) {
	out := []domain.SessionSummary{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			s, err := decodeSession(v)
			if err != nil {
				b.log.Warn().Str("id", string(k)).Err(err).Msg("skipping unreadable session")
				return nil
			}
			out = append(out, s.Summary())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	agent.SortSummaries(out)
	return out, nil
}
