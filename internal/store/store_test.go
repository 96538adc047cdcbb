package store

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/soyeahso/oracle/internal/agent"
	"github.com/soyeahso/oracle/internal/config"
	"github.com/soyeahso/oracle/internal/domain"
	"github.com/soyeahso/oracle/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLite(":memory:", silentLog())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testBolt(t *testing.T) *BoltSessionStore {
	t.Helper()
	b, err := OpenBolt(filepath.Join(t.TempDir(), "sessions.bolt"), silentLog())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

// testRedis connects to the server named by ORACLE_TEST_REDIS_ADDR and
// skips otherwise. Keys go under a per-test prefix.
func testRedis(t *testing.T) *RedisSessionStore {
	t.Helper()
	addr := os.Getenv("ORACLE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ORACLE_TEST_REDIS_ADDR not set")
	}
	prefix := "oracle-test-" + domain.NewMessage(domain.RoleUser, "", "").ID
	r, err := OpenRedis(context.Background(), addr, "", 0, prefix, silentLog())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := r.rdb.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			r.rdb.Del(ctx, keys...)
		}
		r.Close()
	})
	return r
}

func newSession(t *testing.T, title string) *domain.Session {
	t.Helper()
	s, err := domain.NewSession(domain.NewSessionParams{
		Title:          title,
		Mode:           domain.ModeStoryScape,
		ParticipantIDs: []string{"c1", "c2"},
		ModelID:        "xai/grok-4.1",
		Scenario:       "Harbour at dusk",
	})
	require.NoError(t, err)
	return s
}

type backend struct {
	name string
	open func(t *testing.T) agent.SessionStore
}

var backends = []backend{
	{"sqlite", func(t *testing.T) agent.SessionStore { return NewSQLiteSessionStore(testDB(t)) }},
	{"bolt", func(t *testing.T) agent.SessionStore { return testBolt(t) }},
	{"redis", func(t *testing.T) agent.SessionStore { return testRedis(t) }},
	{"memory", func(t *testing.T) agent.SessionStore { return agent.NewMemorySessionStore() }},
}

// --- Session store behaviour, every backend ---

func TestSessionStore_RoundTrip(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			st := b.open(t)
			ctx := context.Background()

			s := newSession(t, "Tavern")
			first := s.ActiveNodeID
			require.NoError(t, s.AppendMessage(first, domain.NewMessage(domain.RoleUser, "", "Hello")))
			reply := domain.NewMessage(domain.RoleAssistant, "c1", "Hi there")
			reply.SpeakerName = "Mira"
			require.NoError(t, s.AppendMessage(first, reply))
			second, err := s.CreateNode("Side path")
			require.NoError(t, err)
			require.NoError(t, s.SetRelationship("c2", "c1", "rivals"))
			s.SetNarrator(true)

			require.NoError(t, st.Save(ctx, s))

			got, err := st.Load(ctx, s.ID)
			require.NoError(t, err)
			assert.Equal(t, s.ID, got.ID)
			assert.Equal(t, domain.ModeStoryScape, got.Mode)
			assert.Equal(t, []string{"c1", "c2"}, got.ParticipantIDs)
			assert.Equal(t, second.ID, got.ActiveNodeID)
			assert.Equal(t, "xai/grok-4.1", got.ModelID)
			assert.Equal(t, "Harbour at dusk", got.Scenario)
			assert.True(t, got.NarratorEnabled)
			assert.Equal(t, map[string]string{"c1_c2": "rivals"}, got.RelationshipMap)
			assert.Equal(t, s.UpdatedAt, got.UpdatedAt)

			require.Len(t, got.Nodes, 2)
			assert.Equal(t, first, got.Nodes[0].ID)
			assert.Equal(t, s.Nodes[0].Messages, got.Nodes[0].Messages)
			assert.Empty(t, got.Nodes[1].Messages)
		})
	}
}

func TestSessionStore_AppendAcrossSaves(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			st := b.open(t)
			ctx := context.Background()
			s := newSession(t, "Tavern")
			require.NoError(t, st.Save(ctx, s))

			for _, text := range []string{"one", "two", "three"} {
				cur, err := st.Load(ctx, s.ID)
				require.NoError(t, err)
				require.NoError(t, cur.AppendMessage(cur.ActiveNodeID, domain.NewMessage(domain.RoleUser, "", text)))
				require.NoError(t, st.Save(ctx, cur))
			}

			got, err := st.Load(ctx, s.ID)
			require.NoError(t, err)
			n, err := got.ActiveNode()
			require.NoError(t, err)
			require.Len(t, n.Messages, 3)
			assert.Equal(t, "one", n.Messages[0].Content)
			assert.Equal(t, "three", n.Messages[2].Content)
		})
	}
}

func TestSessionStore_DeleteNodePersists(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			st := b.open(t)
			ctx := context.Background()
			s := newSession(t, "Tavern")
			first := s.ActiveNodeID
			require.NoError(t, s.AppendMessage(first, domain.NewMessage(domain.RoleUser, "", "doomed")))
			_, err := s.CreateNode("Keeper")
			require.NoError(t, err)
			require.NoError(t, st.Save(ctx, s))

			require.NoError(t, s.DeleteNode(first))
			require.NoError(t, st.Save(ctx, s))

			got, err := st.Load(ctx, s.ID)
			require.NoError(t, err)
			require.Len(t, got.Nodes, 1)
			assert.Equal(t, "Keeper", got.Nodes[0].Title)
			assert.Equal(t, got.Nodes[0].ID, got.ActiveNodeID)
		})
	}
}

func TestSessionStore_NotFound(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			st := b.open(t)
			var nf *domain.NotFoundError

			_, err := st.Load(context.Background(), "missing")
			require.ErrorAs(t, err, &nf)
			assert.Equal(t, "session", nf.Kind)
			assert.ErrorAs(t, st.Delete(context.Background(), "missing"), &nf)
		})
	}
}

func TestSessionStore_DeleteAndList(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			st := b.open(t)
			ctx := context.Background()

			older := newSession(t, "Older")
			older.UpdatedAt = 1000
			newer := newSession(t, "Newer")
			newer.UpdatedAt = 2000
			_, err := newer.CreateNode("Two")
			require.NoError(t, err)
			newer.UpdatedAt = 2000
			require.NoError(t, st.Save(ctx, older))
			require.NoError(t, st.Save(ctx, newer))

			list, err := st.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "Newer", list[0].Title)
			assert.Equal(t, 2, list[0].Nodes)
			assert.Equal(t, "Older", list[1].Title)

			require.NoError(t, st.Delete(ctx, older.ID))
			list, err = st.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, newer.ID, list[0].ID)
		})
	}
}

func TestSessionStore_RejectsBrokenSession(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			st := b.open(t)
			s := newSession(t, "Broken")
			s.Nodes = nil

			var ierr *domain.InvariantError
			assert.ErrorAs(t, st.Save(context.Background(), s), &ierr)
		})
	}
}

// --- SQLite specifics ---

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.migrate())

	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"sessions", "nodes", "messages"} {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestSQLiteStore_DeleteCascades(t *testing.T) {
	db := testDB(t)
	st := NewSQLiteSessionStore(db)
	ctx := context.Background()

	s := newSession(t, "Tavern")
	require.NoError(t, s.AppendMessage(s.ActiveNodeID, domain.NewMessage(domain.RoleUser, "", "hi")))
	require.NoError(t, st.Save(ctx, s))
	require.NoError(t, st.Delete(ctx, s.ID))

	for _, table := range []string{"nodes", "messages"} {
		var n int
		require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
		assert.Zero(t, n, table)
	}
}

func TestSQLiteStore_PragmasOnEveryConnection(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"), silentLog())
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	// Hold one connection so the pool has to open another.
	pinned, err := db.sql.Conn(ctx)
	require.NoError(t, err)
	defer pinned.Close()
	second, err := db.sql.Conn(ctx)
	require.NoError(t, err)
	defer second.Close()

	var fk, busy int
	require.NoError(t, second.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	require.NoError(t, second.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy))
	assert.Equal(t, 1, fk)
	assert.Equal(t, 5000, busy)

	s := newSession(t, "Tavern")
	require.NoError(t, s.AppendMessage(s.ActiveNodeID, domain.NewMessage(domain.RoleUser, "", "hi")))
	st := NewSQLiteSessionStore(db)
	require.NoError(t, st.Save(ctx, s))
	_, err = second.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", s.ID)
	require.NoError(t, err)

	for _, table := range []string{"nodes", "messages"} {
		var n int
		require.NoError(t, second.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n))
		assert.Zero(t, n, table)
	}
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("/tmp/x.db")
	assert.True(t, strings.HasPrefix(dsn, "file:/tmp/x.db?"))
	for _, p := range sqlitePragmas {
		assert.Contains(t, dsn, url.QueryEscape(p))
	}
}

func TestSQLiteStore_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	db, err := OpenSQLite(path, silentLog())
	require.NoError(t, err)
	st := NewSQLiteSessionStore(db)
	s := newSession(t, "Persisted")
	require.NoError(t, st.Save(context.Background(), s))
	require.NoError(t, db.Close())

	db, err = OpenSQLite(path, silentLog())
	require.NoError(t, err)
	defer db.Close()
	got, err := NewSQLiteSessionStore(db).Load(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Persisted", got.Title)
}

// --- Codec tests ---

func TestDecodeSession_UpgradesLegacyDocument(t *testing.T) {
	legacy := `{"id":"s1","title":"Old","participantIds":["c1"],
		"nodes":[{"id":"n1","title":"Chapter 1","createdAt":1,"updatedAt":1}],
		"createdAt":1,"updatedAt":1}`

	s, err := decodeSession([]byte(legacy))
	require.NoError(t, err)
	assert.Equal(t, domain.SchemaVersion, s.SchemaVersion)
	assert.Equal(t, domain.ModeParty, s.Mode)
	assert.Equal(t, "n1", s.ActiveNodeID)
	assert.NotNil(t, s.Nodes[0].Messages)
	assert.NotNil(t, s.RelationshipMap)
}

func TestDecodeSession_RejectsNewerSchema(t *testing.T) {
	_, err := decodeSession([]byte(`{"schemaVersion":99,"id":"s1"}`))
	assert.ErrorContains(t, err, "newer than supported")
}

func TestDecodeSession_RejectsInvalid(t *testing.T) {
	_, err := decodeSession([]byte(`{"schemaVersion":1,"id":"s1","nodes":[],"activeNodeId":"x"}`))
	var ierr *domain.InvariantError
	assert.ErrorAs(t, err, &ierr)

	_, err = decodeSession([]byte(`not json`))
	assert.Error(t, err)
}

// --- Open tests ---

func TestOpen_Backends(t *testing.T) {
	dir := t.TempDir()
	paths := config.Paths{Base: dir, Data: filepath.Join(dir, "data")}
	ctx := context.Background()

	for _, kind := range []string{"", "sqlite", "bolt", "memory"} {
		st, closer, err := Open(ctx, config.SessionConfig{Store: kind}, paths, silentLog())
		require.NoError(t, err, kind)
		require.NoError(t, st.Save(ctx, newSession(t, "x")), kind)
		require.NoError(t, closer.Close(), kind)
	}
	assert.FileExists(t, filepath.Join(paths.Data, "sessions.db"))
	assert.FileExists(t, filepath.Join(paths.Data, "sessions.bolt"))
}

func TestOpen_Unknown(t *testing.T) {
	_, _, err := Open(context.Background(), config.SessionConfig{Store: "etcd"}, config.Paths{}, silentLog())
	assert.ErrorContains(t, err, "unknown session store")
}
