package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soyeahso/oracle/internal/domain"
)

// SQLiteSessionStore implements agent.SessionStore backed by SQLite.
//
// Sessions are normalized into sessions, nodes and messages. Because
// messages are append-only, Save inserts only the messages a node does not
// already have.
type SQLiteSessionStore struct {
	db *DB
}

// NewSQLiteSessionStore creates a session store using the given database.
func NewSQLiteSessionStore(db *DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db}
}

// Load reads a session and all of its nodes and messages.
func (s *SQLiteSessionStore) Load(ctx context.Context, id string) (*domain.Session, error) {
	var (
		sess               domain.Session
		participants, rels string
		narrator           int
	)
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT id, schema_version, mode, title, participant_ids, active_node_id,
		        relationship_map, model_id, scenario, narrator_enabled, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(
		&sess.ID, &sess.SchemaVersion, &sess.Mode, &sess.Title, &participants, &sess.ActiveNodeID,
		&rels, &sess.ModelID, &sess.Scenario, &narrator, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "session", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	sess.NarratorEnabled = narrator != 0
	if err := json.Unmarshal([]byte(participants), &sess.ParticipantIDs); err != nil {
		return nil, fmt.Errorf("decoding participants of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(rels), &sess.RelationshipMap); err != nil {
		return nil, fmt.Errorf("decoding relationships of %s: %w", id, err)
	}

	nodes, err := s.loadNodes(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Nodes = nodes

	sess.Upgrade()
	if err := sess.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *SQLiteSessionStore) loadNodes(ctx context.Context, sessionID string) ([]*domain.Node, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM nodes
		 WHERE session_id = ? ORDER BY position`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading nodes: %w", err)
	}

	var nodes []*domain.Node
	byID := make(map[string]*domain.Node)
	for rows.Next() {
		n := &domain.Node{Messages: []domain.Message{}}
		if err := rows.Scan(&n.ID, &n.Title, &n.CreatedAt, &n.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		nodes = append(nodes, n)
		byID[n.ID] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mrows, err := s.db.sql.QueryContext(ctx,
		`SELECT node_id, id, role, speaker_id, speaker_name, content, timestamp
		 FROM messages WHERE session_id = ? ORDER BY node_id, seq`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer mrows.Close()

	for mrows.Next() {
		var nodeID string
		var m domain.Message
		if err := mrows.Scan(&nodeID, &m.ID, &m.Role, &m.SpeakerID, &m.SpeakerName, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if n, ok := byID[nodeID]; ok {
			n.Messages = append(n.Messages, m)
		}
	}
	return nodes, mrows.Err()
}

// Save writes the session in one transaction.
func (s *SQLiteSessionStore) Save(ctx context.Context, sess *domain.Session) error {
	if err := sess.CheckInvariants(); err != nil {
		return err
	}
	participants, err := json.Marshal(nonNil(sess.ParticipantIDs))
	if err != nil {
		return err
	}
	rels := sess.RelationshipMap
	if rels == nil {
		rels = map[string]string{}
	}
	relsJSON, err := json.Marshal(rels)
	if err != nil {
		return err
	}

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	narrator := 0
	if sess.NarratorEnabled {
		narrator = 1
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, schema_version, mode, title, participant_ids, active_node_id,
		                       relationship_map, model_id, scenario, narrator_enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			mode = excluded.mode,
			title = excluded.title,
			participant_ids = excluded.participant_ids,
			active_node_id = excluded.active_node_id,
			relationship_map = excluded.relationship_map,
			model_id = excluded.model_id,
			scenario = excluded.scenario,
			narrator_enabled = excluded.narrator_enabled,
			updated_at = excluded.updated_at`,
		sess.ID, domain.SchemaVersion, string(sess.Mode), sess.Title, string(participants), sess.ActiveNodeID,
		string(relsJSON), sess.ModelID, sess.Scenario, narrator, sess.CreatedAt, sess.UpdatedAt,
	); err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}

	if err := s.syncNodes(ctx, tx, sess); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQLiteSessionStore) syncNodes(ctx context.Context, tx *sql.Tx, sess *domain.Session) error {
	existing := make(map[string]bool)
	rows, err := tx.QueryContext(ctx, `SELECT id FROM nodes WHERE session_id = ?`, sess.ID)
	if err != nil {
		return fmt.Errorf("listing nodes: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		existing[id] = true
	}
	rows.Close()

	keep := make(map[string]bool, len(sess.Nodes))
	for pos, n := range sess.Nodes {
		keep[n.ID] = true
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO nodes (session_id, id, position, title, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, id) DO UPDATE SET
				position = excluded.position,
				title = excluded.title,
				updated_at = excluded.updated_at`,
			sess.ID, n.ID, pos, n.Title, n.CreatedAt, n.UpdatedAt,
		); err != nil {
			return fmt.Errorf("saving node %s: %w", n.ID, err)
		}
		if err := appendMessages(ctx, tx, sess.ID, n); err != nil {
			return err
		}
	}

	for id := range existing {
		if keep[id] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE session_id = ? AND id = ?`, sess.ID, id); err != nil {
			return fmt.Errorf("deleting node %s: %w", id, err)
		}
	}
	return nil
}

// appendMessages inserts the messages of n beyond those already stored. If
// the stored log is longer than n's (the document was rewritten elsewhere),
// the node's messages are replaced.
func appendMessages(ctx context.Context, tx *sql.Tx, sessionID string, n *domain.Node) error {
	var stored int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ? AND node_id = ?`, sessionID, n.ID,
	).Scan(&stored); err != nil {
		return fmt.Errorf("counting messages: %w", err)
	}
	if stored > len(n.Messages) {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE session_id = ? AND node_id = ?`, sessionID, n.ID,
		); err != nil {
			return fmt.Errorf("resetting messages: %w", err)
		}
		stored = 0
	}

	for seq := stored; seq < len(n.Messages); seq++ {
		m := n.Messages[seq]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, node_id, seq, id, role, speaker_id, speaker_name, content, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, n.ID, seq, m.ID, string(m.Role), m.SpeakerID, m.SpeakerName, m.Content, m.Timestamp,
		); err != nil {
			return fmt.Errorf("appending message to node %s: %w", n.ID, err)
		}
	}
	return nil
}

// Delete removes a session; nodes and messages cascade.
func (s *SQLiteSessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Kind: "session", ID: id}
	}
	return nil
}

// List returns session summaries, most recently updated first.
func (s *SQLiteSessionStore) List(ctx context.Context) ([]domain.SessionSummary, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT s.id, s.mode, s.title, s.updated_at,
		        (SELECT COUNT(*) FROM nodes n WHERE n.session_id = s.id)
		 FROM sessions s ORDER BY s.updated_at DESC, s.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	out := []domain.SessionSummary{}
	for rows.Next() {
		var sum domain.SessionSummary
		if err := rows.Scan(&sum.ID, &sum.Mode, &sum.Title, &sum.UpdatedAt, &sum.Nodes); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
