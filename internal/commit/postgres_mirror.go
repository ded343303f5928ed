package commit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/antigravity/memoryengine/internal/types"
)

// PostgresMirror best-effort replicates committed snapshots to a Postgres
// table for ad-hoc SQL querying across conversations. It is never a
// correctness dependency: every method logs and swallows its own errors,
// and the engine's commit pipeline succeeds or fails independent of it
// (spec's non-goal on distributed replication rules out anything stronger).
type PostgresMirror struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// NewPostgresMirror opens the connection and ensures the mirror table
// exists. A nil PostgresMirror (returned alongside a non-nil error) means
// the caller should simply not use the mirror; it is optional everywhere.
func NewPostgresMirror(connString string, log *zap.SugaredLogger) (*PostgresMirror, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres mirror: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres mirror: ping: %w", err)
	}

	m := &PostgresMirror{db: db, log: log}
	if err := m.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres mirror: ensure schema: %w", err)
	}
	return m, nil
}

func (m *PostgresMirror) ensureSchema(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS memory_commits (
			commit_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			version TEXT NOT NULL,
			message_count INT NOT NULL,
			decision_count INT NOT NULL,
			entity_count INT NOT NULL,
			checksum TEXT NOT NULL,
			current_state TEXT,
			committed_at TIMESTAMPTZ NOT NULL
		)
	`)
	return err
}

func (m *PostgresMirror) Close() error {
	return m.db.Close()
}

// Mirror upserts one row summarizing a committed snapshot. Failures are
// logged, never returned as fatal — callers should not let a down
// Postgres instance block a commit.
func (m *PostgresMirror) Mirror(ctx context.Context, snap types.SessionSnapshot) {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO memory_commits
			(commit_id, conversation_id, session_id, version, message_count,
			 decision_count, entity_count, checksum, current_state, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (commit_id) DO UPDATE SET
			checksum = EXCLUDED.checksum,
			current_state = EXCLUDED.current_state,
			committed_at = EXCLUDED.committed_at
	`,
		snap.ID, snap.ConversationID, snap.SessionID, snap.Version,
		len(snap.Messages), len(snap.KeyDecisions), len(snap.Entities),
		snap.Checksum, snap.Summary.CurrentState, snap.Timestamp,
	)
	if err != nil {
		m.log.Warnw("postgres mirror: failed to upsert commit row", "commitId", snap.ID, "error", err)
	}
}
