package recording

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const createRecordingsTable = `
CREATE TABLE IF NOT EXISTS call_recordings (
	session_id  UUID PRIMARY KEY,
	call_id     TEXT        NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT      NOT NULL,
	tracks      INT         NOT NULL,
	size_bytes  BIGINT      NOT NULL,
	object_key  TEXT        NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertRecording = `
INSERT INTO call_recordings (session_id, call_id, started_at, duration_ms, tracks, size_bytes, object_key)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (session_id) DO NOTHING`

// PostgresIndex records artifact metadata. It stores no media; pair it with
// a blob store in a MultiStore.
type PostgresIndex struct {
	db execer
}

// NewPostgresIndex wraps an existing connection or pool.
func NewPostgresIndex(db execer) *PostgresIndex {
	return &PostgresIndex{db: db}
}

// OpenPostgresIndex connects to dsn and creates the table if missing. The
// returned pool must be closed by the caller.
func OpenPostgresIndex(ctx context.Context, dsn string) (*PostgresIndex, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	idx := NewPostgresIndex(pool)
	if err := idx.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return idx, pool, nil
}

// Migrate creates the call_recordings table.
func (p *PostgresIndex) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, createRecordingsTable); err != nil {
		return fmt.Errorf("migrate call_recordings: %w", err)
	}
	return nil
}

func (p *PostgresIndex) Save(ctx context.Context, art *Artifact) error {
	_, err := p.db.Exec(ctx, insertRecording,
		art.SessionID,
		art.CallID,
		art.StartedAt,
		art.Duration.Milliseconds(),
		len(art.Tracks),
		len(art.Data),
		art.ObjectKey(),
	)
	if err != nil {
		return fmt.Errorf("index recording %s: %w", art.SessionID, err)
	}
	return nil
}
