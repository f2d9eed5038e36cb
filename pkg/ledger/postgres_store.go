package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists events to Postgres.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, conn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", conn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS distribution_events (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    node_id TEXT,
    digest TEXT,
    size BIGINT NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    detail TEXT,
    error TEXT,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS distribution_events_created_at_idx ON distribution_events (created_at DESC);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `INSERT INTO distribution_events (id, kind, node_id, digest, size, status, detail, error, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Kind,
		nullString(event.NodeID),
		nullString(event.Digest),
		event.Size,
		event.Status,
		nullString(event.Detail),
		nullString(event.Error),
		event.CreatedAt,
	)
	return err
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultCapacity
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, node_id, digest, size, status, detail, error, created_at FROM distribution_events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var nodeID, digest, detail, errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.Kind, &nodeID, &digest, &e.Size, &e.Status, &detail, &errMsg, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.Digest = digest.String
		e.Detail = detail.String
		e.Error = errMsg.String
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
