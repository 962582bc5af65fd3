package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates the audit table. Applied by `api migrate` together with the call store schema.
const Schema = `
CREATE TABLE IF NOT EXISTS call_audit_events (
  id            UUID PRIMARY KEY,
  org_id        TEXT NOT NULL DEFAULT '',
  type          TEXT NOT NULL,
  actor_user_id TEXT NOT NULL,
  actor_role    TEXT NOT NULL DEFAULT '',
  ip_address    TEXT NOT NULL DEFAULT '',
  call_id       TEXT NOT NULL DEFAULT '',
  message       TEXT NOT NULL DEFAULT '',
  metadata      JSONB,
  created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS call_audit_events_call_id_idx ON call_audit_events (call_id);
`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_audit_events (id, org_id, type, actor_user_id, actor_role, ip_address, call_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	var metadata any
	if e.Metadata != "" {
		metadata = e.Metadata
	}
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.OrgID,
		string(e.Type),
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.CallID,
		e.Message,
		metadata,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}
