package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crm-telephony/pkg/utils"
)

// Schema creates the call store tables. Applied by `api migrate`.
//
// call_events is the idempotency ledger: one row per applied (call, event, source).
const Schema = `
CREATE TABLE IF NOT EXISTS calls (
  call_id                 TEXT PRIMARY KEY,
  parent_call_id          TEXT NOT NULL DEFAULT '',
  direction               TEXT NOT NULL,
  from_number             TEXT NOT NULL DEFAULT '',
  to_number               TEXT NOT NULL DEFAULT '',
  status                  TEXT NOT NULL,
  status_source           TEXT NOT NULL,
  status_at               TIMESTAMPTZ NOT NULL,
  duration_seconds        INT NOT NULL DEFAULT 0 CHECK (duration_seconds >= 0),
  recording_reference     TEXT NOT NULL DEFAULT '',
  analysis_job_reference  TEXT NOT NULL DEFAULT '',
  analysis_state          TEXT NOT NULL DEFAULT 'none',
  analysis_failure_reason TEXT NOT NULL DEFAULT '',
  linked_entity           TEXT NOT NULL DEFAULT '',
  created_at              TIMESTAMPTZ NOT NULL,
  updated_at              TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS calls_parent_call_id_idx ON calls (parent_call_id) WHERE parent_call_id <> '';

CREATE TABLE IF NOT EXISTS call_events (
  call_id    TEXT NOT NULL,
  event_key  TEXT NOT NULL,
  source     TEXT NOT NULL,
  applied_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (call_id, event_key, source)
);
`

const callColumns = `call_id, parent_call_id, direction, from_number, to_number, status, status_source, status_at,
       duration_seconds, recording_reference, analysis_job_reference, analysis_state, analysis_failure_reason,
       linked_entity, created_at, updated_at`

// PostgresStore implements Store on Postgres (database/sql + pgx stdlib driver).
//
// Per-call ordering is enforced with SELECT ... FOR UPDATE inside a transaction, so
// concurrent webhook deliveries on different processes serialize on the row, not in memory.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("calls: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, callID string) (CallRecord, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE call_id = $1`
	return scanCall(s.db.QueryRowContext(ctx, q, callID))
}

func (s *PostgresStore) ApplyTransition(ctx context.Context, t Transition) (ApplyResult, error) {
	if err := validateTransition(t); err != nil {
		return ApplyResult{}, err
	}
	now := s.clock().UTC()

	var out ApplyResult
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const insEvent = `
INSERT INTO call_events (call_id, event_key, source, applied_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (call_id, event_key, source) DO NOTHING
`
		res, err := tx.ExecContext(ctx, insEvent, t.CallID, t.EventKey(), string(t.Source), now)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			out.Duplicate = true
			rec, err := lockCall(ctx, tx, t.CallID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			out.Record = rec
			return nil
		}

		cur, err := lockCall(ctx, tx, t.CallID)
		switch {
		case errors.Is(err, ErrNotFound):
			if err := resolveParent(ctx, tx, &t, now); err != nil {
				return err
			}
			next, _ := Merge(nil, t, now)
			inserted, err := insertCall(ctx, tx, next)
			if err != nil {
				return err
			}
			if inserted {
				out.Record, out.Changed = next, true
				return nil
			}
			// Lost a creation race; the row exists now, merge onto it.
			if cur, err = lockCall(ctx, tx, t.CallID); err != nil {
				return err
			}
		case err != nil:
			return err
		}

		if err := resolveParent(ctx, tx, &t, cur.CreatedAt); err != nil {
			return err
		}
		next, changed := Merge(&cur, t, now)
		out.Record, out.Changed = next, changed
		if !changed {
			return nil
		}
		return updateCall(ctx, tx, next)
	})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("calls: apply transition %s: %w", t.CallID, err)
	}
	return out, nil
}

func (s *PostgresStore) MarkAnalysisPending(ctx context.Context, callID, jobRef string) (CallRecord, error) {
	var out CallRecord
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := lockCall(ctx, tx, callID)
		if err != nil {
			return err
		}
		next, err := nextAnalysis(cur, jobRef)
		if err != nil {
			return err
		}
		next.UpdatedAt = s.clock().UTC()
		out = next
		return updateCall(ctx, tx, next)
	})
	return out, err
}

func (s *PostgresStore) FinishAnalysis(ctx context.Context, callID string, state AnalysisState, reason string) (CallRecord, bool, error) {
	if !state.IsTerminal() {
		return CallRecord{}, false, ErrAnalysisTransition
	}
	var (
		out     CallRecord
		applied bool
	)
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := lockCall(ctx, tx, callID)
		if err != nil {
			return err
		}
		if cur.AnalysisState != AnalysisPending {
			out = cur
			return nil
		}
		cur.AnalysisState = state
		cur.AnalysisFailureReason = reason
		cur.UpdatedAt = s.clock().UTC()
		out, applied = cur, true
		return updateCall(ctx, tx, cur)
	})
	return out, applied, err
}

func resolveParent(ctx context.Context, tx *sql.Tx, t *Transition, childCreated time.Time) error {
	if t.ParentCallID == "" {
		return nil
	}
	const q = `SELECT created_at FROM calls WHERE call_id = $1`
	var parentCreated time.Time
	if err := tx.QueryRowContext(ctx, q, t.ParentCallID).Scan(&parentCreated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			t.ParentCallID = ""
			return nil
		}
		return err
	}
	if !parentPrecedes(CallRecord{CreatedAt: parentCreated}, childCreated) {
		t.ParentCallID = ""
	}
	return nil
}

func lockCall(ctx context.Context, tx *sql.Tx, callID string) (CallRecord, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE call_id = $1 FOR UPDATE`
	return scanCall(tx.QueryRowContext(ctx, q, callID))
}

func insertCall(ctx context.Context, tx *sql.Tx, r CallRecord) (bool, error) {
	const q = `
INSERT INTO calls (
  call_id, parent_call_id, direction, from_number, to_number, status, status_source, status_at,
  duration_seconds, recording_reference, analysis_job_reference, analysis_state, analysis_failure_reason,
  linked_entity, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
ON CONFLICT (call_id) DO NOTHING
`
	res, err := tx.ExecContext(ctx, q,
		r.CallID,
		r.ParentCallID,
		r.Direction,
		r.FromNumber,
		r.ToNumber,
		r.Status,
		r.StatusSource,
		r.StatusAt,
		r.DurationSeconds,
		r.RecordingReference,
		r.AnalysisJobReference,
		r.AnalysisState,
		r.AnalysisFailureReason,
		r.LinkedEntity,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func updateCall(ctx context.Context, tx *sql.Tx, r CallRecord) error {
	const q = `
UPDATE calls SET
  parent_call_id = $2, from_number = $3, to_number = $4, status = $5, status_source = $6, status_at = $7,
  duration_seconds = $8, recording_reference = $9, analysis_job_reference = $10, analysis_state = $11,
  analysis_failure_reason = $12, linked_entity = $13, updated_at = $14
WHERE call_id = $1
`
	_, err := tx.ExecContext(ctx, q,
		r.CallID,
		r.ParentCallID,
		r.FromNumber,
		r.ToNumber,
		r.Status,
		r.StatusSource,
		r.StatusAt,
		r.DurationSeconds,
		r.RecordingReference,
		r.AnalysisJobReference,
		r.AnalysisState,
		r.AnalysisFailureReason,
		r.LinkedEntity,
		r.UpdatedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (CallRecord, error) {
	var r CallRecord
	if err := row.Scan(
		&r.CallID,
		&r.ParentCallID,
		&r.Direction,
		&r.FromNumber,
		&r.ToNumber,
		&r.Status,
		&r.StatusSource,
		&r.StatusAt,
		&r.DurationSeconds,
		&r.RecordingReference,
		&r.AnalysisJobReference,
		&r.AnalysisState,
		&r.AnalysisFailureReason,
		&r.LinkedEntity,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	return r, nil
}
