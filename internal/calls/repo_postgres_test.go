package calls

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var callRowColumns = []string{
	"call_id", "parent_call_id", "direction", "from_number", "to_number", "status", "status_source", "status_at",
	"duration_seconds", "recording_reference", "analysis_job_reference", "analysis_state", "analysis_failure_reason",
	"linked_entity", "created_at", "updated_at",
}

func callRow(r CallRecord) *sqlmock.Rows {
	return sqlmock.NewRows(callRowColumns).AddRow(
		r.CallID, r.ParentCallID, string(r.Direction), r.FromNumber, r.ToNumber, string(r.Status), string(r.StatusSource), r.StatusAt,
		r.DurationSeconds, r.RecordingReference, r.AnalysisJobReference, string(r.AnalysisState), r.AnalysisFailureReason,
		r.LinkedEntity, r.CreatedAt, r.UpdatedAt,
	)
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewPostgresStore(db)
	s.clock = func() time.Time { return t0 }
	return s, mock
}

const (
	lockPattern        = `SELECT (.+) FROM calls WHERE call_id = \$1 FOR UPDATE`
	insertEventPattern = `INSERT INTO call_events`
)

func TestPostgresStore_ApplyTransition_CreatesRecord(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(insertEventPattern).
		WithArgs("CA123", "status:ringing", "webhook", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(lockPattern).WithArgs("CA123").WillReturnRows(sqlmock.NewRows(callRowColumns))
	mock.ExpectExec(`INSERT INTO calls`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := s.ApplyTransition(context.Background(), Transition{CallID: "CA123", Status: StatusRinging, Source: SourceWebhook, At: t0})
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, StatusRinging, res.Record.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyTransition_DuplicateShortCircuits(t *testing.T) {
	s, mock := newMockStore(t)
	existing := CallRecord{
		CallID: "CA123", Direction: DirectionOutgoing, Status: StatusCompleted, StatusSource: SourceWebhook,
		StatusAt: t0, DurationSeconds: 42, AnalysisState: AnalysisNone, CreatedAt: t0, UpdatedAt: t0,
	}

	mock.ExpectBegin()
	mock.ExpectExec(insertEventPattern).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(lockPattern).WithArgs("CA123").WillReturnRows(callRow(existing))
	mock.ExpectCommit()

	res, err := s.ApplyTransition(context.Background(), Transition{CallID: "CA123", Status: StatusCompleted, DurationSeconds: intp(42), Source: SourceWebhook, At: t0})
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	require.False(t, res.Changed)
	require.Equal(t, 42, res.Record.DurationSeconds)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyTransition_DialCompleteReplacesWebhookTerminal(t *testing.T) {
	s, mock := newMockStore(t)
	existing := CallRecord{
		CallID: "CA123", Direction: DirectionOutgoing, Status: StatusCompleted, StatusSource: SourceWebhook,
		StatusAt: t0, DurationSeconds: 40, AnalysisState: AnalysisNone, CreatedAt: t0, UpdatedAt: t0,
	}

	mock.ExpectBegin()
	mock.ExpectExec(insertEventPattern).
		WithArgs("CA123", "status:completed", "dial-complete", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(lockPattern).WithArgs("CA123").WillReturnRows(callRow(existing))
	mock.ExpectExec(`UPDATE calls SET`).
		WithArgs("CA123", "", "", "", "completed", "dial-complete", sqlmock.AnyArg(), 42, "", "", "none", "", "", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := s.ApplyTransition(context.Background(), Transition{CallID: "CA123", Status: StatusCompleted, DurationSeconds: intp(42), Source: SourceDialComplete, At: t0})
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, 42, res.Record.DurationSeconds)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM calls WHERE call_id = \$1`).WithArgs("nope").WillReturnRows(sqlmock.NewRows(callRowColumns))

	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishAnalysis_NoopWhenTerminal(t *testing.T) {
	s, mock := newMockStore(t)
	existing := CallRecord{
		CallID: "CA123", Direction: DirectionOutgoing, Status: StatusCompleted, StatusSource: SourceDialComplete,
		StatusAt: t0, AnalysisState: AnalysisComplete, AnalysisJobReference: "job-1", CreatedAt: t0, UpdatedAt: t0,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(lockPattern).WithArgs("CA123").WillReturnRows(callRow(existing))
	mock.ExpectCommit()

	rec, applied, err := s.FinishAnalysis(context.Background(), "CA123", AnalysisFailed, "late")
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, AnalysisComplete, rec.AnalysisState)
	require.NoError(t, mock.ExpectationsWereMet())
}
