package calls

import (
	"context"
	"errors"
)

var (
	ErrNotFound           = errors.New("calls: not found")
	ErrInvalidArgument    = errors.New("calls: invalid argument")
	ErrAnalysisTransition = errors.New("calls: invalid analysis state transition")
)

// ApplyResult describes what ApplyTransition did.
type ApplyResult struct {
	Record CallRecord
	// Duplicate is set when the same (call, event, source) was already applied.
	Duplicate bool
	// Changed is set when the stored record was modified.
	Changed bool
}

// Store is the Call Store contract.
//
// Rules:
// - Writes for the same CallID may race across processes; implementations must apply the
//   Merge rules atomically per CallID (row lock or equivalent), never relying on callers.
// - ApplyTransition is idempotent per (CallID, EventKey, Source).
// - Records are never deleted here.
type Store interface {
	Get(ctx context.Context, callID string) (CallRecord, error)
	ApplyTransition(ctx context.Context, t Transition) (ApplyResult, error)

	// MarkAnalysisPending records a requested analysis job. Allowed from none, and from
	// pending when a caller resubmits after a poller gave up.
	MarkAnalysisPending(ctx context.Context, callID, jobRef string) (CallRecord, error)
	// FinishAnalysis moves pending -> complete|failed. It reports false (no error) when the
	// analysis is already terminal.
	FinishAnalysis(ctx context.Context, callID string, state AnalysisState, reason string) (CallRecord, bool, error)
}

func validateTransition(t Transition) error {
	if t.CallID == "" || t.Source == "" {
		return ErrInvalidArgument
	}
	if t.Status == "" && t.RecordingReference == "" {
		return ErrInvalidArgument
	}
	return nil
}

func nextAnalysis(cur CallRecord, jobRef string) (CallRecord, error) {
	if jobRef == "" {
		return CallRecord{}, ErrInvalidArgument
	}
	if cur.AnalysisState.IsTerminal() {
		return CallRecord{}, ErrAnalysisTransition
	}
	cur.AnalysisState = AnalysisPending
	cur.AnalysisJobReference = jobRef
	cur.AnalysisFailureReason = ""
	return cur, nil
}
