package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local development.
// It is not shared across processes, so it is never used when a database is configured.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]CallRecord
	events  map[string]struct{}

	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]CallRecord{},
		events:  map[string]struct{}{},
		clock:   time.Now,
	}
}

// WithClock replaces the store clock. Intended for tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Get(ctx context.Context, callID string) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[callID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) ApplyTransition(ctx context.Context, t Transition) (ApplyResult, error) {
	if err := validateTransition(t); err != nil {
		return ApplyResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	key := t.CallID + "|" + t.EventKey() + "|" + string(t.Source)
	if _, seen := s.events[key]; seen {
		return ApplyResult{Record: s.records[t.CallID], Duplicate: true}, nil
	}
	s.events[key] = struct{}{}

	var cur *CallRecord
	childCreated := now
	if rec, ok := s.records[t.CallID]; ok {
		cur = &rec
		childCreated = rec.CreatedAt
	}
	if t.ParentCallID != "" {
		parent, ok := s.records[t.ParentCallID]
		if !ok || !parentPrecedes(parent, childCreated) {
			t.ParentCallID = ""
		}
	}

	next, changed := Merge(cur, t, now)
	if changed {
		s.records[t.CallID] = next
	}
	return ApplyResult{Record: next, Changed: changed}, nil
}

func (s *MemoryStore) MarkAnalysisPending(ctx context.Context, callID, jobRef string) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[callID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	next, err := nextAnalysis(cur, jobRef)
	if err != nil {
		return CallRecord{}, err
	}
	next.UpdatedAt = s.clock().UTC()
	s.records[callID] = next
	return next, nil
}

func (s *MemoryStore) FinishAnalysis(ctx context.Context, callID string, state AnalysisState, reason string) (CallRecord, bool, error) {
	if !state.IsTerminal() {
		return CallRecord{}, false, ErrAnalysisTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[callID]
	if !ok {
		return CallRecord{}, false, ErrNotFound
	}
	if cur.AnalysisState != AnalysisPending {
		return cur, false, nil
	}
	cur.AnalysisState = state
	cur.AnalysisFailureReason = reason
	cur.UpdatedAt = s.clock().UTC()
	s.records[callID] = cur
	return cur, true, nil
}

// parentPrecedes enforces that a parent leg was stored strictly before its child.
func parentPrecedes(parent CallRecord, childCreated time.Time) bool {
	return parent.CreatedAt.Before(childCreated)
}
