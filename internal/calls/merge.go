package calls

import "time"

// Transition is one observed change for a call leg, from whichever component saw it.
// Empty fields mean "not reported"; DurationSeconds is nil when the source did not report one.
type Transition struct {
	CallID       string
	ParentCallID string
	Direction    Direction

	From string
	To   string

	Status          Status
	DurationSeconds *int

	RecordingReference string
	LinkedEntity       string

	Source Source
	// At is the provider-reported event time, or receipt time when the provider sent none.
	At time.Time
}

// EventKey is the idempotency key of t within its (CallID, Source) scope.
// Two deliveries with the same key are the same event.
func (t Transition) EventKey() string {
	if t.Status == "" {
		return "recording:" + t.RecordingReference
	}
	return "status:" + string(t.Status)
}

// Merge applies t onto cur (nil when the call is not stored yet) and reports whether
// anything changed. It is pure; every Store implementation routes writes through it so
// the authority and ordering rules live in one place.
func Merge(cur *CallRecord, t Transition, now time.Time) (CallRecord, bool) {
	if t.At.IsZero() {
		t.At = now
	}
	if cur == nil {
		rec := CallRecord{
			CallID:             t.CallID,
			ParentCallID:       t.ParentCallID,
			Direction:          t.Direction,
			FromNumber:         t.From,
			ToNumber:           t.To,
			Status:             t.Status,
			StatusSource:       t.Source,
			StatusAt:           t.At,
			RecordingReference: t.RecordingReference,
			AnalysisState:      AnalysisNone,
			LinkedEntity:       t.LinkedEntity,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if rec.Direction == "" {
			rec.Direction = DirectionOutgoing
		}
		if rec.Status == "" {
			rec.Status = StatusInitiated
		}
		if t.DurationSeconds != nil && *t.DurationSeconds > 0 {
			rec.DurationSeconds = *t.DurationSeconds
		}
		return rec, true
	}

	next := *cur
	changed := false
	fill := func(dst *string, v string) {
		if v != "" && *dst == "" {
			*dst = v
			changed = true
		}
	}
	fill(&next.ParentCallID, t.ParentCallID)
	fill(&next.FromNumber, t.From)
	if t.Source == SourceInitiator && t.To != "" && t.To != next.ToNumber {
		// The agent leg reports the agent's phone as To; the dialed target is ours.
		next.ToNumber = t.To
		changed = true
	} else {
		fill(&next.ToNumber, t.To)
	}
	fill(&next.LinkedEntity, t.LinkedEntity)
	if t.RecordingReference != "" && t.RecordingReference != next.RecordingReference {
		next.RecordingReference = t.RecordingReference
		changed = true
	}

	if t.Status != "" && statusWins(*cur, t) {
		next.Status = t.Status
		next.StatusSource = t.Source
		next.StatusAt = t.At
		if t.DurationSeconds != nil && *t.DurationSeconds >= 0 {
			next.DurationSeconds = *t.DurationSeconds
		}
		changed = true
	}

	if changed {
		next.UpdatedAt = now
	}
	return next, changed
}

func statusWins(cur CallRecord, t Transition) bool {
	curTerminal := cur.Status.IsTerminal()
	newTerminal := t.Status.IsTerminal()
	switch {
	case curTerminal && newTerminal:
		return t.Source.rank() > cur.StatusSource.rank()
	case curTerminal:
		return false
	case newTerminal:
		return true
	case t.Source == SourceInitiator && cur.StatusSource != SourceInitiator:
		// The dial-time placeholder never replaces a provider report, whatever its stamp.
		return false
	case cur.StatusSource == SourceInitiator && t.Source != SourceInitiator:
		// The dial-time placeholder is stamped with our clock; any provider report supersedes it.
		return true
	}
	// Non-terminal updates are last-writer-wins by event time, not arrival order.
	// Provider stamps have one-second precision; within a second the call only moves forward.
	a, b := t.At.Truncate(time.Second), cur.StatusAt.Truncate(time.Second)
	if a.Equal(b) {
		return t.Status.progress() >= cur.Status.progress()
	}
	return a.After(b)
}
