package telephony

import (
	"context"
	"errors"
	"time"

	"crm-telephony/internal/apperr"
	"crm-telephony/internal/calls"
	"crm-telephony/pkg/logger"
)

// Outcome is what a webhook delivery did to the store.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeStale means the event was accepted but lost to an already recorded state.
	OutcomeStale   Outcome = "stale"
	OutcomeDropped Outcome = "dropped"
	OutcomeError   Outcome = "error"
)

// StatusMachine applies generic provider status callbacks to the call store.
//
// Rules:
// - Every callback is acknowledged; nothing here makes the provider retry.
// - Terminal writes from this path stand unless the dial-complete path later overrides them.
type StatusMachine struct {
	Store     calls.Store
	Publisher Publisher

	Now func() time.Time
}

// Apply records cb. A callback without a call id is dropped with a ValidationError.
func (m StatusMachine) Apply(ctx context.Context, cb Callback) (Outcome, error) {
	log := logger.From(ctx)
	if m.Now == nil {
		m.Now = time.Now
	}
	if cb.CallSid == "" {
		return OutcomeDropped, apperr.Validation("CallSid", "required")
	}

	status, known := calls.NormalizeStatus(cb.CallStatus)
	if cb.CallStatus != "" && !known {
		log.Warn("unrecognized call status stored as-is", "call_id", cb.CallSid, "status", cb.CallStatus)
	}
	rec := cb.RecordingReference()
	if status == "" && rec == "" {
		return OutcomeDropped, apperr.Validation("CallStatus", "no status or recording reported")
	}

	at := cb.EventTime()
	if at.IsZero() {
		at = m.Now().UTC()
	}
	res, err := m.Store.ApplyTransition(ctx, calls.Transition{
		CallID:             cb.CallSid,
		ParentCallID:       cb.ParentCallSid,
		Direction:          cb.CallDirection(),
		From:               cb.From,
		To:                 cb.To,
		Status:             status,
		DurationSeconds:    cb.Duration(),
		RecordingReference: rec,
		LinkedEntity:       cb.LinkedEntity,
		Source:             calls.SourceWebhook,
		At:                 at,
	})
	if err != nil {
		if errors.Is(err, calls.ErrInvalidArgument) {
			return OutcomeDropped, apperr.Validation("payload", err.Error())
		}
		return OutcomeError, err
	}

	switch {
	case res.Duplicate:
		return OutcomeDuplicate, nil
	case !res.Changed:
		return OutcomeStale, nil
	}
	publishChange(ctx, m.Publisher, res.Record)
	return OutcomeApplied, nil
}
