package telephony

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crm-telephony/internal/calls"
	"crm-telephony/pkg/logger"
)

// DialOutcome is the provider-reported result of the bridged dial.
type DialOutcome string

const (
	DialCompleted DialOutcome = "completed"
	DialBusy      DialOutcome = "busy"
	DialNoAnswer  DialOutcome = "no-answer"
	DialFailed    DialOutcome = "failed"
	DialCanceled  DialOutcome = "canceled"
	DialUnknown   DialOutcome = "unknown"
)

// ClassifyDial maps DialCallStatus onto DialOutcome. "answered" counts as completed:
// by the time the dial action fires the bridged leg has ended.
func ClassifyDial(raw string) DialOutcome {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "answered":
		return DialCompleted
	case "busy":
		return DialBusy
	case "no-answer", "no_answer":
		return DialNoAnswer
	case "failed":
		return DialFailed
	case "canceled", "cancelled":
		return DialCanceled
	default:
		return DialUnknown
	}
}

// Instruction returns the voice document served for outcome.
func (o DialOutcome) Instruction() string {
	switch o {
	case DialBusy:
		return NoticeThenHangup(NoticeBusy)
	case DialNoAnswer:
		return NoticeThenHangup(NoticeNoAnswer)
	case DialFailed:
		return NoticeThenHangup(NoticeFailed)
	default:
		return SilentHangup()
	}
}

func (o DialOutcome) legStatus() calls.Status {
	switch o {
	case DialCompleted:
		return calls.StatusCompleted
	case DialBusy:
		return calls.StatusBusy
	case DialNoAnswer:
		return calls.StatusNoAnswer
	case DialFailed:
		return calls.StatusFailed
	case DialCanceled:
		return calls.StatusCanceled
	default:
		return ""
	}
}

// Finalizer handles the dial action callback. Its store writes are authoritative
// over generic status webhooks.
type Finalizer struct {
	Store     calls.Store
	Publisher Publisher

	Now func() time.Time
}

// Finalize persists the final state of the parent leg (and the bridged leg when reported),
// then returns the voice document to serve. It always returns a valid document: store
// failures and panics are logged and fall back to a plain hangup.
func (f Finalizer) Finalize(ctx context.Context, cb Callback) (doc string) {
	log := logger.From(ctx)
	outcome := ClassifyDial(cb.DialCallStatus)
	doc = outcome.Instruction()

	defer func() {
		if r := recover(); r != nil {
			log.Error("dial-complete panic recovered", "call_id", cb.CallSid, "panic", fmt.Sprint(r))
			doc = FallbackHangup
		}
	}()

	if outcome == DialUnknown {
		log.Warn("unrecognized dial status", "call_id", cb.CallSid, "dial_status", cb.DialCallStatus)
	}
	if cb.CallSid == "" {
		log.Warn("dial-complete without call id")
		return doc
	}
	if f.Now == nil {
		f.Now = time.Now
	}
	at := cb.EventTime()
	if at.IsZero() {
		at = f.Now().UTC()
	}

	f.write(ctx, calls.Transition{
		CallID:             cb.CallSid,
		From:               cb.From,
		To:                 cb.To,
		Status:             calls.StatusCompleted,
		DurationSeconds:    cb.DialDuration(),
		RecordingReference: cb.RecordingReference(),
		LinkedEntity:       cb.LinkedEntity,
		Source:             calls.SourceDialComplete,
		At:                 at,
	})

	if st := outcome.legStatus(); cb.DialCallSid != "" && st != "" {
		f.write(ctx, calls.Transition{
			CallID:          cb.DialCallSid,
			ParentCallID:    cb.CallSid,
			Direction:       calls.DirectionOutgoing,
			Status:          st,
			DurationSeconds: cb.DialDuration(),
			LinkedEntity:    cb.LinkedEntity,
			Source:          calls.SourceDialComplete,
			At:              at,
		})
	}
	return doc
}

func (f Finalizer) write(ctx context.Context, t calls.Transition) {
	res, err := f.Store.ApplyTransition(ctx, t)
	if err != nil {
		logger.From(ctx).Error("dial-complete store write failed", "call_id", t.CallID, "err", err)
		return
	}
	if res.Changed {
		publishChange(ctx, f.Publisher, res.Record)
	}
}
