package telephony

import (
	"context"
	"encoding/json"
	"time"

	"crm-telephony/internal/calls"
	"crm-telephony/pkg/logger"
)

// Publisher fans call changes out to other CRM processes (Redis pub/sub in production).
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// CallEvent is the message published after a call record changes.
type CallEvent struct {
	CallID          string       `json:"callId"`
	ParentCallID    string       `json:"parentCallId,omitempty"`
	Status          calls.Status `json:"status"`
	StatusSource    calls.Source `json:"statusSource"`
	DurationSeconds int          `json:"durationSeconds"`
	Recording       bool         `json:"hasRecording"`
	LinkedEntity    string       `json:"linkedEntity,omitempty"`
	At              time.Time    `json:"at"`
}

// publishChange is best-effort: a failed publish is logged and never fails the write.
func publishChange(ctx context.Context, p Publisher, rec calls.CallRecord) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(CallEvent{
		CallID:          rec.CallID,
		ParentCallID:    rec.ParentCallID,
		Status:          rec.Status,
		StatusSource:    rec.StatusSource,
		DurationSeconds: rec.DurationSeconds,
		Recording:       rec.RecordingReference != "",
		LinkedEntity:    rec.LinkedEntity,
		At:              rec.UpdatedAt,
	})
	if err != nil {
		return
	}
	if err := p.Publish(ctx, payload); err != nil {
		logger.From(ctx).Warn("call event publish failed", "call_id", rec.CallID, "err", err)
	}
}
