package calls

import (
	"strings"
	"time"
)

// CallRecord is the durable record of one logical call leg.
//
// Invariants:
// - CallID is provider-assigned and never regenerated.
// - Status moves to a terminal value once; a later terminal write only lands if its
//   source outranks the one that wrote the current terminal status.
// - AnalysisState only moves none -> pending -> complete|failed.
//
// NOTE: LinkedEntity is an opaque CRM identifier. It is stored and passed back, never interpreted.
type CallRecord struct {
	CallID       string    `json:"callId" db:"call_id"`
	ParentCallID string    `json:"parentCallId,omitempty" db:"parent_call_id"`
	Direction    Direction `json:"direction" db:"direction"`

	FromNumber string `json:"fromNumber" db:"from_number"`
	ToNumber   string `json:"toNumber" db:"to_number"`

	Status       Status    `json:"status" db:"status"`
	StatusSource Source    `json:"statusSource" db:"status_source"`
	StatusAt     time.Time `json:"statusAt" db:"status_at"`

	DurationSeconds int `json:"durationSeconds" db:"duration_seconds"`

	RecordingReference string `json:"recordingReference,omitempty" db:"recording_reference"`

	AnalysisJobReference  string        `json:"analysisJobReference,omitempty" db:"analysis_job_reference"`
	AnalysisState         AnalysisState `json:"analysisState" db:"analysis_state"`
	AnalysisFailureReason string        `json:"analysisFailureReason,omitempty" db:"analysis_failure_reason"`

	LinkedEntity string `json:"linkedEntity,omitempty" db:"linked_entity"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusCompleted Status = "completed"
	StatusBusy      Status = "busy"
	StatusNoAnswer  Status = "no-answer"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// IsTerminal reports whether no further transition is expected after s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// progress orders the non-terminal statuses along a call's lifetime.
func (s Status) progress() int {
	switch s {
	case StatusRinging:
		return 1
	case StatusAnswered:
		return 2
	default:
		return 0
	}
}

// NormalizeStatus maps the provider's status vocabulary onto Status.
// Unrecognized values are returned verbatim with known=false; callers store them as-is.
func NormalizeStatus(raw string) (s Status, known bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.ReplaceAll(v, "_", "-")
	switch v {
	case "queued", "initiated":
		return StatusInitiated, true
	case "ringing":
		return StatusRinging, true
	case "in-progress", "answered":
		return StatusAnswered, true
	case "completed":
		return StatusCompleted, true
	case "busy":
		return StatusBusy, true
	case "no-answer":
		return StatusNoAnswer, true
	case "failed":
		return StatusFailed, true
	case "canceled", "cancelled":
		return StatusCanceled, true
	default:
		return Status(v), false
	}
}

type AnalysisState string

const (
	AnalysisNone     AnalysisState = "none"
	AnalysisPending  AnalysisState = "pending"
	AnalysisComplete AnalysisState = "complete"
	AnalysisFailed   AnalysisState = "failed"
)

func (a AnalysisState) IsTerminal() bool {
	return a == AnalysisComplete || a == AnalysisFailed
}

// Source identifies which component wrote a status.
type Source string

const (
	SourceInitiator    Source = "initiator"
	SourceWebhook      Source = "webhook"
	SourceDialComplete Source = "dial-complete"
)

// rank orders sources by authority. Higher wins over lower for terminal writes.
func (s Source) rank() int {
	switch s {
	case SourceDialComplete:
		return 2
	case SourceWebhook:
		return 1
	default:
		return 0
	}
}
