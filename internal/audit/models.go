package audit

import "time"

// Event is an append-only record of a user-initiated call action.
// Events are never updated or deleted. Audit writes are best-effort and never block the action.
type Event struct {
	ID    string    `json:"id"`
	OrgID string    `json:"org_id,omitempty"`
	Type  EventType `json:"type"`

	ActorUserID string `json:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`

	// CallID is the primary call acted on; Metadata carries the rest (e.g. all hangup ids).
	CallID   string `json:"call_id,omitempty"`
	Message  string `json:"message,omitempty"`
	Metadata string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventCallInitiated     EventType = "call_initiated"
	EventHangupRequested   EventType = "hangup_requested"
	EventAnalysisRequested EventType = "analysis_requested"
)

// Actor is who performed the action.
type Actor struct {
	UserID string
	OrgID  string
	Role   string
	IP     string
}
