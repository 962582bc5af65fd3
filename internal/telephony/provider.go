package telephony

import (
	"context"
	"time"
)

// Provider is the PSTN bridge the orchestrator drives.
//
// Rules:
// - No provider SDK calls outside provider adapters.
// - Errors are apperr types: ConfigurationError for missing credentials, ProviderError for
//   rejections (carrying the provider status), NotFoundError when a call is already gone.
type Provider interface {
	Name() string

	// CreateCall originates a call and returns the provider-assigned call identifier.
	CreateCall(ctx context.Context, req CreateCallRequest) (string, error)
	// CompleteCall asks the provider to end a call.
	CompleteCall(ctx context.Context, callID string) error
	// ListChildCalls returns the legs whose parent is parentCallID.
	ListChildCalls(ctx context.Context, parentCallID string) ([]Leg, error)
}

// CreateCallRequest describes the first leg of a bridge: ring To, and when answered
// fetch voice instructions from AnswerURL.
type CreateCallRequest struct {
	To   string
	From string

	AnswerURL         string
	StatusCallbackURL string
	StatusEvents      []string

	RingTimeout time.Duration
	// MachineDetection is passed through to the provider (e.g. "Enable").
	MachineDetection string
}

// Leg is one call object as listed by the provider.
type Leg struct {
	CallID       string
	ParentCallID string
	// Status is the provider's raw status string.
	Status string
}
