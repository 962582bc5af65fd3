package telephony

import (
	"context"
	"net/url"
	"strings"
	"time"

	"crm-telephony/internal/apperr"
	"crm-telephony/internal/calls"
	"crm-telephony/pkg/logger"
)

// Webhook paths the provider is pointed at.
const (
	PathBridge       = "/bridge"
	PathStatus       = "/status"
	PathDialComplete = "/dial-complete"
)

// statusEvents are the progress callbacks requested for every originated leg.
var statusEvents = []string{"initiated", "ringing", "answered", "completed"}

// BridgeRequest is a click-to-call: ring the agent, then connect them to To.
type BridgeRequest struct {
	To           string `json:"to"`
	From         string `json:"from"`
	AgentPhone   string `json:"agentPhone"`
	LinkedEntity string `json:"linkedEntity"`
}

type InitiatorConfig struct {
	// PublicBaseURL is where the provider reaches our webhooks, without a trailing slash.
	PublicBaseURL     string
	DefaultFrom       string
	DefaultAgentPhone string
	RingTimeout       time.Duration
	MachineDetection  string
}

// Initiator places bridged outbound calls.
type Initiator struct {
	Provider Provider
	Store    calls.Store
	Config   InitiatorConfig

	Now func() time.Time
}

// Initiate asks the provider to ring the agent and returns the provider call id.
// The initiated record is written best-effort: status webhooks create it if this write fails.
func (i Initiator) Initiate(ctx context.Context, req BridgeRequest) (string, error) {
	log := logger.From(ctx)
	if i.Now == nil {
		i.Now = time.Now
	}

	req.To = strings.TrimSpace(req.To)
	if req.To == "" {
		return "", apperr.Validation("to", "required")
	}
	from := firstNonEmpty(req.From, i.Config.DefaultFrom)
	if from == "" {
		return "", apperr.Validation("from", "required (no default caller id configured)")
	}
	agent := firstNonEmpty(req.AgentPhone, i.Config.DefaultAgentPhone)
	if agent == "" {
		return "", apperr.Validation("agentPhone", "required (no default agent phone configured)")
	}
	if i.Provider == nil {
		return "", apperr.Configuration("telephony provider")
	}
	if i.Config.PublicBaseURL == "" {
		return "", apperr.Configuration("PUBLIC_BASE_URL")
	}

	callID, err := i.Provider.CreateCall(ctx, CreateCallRequest{
		To:                agent,
		From:              from,
		AnswerURL:         i.webhookURL(PathBridge, url.Values{"target": {req.To}, "callerId": {from}, "linkedEntity": {req.LinkedEntity}}),
		StatusCallbackURL: i.webhookURL(PathStatus, url.Values{"linkedEntity": {req.LinkedEntity}}),
		StatusEvents:      statusEvents,
		RingTimeout:       i.Config.RingTimeout,
		MachineDetection:  i.Config.MachineDetection,
	})
	if err != nil {
		return "", err
	}

	_, err = i.Store.ApplyTransition(ctx, calls.Transition{
		CallID:       callID,
		Direction:    calls.DirectionOutgoing,
		From:         from,
		To:           req.To,
		Status:       calls.StatusInitiated,
		LinkedEntity: req.LinkedEntity,
		Source:       calls.SourceInitiator,
		At:           i.Now().UTC(),
	})
	if err != nil {
		log.Error("initiated call not stored", "call_id", callID, "err", err)
	}
	log.Info("bridge call initiated", "call_id", callID, "linked_entity", req.LinkedEntity)
	return callID, nil
}

func (i Initiator) webhookURL(path string, q url.Values) string {
	for k, v := range q {
		if len(v) == 0 || v[0] == "" {
			delete(q, k)
		}
	}
	u := strings.TrimRight(i.Config.PublicBaseURL, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
