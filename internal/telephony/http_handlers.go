package telephony

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"crm-telephony/pkg/logger"
	"crm-telephony/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// WebhookHandlers serves the provider-facing endpoints. They never return a non-2xx
// status for payload problems: the provider would retry or play an error to the caller.
//
// NOTE: provider request signature validation belongs in front of these routes.
type WebhookHandlers struct {
	Status    StatusMachine
	Finalizer Finalizer
	Metrics   *metrics.Metrics

	PublicBaseURL string
	RingTimeout   time.Duration
	// RecordCalls enables dual-channel recording of bridged calls.
	RecordCalls bool
}

// HandleBridge answers the agent leg with a Dial to the target. A missing target
// gets a spoken notice instead of a dial; an agent leg answered by voicemail or a
// fax line is hung up without dialing the target.
func (h WebhookHandlers) HandleBridge(c *gin.Context) {
	log := logger.FromGin(c)
	cb := DecodeCallback(ParsePayload(c.Request))
	if cb.MachineAnswered() {
		log.Info("agent leg answered by machine; not dialing target", "call_id", cb.CallSid, "answered_by", cb.AnsweredBy)
		h.Metrics.WebhookEvent("bridge", string(OutcomeDropped))
		writeVoice(c, SilentHangup())
		return
	}
	q := c.Request.URL.Query()
	target := strings.TrimSpace(q.Get("target"))
	if target == "" {
		log.Warn("bridge request without target", "call_id", cb.CallSid)
		h.Metrics.WebhookEvent("bridge", string(OutcomeDropped))
		writeVoice(c, NoticeThenHangup(NoticeFailed))
		return
	}

	linked := url.Values{}
	if le := firstNonEmpty(q.Get("linkedEntity"), cb.LinkedEntity); le != "" {
		linked.Set("linkedEntity", le)
	}
	base := strings.TrimRight(h.PublicBaseURL, "/")
	spec := DialSpec{
		Target:     target,
		CallerID:   firstNonEmpty(q.Get("callerId"), cb.From),
		ActionURL:  withQuery(base+PathDialComplete, linked),
		Timeout:    h.RingTimeout,
		RecordDual: h.RecordCalls,
	}
	if h.RecordCalls {
		spec.RecordingCallbackURL = withQuery(base+PathStatus, linked)
	}
	h.Metrics.WebhookEvent("bridge", string(OutcomeApplied))
	writeVoice(c, BridgeDial(spec))
}

// HandleStatus records a status callback. Always 200.
func (h WebhookHandlers) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)
	payload := ParsePayload(c.Request)
	cb := DecodeCallback(payload)

	ctx := logger.With(c.Request.Context(), log)
	outcome, err := h.Status.Apply(ctx, cb)
	switch {
	case outcome == OutcomeError:
		log.Error("status webhook not stored", "call_id", cb.CallSid, "err", err)
	case err != nil:
		log.Warn("status webhook dropped", "payload_source", payload.Source, "err", err)
	default:
		log.Debug("status webhook", "call_id", cb.CallSid, "status", cb.CallStatus, "outcome", outcome)
	}
	h.Metrics.WebhookEvent("status", string(outcome))
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
}

// HandleDialComplete serves the dial action. GET probes get a silent hangup and
// write nothing.
func (h WebhookHandlers) HandleDialComplete(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		writeVoice(c, SilentHangup())
		return
	}
	log := logger.FromGin(c)
	cb := DecodeCallback(ParsePayload(c.Request))
	doc := h.Finalizer.Finalize(logger.With(c.Request.Context(), log), cb)
	h.Metrics.WebhookEvent("dial-complete", string(ClassifyDial(cb.DialCallStatus)))
	writeVoice(c, doc)
}

func writeVoice(c *gin.Context, doc string) {
	if doc == "" {
		doc = FallbackHangup
	}
	c.Header("Content-Type", "text/xml; charset=utf-8")
	c.String(http.StatusOK, doc)
}

func withQuery(u string, q url.Values) string {
	if len(q) == 0 {
		return u
	}
	return u + "?" + q.Encode()
}
