package telephony

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crm-telephony/internal/calls"
)

func newWebhookRequest(target, contentType, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	return r
}

func TestParsePayloadForm(t *testing.T) {
	r := newWebhookRequest("/status?linkedEntity=deal-7", "application/x-www-form-urlencoded",
		"CallSid=CA123&CallStatus=completed&CallDuration=42&From=%2B15551234567")

	p := ParsePayload(r)
	if p.Source != PayloadForm {
		t.Fatalf("expected form payload, got %q", p.Source)
	}
	cb := DecodeCallback(p)
	if cb.CallSid != "CA123" || cb.CallStatus != "completed" || cb.From != "+15551234567" {
		t.Fatalf("unexpected callback %+v", cb)
	}
	if d := cb.Duration(); d == nil || *d != 42 {
		t.Fatalf("expected duration 42, got %v", d)
	}
	if cb.LinkedEntity != "deal-7" {
		t.Fatalf("expected linkedEntity from query, got %q", cb.LinkedEntity)
	}
}

func TestParsePayloadJSONWithAliases(t *testing.T) {
	r := newWebhookRequest("/status", "application/json",
		`{"callId":"CA124","status":"no_answer","durationSeconds":0,"recordingReference":"https://api.twilio.com/rec/RE1","nested":{"x":1}}`)

	p := ParsePayload(r)
	if p.Source != PayloadJSON {
		t.Fatalf("expected json payload, got %q", p.Source)
	}
	cb := DecodeCallback(p)
	if cb.CallSid != "CA124" {
		t.Fatalf("expected call id alias to map, got %+v", cb)
	}
	if st, known := calls.NormalizeStatus(cb.CallStatus); !known || st != calls.StatusNoAnswer {
		t.Fatalf("expected no-answer, got %q", st)
	}
	if cb.RecordingReference() != "https://api.twilio.com/rec/RE1" {
		t.Fatalf("unexpected recording reference %q", cb.RecordingReference())
	}
}

func TestParsePayloadJSONSniffedWithoutContentType(t *testing.T) {
	r := newWebhookRequest("/status", "", `{"CallSid":"CA9","CallStatus":"ringing"}`)
	if p := ParsePayload(r); p.Source != PayloadJSON || p.Fields.Get("CallSid") != "CA9" {
		t.Fatalf("expected sniffed json payload, got %+v", p)
	}
}

func TestParsePayloadMalformedBodyFallsBackToQuery(t *testing.T) {
	r := newWebhookRequest("/status?callId=CA999&status=busy", "application/json", `{"CallSid": `)

	p := ParsePayload(r)
	if p.Source != PayloadQuery {
		t.Fatalf("expected query payload, got %q", p.Source)
	}
	cb := DecodeCallback(p)
	if cb.CallSid != "CA999" || cb.CallStatus != "busy" {
		t.Fatalf("expected call recovered from query, got %+v", cb)
	}
}

func TestParsePayloadEmpty(t *testing.T) {
	r := newWebhookRequest("/status", "application/x-www-form-urlencoded", "")
	p := ParsePayload(r)
	if p.Source != PayloadEmpty || len(p.Fields) != 0 {
		t.Fatalf("expected empty payload, got %+v", p)
	}
	if cb := DecodeCallback(p); cb != (Callback{}) {
		t.Fatalf("expected zero callback, got %+v", cb)
	}
}

func TestCallbackHelpers(t *testing.T) {
	cb := Callback{
		CallDuration: "abc",
		Direction:    "outbound-dial",
		Timestamp:    "Sun, 01 Mar 2026 12:00:05 +0000",
		RecordingSid: "RE1",
	}
	if cb.Duration() != nil {
		t.Fatalf("expected malformed duration to be ignored")
	}
	if cb.CallDirection() != calls.DirectionOutgoing {
		t.Fatalf("expected outgoing")
	}
	if !cb.EventTime().Equal(t0.Add(5 * time.Second)) {
		t.Fatalf("unexpected event time %v", cb.EventTime())
	}
	if cb.RecordingReference() != "RE1" {
		t.Fatalf("expected recording sid fallback")
	}
	if (Callback{Direction: "inbound"}).CallDirection() != calls.DirectionIncoming {
		t.Fatalf("expected incoming")
	}
}
