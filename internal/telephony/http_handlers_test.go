package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crm-telephony/internal/calls"

	"github.com/gin-gonic/gin"
)

func newWebhookRouter(store calls.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := WebhookHandlers{
		Status:        StatusMachine{Store: store},
		Finalizer:     Finalizer{Store: store},
		PublicBaseURL: "https://crm.example.com",
		RingTimeout:   25 * time.Second,
		RecordCalls:   true,
	}
	r := gin.New()
	r.POST(PathBridge, h.HandleBridge)
	r.POST(PathStatus, h.HandleStatus)
	r.POST(PathDialComplete, h.HandleDialComplete)
	r.GET(PathDialComplete, h.HandleDialComplete)
	return r
}

func serve(r http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatusWebhookMalformedBodyRecoversCallIDFromQuery(t *testing.T) {
	store := newStore()
	r := newWebhookRouter(store)

	w := serve(r, http.MethodPost, "/status?callId=CA77&status=busy", "application/json", "{not json")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	rec, err := store.Get(context.Background(), "CA77")
	if err != nil {
		t.Fatalf("expected record, got %v", err)
	}
	if rec.Status != calls.StatusBusy {
		t.Fatalf("expected busy, got %q", rec.Status)
	}
}

func TestStatusWebhookAlwaysAcknowledges(t *testing.T) {
	r := newWebhookRouter(failingStore{})
	for _, body := range []string{"", "CallStatus=ringing", "CallSid=CA1&CallStatus=ringing"} {
		w := serve(r, http.MethodPost, "/status", "application/x-www-form-urlencoded", body)
		if w.Code != http.StatusOK {
			t.Fatalf("body %q: expected 200, got %d", body, w.Code)
		}
	}
}

func TestBridgeWebhookDialsTarget(t *testing.T) {
	r := newWebhookRouter(newStore())
	w := serve(r, http.MethodPost, "/bridge?target=%2B15551230000&callerId=%2B15550009999&linkedEntity=deal-7",
		"application/x-www-form-urlencoded", "CallSid=CA123&CallStatus=in-progress")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"<Dial", "+15551230000", `timeout="25"`, "/dial-complete?linkedEntity=deal-7"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in %s", want, body)
		}
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestBridgeWebhookWithoutTargetSpeaksNotice(t *testing.T) {
	r := newWebhookRouter(newStore())
	w := serve(r, http.MethodPost, "/bridge", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<Say") {
		t.Fatalf("expected spoken notice, got %d %s", w.Code, w.Body.String())
	}
}

func TestBridgeWebhookHangsUpOnVoicemail(t *testing.T) {
	r := newWebhookRouter(newStore())
	for _, answeredBy := range []string{"machine_end_beep", "machine_start", "fax"} {
		w := serve(r, http.MethodPost, "/bridge?target=%2B15551230000", "application/x-www-form-urlencoded",
			"CallSid=CA123&CallStatus=in-progress&AnsweredBy="+answeredBy)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", answeredBy, w.Code)
		}
		body := w.Body.String()
		if strings.Contains(body, "<Dial") || strings.Contains(body, "<Say") || !strings.Contains(body, "<Hangup") {
			t.Fatalf("%s: expected silent hangup, got %s", answeredBy, body)
		}
	}
}

func TestBridgeWebhookDialsWhenHumanAnswers(t *testing.T) {
	r := newWebhookRouter(newStore())
	w := serve(r, http.MethodPost, "/bridge?target=%2B15551230000", "application/json",
		`{"callId":"CA123","answeredBy":"human"}`)
	if !strings.Contains(w.Body.String(), "<Dial") {
		t.Fatalf("expected dial for a human answer, got %s", w.Body.String())
	}
}

func TestDialCompleteGetIsSilentHangup(t *testing.T) {
	store := newStore()
	r := newWebhookRouter(store)
	w := serve(r, http.MethodGet, "/dial-complete?CallSid=CA1&DialCallStatus=busy", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "<Say") || !strings.Contains(w.Body.String(), "<Hangup") {
		t.Fatalf("expected silent hangup: %s", w.Body.String())
	}
	if _, err := store.Get(context.Background(), "CA1"); err == nil {
		t.Fatalf("GET must not write")
	}
}

func TestDialCompletePostWritesAndResponds(t *testing.T) {
	store := newStore()
	r := newWebhookRouter(store)
	w := serve(r, http.MethodPost, "/dial-complete?linkedEntity=deal-7", "application/x-www-form-urlencoded",
		"CallSid=CA1&DialCallStatus=no-answer&DialCallSid=CA2&DialCallDuration=0")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), NoticeNoAnswer) {
		t.Fatalf("expected no-answer notice, got %d %s", w.Code, w.Body.String())
	}
	rec, err := store.Get(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("expected parent record, got %v", err)
	}
	if rec.StatusSource != calls.SourceDialComplete || rec.LinkedEntity != "deal-7" {
		t.Fatalf("unexpected record %+v", rec)
	}
}
