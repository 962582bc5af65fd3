package telephony

import (
	"strings"
	"testing"
	"time"
)

func TestSilentHangup(t *testing.T) {
	doc := SilentHangup()
	if !strings.Contains(doc, "<Hangup") {
		t.Fatalf("expected hangup verb: %s", doc)
	}
	if strings.Contains(doc, "<Say") {
		t.Fatalf("expected no speech: %s", doc)
	}
}

func TestNoticeThenHangup(t *testing.T) {
	doc := NoticeThenHangup(NoticeBusy)
	say := strings.Index(doc, "<Say")
	hangup := strings.Index(doc, "<Hangup")
	if say < 0 || hangup < 0 || say > hangup {
		t.Fatalf("expected Say before Hangup: %s", doc)
	}
	if !strings.Contains(doc, "busy") {
		t.Fatalf("expected busy notice: %s", doc)
	}
}

func TestBridgeDial(t *testing.T) {
	doc := BridgeDial(DialSpec{
		Target:    "+15557654321",
		CallerID:  "+15559990000",
		ActionURL: "https://crm.example.com/dial-complete",
		Timeout:   30 * time.Second,
	})
	for _, want := range []string{"<Dial", `callerId="+15559990000"`, `action="https://crm.example.com/dial-complete"`, `timeout="30"`, "<Number", "+15557654321"} {
		if !strings.Contains(doc, want) {
			t.Fatalf("expected %q in %s", want, doc)
		}
	}
	if strings.Contains(doc, "record=") {
		t.Fatalf("expected no recording attribute: %s", doc)
	}
}

func TestBridgeDialRecording(t *testing.T) {
	doc := BridgeDial(DialSpec{Target: "+15557654321", RecordDual: true, RecordingCallbackURL: "https://crm.example.com/status"})
	if !strings.Contains(doc, "record-from-answer-dual") || !strings.Contains(doc, "recordingStatusCallback") {
		t.Fatalf("expected dual recording attributes: %s", doc)
	}
}

func TestFallbackHangupIsWellFormed(t *testing.T) {
	if !strings.HasPrefix(FallbackHangup, "<?xml") || !strings.Contains(FallbackHangup, "<Hangup/>") {
		t.Fatalf("unexpected fallback %s", FallbackHangup)
	}
}
