package telephony

import (
	"strconv"
	"time"

	"github.com/twilio/twilio-go/twiml"
)

// FallbackHangup is served when a voice document cannot be rendered.
// The provider must always get a valid document back.
const FallbackHangup = `<?xml version="1.0" encoding="UTF-8"?><Response><Hangup/></Response>`

// Notices spoken to the caller when the bridged leg did not connect.
const (
	NoticeBusy     = "The number you called is busy. Please try again later."
	NoticeNoAnswer = "There was no answer. Please try again later."
	NoticeFailed   = "We could not connect your call. Please try again later."
)

// SilentHangup ends the call without speaking.
func SilentHangup() string {
	return render([]twiml.Element{&twiml.VoiceHangup{}})
}

// NoticeThenHangup speaks msg, then ends the call.
func NoticeThenHangup(msg string) string {
	return render([]twiml.Element{
		&twiml.VoiceSay{Message: msg},
		&twiml.VoiceHangup{},
	})
}

// DialSpec is the bridge instruction returned once the agent leg answers.
type DialSpec struct {
	Target     string
	CallerID   string
	ActionURL  string
	Timeout    time.Duration
	RecordDual bool
	// RecordingCallbackURL receives recording-ready notifications.
	RecordingCallbackURL string
}

// BridgeDial dials Target and posts the outcome to ActionURL.
func BridgeDial(spec DialSpec) string {
	dial := &twiml.VoiceDial{
		CallerId:      spec.CallerID,
		Action:        spec.ActionURL,
		Method:        "POST",
		InnerElements: []twiml.Element{&twiml.VoiceNumber{PhoneNumber: spec.Target}},
	}
	if spec.Timeout > 0 {
		dial.Timeout = strconv.Itoa(int(spec.Timeout.Seconds()))
	}
	if spec.RecordDual {
		dial.Record = "record-from-answer-dual"
		if spec.RecordingCallbackURL != "" {
			dial.OptionalAttributes = map[string]string{"recordingStatusCallback": spec.RecordingCallbackURL}
		}
	}
	return render([]twiml.Element{dial})
}

func render(verbs []twiml.Element) string {
	doc, err := twiml.Voice(verbs)
	if err != nil || doc == "" {
		return FallbackHangup
	}
	return doc
}
