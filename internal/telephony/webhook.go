package telephony

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crm-telephony/internal/calls"

	"github.com/buger/jsonparser"
	"github.com/gorilla/schema"
)

// maxWebhookBody bounds how much of a webhook body is read.
const maxWebhookBody = 1 << 20

// PayloadSource records which representation a webhook payload was recovered from.
type PayloadSource string

const (
	PayloadForm  PayloadSource = "form"
	PayloadJSON  PayloadSource = "json"
	PayloadQuery PayloadSource = "query"
	PayloadEmpty PayloadSource = "empty"
)

// Payload is a webhook body reduced to flat string fields.
// Query-string parameters fill keys the body did not carry.
type Payload struct {
	Source PayloadSource
	Fields url.Values
}

// ParsePayload never fails: it tries the body as form or JSON (by content type, then by sniffing),
// falls back to query-string parameters, and finally to an empty payload.
func ParsePayload(r *http.Request) Payload {
	body := readBody(r)
	query := r.URL.Query()

	p := Payload{Source: PayloadEmpty, Fields: url.Values{}}
	if fields, src, ok := parseBody(r.Header.Get("Content-Type"), body); ok {
		p.Source, p.Fields = src, fields
	}
	if len(p.Fields) == 0 && len(query) > 0 {
		p.Source = PayloadQuery
	}
	for k, v := range query {
		if _, ok := p.Fields[k]; !ok {
			p.Fields[k] = v
		}
	}
	return p
}

func readBody(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return nil
	}
	return bytes.TrimSpace(b)
}

func parseBody(contentType string, body []byte) (url.Values, PayloadSource, bool) {
	if len(body) == 0 {
		return nil, "", false
	}
	mt, _, _ := mime.ParseMediaType(contentType)
	looksJSON := body[0] == '{'

	switch {
	case mt == "application/json" || strings.HasSuffix(mt, "+json") || looksJSON:
		if fields, ok := parseJSONObject(body); ok {
			return fields, PayloadJSON, true
		}
		return nil, "", false
	default:
		vals, err := url.ParseQuery(string(body))
		if err != nil || len(vals) == 0 {
			return nil, "", false
		}
		return vals, PayloadForm, true
	}
}

// parseJSONObject flattens the top level of a JSON object; nested values are skipped.
func parseJSONObject(body []byte) (url.Values, bool) {
	out := url.Values{}
	err := jsonparser.ObjectEach(body, func(key, value []byte, dt jsonparser.ValueType, _ int) error {
		k := string(key)
		switch dt {
		case jsonparser.String:
			s, err := jsonparser.ParseString(value)
			if err != nil {
				return err
			}
			out.Set(k, s)
		case jsonparser.Number, jsonparser.Boolean:
			out.Set(k, string(value))
		}
		return nil
	})
	if err != nil {
		return nil, false
	}
	return out, true
}

// Callback is the voice webhook fields the orchestrator reads.
// Provider (Twilio) field names are canonical; camelCase aliases are accepted too.
type Callback struct {
	CallSid       string `schema:"CallSid"`
	ParentCallSid string `schema:"ParentCallSid"`
	CallStatus    string `schema:"CallStatus"`
	Direction     string `schema:"Direction"`
	From          string `schema:"From"`
	To            string `schema:"To"`
	CallDuration  string `schema:"CallDuration"`
	Timestamp     string `schema:"Timestamp"`
	AnsweredBy    string `schema:"AnsweredBy"`

	RecordingURL string `schema:"RecordingUrl"`
	RecordingSid string `schema:"RecordingSid"`

	DialCallSid      string `schema:"DialCallSid"`
	DialCallStatus   string `schema:"DialCallStatus"`
	DialCallDuration string `schema:"DialCallDuration"`

	LinkedEntity string `schema:"linkedEntity"`
}

// fieldAliases maps alternative names onto the canonical ones. Applied only when the
// canonical key is absent.
var fieldAliases = map[string][]string{
	"CallSid":       {"callId", "call_id", "CallSID"},
	"ParentCallSid": {"parentCallId", "parent_call_id"},
	"CallStatus":    {"status", "callStatus", "call_status"},
	"Direction":     {"direction"},
	"From":          {"from"},
	"To":            {"to"},
	"CallDuration":  {"Duration", "duration", "durationSeconds", "duration_seconds"},
	"Timestamp":     {"timestamp"},
	"AnsweredBy":    {"answeredBy", "answered_by"},
	"RecordingUrl":  {"recordingUrl", "recordingReference", "recording_url"},
	"RecordingSid":  {"recordingSid", "recording_sid"},
	"linkedEntity":  {"linked_entity", "LinkedEntity"},
}

var callbackDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// DecodeCallback maps a payload onto Callback. Unknown keys are ignored; a payload
// with none of the known keys yields a zero Callback.
func DecodeCallback(p Payload) Callback {
	vals := url.Values{}
	for k, v := range p.Fields {
		vals[k] = v
	}
	for canonical, aliases := range fieldAliases {
		if vals.Get(canonical) != "" {
			continue
		}
		for _, a := range aliases {
			if v := vals.Get(a); v != "" {
				vals.Set(canonical, v)
				break
			}
		}
	}

	var cb Callback
	if err := callbackDecoder.Decode(&cb, vals); err != nil {
		// Only string fields are decoded, so this is unreachable for well-formed values.
		return Callback{}
	}
	cb.CallSid = strings.TrimSpace(cb.CallSid)
	cb.From = strings.TrimSpace(cb.From)
	cb.To = strings.TrimSpace(cb.To)
	return cb
}

// Duration returns the reported call duration, or nil when absent or malformed.
func (cb Callback) Duration() *int { return parseSeconds(cb.CallDuration) }

// DialDuration returns the bridged leg's duration, or nil when absent or malformed.
func (cb Callback) DialDuration() *int { return parseSeconds(cb.DialCallDuration) }

// RecordingReference prefers the recording URL over its sid.
func (cb Callback) RecordingReference() string {
	if cb.RecordingURL != "" {
		return cb.RecordingURL
	}
	return cb.RecordingSid
}

// MachineAnswered reports whether answering-machine detection classified the answer
// as a machine or a fax line. "human" and "unknown" are treated as a person.
func (cb Callback) MachineAnswered() bool {
	v := strings.ToLower(strings.TrimSpace(cb.AnsweredBy))
	return strings.HasPrefix(v, "machine") || v == "fax"
}

// CallDirection maps the provider direction ("inbound", "outbound-api", "outbound-dial").
func (cb Callback) CallDirection() calls.Direction {
	if strings.HasPrefix(strings.ToLower(cb.Direction), "inbound") {
		return calls.DirectionIncoming
	}
	if cb.Direction == "" {
		return ""
	}
	return calls.DirectionOutgoing
}

// EventTime parses the provider timestamp; zero when absent or unparseable.
func (cb Callback) EventTime() time.Time {
	s := strings.TrimSpace(cb.Timestamp)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0).UTC()
	}
	return time.Time{}
}

func parseSeconds(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}
