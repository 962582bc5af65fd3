package telephony

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-telephony/internal/apperr"

	twclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeCallAPI struct {
	createParams *api.CreateCallParams
	createErr    error

	updateErr error
	updated   []string

	listed []api.ApiV2010Call
}

func (f *fakeCallAPI) CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error) {
	f.createParams = params
	if f.createErr != nil {
		return nil, f.createErr
	}
	sid := "CA123"
	return &api.ApiV2010Call{Sid: &sid}, nil
}

func (f *fakeCallAPI) UpdateCall(sid string, _ *api.UpdateCallParams) (*api.ApiV2010Call, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updated = append(f.updated, sid)
	return &api.ApiV2010Call{Sid: &sid}, nil
}

func (f *fakeCallAPI) ListCall(_ *api.ListCallParams) ([]api.ApiV2010Call, error) {
	return f.listed, nil
}

func strp(s string) *string { return &s }

func TestTwilioProviderWithoutCredentialsIsConfigurationError(t *testing.T) {
	p := NewTwilioProvider("", "")
	_, err := p.CreateCall(context.Background(), CreateCallRequest{To: "+15550001111"})
	var ce *apperr.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestTwilioProviderCreateCallParams(t *testing.T) {
	f := &fakeCallAPI{}
	p := &TwilioProvider{api: f, listLimit: 50}

	sid, err := p.CreateCall(context.Background(), CreateCallRequest{
		To:                "+15550001111",
		From:              "+15559990000",
		AnswerURL:         "https://crm.example.com/bridge?target=%2B15557654321",
		StatusCallbackURL: "https://crm.example.com/status",
		StatusEvents:      statusEvents,
		RingTimeout:       30 * time.Second,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if sid != "CA123" {
		t.Fatalf("unexpected sid %q", sid)
	}
	got := f.createParams
	if *got.To != "+15550001111" || *got.From != "+15559990000" {
		t.Fatalf("unexpected to/from: %q %q", *got.To, *got.From)
	}
	if *got.Timeout != 30 {
		t.Fatalf("expected ring timeout 30, got %d", *got.Timeout)
	}
	if got.StatusCallbackEvent == nil || len(*got.StatusCallbackEvent) != len(statusEvents) {
		t.Fatalf("expected status events to be requested")
	}
}

func TestTwilioProviderCreateCallRejected(t *testing.T) {
	f := &fakeCallAPI{createErr: &twclient.TwilioRestError{Status: 400, Code: 21211, Message: "Invalid 'To' Phone Number"}}
	p := &TwilioProvider{api: f}

	_, err := p.CreateCall(context.Background(), CreateCallRequest{To: "nope"})
	var pe *apperr.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if pe.StatusCode != 400 || pe.Code != 21211 {
		t.Fatalf("unexpected provider error %+v", pe)
	}
	if apperr.HTTPStatus(err) != 400 {
		t.Fatalf("expected provider status to surface, got %d", apperr.HTTPStatus(err))
	}
}

func TestTwilioProviderCompleteCallErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		notFound bool
		auth     bool
	}{
		{name: "gone", err: &twclient.TwilioRestError{Status: 404, Code: 20404, Message: "not found"}, notFound: true},
		{name: "not in progress", err: &twclient.TwilioRestError{Status: 400, Code: 21220, Message: "Call is not in-progress"}, notFound: true},
		{name: "auth", err: &twclient.TwilioRestError{Status: 401, Code: 20003, Message: "Authenticate"}, auth: true},
		{name: "server", err: &twclient.TwilioRestError{Status: 500, Code: 20500, Message: "internal"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &TwilioProvider{api: &fakeCallAPI{updateErr: tc.err}}
			err := p.CompleteCall(context.Background(), "CA1")
			if err == nil {
				t.Fatalf("expected error")
			}
			if apperr.IsNotFound(err) != tc.notFound {
				t.Fatalf("IsNotFound=%v, want %v (%v)", apperr.IsNotFound(err), tc.notFound, err)
			}
			if IsAuthFailure(err) != tc.auth {
				t.Fatalf("IsAuthFailure=%v, want %v (%v)", IsAuthFailure(err), tc.auth, err)
			}
		})
	}
}

func TestTwilioProviderListChildCalls(t *testing.T) {
	f := &fakeCallAPI{listed: []api.ApiV2010Call{
		{Sid: strp("CA2"), Status: strp("in-progress")},
		{Sid: nil},
		{Sid: strp("CA3"), Status: strp("completed")},
	}}
	p := &TwilioProvider{api: f, listLimit: 50}

	legs, err := p.ListChildCalls(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(legs) != 2 || legs[0].CallID != "CA2" || legs[1].Status != "completed" || legs[0].ParentCallID != "CA1" {
		t.Fatalf("unexpected legs %+v", legs)
	}
}

func TestTwilioProviderHonoursCanceledContext(t *testing.T) {
	f := &fakeCallAPI{}
	p := &TwilioProvider{api: f}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.CompleteCall(ctx, "CA1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(f.updated) != 0 {
		t.Fatalf("expected no provider request")
	}
}
