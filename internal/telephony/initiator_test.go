package telephony

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"crm-telephony/internal/apperr"
	"crm-telephony/internal/calls"

	"github.com/stretchr/testify/require"
)

func newInitiator(p Provider, s calls.Store) Initiator {
	return Initiator{
		Provider: p,
		Store:    s,
		Config: InitiatorConfig{
			PublicBaseURL: "https://crm.example.com/",
			RingTimeout:   30 * time.Second,
		},
		Now: func() time.Time { return t0 },
	}
}

func TestInitiator_PlacesBridgeAndStoresRecord(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	p := &fakeProvider{nextSid: "CA123"}

	callID, err := newInitiator(p, store).Initiate(ctx, BridgeRequest{
		To:           "+15551230000",
		From:         "+15550009999",
		AgentPhone:   "+15557778888",
		LinkedEntity: "deal-7",
	})
	require.NoError(t, err)
	require.Equal(t, "CA123", callID)

	require.Len(t, p.created, 1)
	req := p.created[0]
	require.Equal(t, "+15557778888", req.To)
	require.Equal(t, "+15550009999", req.From)
	require.Equal(t, 30*time.Second, req.RingTimeout)

	answer, err := url.Parse(req.AnswerURL)
	require.NoError(t, err)
	require.Equal(t, "/bridge", answer.Path)
	require.Equal(t, "+15551230000", answer.Query().Get("target"))
	require.Equal(t, "+15550009999", answer.Query().Get("callerId"))
	require.Equal(t, "deal-7", answer.Query().Get("linkedEntity"))
	require.Equal(t, "https://crm.example.com/status?linkedEntity=deal-7", req.StatusCallbackURL)

	rec, err := store.Get(ctx, "CA123")
	require.NoError(t, err)
	require.Equal(t, calls.StatusInitiated, rec.Status)
	require.Equal(t, calls.SourceInitiator, rec.StatusSource)
	require.Equal(t, "+15551230000", rec.ToNumber)
	require.Equal(t, "deal-7", rec.LinkedEntity)
}

func TestInitiator_UsesConfiguredDefaults(t *testing.T) {
	p := &fakeProvider{nextSid: "CA9"}
	in := newInitiator(p, newStore())
	in.Config.DefaultFrom = "+15550000001"
	in.Config.DefaultAgentPhone = "+15550000002"

	_, err := in.Initiate(context.Background(), BridgeRequest{To: "+15551230000"})
	require.NoError(t, err)
	require.Equal(t, "+15550000002", p.created[0].To)
	require.Equal(t, "+15550000001", p.created[0].From)
}

func TestInitiator_Validation(t *testing.T) {
	cases := []struct {
		name  string
		req   BridgeRequest
		field string
	}{
		{name: "missing to", req: BridgeRequest{From: "+1", AgentPhone: "+2"}, field: "to"},
		{name: "missing from", req: BridgeRequest{To: "+1", AgentPhone: "+2"}, field: "from"},
		{name: "missing agent", req: BridgeRequest{To: "+1", From: "+2"}, field: "agentPhone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &fakeProvider{nextSid: "CA1"}
			_, err := newInitiator(p, newStore()).Initiate(context.Background(), tc.req)
			var ve *apperr.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			require.Equal(t, tc.field, ve.Field)
			require.Empty(t, p.created)
		})
	}
}

func TestInitiator_MissingCredentials(t *testing.T) {
	_, err := newInitiator(NewTwilioProvider("", ""), newStore()).Initiate(context.Background(), BridgeRequest{
		To: "+15551230000", From: "+15550009999", AgentPhone: "+15557778888",
	})
	var ce *apperr.ConfigurationError
	require.True(t, errors.As(err, &ce), "got %v", err)
	require.Equal(t, 500, apperr.HTTPStatus(err))
}

func TestInitiator_ProviderRejection(t *testing.T) {
	p := &fakeProvider{createErr: &apperr.ProviderError{StatusCode: 400, Code: 21211, Message: "invalid number"}}
	_, err := newInitiator(p, newStore()).Initiate(context.Background(), BridgeRequest{
		To: "+1", From: "+2", AgentPhone: "+3",
	})
	require.Equal(t, 400, apperr.HTTPStatus(err))
	require.Equal(t, apperr.CodeProvider, apperr.CodeOf(err))
}

func TestInitiator_StoreFailureStillReturnsCallID(t *testing.T) {
	p := &fakeProvider{nextSid: "CA5"}
	callID, err := newInitiator(p, failingStore{}).Initiate(context.Background(), BridgeRequest{
		To: "+1", From: "+2", AgentPhone: "+3",
	})
	require.NoError(t, err)
	require.Equal(t, "CA5", callID)
}
