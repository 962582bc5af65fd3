package telephony

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"crm-telephony/internal/apperr"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// Twilio error codes the orchestrator reacts to.
const (
	twilioCodeAuthenticate     = 20003
	twilioCodeNotFound         = 20404
	twilioCodeCallNotInProgess = 21220
)

// callAPI is the subset of the twilio-go v2010 API used here.
type callAPI interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
	ListCall(params *api.ListCallParams) ([]api.ApiV2010Call, error)
}

// TwilioProvider implements Provider with the Twilio REST API.
// twilio-go does not take a context; ctx is checked before each request instead.
type TwilioProvider struct {
	api callAPI

	// listLimit bounds how many child legs are listed per parent.
	listLimit int
}

// NewTwilioProvider builds the provider. Missing credentials are not an error here:
// every operation returns a ConfigurationError until they are configured.
func NewTwilioProvider(accountSID, authToken string) *TwilioProvider {
	p := &TwilioProvider{listLimit: 50}
	if accountSID == "" || authToken == "" {
		return p
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	p.api = rest.Api
	return p
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) CreateCall(ctx context.Context, req CreateCallRequest) (string, error) {
	if err := p.ready(ctx); err != nil {
		return "", err
	}
	params := &api.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(req.From)
	params.SetUrl(req.AnswerURL)
	params.SetMethod(http.MethodPost)
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
		params.SetStatusCallbackMethod(http.MethodPost)
		if len(req.StatusEvents) > 0 {
			params.SetStatusCallbackEvent(req.StatusEvents)
		}
	}
	if req.RingTimeout > 0 {
		params.SetTimeout(int(req.RingTimeout.Seconds()))
	}
	if req.MachineDetection != "" {
		params.SetMachineDetection(req.MachineDetection)
	}

	resp, err := p.api.CreateCall(params)
	if err != nil {
		return "", toProviderError(err)
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return "", &apperr.ProviderError{StatusCode: http.StatusBadGateway, Message: "missing call sid in response"}
	}
	return *resp.Sid, nil
}

func (p *TwilioProvider) CompleteCall(ctx context.Context, callID string) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := p.api.UpdateCall(callID, params); err != nil {
		err = toProviderError(err)
		if isGone(err) {
			return apperr.NotFound("call", callID)
		}
		return err
	}
	return nil
}

func (p *TwilioProvider) ListChildCalls(ctx context.Context, parentCallID string) ([]Leg, error) {
	if err := p.ready(ctx); err != nil {
		return nil, err
	}
	params := &api.ListCallParams{}
	params.SetParentCallSid(parentCallID)
	params.SetLimit(p.listLimit)

	records, err := p.api.ListCall(params)
	if err != nil {
		return nil, toProviderError(err)
	}
	out := make([]Leg, 0, len(records))
	for _, r := range records {
		if r.Sid == nil {
			continue
		}
		leg := Leg{CallID: *r.Sid, ParentCallID: parentCallID}
		if r.Status != nil {
			leg.Status = *r.Status
		}
		out = append(out, leg)
	}
	return out, nil
}

func (p *TwilioProvider) ready(ctx context.Context) error {
	if p.api == nil {
		return apperr.Configuration("TWILIO_ACCOUNT_SID/TWILIO_AUTH_TOKEN")
	}
	return ctx.Err()
}

// toProviderError converts twilio-go errors into apperr.ProviderError.
func toProviderError(err error) error {
	var tre *twclient.TwilioRestError
	if errors.As(err, &tre) {
		return &apperr.ProviderError{StatusCode: tre.Status, Code: tre.Code, Message: tre.Message, Err: err}
	}
	return &apperr.ProviderError{Message: err.Error(), Err: err}
}

func isGone(err error) bool {
	var pe *apperr.ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.StatusCode == http.StatusNotFound || pe.Code == twilioCodeNotFound || pe.Code == twilioCodeCallNotInProgess
}

// IsAuthFailure reports whether err means the provider rejected our credentials.
func IsAuthFailure(err error) bool {
	var pe *apperr.ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.StatusCode == http.StatusUnauthorized || pe.StatusCode == http.StatusForbidden || pe.Code == twilioCodeAuthenticate
}

func providerLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var pe *apperr.ProviderError
	if errors.As(err, &pe) && pe.StatusCode != 0 {
		return strconv.Itoa(pe.StatusCode)
	}
	return string(apperr.CodeOf(err))
}
