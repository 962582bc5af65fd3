package telephony

import (
	"context"
	"strings"
	"sync"

	"crm-telephony/internal/apperr"
	"crm-telephony/internal/calls"
	"crm-telephony/pkg/logger"
	"crm-telephony/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

// LegResult is the per-leg outcome of a hangup request.
type LegResult struct {
	CallID       string `json:"callId"`
	ParentCallID string `json:"parentCallId,omitempty"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

const (
	LegTerminated = "terminated"
	LegNotFound   = "not-found"
	LegError      = "error"
)

// LegFailure is a leg the provider failed to end.
type LegFailure struct {
	CallID  string `json:"callId"`
	Message string `json:"message"`
}

// HangupResult is returned to the agent's client.
type HangupResult struct {
	Terminated int          `json:"terminated"`
	Errors     []LegFailure `json:"errors"`
	Results    []LegResult  `json:"results"`
}

// Terminator ends every leg of one or more calls: each parent first, then its children
// concurrently. Already-ended legs are reported as not-found and never fail the batch.
// A provider authentication failure aborts the whole batch.
type Terminator struct {
	Provider Provider
	Metrics  *metrics.Metrics

	// ChildConcurrency bounds parallel child hangups per parent.
	ChildConcurrency int
}

func (t Terminator) Terminate(ctx context.Context, callIDs []string) (HangupResult, error) {
	ids := dedupe(callIDs)
	if len(ids) == 0 {
		return HangupResult{}, apperr.Validation("callIds", "at least one call id required")
	}
	if t.Provider == nil {
		return HangupResult{}, apperr.Configuration("telephony provider")
	}

	out := HangupResult{Errors: []LegFailure{}, Results: []LegResult{}}
	for _, parent := range ids {
		res, err := t.terminateLeg(ctx, parent, "")
		if err != nil {
			return HangupResult{}, err
		}
		out.add(res)

		children, err := t.Provider.ListChildCalls(ctx, parent)
		t.Metrics.ProviderRequest("list_calls", providerLabel(err))
		if err != nil {
			if IsAuthFailure(err) {
				return HangupResult{}, err
			}
			out.Errors = append(out.Errors, LegFailure{CallID: parent, Message: "list child calls: " + err.Error()})
			continue
		}

		childResults, err := t.terminateChildren(ctx, parent, children)
		if err != nil {
			return HangupResult{}, err
		}
		for _, r := range childResults {
			out.add(r)
		}
	}
	logger.From(ctx).Info("hangup processed", "calls", len(ids), "terminated", out.Terminated, "errors", len(out.Errors))
	return out, nil
}

func (t Terminator) terminateChildren(ctx context.Context, parent string, children []Leg) ([]LegResult, error) {
	results := make([]LegResult, len(children))
	limit := t.ChildConcurrency
	if limit <= 0 {
		limit = 8
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	var mu sync.Mutex
	for i, child := range children {
		if child.CallID == "" || child.CallID == parent {
			continue
		}
		if st, _ := calls.NormalizeStatus(child.Status); st.IsTerminal() {
			mu.Lock()
			results[i] = LegResult{CallID: child.CallID, ParentCallID: parent, Status: LegNotFound}
			mu.Unlock()
			t.Metrics.HangupLeg(LegNotFound)
			continue
		}
		g.Go(func() error {
			res, err := t.terminateLeg(gctx, child.CallID, parent)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := results[:0]
	for _, r := range results {
		if r.CallID != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

// terminateLeg returns an error only when the batch must abort.
func (t Terminator) terminateLeg(ctx context.Context, callID, parent string) (LegResult, error) {
	res := LegResult{CallID: callID, ParentCallID: parent}
	err := t.Provider.CompleteCall(ctx, callID)
	t.Metrics.ProviderRequest("complete_call", providerLabel(err))
	switch {
	case err == nil:
		res.Status = LegTerminated
	case apperr.IsNotFound(err):
		res.Status = LegNotFound
	case IsAuthFailure(err):
		logger.From(ctx).Error("provider rejected credentials during hangup", "call_id", callID, "err", err)
		return LegResult{}, err
	default:
		res.Status = LegError
		res.Error = err.Error()
	}
	t.Metrics.HangupLeg(res.Status)
	return res, nil
}

func (r *HangupResult) add(leg LegResult) {
	r.Results = append(r.Results, leg)
	switch leg.Status {
	case LegTerminated:
		r.Terminated++
	case LegError:
		r.Errors = append(r.Errors, LegFailure{CallID: leg.CallID, Message: leg.Error})
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
