package analysis

import (
	"context"
	"errors"
	"time"

	"crm-telephony/internal/calls"
	"crm-telephony/pkg/logger"
	"crm-telephony/pkg/metrics"
)

// Result is why a poll loop stopped.
type Result string

const (
	ResultComplete Result = "complete"
	ResultFailed   Result = "failed"
	// ResultGaveUp means the ceiling passed with the job still pending. The stored
	// analysis state is left pending; it is not a failure.
	ResultGaveUp   Result = "gave-up"
	ResultCanceled Result = "canceled"
	// ResultSettled means the stored analysis was already complete or failed.
	ResultSettled  Result = "settled"
)

type PollerConfig struct {
	Interval       time.Duration
	Ceiling        time.Duration
	RequestTimeout time.Duration
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = 4 * time.Second
	}
	if c.Ceiling <= 0 {
		c.Ceiling = 5 * time.Minute
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return c
}

// Poller watches one analysis job until it settles, the ceiling passes, or ctx ends.
type Poller struct {
	Store   calls.Store
	Backend Backend
	Clock   Clock
	Config  PollerConfig
	Metrics *metrics.Metrics
}

// Run polls at Config.Interval. A failed or timed-out status request counts as
// "not yet" and the loop carries on. When the call is resubmitted under a new job,
// the loop follows the new job and restarts its ceiling.
func (p Poller) Run(ctx context.Context, callID, jobRef string) Result {
	log := logger.From(ctx).With("call_id", callID)
	cfg := p.Config.withDefaults()
	clock := p.Clock
	if clock == nil {
		clock = realClock{}
	}
	deadline := clock.Now().Add(cfg.Ceiling)

	for {
		select {
		case <-ctx.Done():
			log.Info("analysis polling canceled")
			return ResultCanceled
		case <-clock.After(cfg.Interval):
		}
		if ctx.Err() != nil {
			return ResultCanceled
		}
		// The store is read before the ceiling check so a resubmission made during
		// the last interval still restarts the ceiling.
		if rec, err := p.Store.Get(ctx, callID); err == nil {
			if rec.AnalysisState.IsTerminal() {
				return ResultSettled
			}
			if ref := rec.AnalysisJobReference; ref != "" && ref != jobRef {
				log.Info("analysis job resubmitted", "job", ref, "previous", jobRef)
				jobRef = ref
				deadline = clock.Now().Add(cfg.Ceiling)
			}
		} else if !errors.Is(err, calls.ErrNotFound) {
			log.Warn("analysis poll: store read failed", "err", err)
		}
		if clock.Now().After(deadline) {
			log.Info("analysis polling ceiling reached; leaving job pending", "job", jobRef)
			return ResultGaveUp
		}

		st, err := p.status(ctx, jobRef, cfg.RequestTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ResultCanceled
			}
			p.Metrics.AnalysisPoll("error")
			log.Debug("analysis poll failed; retrying", "job", jobRef, "err", err)
			continue
		}
		p.Metrics.AnalysisPoll(string(st.State))

		switch st.State {
		case JobComplete:
			p.finish(ctx, callID, calls.AnalysisComplete, "")
			return ResultComplete
		case JobFailed:
			p.finish(ctx, callID, calls.AnalysisFailed, st.Reason)
			return ResultFailed
		}
	}
}

func (p Poller) status(ctx context.Context, jobRef string, timeout time.Duration) (JobStatus, error) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Backend.Status(rctx, jobRef)
}

func (p Poller) finish(ctx context.Context, callID string, state calls.AnalysisState, reason string) {
	if _, _, err := p.Store.FinishAnalysis(ctx, callID, state, reason); err != nil {
		logger.From(ctx).Error("analysis result not stored", "call_id", callID, "state", state, "err", err)
	}
}
