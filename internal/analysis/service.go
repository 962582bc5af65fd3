package analysis

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"crm-telephony/internal/apperr"
	"crm-telephony/internal/calls"
	"crm-telephony/pkg/logger"

	"github.com/google/uuid"
)

// Lease keeps a single poller per call across processes (Redis in production).
type Lease interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// Service submits analysis jobs and polls them in the background.
type Service struct {
	store   calls.Store
	backend Backend
	poller  Poller
	lease   Lease

	// base outlives individual requests; pollers stop when it is canceled.
	base context.Context
	wg   sync.WaitGroup

	mu     sync.Mutex
	active map[string]bool // value: resubmitted while running
}

// NewService wires the service. lease may be nil (single process).
func NewService(base context.Context, store calls.Store, backend Backend, poller Poller, lease Lease) *Service {
	poller.Store = store
	poller.Backend = backend
	return &Service{store: store, backend: backend, poller: poller, lease: lease, base: base, active: map[string]bool{}}
}

// Request submits the recording for analysis, marks the call pending and starts polling.
// recordingRef falls back to the stored recording when empty.
func (s *Service) Request(ctx context.Context, callID, recordingRef string) (string, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return "", apperr.Validation("callId", "required")
	}
	if s.backend == nil {
		return "", apperr.Configuration("ANALYSIS_BASE_URL")
	}

	rec, err := s.store.Get(ctx, callID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			return "", apperr.NotFound("call", callID)
		}
		return "", err
	}
	if rec.AnalysisState.IsTerminal() {
		return "", apperr.Validation("callId", "analysis already "+string(rec.AnalysisState))
	}
	recordingRef = strings.TrimSpace(recordingRef)
	if recordingRef == "" {
		recordingRef = rec.RecordingReference
	}
	if recordingRef == "" {
		return "", apperr.Validation("recordingReference", "required (call has no stored recording)")
	}

	jobRef, err := s.backend.Submit(ctx, callID, recordingRef)
	if err != nil {
		return "", err
	}
	if _, err := s.store.MarkAnalysisPending(ctx, callID, jobRef); err != nil {
		if errors.Is(err, calls.ErrAnalysisTransition) {
			return "", apperr.Validation("callId", "analysis already finished")
		}
		return "", err
	}

	s.startPolling(logger.From(ctx), callID, jobRef)
	return jobRef, nil
}

// startPolling runs at most one poller per call. A poller already running for the
// call picks up the new job reference from the store; if it has already decided to
// stop, the resubmission flag makes it run once more.
func (s *Service) startPolling(log *slog.Logger, callID, jobRef string) {
	s.mu.Lock()
	if _, running := s.active[callID]; running {
		s.active[callID] = true
		s.mu.Unlock()
		return
	}
	s.active[callID] = false
	s.mu.Unlock()

	ctx := logger.With(s.base, log)
	key := "analysis:poll:" + callID
	token := uuid.NewString()
	ttl := s.poller.Config.withDefaults().Ceiling + time.Minute

	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx, key, token, ttl)
		if err != nil {
			log.Warn("analysis lease unavailable; polling locally", "call_id", callID, "err", err)
		} else if !ok {
			log.Info("analysis already polled elsewhere", "call_id", callID)
			s.mu.Lock()
			delete(s.active, callID)
			s.mu.Unlock()
			return
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		done := s.poller.Metrics.AnalysisPollerStarted()
		defer done()
		if s.lease != nil {
			defer func() { _ = s.lease.Release(context.WithoutCancel(ctx), key, token) }()
		}
		for {
			res := s.poller.Run(ctx, callID, jobRef)
			next, again := s.rerunRef(ctx, callID, res)
			if !again {
				return
			}
			log.Info("analysis resubmitted while poller was stopping; polling again", "call_id", callID, "job", next)
			jobRef = next
		}
	}()
}

// rerunRef clears the resubmission flag and reports whether a pending job still needs
// polling. When it returns false the call is no longer marked active.
func (s *Service) rerunRef(ctx context.Context, callID string, res Result) (string, bool) {
	s.mu.Lock()
	resubmitted := s.active[callID]
	if !resubmitted || res == ResultCanceled {
		delete(s.active, callID)
		s.mu.Unlock()
		return "", false
	}
	s.active[callID] = false
	s.mu.Unlock()

	rec, err := s.store.Get(ctx, callID)
	if err == nil && rec.AnalysisState == calls.AnalysisPending && rec.AnalysisJobReference != "" {
		return rec.AnalysisJobReference, true
	}
	// Nothing left to poll; a resubmission racing this read re-arms the flag and is
	// picked up on the next check.
	return s.rerunRef(ctx, callID, ResultSettled)
}

// Wait blocks until every background poller has returned.
func (s *Service) Wait() { s.wg.Wait() }
