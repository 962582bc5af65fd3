package telephony

import (
	"context"
	"errors"
	"sync"
	"time"

	"crm-telephony/internal/calls"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newStore() *calls.MemoryStore {
	c := &stepClock{now: t0}
	return calls.NewMemoryStore().WithClock(c.Now)
}

// failingStore fails every write.
type failingStore struct{ calls.Store }

func (failingStore) ApplyTransition(context.Context, calls.Transition) (calls.ApplyResult, error) {
	return calls.ApplyResult{}, errors.New("db down")
}

// panickingStore panics on every write.
type panickingStore struct{ calls.Store }

func (panickingStore) ApplyTransition(context.Context, calls.Transition) (calls.ApplyResult, error) {
	panic("boom")
}

type recordingPublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (p *recordingPublisher) Publish(_ context.Context, b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, b)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

// fakeProvider is an in-memory Provider.
type fakeProvider struct {
	mu sync.Mutex

	createErr error
	created   []CreateCallRequest
	nextSid   string

	completeErr map[string]error
	completed   []string

	children map[string][]Leg
	listErr  error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) CreateCall(_ context.Context, req CreateCallRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return "", p.createErr
	}
	p.created = append(p.created, req)
	return p.nextSid, nil
}

func (p *fakeProvider) CompleteCall(_ context.Context, callID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.completeErr[callID]; err != nil {
		return err
	}
	p.completed = append(p.completed, callID)
	return nil
}

func (p *fakeProvider) ListChildCalls(_ context.Context, parent string) ([]Leg, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.children[parent], nil
}

func (p *fakeProvider) completedSet() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[string]bool{}
	for _, id := range p.completed {
		out[id] = true
	}
	return out
}
