package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pesio-ai/be-proc-approvals/internal/repository"
	"github.com/pesio-ai/be-proc-approvals/internal/repository/memory"
)

// ── audit ─────────────────────────────────────────────────────────────────────

// memAudit is the in-memory audit sink with a switch to simulate an outage.
type memAudit struct {
	*memory.Audit
	mu   sync.Mutex
	fail bool
}

func newMemAudit() *memAudit {
	return &memAudit{Audit: memory.NewAudit()}
}

func (m *memAudit) failing() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return fmt.Errorf("audit store unavailable")
	}
	return nil
}

func (m *memAudit) setFailing(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = v
}

func (m *memAudit) AppendTransition(ctx context.Context, e *repository.TransitionEntry) error {
	if err := m.failing(); err != nil {
		return err
	}
	return m.Audit.AppendTransition(ctx, e)
}

func (m *memAudit) AppendSecurityEvent(ctx context.Context, ev *repository.SecurityEvent) error {
	if err := m.failing(); err != nil {
		return err
	}
	return m.Audit.AppendSecurityEvent(ctx, ev)
}

func (m *memAudit) AppendComplianceEvent(ctx context.Context, ev *repository.ComplianceEvent) error {
	if err := m.failing(); err != nil {
		return err
	}
	return m.Audit.AppendComplianceEvent(ctx, ev)
}

func (m *memAudit) securityTypes() []string {
	events := m.SecurityEvents()
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.EventType
	}
	return out
}

// ── notifications ─────────────────────────────────────────────────────────────

type sentEvent struct {
	EventType  string
	ResourceID string
	Recipients []string
}

type memNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (m *memNotifier) PublishEvent(_ context.Context, eventType, _, resourceID, _ string, recipients []string, _ map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, sentEvent{EventType: eventType, ResourceID: resourceID, Recipients: recipients})
}

func (m *memNotifier) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.EventType
	}
	return out
}

// ── scheduler ─────────────────────────────────────────────────────────────────

type memScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
}

func (m *memScheduler) ScheduleEscalation(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scheduled == nil {
		m.scheduled = make(map[string]time.Time)
	}
	m.scheduled[id] = at
	return nil
}

// ── clock ─────────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ── requisitions ──────────────────────────────────────────────────────────────

// flakyRequisitions fails the next failNext state writes.
type flakyRequisitions struct {
	*memory.Requisitions
	mu       sync.Mutex
	failNext int
	writes   int
}

func (f *flakyRequisitions) UpdateState(ctx context.Context, r *repository.Requisition, from repository.State, version int64) error {
	f.mu.Lock()
	f.writes++
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		return fmt.Errorf("connection reset")
	}
	f.mu.Unlock()
	return f.Requisitions.UpdateState(ctx, r, from, version)
}
