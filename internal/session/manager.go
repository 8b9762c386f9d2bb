// Package session tracks live intake conversations across channels. Sessions
// are in-memory only; the durable artifact of an intake is its consultation
// record, persisted progressively by the flow's side effects.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DermaBridge/IntakeFlow/internal/flow"
	"github.com/DermaBridge/IntakeFlow/internal/models"
	"github.com/DermaBridge/IntakeFlow/internal/util"
)

// DefaultIdleTTL is how long a session may sit without input before the
// janitor declares it abandoned.
const DefaultIdleTTL = 30 * time.Minute

type entry struct {
	rt       *flow.Runtime
	lastSeen time.Time
}

// Manager owns the live sessions of one flow definition. All sessions share
// the same hook registry; per-session serialization is the runtime's job.
type Manager struct {
	def   *flow.Definition
	hooks *flow.HookRegistry

	mu       sync.Mutex
	sessions map[string]*entry

	idleTTL     time.Duration
	clock       func() time.Time
	runtimeOpts []flow.RuntimeOption
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIdleTTL overrides the idle timeout used by Sweep.
func WithIdleTTL(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idleTTL = d }
}

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) { m.clock = fn }
}

// WithRuntimeOptions sets options applied to every session's runtime, ahead
// of any per-session options.
func WithRuntimeOptions(opts ...flow.RuntimeOption) ManagerOption {
	return func(m *Manager) { m.runtimeOpts = opts }
}

// NewManager builds a manager over a validated flow definition.
func NewManager(def *flow.Definition, hooks *flow.HookRegistry, opts ...ManagerOption) *Manager {
	m := &Manager{
		def:      def,
		hooks:    hooks,
		sessions: make(map[string]*entry),
		idleTTL:  DefaultIdleTTL,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start creates a new session with a generated id, enters the flow's entry
// step, and returns the runtime.
func (m *Manager) Start(ctx context.Context, extra ...flow.RuntimeOption) (*flow.Runtime, error) {
	return m.StartWithID(ctx, util.GenerateSessionID(), extra...)
}

// StartWithID creates a session under a caller-chosen id. Channels that key
// sessions by their own identity, like a WhatsApp phone number, use this.
func (m *Manager) StartWithID(ctx context.Context, id string, extra ...flow.RuntimeOption) (*flow.Runtime, error) {
	opts := append([]flow.RuntimeOption{flow.WithSessionID(id)}, m.runtimeOpts...)
	opts = append(opts, extra...)
	rt := flow.NewRuntime(m.def, m.hooks, opts...)
	if err := rt.Start(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[id] = &entry{rt: rt, lastSeen: m.clock()}
	m.mu.Unlock()
	slog.Info("Manager.StartWithID: session started", "sessionID", id)
	return rt, nil
}

// Get returns the runtime for a session and refreshes its idle clock.
func (m *Manager) Get(id string) (*flow.Runtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	e.lastSeen = m.clock()
	return e.rt, nil
}

// Remove drops a session. Finished conversations are removed eagerly so the
// map holds only live intakes.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops finished sessions and sessions idle past the TTL. It is called
// periodically from the scheduler. Returns the number of sessions dropped.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	dropped := 0
	for id, e := range m.sessions {
		switch {
		case e.rt.Done():
			delete(m.sessions, id)
			dropped++
		case now.Sub(e.lastSeen) > m.idleTTL:
			slog.Info("Manager.Sweep: dropping abandoned session", "sessionID", id, "idle", now.Sub(e.lastSeen).String())
			delete(m.sessions, id)
			dropped++
		}
	}
	if dropped > 0 {
		slog.Debug("Manager.Sweep: sweep complete", "dropped", dropped, "remaining", len(m.sessions))
	}
	return dropped
}
