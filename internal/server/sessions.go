// Package server exposes the coaching loop over HTTP: one chat endpoint
// driving the dialogue, plus reset, health, and an admin cleanup hook.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"formcoach/internal/config"
	"formcoach/internal/dialogue"
	"formcoach/internal/logging"
	"formcoach/internal/orchestrator"
	"formcoach/internal/schema"
	"formcoach/internal/stages"
)

// ErrSessionNotFound is returned when a conversation id has no live session.
var ErrSessionNotFound = errors.New("session not found")

// Manager owns the live conversation sessions. Sessions are created on
// first contact and reaped after sitting idle past the TTL.
type Manager struct {
	mu sync.RWMutex

	// Shared dependencies handed to every session
	sch        *schema.Schema
	policy     schema.ShufflePolicy
	orch       orchestrator.Config
	deps       *stages.Deps
	questioner dialogue.QuestionGenerator

	// Active sessions
	sessions map[string]*managedSession

	ttl   time.Duration
	sweep time.Duration
	stop  chan struct{}
	done  chan struct{}
}

// managedSession pairs a session with its serialization lock. The mutex
// guarantees one inbound message is fully processed before the next for
// the same conversation; separate conversations run in parallel.
// lastSeen is guarded by the manager's mutex, not the session's.
type managedSession struct {
	mu       sync.Mutex
	session  *orchestrator.Session
	lastSeen time.Time
}

// NewManager creates the session manager and starts its idle sweeper.
// Call Close to stop the sweeper.
func NewManager(cfg *config.Config, sch *schema.Schema, deps *stages.Deps, questioner dialogue.QuestionGenerator) *Manager {
	if deps == nil {
		deps = &stages.Deps{}
	}

	m := &Manager{
		sch: sch,
		policy: schema.ShufflePolicy{
			Enabled:   cfg.Dialogue.Shuffle.Enabled,
			Seed:      cfg.Dialogue.Shuffle.Seed,
			BudgetMin: cfg.Dialogue.OptionalBudgetMin,
			BudgetMax: cfg.Dialogue.OptionalBudgetMax,
		},
		orch: orchestrator.Config{
			MaxIterations:         cfg.Orchestrator.MaxIterations,
			MaxStagesPerRequest:   cfg.Orchestrator.MaxStagesPerRequest,
			ProgressCheckInterval: cfg.Orchestrator.ProgressCheckInterval,
			StageTimeout:          cfg.GetStageTimeout(),
			MinOptionalFields:     cfg.Dialogue.MinOptionalFields,
		},
		deps:       deps,
		questioner: questioner,
		sessions:   make(map[string]*managedSession),
		ttl:        cfg.GetSessionTTL(),
		sweep:      cfg.GetSweepInterval(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	go m.sweeper()
	logging.Server("session manager up (ttl %s, sweep every %s)", m.ttl, m.sweep)
	return m
}

// Handle routes one chat message to its conversation, creating the session
// on first contact. Returns the outcome and the conversation id, which is
// freshly minted when the caller supplied none.
func (m *Manager) Handle(ctx context.Context, conversationID, message string) (orchestrator.Outcome, string) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	ms := m.session(conversationID)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return ms.session.HandleMessage(ctx, message), conversationID
}

// session returns the live session for the id, creating one if needed.
// lastSeen is refreshed on every arrival, so a session busy with a request
// never looks idle to the sweeper.
func (m *Manager) session(id string) *managedSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[id]
	if !ok {
		view := m.sch.SessionView(m.policy)
		ms = &managedSession{
			session: orchestrator.NewSession(id, m.orch, view, m.deps, m.questioner),
		}
		m.sessions[id] = ms
		logging.Server("session created: %s (active: %d)", id, len(m.sessions))
	}
	ms.lastSeen = time.Now()
	return ms
}

// Reset discards a conversation's state, including its persisted
// transcript. The next message with the same id starts from a blank session.
func (m *Manager) Reset(conversationID string) error {
	m.mu.Lock()
	_, ok := m.sessions[conversationID]
	if ok {
		delete(m.sessions, conversationID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, conversationID)
	}
	if m.deps.Store != nil {
		if err := m.deps.Store.DeleteConversation(conversationID); err != nil {
			logging.Get(logging.CategoryServer).Warn("reset %s: history not deleted: %v", conversationID, err)
		}
	}
	logging.Server("session reset: %s", conversationID)
	return nil
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Cleanup drops sessions idle past the TTL and returns how many went.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	now := time.Now()
	for id, ms := range m.sessions {
		if now.Sub(ms.lastSeen) > m.ttl {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		logging.Server("cleanup removed %d idle sessions (active: %d)", removed, len(m.sessions))
	}
	return removed
}

func (m *Manager) sweeper() {
	defer close(m.done)

	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Cleanup()
		case <-m.stop:
			return
		}
	}
}

// Close stops the idle sweeper and waits for it to exit. Live sessions are
// dropped with the manager.
func (m *Manager) Close() {
	close(m.stop)
	<-m.done
}
