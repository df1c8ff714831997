// Package flow implements the turn-level orchestration core: session
// lifecycle, appointment-based agent routing, classification with fallback,
// script selection, and the turn orchestrator.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carebridge/clinicflow/internal/models"
	"github.com/carebridge/clinicflow/internal/store"
)

// DefaultIdleTimeout is the session idle-eviction timeout.
const DefaultIdleTimeout = 15 * time.Minute

// SessionManager layers session lifecycle semantics over a Store: creation
// collision checks, lazy idle eviction on lookup, activity touches, and
// per-session serialization of turns.
type SessionManager struct {
	store   store.Store
	timeout time.Duration
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// SessionManagerOption configures a SessionManager.
type SessionManagerOption func(*SessionManager)

// WithIdleTimeout overrides the idle-eviction timeout.
func WithIdleTimeout(d time.Duration) SessionManagerOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock injects the time source. Used by tests.
func WithClock(now func() time.Time) SessionManagerOption {
	return func(m *SessionManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewSessionManager creates a SessionManager backed by a Store.
func NewSessionManager(st store.Store, opts ...SessionManagerOption) *SessionManager {
	slog.Debug("flow.NewSessionManager: creating session manager")
	m := &SessionManager{
		store:   st,
		timeout: DefaultIdleTimeout,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lock acquires the per-session mutex and returns its release function.
// Concurrent turns for the same conversation serialize here; sessions never
// share locks, so there is no cross-session contention.
func (m *SessionManager) Lock(sessionID string) func() {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Create stores a new session, failing when an active session already holds
// the id. An expired session under the same id is evicted and replaced.
func (m *SessionManager) Create(ctx context.Context, sess models.ConversationSession) error {
	slog.Debug("SessionManager.Create: creating session", "sessionID", sess.ID)

	existing, err := m.store.GetSession(sess.ID)
	if err != nil {
		slog.Error("SessionManager.Create: lookup failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to check existing session: %w", err)
	}
	if existing != nil {
		if !m.expired(*existing) {
			slog.Warn("SessionManager.Create: session already exists", "sessionID", sess.ID)
			return fmt.Errorf("%w: %s", models.ErrSessionExists, sess.ID)
		}
		// Idle session under this id: evict it and let the create proceed.
		if err := m.store.DeleteSession(sess.ID); err != nil {
			slog.Error("SessionManager.Create: eviction failed", "error", err, "sessionID", sess.ID)
			return fmt.Errorf("failed to evict expired session: %w", err)
		}
		slog.Debug("SessionManager.Create: evicted expired session", "sessionID", sess.ID)
	}

	now := m.now()
	sess.CreatedAt = now
	sess.LastActivity = now
	if sess.RoutingState == "" {
		sess.RoutingState = models.RoutingUnrouted
	}
	if err := m.store.SaveSession(sess); err != nil {
		slog.Error("SessionManager.Create: save failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to save session: %w", err)
	}
	slog.Info("SessionManager.Create: session created", "sessionID", sess.ID, "doctorID", sess.DoctorID)
	return nil
}

// Get returns the session for id. Unknown ids fail with ErrSessionNotFound.
// Sessions idle beyond the timeout are evicted as a side effect of the
// lookup and fail with ErrSessionExpired; eviction is lazy, there is no
// background sweep.
func (m *SessionManager) Get(ctx context.Context, id string) (*models.ConversationSession, error) {
	sess, err := m.store.GetSession(id)
	if err != nil {
		slog.Error("SessionManager.Get: lookup failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if sess == nil {
		slog.Debug("SessionManager.Get: session not found", "sessionID", id)
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	if m.expired(*sess) {
		slog.Info("SessionManager.Get: session expired, evicting", "sessionID", id, "lastActivity", sess.LastActivity)
		if err := m.store.DeleteSession(id); err != nil {
			slog.Error("SessionManager.Get: eviction failed", "error", err, "sessionID", id)
		}
		return nil, fmt.Errorf("%w: %s", models.ErrSessionExpired, id)
	}
	return sess, nil
}

// Save persists the session and touches its activity timestamp. Must be
// called on every successful turn. LastActivity never moves backwards.
func (m *SessionManager) Save(ctx context.Context, sess models.ConversationSession) error {
	now := m.now()
	if now.After(sess.LastActivity) {
		sess.LastActivity = now
	}
	if err := m.store.SaveSession(sess); err != nil {
		slog.Error("SessionManager.Save: save failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to save session: %w", err)
	}
	slog.Debug("SessionManager.Save: session saved", "sessionID", sess.ID, "turns", len(sess.History))
	return nil
}

// expired reports whether the session has been idle beyond the timeout.
func (m *SessionManager) expired(sess models.ConversationSession) bool {
	return m.now().Sub(sess.LastActivity) > m.timeout
}
