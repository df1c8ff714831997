// Package store provides storage backends for ClinicFlow.
//
// This file implements the in-memory store used as the default backend and
// by tests. It is safe for concurrent use; sessions are copied on the way in
// and out so callers cannot mutate stored state behind the lock.
package store

import (
	"sync"

	"github.com/carebridge/clinicflow/internal/models"
)

// InMemoryStore keeps all records in process-local maps.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.ConversationSession
	scripts  map[models.CategoryKey]models.Script
	config   *models.ClassifierConfig
	chunks   []string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]models.ConversationSession),
		scripts:  make(map[models.CategoryKey]models.Script),
	}
}

// SaveSession upserts the full session record.
func (s *InMemoryStore) SaveSession(sess models.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// GetSession returns the session for id, or nil when unknown.
func (s *InMemoryStore) GetSession(id string) (*models.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	out := copySession(sess)
	return &out, nil
}

// DeleteSession removes the session record.
func (s *InMemoryStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// SaveScript upserts a script in the prompt catalog.
func (s *InMemoryStore) SaveScript(sc models.Script) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[sc.Key] = sc
	return nil
}

// GetScript returns the script for key, or nil on a catalog miss.
func (s *InMemoryStore) GetScript(key models.CategoryKey) (*models.Script, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scripts[key]
	if !ok {
		return nil, nil
	}
	return &sc, nil
}

// SaveClassifierConfig replaces the classifier domain configuration.
func (s *InMemoryStore) SaveClassifierConfig(cfg models.ClassifierConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = &cfg
	return nil
}

// GetClassifierConfig returns the stored configuration, or nil when absent.
func (s *InMemoryStore) GetClassifierConfig() (*models.ClassifierConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return nil, nil
	}
	cfg := *s.config
	return &cfg, nil
}

// SaveInfoChunk adds one informational document chunk.
func (s *InMemoryStore) SaveInfoChunk(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, content)
	return nil
}

// SearchInfoChunks returns up to limit chunks matching the query terms,
// best match first.
func (s *InMemoryStore) SearchInfoChunks(query string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rankChunks(s.chunks, query, limit), nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// copySession deep-copies the slices and cached script so stored state is
// isolated from the caller.
func copySession(sess models.ConversationSession) models.ConversationSession {
	out := sess
	if sess.History != nil {
		out.History = make([]models.Turn, len(sess.History))
		copy(out.History, sess.History)
	}
	if sess.Appointments != nil {
		out.Appointments = make([]models.AppointmentRecord, len(sess.Appointments))
		copy(out.Appointments, sess.Appointments)
	}
	if sess.CachedScript != nil {
		sc := *sess.CachedScript
		out.CachedScript = &sc
	}
	return out
}
