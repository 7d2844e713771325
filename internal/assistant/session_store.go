package assistant

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/kassa/internal/domain"
	"github.com/soyeahso/kassa/internal/store"
)

// SessionStore manages conversation sessions. Implementations return
// snapshots: mutating a returned Session does not change the store.
type SessionStore interface {
	// GetOrCreate finds an existing session by key, or creates one whose
	// history starts with seed.
	GetOrCreate(key domain.SessionKey, seed ...domain.Message) (*domain.Session, error)

	// Get returns a session by ID, or an error wrapping
	// store.ErrSessionNotFound.
	Get(id string) (*domain.Session, error)

	// Append adds messages to a session.
	Append(sessionID string, msgs ...domain.Message) error

	// Reset replaces a session's history with seed.
	Reset(sessionID string, seed ...domain.Message) error

	// History returns the message history for a session.
	History(sessionID string) ([]domain.Message, error)

	// List returns all session IDs.
	List() ([]string, error)
}

var (
	_ SessionStore = (*MemorySessionStore)(nil)
	_ SessionStore = (*store.SQLiteSessionStore)(nil)
)

// MemorySessionStore is an in-memory SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session // id → session
	byKey    map[string]string          // key string → session id
}

// NewMemorySessionStore creates an in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*domain.Session),
		byKey:    make(map[string]string),
	}
}

func snapshot(s *domain.Session) *domain.Session {
	cp := *s
	cp.Messages = s.History()
	return &cp
}

func (s *MemorySessionStore) GetOrCreate(key domain.SessionKey, seed ...domain.Message) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyStr := key.String()
	if id, ok := s.byKey[keyStr]; ok {
		if sess, ok := s.sessions[id]; ok {
			return snapshot(sess), nil
		}
	}

	now := time.Now()
	sess := &domain.Session{
		ID:        uuid.New().String(),
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  append([]domain.Message(nil), seed...),
	}
	s.sessions[sess.ID] = sess
	s.byKey[keyStr] = sess.ID
	return snapshot(sess), nil
}

func (s *MemorySessionStore) Get(id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrSessionNotFound, id)
	}
	return snapshot(sess), nil
}

func (s *MemorySessionStore) Append(sessionID string, msgs ...domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrSessionNotFound, sessionID)
	}
	if len(msgs) > 0 {
		sess.Append(msgs...)
	}
	return nil
}

func (s *MemorySessionStore) Reset(sessionID string, seed ...domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrSessionNotFound, sessionID)
	}
	sess.Reset(seed...)
	return nil
}

func (s *MemorySessionStore) History(sessionID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrSessionNotFound, sessionID)
	}
	return sess.History(), nil
}

// List returns all session IDs, sorted.
func (s *MemorySessionStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
