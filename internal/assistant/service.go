package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/kassa/internal/domain"
	"github.com/soyeahso/kassa/internal/hooks"
	"github.com/soyeahso/kassa/internal/logging"
)

// ErrTurnInProgress is returned when a session already has a turn running.
var ErrTurnInProgress = errors.New("a turn is already in progress for this session")

// TurnResult is the outcome of one turn.
type TurnResult struct {
	Reply     string        `json:"reply"`
	SessionID string        `json:"sessionId"`
	Duration  time.Duration `json:"duration"`
}

// Service runs turns against stored sessions. It loads the session, runs
// the orchestrator on it and persists the messages the turn produced. At
// most one turn or reset runs per session key at a time.
type Service struct {
	orch        *Orchestrator
	sessions    SessionStore
	hooks       *hooks.Manager
	seedWelcome bool
	log         *logging.Logger

	mu     sync.Mutex
	active map[string]bool // session key → busy
}

// NewService creates a service. When seedWelcome is set, new sessions
// start with the welcome message.
func NewService(orch *Orchestrator, sessions SessionStore, hm *hooks.Manager, seedWelcome bool, log *logging.Logger) *Service {
	return &Service{
		orch:        orch,
		sessions:    sessions,
		hooks:       hm,
		seedWelcome: seedWelcome,
		log:         log.Sub("service"),
		active:      make(map[string]bool),
	}
}

// Model returns the primary model the orchestrator asks for.
func (s *Service) Model() string { return s.orch.Model() }

func (s *Service) seed() []domain.Message {
	if !s.seedWelcome {
		return nil
	}
	return []domain.Message{domain.AssistantMessage(WelcomeMessage)}
}

func (s *Service) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[key] {
		return false
	}
	s.active[key] = true
	return true
}

func (s *Service) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, key)
}

// Open returns the session for key, creating it when needed.
func (s *Service) Open(key domain.SessionKey) (*domain.Session, error) {
	sess, err := s.sessions.GetOrCreate(key, s.seed()...)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	return sess, nil
}

// Turn answers text in the session identified by key. On a fatal model
// error the user message is still persisted and the error is returned.
func (s *Service) Turn(ctx context.Context, key domain.SessionKey, text string) (*TurnResult, error) {
	if !s.acquire(key.String()) {
		return nil, ErrTurnInProgress
	}
	defer s.release(key.String())

	start := time.Now()
	sess, err := s.Open(key)
	if err != nil {
		return nil, err
	}

	s.hooks.Emit(ctx, hooks.EventTurnStart, map[string]any{
		"sessionId": sess.ID,
		"key":       key.String(),
		"message":   text,
	})

	before := sess.Len()
	reply, turnErr := s.orch.HandleTurn(ctx, sess, text)

	if err := s.sessions.Append(sess.ID, sess.Messages[before:]...); err != nil {
		s.log.Error().Err(err).Str("sessionId", sess.ID).Msg("persisting turn failed")
		if turnErr == nil {
			turnErr = fmt.Errorf("persisting turn: %w", err)
		}
	}

	if turnErr != nil {
		s.hooks.Emit(ctx, hooks.EventTurnError, map[string]any{
			"sessionId": sess.ID,
			"key":       key.String(),
			"error":     turnErr.Error(),
		})
		return nil, turnErr
	}

	res := &TurnResult{Reply: reply, SessionID: sess.ID, Duration: time.Since(start)}
	s.hooks.Emit(ctx, hooks.EventTurnEnd, map[string]any{
		"sessionId": sess.ID,
		"key":       key.String(),
		"reply":     reply,
		"duration":  res.Duration.String(),
	})
	return res, nil
}

// Reset clears the history of the session for key. With seed set and
// welcome seeding enabled, the history restarts with the welcome message.
func (s *Service) Reset(ctx context.Context, key domain.SessionKey, seed bool) (*domain.Session, error) {
	if !s.acquire(key.String()) {
		return nil, ErrTurnInProgress
	}
	defer s.release(key.String())

	sess, err := s.Open(key)
	if err != nil {
		return nil, err
	}

	var msgs []domain.Message
	if seed {
		msgs = s.seed()
	}
	if err := s.sessions.Reset(sess.ID, msgs...); err != nil {
		return nil, fmt.Errorf("resetting session: %w", err)
	}
	sess.Reset(msgs...)

	s.log.Info().Str("sessionId", sess.ID).Bool("seeded", len(msgs) > 0).Msg("session reset")
	s.hooks.Emit(ctx, hooks.EventSessionReset, map[string]any{
		"sessionId": sess.ID,
		"key":       key.String(),
	})
	return sess, nil
}

// History returns the persisted history for key.
func (s *Service) History(key domain.SessionKey) ([]domain.Message, error) {
	sess, err := s.Open(key)
	if err != nil {
		return nil, err
	}
	return sess.Messages, nil
}

// Sessions lists stored session ids.
func (s *Service) Sessions() ([]string, error) {
	return s.sessions.List()
}
