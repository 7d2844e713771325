package assistant

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/kassa/internal/domain"
	"github.com/soyeahso/kassa/internal/hooks"
	"github.com/soyeahso/kassa/internal/llm"
	"github.com/soyeahso/kassa/internal/store"
	"github.com/soyeahso/kassa/internal/tools"
)

var cliKey = domain.SessionKey{ChannelID: "cli", ChatID: "default"}

func testRegistry(mock llm.Client) *llm.Registry {
	reg := llm.NewRegistry(silentLog())
	reg.Register("mock", mock)
	reg.SetDefault("mock")
	return reg
}

func newService(t *testing.T, mock *llm.MockClient, sessions SessionStore, hm *hooks.Manager, seed bool) *Service {
	t.Helper()
	reg, _ := kassalappServer(t, nil)
	o := NewOrchestrator(Config{Model: "mock"}, mock, reg, &stubRetriever{}, hm, silentLog())
	return NewService(o, sessions, hm, seed, silentLog())
}

func sqliteSessions(t *testing.T) *store.SQLiteSessionStore {
	t.Helper()
	db, err := store.Open(store.MemoryPath, silentLog())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewSQLiteSessionStore(db)
}

func TestServiceTurnPersistsOnlyTerminalMessages(t *testing.T) {
	stores := map[string]func(t *testing.T) SessionStore{
		"memory": func(*testing.T) SessionStore { return NewMemorySessionStore() },
		"sqlite": func(t *testing.T) SessionStore { return sqliteSessions(t) },
	}
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			mock := &llm.MockClient{
				ProviderName: "mock",
				CompleteFunc: llm.Script(
					toolCallResponse(domain.ToolCall{ID: "c1", Name: tools.SearchProducts, Arguments: `{"search":"Pepsi Max","store":"kiwi"}`}),
					&llm.CompletionResponse{Content: "32.90 kr at KIWI."},
				),
			}
			sessions := mk(t)
			svc := newService(t, mock, sessions, nil, true)

			res, err := svc.Turn(context.Background(), cliKey, "Price of Pepsi Max at Kiwi")
			require.NoError(t, err)
			assert.Equal(t, "32.90 kr at KIWI.", res.Reply)
			assert.NotEmpty(t, res.SessionID)

			hist, err := sessions.History(res.SessionID)
			require.NoError(t, err)
			require.Len(t, hist, 3, "welcome + user + answer")
			assert.Equal(t, WelcomeMessage, hist[0].Content)
			assert.Equal(t, domain.RoleUser, hist[1].Role)
			assert.Equal(t, domain.RoleAssistant, hist[2].Role)
			for _, m := range hist {
				assert.NotEqual(t, domain.RoleTool, m.Role)
				assert.False(t, m.HasToolCalls())
			}

			res2, err := svc.Turn(context.Background(), cliKey, "hei")
			require.NoError(t, err)
			assert.Equal(t, res.SessionID, res2.SessionID, "same key reuses the session")
			hist, err = sessions.History(res.SessionID)
			require.NoError(t, err)
			assert.Len(t, hist, 5)
		})
	}
}

func TestServiceTurnFatalErrorKeepsUserMessage(t *testing.T) {
	mock := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, &llm.ProviderError{Provider: "groq", Message: "rate limit reached", Code: 429}
		},
	}
	hm := hooks.NewManager(silentLog())
	var events []string
	for _, e := range []string{hooks.EventTurnStart, hooks.EventTurnEnd, hooks.EventTurnError} {
		hm.On(e, "test", func(_ context.Context, p hooks.Payload) error {
			events = append(events, p.Event)
			return nil
		})
	}

	sessions := NewMemorySessionStore()
	svc := newService(t, mock, sessions, hm, false)

	_, err := svc.Turn(context.Background(), cliKey, "price of melk")
	require.Error(t, err)
	assert.Equal(t, []string{hooks.EventTurnStart, hooks.EventTurnError}, events)

	hist, err := svc.History(cliKey)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "price of melk", hist[0].Content)
}

func TestServiceTurnInProgress(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	mock := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			close(started)
			<-release
			return &llm.CompletionResponse{Content: "done"}, nil
		},
	}
	svc := newService(t, mock, NewMemorySessionStore(), nil, false)

	errc := make(chan error, 1)
	go func() {
		_, err := svc.Turn(context.Background(), cliKey, "first question here")
		errc <- err
	}()
	<-started

	_, err := svc.Turn(context.Background(), cliKey, "second question here")
	assert.ErrorIs(t, err, ErrTurnInProgress)
	_, err = svc.Reset(context.Background(), cliKey, false)
	assert.ErrorIs(t, err, ErrTurnInProgress)

	other := domain.SessionKey{ChannelID: "cli", ChatID: "other"}
	res, err := svc.Turn(context.Background(), other, "hi")
	require.NoError(t, err, "other sessions are not blocked")
	assert.Equal(t, GreetingReply, res.Reply)

	close(release)
	require.NoError(t, <-errc)

	hist, err := svc.History(cliKey)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestServiceReset(t *testing.T) {
	mock := &llm.MockClient{ProviderName: "mock"}
	hm := hooks.NewManager(silentLog())
	resets := 0
	hm.On(hooks.EventSessionReset, "test", func(context.Context, hooks.Payload) error {
		resets++
		return nil
	})
	svc := newService(t, mock, sqliteSessions(t), hm, true)

	_, err := svc.Turn(context.Background(), cliKey, "hello")
	require.NoError(t, err)

	sess, err := svc.Reset(context.Background(), cliKey, true)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, WelcomeMessage, sess.Messages[0].Content)

	sess, err = svc.Reset(context.Background(), cliKey, false)
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)

	hist, err := svc.History(cliKey)
	require.NoError(t, err)
	assert.Empty(t, hist, "a cleared session is not re-seeded")
	assert.Equal(t, 2, resets)
}

// --- SessionStore tests ---

func TestMemorySessionStoreGetOrCreate(t *testing.T) {
	s := NewMemorySessionStore()
	key := domain.SessionKey{ChannelID: "irc", ChatID: "#mat", SenderID: "ola"}

	s1, err := s.GetOrCreate(key, domain.AssistantMessage("welcome"))
	require.NoError(t, err)
	assert.NotEmpty(t, s1.ID)
	assert.Len(t, s1.Messages, 1)

	s2, err := s.GetOrCreate(key, domain.AssistantMessage("welcome"))
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID)
	assert.Len(t, s2.Messages, 1, "existing sessions are not re-seeded")

	s3, err := s.GetOrCreate(domain.SessionKey{ChannelID: "irc", ChatID: "#mat", SenderID: "kari"})
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s3.ID)
}

func TestMemorySessionStoreSnapshots(t *testing.T) {
	s := NewMemorySessionStore()
	sess, err := s.GetOrCreate(cliKey)
	require.NoError(t, err)

	sess.Append(domain.UserMessage("not persisted"))
	hist, err := s.History(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, hist, "mutating a snapshot does not touch the store")

	require.NoError(t, s.Append(sess.ID, domain.UserMessage("hi"), domain.AssistantMessage("hello!")))
	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hello!", got.Messages[1].Content)

	require.NoError(t, s.Reset(sess.ID))
	hist, err = s.History(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestMemorySessionStoreNotFound(t *testing.T) {
	s := NewMemorySessionStore()

	_, err := s.Get("nonexistent")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
	assert.ErrorIs(t, s.Append("nonexistent", domain.UserMessage("x")), store.ErrSessionNotFound)
	assert.ErrorIs(t, s.Reset("nonexistent"), store.ErrSessionNotFound)
	_, err = s.History("nonexistent")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestMemorySessionStoreList(t *testing.T) {
	s := NewMemorySessionStore()
	a, _ := s.GetOrCreate(domain.SessionKey{ChannelID: "a", ChatID: "1"})
	b, _ := s.GetOrCreate(domain.SessionKey{ChannelID: "b", ChatID: "2"})

	ids, err := s.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
}

// --- Failover tests ---

func TestFailoverSuccess(t *testing.T) {
	mock := &llm.MockClient{ProviderName: "mock", CompleteFunc: llm.Script(&llm.CompletionResponse{Content: "ok"})}
	fc := NewFailoverClient(testRegistry(mock), "mock", nil, silentLog())

	resp, err := fc.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "failover", fc.Name())
}

func TestFailoverTriesFallback(t *testing.T) {
	var models []string
	primary := &llm.MockClient{
		ProviderName: "primary",
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			models = append(models, req.Model)
			return nil, &llm.ProviderError{Provider: "groq", Message: "rate limit reached", Code: 429}
		},
	}
	fallback := &llm.MockClient{
		ProviderName: "fallback",
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			models = append(models, req.Model)
			return &llm.CompletionResponse{Content: "fallback response"}, nil
		},
	}

	reg := llm.NewRegistry(silentLog())
	reg.Register("primary", primary)
	reg.Register("fallback", fallback)
	reg.Route("llama-3.3-70b-versatile", "primary")
	reg.Route("llama-3.1-8b-instant", "fallback")

	fc := NewFailoverClient(reg, "llama-3.3-70b-versatile", []string{"llama-3.1-8b-instant"}, silentLog())
	resp, err := fc.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "fallback response", resp.Content)
	assert.Equal(t, []string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant"}, models)
}

func TestFailoverNonRetryableStops(t *testing.T) {
	primary := &llm.MockClient{
		ProviderName: "primary",
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, &llm.ProviderError{Provider: "groq", Message: "tool_use_failed", Code: 400}
		},
	}
	fallback := &llm.MockClient{ProviderName: "fallback"}

	reg := llm.NewRegistry(silentLog())
	reg.Register("primary", primary)
	reg.Register("fallback", fallback)

	fc := NewFailoverClient(reg, "primary", []string{"fallback"}, silentLog())
	_, err := fc.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, 0, fallback.Calls(), "should not try fallback on non-retryable error")
}

func TestFailoverSkipsProviderAfterAuthError(t *testing.T) {
	var models []string
	groq := &llm.MockClient{
		ProviderName: "groq",
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			models = append(models, req.Model)
			return nil, &llm.ProviderError{Provider: "groq", Message: "invalid api key", Code: 401}
		},
	}
	ollama := &llm.MockClient{ProviderName: "ollama", CompleteFunc: llm.Script(&llm.CompletionResponse{Content: "local answer"})}

	reg := llm.NewRegistry(silentLog())
	reg.Register("groq", groq)
	reg.Register("ollama", ollama)
	reg.SetDefault("groq")

	fc := NewFailoverClient(reg, "llama-3.3-70b-versatile", []string{"llama-3.1-8b-instant", "ollama/llama3.2"}, silentLog())
	resp, err := fc.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "local answer", resp.Content)
	assert.Equal(t, []string{"llama-3.3-70b-versatile"}, models, "same provider is not retried with the same key")
	assert.Equal(t, 1, ollama.Calls())
}

func TestFailoverAuthErrorSurfacesOnce(t *testing.T) {
	groq := &llm.MockClient{
		ProviderName: "groq",
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, &llm.ProviderError{Provider: "groq", Message: "forbidden", Code: 403}
		},
	}
	fc := NewFailoverClient(testRegistry(groq), "a", []string{"b", "c"}, silentLog())

	_, err := fc.Complete(context.Background(), llm.CompletionRequest{})
	var pe *llm.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 403, pe.Code)
	assert.Equal(t, 1, groq.Calls())
}

func TestFailoverAllFail(t *testing.T) {
	down := func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, &llm.ProviderError{Provider: "groq", Message: "service unavailable", Code: 503}
	}
	reg := llm.NewRegistry(silentLog())
	reg.Register("a", &llm.MockClient{ProviderName: "a", CompleteFunc: down})
	reg.Register("b", &llm.MockClient{ProviderName: "b", CompleteFunc: down})

	fc := NewFailoverClient(reg, "a", []string{"b"}, silentLog())
	_, err := fc.Complete(context.Background(), llm.CompletionRequest{})
	var pe *llm.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 503, pe.Code)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&llm.ProviderError{Code: 401}))
	assert.True(t, isRetryable(&llm.ProviderError{Code: 429}))
	assert.True(t, isRetryable(&llm.ProviderError{Code: 503}))
	assert.True(t, isRetryable(fmt.Errorf("wrapped: %w", &llm.ProviderError{Code: 529})))
	assert.True(t, isRetryable(errors.New("Server Overloaded")))
	assert.True(t, isRetryable(errors.New("context deadline exceeded (Client.Timeout exceeded)")))
	assert.False(t, isRetryable(&llm.ProviderError{Code: 400, Message: "bad request"}))
	assert.False(t, isRetryable(errors.New("invalid input")))
	assert.False(t, isRetryable(nil))
}
