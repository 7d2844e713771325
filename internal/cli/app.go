package cli

import (
	"fmt"
	"time"

	"github.com/soyeahso/kassa/internal/assistant"
	"github.com/soyeahso/kassa/internal/config"
	"github.com/soyeahso/kassa/internal/hooks"
	"github.com/soyeahso/kassa/internal/kassalapp"
	"github.com/soyeahso/kassa/internal/llm"
	"github.com/soyeahso/kassa/internal/retrieval"
	"github.com/soyeahso/kassa/internal/store"
	"github.com/soyeahso/kassa/internal/tools"
)

// app holds the components one command invocation works with. Fields are
// filled by the open* helpers as commands need them.
type app struct {
	cfg   config.Config
	hooks *hooks.Manager

	db        *store.DB
	knowledge *store.KnowledgeStore
	embedder  retrieval.Embedder // nil unless an embeddings endpoint is configured
	api       *kassalapp.Client
	tools     *tools.Registry
	service   *assistant.Service
}

// loadApp loads the config file and validates it. With strict set, any
// issue fails the command; otherwise issues are logged at debug.
func loadApp(strict bool) (*app, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			if strict {
				log.Error().Str("path", issue.Path).Msg(issue.Message)
			} else {
				log.Debug().Str("path", issue.Path).Msg(issue.Message)
			}
		}
		if strict {
			return nil, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
		}
	}

	hm := hooks.NewManager(log)
	hooks.LogEvents(hm, log)
	return &app{cfg: cfg, hooks: hm}, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) openDB() error {
	if a.db != nil {
		return nil
	}
	db, err := store.Open(paths.Database, log)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	a.db = db
	a.knowledge = store.NewKnowledgeStore(db)

	emb := a.cfg.Retrieval.Embedding
	if emb.BaseURL != "" {
		a.embedder = retrieval.NewHTTPEmbedder(retrieval.EmbedderConfig{
			BaseURL: emb.BaseURL,
			APIKey:  emb.APIKey,
			Model:   emb.Model,
		}, log)
	}
	return nil
}

func (a *app) openAPI() *kassalapp.Client {
	if a.api != nil {
		return a.api
	}
	a.api = kassalapp.New(kassalappOptions(a.cfg.Kassalapp), log)
	return a.api
}

func kassalappOptions(c config.KassalappConfig) kassalapp.Options {
	return kassalapp.Options{
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		Timeout:    time.Duration(c.TimeoutSec) * time.Second,
		RetryMax:   c.RetryMaxOrDefault(),
		RatePerMin: c.RatePerMin,
	}
}

func (a *app) openTools() (*tools.Registry, error) {
	if a.tools != nil {
		return a.tools, nil
	}
	reg, err := tools.New(a.openAPI(), tools.Options{StoreAliases: a.cfg.Assistant.StoreAliases}, a.cfg.Assistant.Tools, log)
	if err != nil {
		return nil, fmt.Errorf("building tool registry: %w", err)
	}
	a.tools = reg
	return reg, nil
}

// retriever returns the provider selected by retrieval.mode, bounded by
// retrieval.timeoutSec.
func (a *app) retriever() (retrieval.Provider, error) {
	if err := a.openDB(); err != nil {
		return nil, err
	}

	var p retrieval.Provider
	switch a.cfg.Retrieval.Mode {
	case "embedding":
		if a.embedder == nil {
			return nil, fmt.Errorf("retrieval.mode is embedding but no embeddings endpoint is configured")
		}
		p = retrieval.NewEmbeddingProvider(a.knowledge, a.embedder, log)
	default:
		p = retrieval.NewFTSProvider(a.knowledge, log)
	}
	return retrieval.WithTimeout(p, time.Duration(a.cfg.Retrieval.TimeoutSec)*time.Second, log), nil
}

func (a *app) syncer() (*retrieval.Syncer, error) {
	if err := a.openDB(); err != nil {
		return nil, err
	}
	r := a.cfg.Retrieval
	return retrieval.NewSyncer(a.knowledge, a.embedder, retrieval.SyncConfig{
		ChunkSize:   r.ChunkSize,
		BatchSize:   r.BatchSize,
		MaxAttempts: r.MaxRetries,
		Concurrency: r.Embedding.Concurrency,
	}, log), nil
}

func (a *app) knowledgeDir() string {
	return paths.KnowledgeDir(a.cfg.Retrieval.KnowledgeDir)
}

func (a *app) sessionStore() (assistant.SessionStore, error) {
	if a.cfg.Session.Store == "memory" {
		log.Debug().Msg("using in-memory session store")
		return assistant.NewMemorySessionStore(), nil
	}
	if err := a.openDB(); err != nil {
		return nil, err
	}
	log.Debug().Str("path", paths.Database).Msg("using SQLite session store")
	return store.NewSQLiteSessionStore(a.db), nil
}

// openService assembles the assistant: completion client with failover,
// enabled tools, retrieval and the session store.
func (a *app) openService() (*assistant.Service, error) {
	if a.service != nil {
		return a.service, nil
	}

	reg, err := a.openTools()
	if err != nil {
		return nil, err
	}
	retriever, err := a.retriever()
	if err != nil {
		return nil, err
	}
	sessions, err := a.sessionStore()
	if err != nil {
		return nil, err
	}

	providers := llm.NewRegistryFromConfig(a.cfg.LLM, log)
	client := assistant.NewFailoverClient(providers, a.cfg.LLM.Model, a.cfg.LLM.Fallbacks, log)

	orch := assistant.NewOrchestrator(orchestratorConfig(a.cfg), client, reg, retriever, a.hooks, log)
	a.service = assistant.NewService(orch, sessions, a.hooks, a.cfg.Assistant.SeedWelcomeOrDefault(), log)
	return a.service, nil
}

func orchestratorConfig(cfg config.Config) assistant.Config {
	return assistant.Config{
		Name:          cfg.Assistant.Name,
		Model:         cfg.LLM.Model,
		MaxToolRounds: cfg.Assistant.MaxToolRounds,
		NResults:      cfg.Retrieval.NResults,
		Greetings:     cfg.Assistant.Greetings,
		Temperature:   llm.Float(cfg.LLM.TemperatureOrDefault()),
		MaxTokens:     cfg.LLM.MaxTokens,
	}
}
