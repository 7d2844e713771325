// Package retrieval finds knowledge snippets relevant to a user question and
// keeps the knowledge index in sync with the files it is built from.
package retrieval

import (
	"context"
	"time"

	"github.com/soyeahso/kassa/internal/logging"
	"github.com/soyeahso/kassa/internal/store"
)

// DefaultTimeout bounds a single retrieval query.
const DefaultTimeout = 5 * time.Second

// Provider returns up to n knowledge snippets for a query, best first.
//
// Query never fails: errors are logged and produce no snippets, so a broken
// index degrades answers instead of blocking them.
type Provider interface {
	Query(ctx context.Context, text string, n int) []string
}

// Nop is a Provider with an empty index.
type Nop struct{}

// Query returns nil.
func (Nop) Query(context.Context, string, int) []string { return nil }

// FTSProvider ranks chunks with SQLite FTS5 BM25.
type FTSProvider struct {
	store *store.KnowledgeStore
	log   *logging.Logger
}

// NewFTSProvider creates a full-text provider over the knowledge store.
func NewFTSProvider(ks *store.KnowledgeStore, log *logging.Logger) *FTSProvider {
	return &FTSProvider{store: ks, log: log.Sub("retrieval")}
}

// Query implements Provider.
func (p *FTSProvider) Query(ctx context.Context, text string, n int) []string {
	if n <= 0 {
		return nil
	}
	chunks, err := p.store.Search(ctx, text, n)
	if err != nil {
		p.log.Warn().Err(err).Msg("knowledge search failed")
		return nil
	}
	return contents(chunks)
}

type timeoutProvider struct {
	next    Provider
	timeout time.Duration
	log     *logging.Logger
}

// WithTimeout bounds every query of p by d. A query that does not finish in
// time yields no snippets.
func WithTimeout(p Provider, d time.Duration, log *logging.Logger) Provider {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutProvider{next: p, timeout: d, log: log.Sub("retrieval")}
}

func (t *timeoutProvider) Query(ctx context.Context, text string, n int) []string {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan []string, 1)
	go func() { done <- t.next.Query(ctx, text, n) }()

	select {
	case out := <-done:
		if ctx.Err() != nil {
			return nil
		}
		return out
	case <-ctx.Done():
		t.log.Warn().Dur("timeout", t.timeout).Msg("retrieval timed out")
		return nil
	}
}

func contents(chunks []store.Chunk) []string {
	if len(chunks) == 0 {
		return nil
	}
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.Content)
	}
	return out
}
