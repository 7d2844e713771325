package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"gonum.org/v1/gonum/floats"

	"github.com/soyeahso/kassa/internal/logging"
	"github.com/soyeahso/kassa/internal/store"
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// EmbedderConfig configures an HTTPEmbedder.
type EmbedderConfig struct {
	BaseURL string // OpenAI-compatible root, e.g. "http://localhost:11434/v1"
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTPEmbedder calls an OpenAI-compatible /embeddings endpoint.
type HTTPEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	http    *retryablehttp.Client
}

// NewHTTPEmbedder creates an embedder for an OpenAI-compatible endpoint.
func NewHTTPEmbedder(cfg EmbedderConfig, log *logging.Logger) *HTTPEmbedder {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.RetryMax = 2
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPEmbedder{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    rc,
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Embedder.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(embeddingRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result embeddingResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d inputs", len(result.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// EmbeddingProvider ranks stored chunk vectors by cosine similarity to the
// embedded query.
type EmbeddingProvider struct {
	store    *store.KnowledgeStore
	embedder Embedder
	log      *logging.Logger
}

// NewEmbeddingProvider creates a vector provider.
func NewEmbeddingProvider(ks *store.KnowledgeStore, e Embedder, log *logging.Logger) *EmbeddingProvider {
	return &EmbeddingProvider{store: ks, embedder: e, log: log.Sub("retrieval")}
}

// Query implements Provider.
func (p *EmbeddingProvider) Query(ctx context.Context, text string, n int) []string {
	if n <= 0 || strings.TrimSpace(text) == "" {
		return nil
	}

	vecs, err := p.embedder.Embed(ctx, []string{text})
	if err != nil {
		p.log.Warn().Err(err).Msg("query embedding failed")
		return nil
	}
	chunks, err := p.store.Embedded(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("loading chunk vectors failed")
		return nil
	}

	return contents(rank(vecs[0], chunks, n))
}

// rank orders chunks by descending cosine similarity to q, breaking ties by
// id, and keeps the best n. Chunks whose dimension differs from q are
// skipped.
func rank(q []float64, chunks []store.Chunk, n int) []store.Chunk {
	qNorm := floats.Norm(q, 2)
	if qNorm == 0 {
		return nil
	}

	type scored struct {
		chunk store.Chunk
		score float64
	}
	var hits []scored
	for _, c := range chunks {
		if len(c.Embedding) != len(q) {
			continue
		}
		cNorm := floats.Norm(c.Embedding, 2)
		if cNorm == 0 {
			continue
		}
		hits = append(hits, scored{chunk: c, score: floats.Dot(q, c.Embedding) / (qNorm * cNorm)})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].chunk.ID < hits[j].chunk.ID
	})

	if len(hits) > n {
		hits = hits[:n]
	}
	out := make([]store.Chunk, len(hits))
	for i, h := range hits {
		out[i] = h.chunk
	}
	return out
}
