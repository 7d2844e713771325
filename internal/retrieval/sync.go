package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sourcegraph/conc/pool"

	"github.com/soyeahso/kassa/internal/logging"
	"github.com/soyeahso/kassa/internal/store"
)

// embedBatchSize caps the inputs of one embeddings request.
const embedBatchSize = 16

// SyncConfig tunes a Syncer. Zero values take the defaults.
type SyncConfig struct {
	ChunkSize   int           // default 800
	BatchSize   int           // chunks per upsert, default 100
	MaxAttempts int           // upsert attempts per batch, default 3
	RetryBase   time.Duration // first backoff, doubled per attempt, default 1s
	Concurrency int           // parallel embedding requests, default 4
}

func (c *SyncConfig) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
}

// ChunkWriter is the part of the knowledge store the syncer writes to.
type ChunkWriter interface {
	Upsert(ctx context.Context, chunks []store.Chunk) error
	Prune(ctx context.Context, source string, keep int) (int64, error)
	Sources(ctx context.Context) ([]string, error)
}

// SyncReport summarizes one sync run.
type SyncReport struct {
	Files   int   `json:"files"`
	Chunks  int   `json:"chunks"`
	Batches int   `json:"batches"`
	Removed int64 `json:"removed"`
}

// Syncer indexes the .md and .txt files of a knowledge directory.
type Syncer struct {
	store    ChunkWriter
	embedder Embedder // nil: text only
	cfg      SyncConfig
	log      *logging.Logger
}

// NewSyncer creates a syncer. embedder may be nil when retrieval runs on
// full-text search only.
func NewSyncer(w ChunkWriter, embedder Embedder, cfg SyncConfig, log *logging.Logger) *Syncer {
	cfg.applyDefaults()
	return &Syncer{store: w, embedder: embedder, cfg: cfg, log: log.Sub("sync")}
}

// IsKnowledgeFile reports whether name is a file the syncer indexes.
func IsKnowledgeFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".md" || ext == ".txt"
}

// Sync chunks every knowledge file in dir, upserts the chunks in batches,
// and removes chunks whose file shrank or disappeared.
func (s *Syncer) Sync(ctx context.Context, dir string) (*SyncReport, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("knowledge directory %s not found", dir)
	}
	if err != nil {
		return nil, fmt.Errorf("reading knowledge directory: %w", err)
	}

	report := &SyncReport{}
	kept := map[string]int{}
	var batch []store.Chunk

	for _, e := range entries {
		if e.IsDir() || !IsKnowledgeFile(e.Name()) {
			continue
		}
		name := e.Name()
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return report, fmt.Errorf("reading %s: %w", name, err)
		}

		pieces := Chunk(string(data), s.cfg.ChunkSize)
		s.log.Info().Str("file", name).Int("chunks", len(pieces)).Msg("processing knowledge file")

		report.Files++
		kept[name] = len(pieces)
		for i, p := range pieces {
			batch = append(batch, store.Chunk{
				ID:      fmt.Sprintf("%s_%d", name, i),
				Source:  name,
				Index:   i,
				Content: p,
			})
			report.Chunks++

			if len(batch) >= s.cfg.BatchSize {
				if err := s.flush(ctx, batch); err != nil {
					return report, err
				}
				report.Batches++
				batch = nil
			}
		}
	}

	if len(batch) > 0 {
		if err := s.flush(ctx, batch); err != nil {
			return report, err
		}
		report.Batches++
	}

	removed, err := s.prune(ctx, kept)
	report.Removed = removed
	if err != nil {
		return report, err
	}

	if report.Files == 0 {
		s.log.Warn().Str("dir", dir).Msg("no markdown or text files found to sync")
	}
	s.log.Info().
		Int("files", report.Files).
		Int("chunks", report.Chunks).
		Int("batches", report.Batches).
		Int64("removed", report.Removed).
		Msg("sync complete")
	return report, nil
}

// flush embeds (when configured) and upserts one batch, retrying failures
// with exponential backoff.
func (s *Syncer) flush(ctx context.Context, batch []store.Chunk) error {
	if s.embedder != nil {
		if err := s.embed(ctx, batch); err != nil {
			return err
		}
	}

	s.log.Debug().Int("chunks", len(batch)).Msg("uploading batch")
	backoff := retry.WithMaxRetries(uint64(s.cfg.MaxAttempts-1), retry.NewExponential(s.cfg.RetryBase))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := s.store.Upsert(ctx, batch); err != nil {
			if attempt < s.cfg.MaxAttempts {
				s.log.Warn().Err(err).Int("attempt", attempt).Msg("batch upload failed, retrying")
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("uploading batch after %d attempts: %w", attempt, err)
	}
	return nil
}

// embed fills the Embedding of every chunk in place, running up to
// Concurrency requests at once.
func (s *Syncer) embed(ctx context.Context, batch []store.Chunk) error {
	p := pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithMaxGoroutines(s.cfg.Concurrency)

	for start := 0; start < len(batch); start += embedBatchSize {
		part := batch[start:min(start+embedBatchSize, len(batch))]
		p.Go(func(ctx context.Context) error {
			texts := make([]string, len(part))
			for i, c := range part {
				texts[i] = c.Content
			}
			vecs, err := s.embedder.Embed(ctx, texts)
			if err != nil {
				return fmt.Errorf("embedding %s: %w", part[0].ID, err)
			}
			for i := range part {
				part[i].Embedding = vecs[i]
			}
			return nil
		})
	}
	return p.Wait()
}

func (s *Syncer) prune(ctx context.Context, kept map[string]int) (int64, error) {
	sources, err := s.store.Sources(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing indexed sources: %w", err)
	}

	var removed int64
	for _, src := range sources {
		n, err := s.store.Prune(ctx, src, kept[src])
		if err != nil {
			return removed, err
		}
		if n > 0 {
			s.log.Debug().Str("source", src).Int64("removed", n).Msg("pruned stale chunks")
		}
		removed += n
	}
	return removed, nil
}
