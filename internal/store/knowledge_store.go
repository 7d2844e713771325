package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

// Chunk is one indexed piece of a knowledge file.
type Chunk struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Index     int       `json:"index"`
	Content   string    `json:"content"`
	Embedding []float64 `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
	Rank      float64   `json:"rank,omitempty"` // FTS5 rank score (search results only)
}

// KnowledgeStore indexes knowledge chunks with SQLite FTS5 and keeps their
// optional embedding vectors.
type KnowledgeStore struct {
	db *DB
}

// NewKnowledgeStore creates a knowledge store using the given database.
func NewKnowledgeStore(db *DB) *KnowledgeStore {
	return &KnowledgeStore{db: db}
}

// Upsert inserts or replaces chunks by id in a single transaction.
func (k *KnowledgeStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := k.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO knowledge_chunks (id, source, chunk_index, content, embedding, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   source = excluded.source,
		   chunk_index = excluded.chunk_index,
		   content = excluded.content,
		   embedding = excluded.embedding,
		   updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Format(time.DateTime)
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.Source, c.Index, c.Content, encodeVector(c.Embedding), now); err != nil {
			return fmt.Errorf("upserting chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// Prune removes chunks of source whose index is at or beyond keep, so a file
// that shrank does not leave stale tail chunks behind. keep 0 removes the
// whole source.
func (k *KnowledgeStore) Prune(ctx context.Context, source string, keep int) (int64, error) {
	res, err := k.db.sql.ExecContext(ctx,
		`DELETE FROM knowledge_chunks WHERE source = ? AND chunk_index >= ?`, source, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning %s: %w", source, err)
	}
	return res.RowsAffected()
}

// DeleteSource removes every chunk of source.
func (k *KnowledgeStore) DeleteSource(ctx context.Context, source string) (int64, error) {
	return k.Prune(ctx, source, 0)
}

// Sources lists the distinct sources currently indexed.
func (k *KnowledgeStore) Sources(ctx context.Context) ([]string, error) {
	rows, err := k.db.sql.QueryContext(ctx, `SELECT DISTINCT source FROM knowledge_chunks ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Count returns the number of indexed chunks.
func (k *KnowledgeStore) Count(ctx context.Context) (int, error) {
	var n int
	err := k.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_chunks`).Scan(&n)
	return n, err
}

// Search finds chunks matching free text using FTS5 BM25 ranking. Ties are
// broken by id so results are stable for an unchanged index. Limit of 0
// defaults to 20.
func (k *KnowledgeStore) Search(ctx context.Context, text string, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 20
	}
	match := MatchQuery(text)
	if match == "" {
		return nil, nil
	}

	rows, err := k.db.sql.QueryContext(ctx,
		`SELECT kc.id, kc.source, kc.chunk_index, kc.content, kc.updated_at, rank
		 FROM knowledge_fts
		 JOIN knowledge_chunks kc ON kc.rowid = knowledge_fts.rowid
		 WHERE knowledge_fts MATCH ?
		 ORDER BY rank, kc.id
		 LIMIT ?`,
		match, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching knowledge: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var updatedAt string
		if err := rows.Scan(&c.ID, &c.Source, &c.Index, &c.Content, &updatedAt, &c.Rank); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		c.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Embedded returns every chunk that has an embedding, ordered by id.
func (k *KnowledgeStore) Embedded(ctx context.Context) ([]Chunk, error) {
	rows, err := k.db.sql.QueryContext(ctx,
		`SELECT id, source, chunk_index, content, embedding, updated_at
		 FROM knowledge_chunks WHERE embedding IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading embeddings: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		var updatedAt string
		if err := rows.Scan(&c.ID, &c.Source, &c.Index, &c.Content, &blob, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		c.Embedding = decodeVector(blob)
		c.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// MatchQuery turns free text into an FTS5 query that ORs the quoted words,
// so punctuation and FTS operators in user input cannot break the syntax.
func MatchQuery(text string) string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(w)
		if seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}

func encodeVector(v []float64) any {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(f)))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float64, len(b)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
	}
	return out
}
