// Package vectorstore defines the document chunk contract and its backends.
package vectorstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ChunkedSuffix on a delete identifier selects every chunk sharing the
// base id instead of a single row.
const ChunkedSuffix = "_CHUNKED"

var ErrNotFound = errors.New("vectorstore: chunk not found")

// Chunk is one retrieval unit. ID is BaseID for single-chunk uploads and
// "{BaseID}-{ChunkIndex}" otherwise. All chunks of one ingestion share
// BaseID and CreatedAt.
type Chunk struct {
	ID         string    `json:"id"`
	BaseID     string    `json:"base_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ScoredChunk struct {
	Score float64 `json:"score"`
	Chunk Chunk   `json:"chunk"`
}

// Store persists chunks with their embeddings. Implementations embed chunk
// content (and search queries) through their configured embedding model.
type Store interface {
	// Add embeds and persists the chunks.
	Add(ctx context.Context, chunks []Chunk) error
	// Get returns the chunk with the given id, or nil when absent.
	Get(ctx context.Context, id string) (*Chunk, error)
	// Delete removes one chunk by id, or every chunk of a base id when the
	// identifier carries ChunkedSuffix. Deleting a missing id is a no-op.
	Delete(ctx context.Context, identifier string) error
	// List returns chunks sorted by updated_at descending plus the total
	// row count. limit is clamped to [1, 1000].
	List(ctx context.Context, limit, offset int) ([]Chunk, int, error)
	// Search returns at most k chunks by descending similarity score.
	Search(ctx context.Context, query string, k int) ([]ScoredChunk, error)
	Count(ctx context.Context) (int, error)
	// Reset drops every row.
	Reset(ctx context.Context) error
}

// SplitIdentifier resolves a delete identifier into a base id and whether
// it addresses the whole chunk family.
func SplitIdentifier(identifier string) (string, bool) {
	if strings.HasSuffix(identifier, ChunkedSuffix) {
		return strings.TrimSuffix(identifier, ChunkedSuffix), true
	}
	return identifier, false
}

// ClampLimit applies the list pagination bounds.
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
