// Package memory provides an in-process vector store using brute-force
// cosine similarity. It backs tests and deployments without a Qdrant URL.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/suPer8Hu/knowledge-chat/internal/embedding"
	"github.com/suPer8Hu/knowledge-chat/internal/vectorstore"
)

type row struct {
	chunk  vectorstore.Chunk
	vector []float64
}

type Store struct {
	mu       sync.RWMutex
	embedder embedding.Embedder
	rows     []row
}

func NewStore(embedder embedding.Embedder) *Store {
	return &Store{embedder: embedder}
}

func (s *Store) Add(ctx context.Context, chunks []vectorstore.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	vectors := make([][]float64, 0, len(chunks))
	for _, c := range chunks {
		v, err := s.embedder.Embed(ctx, c.Content)
		if err != nil {
			return err
		}
		vectors = append(vectors, v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range chunks {
		s.rows = append(s.rows, row{chunk: c, vector: vectors[i]})
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*vectorstore.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.rows {
		if s.rows[i].chunk.ID == id {
			c := s.rows[i].chunk
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) Delete(ctx context.Context, identifier string) error {
	baseID, bulk := vectorstore.SplitIdentifier(identifier)

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	for _, r := range s.rows {
		match := false
		if bulk {
			match = r.chunk.BaseID == baseID
		} else {
			match = r.chunk.ID == identifier
		}
		if !match {
			kept = append(kept, r)
		}
	}
	s.rows = kept
	return nil
}

func (s *Store) List(ctx context.Context, limit, offset int) ([]vectorstore.Chunk, int, error) {
	limit = vectorstore.ClampLimit(limit)

	s.mu.RLock()
	chunks := make([]vectorstore.Chunk, 0, len(s.rows))
	for _, r := range s.rows {
		chunks = append(chunks, r.chunk)
	}
	s.mu.RUnlock()

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].UpdatedAt.After(chunks[j].UpdatedAt)
	})

	total := len(chunks)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return chunks[offset:end], total, nil
}

func (s *Store) Search(ctx context.Context, query string, k int) ([]vectorstore.ScoredChunk, error) {
	if k < 1 {
		k = 1
	}
	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	scored := make([]vectorstore.ScoredChunk, 0, len(s.rows))
	for _, r := range s.rows {
		scored = append(scored, vectorstore.ScoredChunk{
			Score: cosine(qv, r.vector),
			Chunk: r.chunk,
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = nil
	return nil
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
