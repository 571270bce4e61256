// Package qdrant implements the vector store against a Qdrant server using
// its REST API. Chunks live as points whose payload carries the chunk
// columns; base_id and chunk_index are first-class payload fields so family
// deletes are plain payload filters.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/suPer8Hu/knowledge-chat/internal/embedding"
	"github.com/suPer8Hu/knowledge-chat/internal/vectorstore"
)

type Store struct {
	url        string
	apiKey     string
	collection string
	embedder   embedding.Embedder
	client     *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	created bool
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStore(cfg Config, embedder embedding.Embedder, logger *slog.Logger) *Store {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "documents"
	}
	return &Store{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: collection,
		embedder:   embedder,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With("component", "qdrant"),
	}
}

// pointID derives a deterministic UUID from the chunk id, since Qdrant only
// accepts UUID or integer point ids.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func (s *Store) ensureCollection(ctx context.Context, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created {
		return nil
	}
	if dims <= 0 {
		return errors.New("qdrant: invalid embedding dimension")
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dims,
			"distance": "Cosine",
		},
	}
	// Qdrant answers 409 when the collection already exists; treat as created.
	status, err := s.doJSON(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", s.collection), body, nil)
	if err != nil && status != http.StatusConflict {
		return err
	}
	s.created = true
	return nil
}

func (s *Store) Add(ctx context.Context, chunks []vectorstore.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	vectors := make([][]float64, 0, len(chunks))
	for _, c := range chunks {
		v, err := s.embedder.Embed(ctx, c.Content)
		if err != nil {
			return fmt.Errorf("embed chunk %s: %w", c.ID, err)
		}
		vectors = append(vectors, v)
	}

	// The schema is fixed by the first write; the actual returned vector
	// length wins over the model-declared dimensionality.
	if err := s.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	points := make([]map[string]any, 0, len(chunks))
	for i, c := range chunks {
		points = append(points, map[string]any{
			"id":     pointID(c.ID),
			"vector": vectors[i],
			"payload": map[string]any{
				"id":          c.ID,
				"base_id":     c.BaseID,
				"chunk_index": c.ChunkIndex,
				"content":     c.Content,
				"source":      c.Source,
				"created_at":  c.CreatedAt.UnixMilli(),
				"updated_at":  c.UpdatedAt.UnixMilli(),
			},
		})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", s.collection)
	if _, err := s.doJSON(ctx, http.MethodPut, path, map[string]any{"points": points}, nil); err != nil {
		return err
	}
	s.logger.Info("added chunks", "count", len(chunks))
	return nil
}

func matchFilter(key string, value any) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": key, "match": map[string]any{"value": value}},
		},
	}
}

func (s *Store) Get(ctx context.Context, id string) (*vectorstore.Chunk, error) {
	var resp struct {
		Result struct {
			Points []struct {
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	body := map[string]any{
		"filter":       matchFilter("id", id),
		"limit":        1,
		"with_payload": true,
	}
	path := fmt.Sprintf("/collections/%s/points/scroll", s.collection)
	status, err := s.doJSON(ctx, http.MethodPost, path, body, &resp)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(resp.Result.Points) == 0 {
		return nil, nil
	}
	chunk, err := chunkFromPayload(resp.Result.Points[0].Payload)
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

func (s *Store) Delete(ctx context.Context, identifier string) error {
	baseID, bulk := vectorstore.SplitIdentifier(identifier)

	var filter map[string]any
	if bulk {
		filter = matchFilter("base_id", baseID)
	} else {
		filter = matchFilter("id", identifier)
	}

	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", s.collection)
	status, err := s.doJSON(ctx, http.MethodPost, path, map[string]any{"filter": filter}, nil)
	if status == http.StatusNotFound {
		// Nothing stored yet; deleting is a no-op.
		return nil
	}
	return err
}

func (s *Store) List(ctx context.Context, limit, offset int) ([]vectorstore.Chunk, int, error) {
	limit = vectorstore.ClampLimit(limit)

	total, err := s.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, nil
	}

	chunks := make([]vectorstore.Chunk, 0, total)
	var next any
	for {
		body := map[string]any{
			"limit":        256,
			"with_payload": true,
		}
		if next != nil {
			body["offset"] = next
		}
		var resp struct {
			Result struct {
				Points []struct {
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		path := fmt.Sprintf("/collections/%s/points/scroll", s.collection)
		if _, err := s.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
			return nil, 0, err
		}
		for _, p := range resp.Result.Points {
			chunk, err := chunkFromPayload(p.Payload)
			if err != nil {
				s.logger.Warn("skipping undecodable payload", "error", err)
				continue
			}
			chunks = append(chunks, chunk)
		}
		if resp.Result.NextPageOffset == nil || len(resp.Result.Points) == 0 {
			break
		}
		next = resp.Result.NextPageOffset
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].UpdatedAt.After(chunks[j].UpdatedAt)
	})
	if offset > len(chunks) {
		offset = len(chunks)
	}
	end := offset + limit
	if end > len(chunks) {
		end = len(chunks)
	}
	return chunks[offset:end], total, nil
}

func (s *Store) Search(ctx context.Context, query string, k int) ([]vectorstore.ScoredChunk, error) {
	if k < 1 {
		k = 1
	}
	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	body := map[string]any{
		"vector":       qv,
		"limit":        k,
		"with_payload": true,
	}
	path := fmt.Sprintf("/collections/%s/points/search", s.collection)
	status, err := s.doJSON(ctx, http.MethodPost, path, body, &resp)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	results := make([]vectorstore.ScoredChunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		chunk, err := chunkFromPayload(r.Payload)
		if err != nil {
			s.logger.Warn("skipping undecodable search payload", "error", err)
			continue
		}
		results = append(results, vectorstore.ScoredChunk{Score: r.Score, Chunk: chunk})
	}
	return results, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", s.collection)
	status, err := s.doJSON(ctx, http.MethodPost, path, map[string]any{"exact": true}, &resp)
	if status == http.StatusNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (s *Store) Reset(ctx context.Context) error {
	path := fmt.Sprintf("/collections/%s", s.collection)
	status, err := s.doJSON(ctx, http.MethodDelete, path, nil, nil)
	if status == http.StatusNotFound {
		err = nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.created = false
	s.mu.Unlock()
	s.logger.Info("collection dropped", "collection", s.collection)
	return nil
}

func chunkFromPayload(payload map[string]any) (vectorstore.Chunk, error) {
	var c vectorstore.Chunk
	id, ok := payload["id"].(string)
	if !ok || id == "" {
		return c, errors.New("qdrant: payload missing id")
	}
	content, ok := payload["content"].(string)
	if !ok {
		return c, errors.New("qdrant: payload missing content")
	}
	c.ID = id
	c.Content = content
	c.BaseID, _ = payload["base_id"].(string)
	c.Source, _ = payload["source"].(string)
	if v, ok := payload["chunk_index"].(float64); ok {
		c.ChunkIndex = int(v)
	}
	if v, ok := payload["created_at"].(float64); ok {
		c.CreatedAt = time.UnixMilli(int64(v)).UTC()
	}
	if v, ok := payload["updated_at"].(float64); ok {
		c.UpdatedAt = time.UnixMilli(int64(v)).UTC()
	}
	return c, nil
}

// doJSON issues one request and decodes the response into out when given.
// It returns the HTTP status so callers can special-case 404s.
func (s *Store) doJSON(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.url+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("qdrant %s %s: %s", method, path, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
