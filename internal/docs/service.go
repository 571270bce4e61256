// Package docs implements document ingestion: parse, chunk, embed into the
// vector store, back up the original, and mark the agent for rebuild.
package docs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/suPer8Hu/knowledge-chat/internal/backup"
	"github.com/suPer8Hu/knowledge-chat/internal/chunker"
	"github.com/suPer8Hu/knowledge-chat/internal/log"
	"github.com/suPer8Hu/knowledge-chat/internal/parser"
	"github.com/suPer8Hu/knowledge-chat/internal/vectorstore"
)

var ErrNotFound = errors.New("docs: document not found")

// Notifier is told when stored documents changed. Implemented by the agent.
type Notifier interface {
	MarkDirty()
}

type Service struct {
	store    vectorstore.Store
	parser   *parser.Parser
	backups  *backup.Manager
	notifier Notifier
	logger   log.Logger
}

func NewService(store vectorstore.Store, p *parser.Parser, backups *backup.Manager, notifier Notifier, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{
		store:    store,
		parser:   p,
		backups:  backups,
		notifier: notifier,
		logger:   logger.With("component", "docs"),
	}
}

// Document is the API view of one ingestion: all chunks sharing a base id.
type Document struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Preview   string    `json:"preview,omitempty"`
	Content   string    `json:"content,omitempty"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Create stores pre-extracted text under a fresh base id.
func (s *Service) Create(ctx context.Context, filename, content string) (*Document, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("content must not be empty")
	}
	baseID := uuid.NewString()
	doc, err := s.insert(ctx, baseID, filename, content, chunker.DefaultChunkSize, time.Now())
	if err != nil {
		return nil, err
	}
	s.backup(baseID, filename, []byte(content))
	return doc, nil
}

// Upload parses a raw file and stores the extracted Markdown.
func (s *Service) Upload(ctx context.Context, filename string, data []byte) (*Document, error) {
	content, err := s.parser.Parse(filename, data)
	if err != nil {
		return nil, err
	}
	baseID := uuid.NewString()
	doc, err := s.insert(ctx, baseID, filename, content, chunker.DefaultChunkSize, time.Now())
	if err != nil {
		return nil, err
	}
	s.backup(baseID, filename, data)
	return doc, nil
}

// Update replaces a document's content, preserving its id and created_at.
func (s *Service) Update(ctx context.Context, id, filename, content string) (*Document, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("content must not be empty")
	}
	baseID, _ := vectorstore.SplitIdentifier(id)

	existing, err := s.Get(ctx, baseID)
	if err != nil {
		return nil, err
	}
	if filename == "" {
		filename = existing.Filename
	}

	if err := s.store.Delete(ctx, baseID+vectorstore.ChunkedSuffix); err != nil {
		return nil, fmt.Errorf("delete old chunks: %w", err)
	}
	doc, err := s.insert(ctx, baseID, filename, content, chunker.DefaultChunkSize, existing.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.backup(baseID, filename, []byte(content))
	return doc, nil
}

// Delete removes a document family by base id, along with its backups.
// When the identifier names one chunk of a multi-chunk document, only that
// chunk is removed and the backups stay.
func (s *Service) Delete(ctx context.Context, identifier string) error {
	baseID, family := vectorstore.SplitIdentifier(identifier)

	if !family {
		chunk, err := s.store.Get(ctx, identifier)
		if err != nil {
			return err
		}
		if chunk != nil && chunk.ID != chunk.BaseID {
			if err := s.store.Delete(ctx, identifier); err != nil {
				return err
			}
			s.notifier.MarkDirty()
			return nil
		}
	}

	if err := s.store.Delete(ctx, baseID+vectorstore.ChunkedSuffix); err != nil {
		return err
	}
	if s.backups != nil {
		if err := s.backups.DeleteByBaseID(baseID); err != nil {
			s.logger.Warn("delete backups failed", "base_id", baseID, "error", err)
		}
	}
	s.notifier.MarkDirty()
	return nil
}

// Reset drops every stored chunk.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return err
	}
	s.notifier.MarkDirty()
	return nil
}

// Get assembles one document from its chunks.
func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	baseID, _ := vectorstore.SplitIdentifier(id)

	if chunk, err := s.store.Get(ctx, baseID); err != nil {
		return nil, err
	} else if chunk != nil {
		doc := docFromChunks([]vectorstore.Chunk{*chunk})
		doc.Content = chunk.Content
		return doc, nil
	}

	chunks, err := s.familyChunks(ctx, baseID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrNotFound
	}

	doc := docFromChunks(chunks)
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(c.Content)
	}
	doc.Content = b.String()
	return doc, nil
}

// List returns document summaries sorted by updated_at descending.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Document, int, error) {
	if limit < 1 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	chunks, _, err := s.allChunks(ctx)
	if err != nil {
		return nil, 0, err
	}

	grouped := make(map[string][]vectorstore.Chunk)
	var order []string
	for _, c := range chunks {
		if _, seen := grouped[c.BaseID]; !seen {
			order = append(order, c.BaseID)
		}
		grouped[c.BaseID] = append(grouped[c.BaseID], c)
	}

	docs := make([]Document, 0, len(order))
	for _, baseID := range order {
		doc := docFromChunks(grouped[baseID])
		doc.Preview = preview(grouped[baseID][0].Content)
		docs = append(docs, *doc)
	}
	total := len(docs)

	if offset >= total {
		return []Document{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return docs[offset:end], total, nil
}

// Preload ingests every supported file under dir when the store is empty.
// Used at boot so a fresh deployment starts with its bundled documents.
func (s *Service) Preload(ctx context.Context, dir string) error {
	count, err := s.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("count chunks: %w", err)
	}
	if count > 0 {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read documents dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, ok := parser.DetectType(name); !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			s.logger.Warn("preload read failed", "file", name, "error", err)
			continue
		}
		content, err := s.parser.Parse(name, data)
		if err != nil {
			s.logger.Warn("preload parse failed", "file", name, "error", err)
			continue
		}
		if _, err := s.insert(ctx, uuid.NewString(), name, content, chunker.PreloadChunkSize, time.Now()); err != nil {
			s.logger.Warn("preload insert failed", "file", name, "error", err)
			continue
		}
		loaded++
	}
	if loaded > 0 {
		s.logger.Info("preloaded documents", "files", loaded)
	}
	return nil
}

// insert chunks content and writes the rows. Single-chunk documents use
// the base id directly; multi-chunk ones get "{base}-{index}" ids and a
// "(Part k/N)" source suffix.
func (s *Service) insert(ctx context.Context, baseID, filename, content string, chunkSize int, createdAt time.Time) (*Document, error) {
	pieces := chunker.Split(content, chunkSize)
	if len(pieces) == 0 {
		return nil, errors.New("document has no content after chunking")
	}

	now := time.Now()
	chunks := make([]vectorstore.Chunk, len(pieces))
	for i, piece := range pieces {
		id := baseID
		source := filename
		if len(pieces) > 1 {
			id = fmt.Sprintf("%s-%d", baseID, i)
			source = fmt.Sprintf("%s (Part %d/%d)", filename, i+1, len(pieces))
		}
		chunks[i] = vectorstore.Chunk{
			ID:         id,
			BaseID:     baseID,
			ChunkIndex: i,
			Content:    piece,
			Source:     source,
			CreatedAt:  createdAt,
			UpdatedAt:  now,
		}
	}

	if err := s.store.Add(ctx, chunks); err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}
	s.notifier.MarkDirty()
	s.logger.Info("document ingested", "base_id", baseID, "filename", filename, "chunks", len(chunks))

	doc := docFromChunks(chunks)
	doc.Content = content
	return doc, nil
}

func (s *Service) backup(baseID, filename string, data []byte) {
	if s.backups == nil {
		return
	}
	if _, err := s.backups.Save(baseID, filename, data); err != nil {
		s.logger.Warn("backup failed", "base_id", baseID, "error", err)
	}
}

func (s *Service) familyChunks(ctx context.Context, baseID string) ([]vectorstore.Chunk, error) {
	all, _, err := s.allChunks(ctx)
	if err != nil {
		return nil, err
	}
	var family []vectorstore.Chunk
	for _, c := range all {
		if c.BaseID == baseID {
			family = append(family, c)
		}
	}
	for i := 1; i < len(family); i++ {
		for j := i; j > 0 && family[j].ChunkIndex < family[j-1].ChunkIndex; j-- {
			family[j], family[j-1] = family[j-1], family[j]
		}
	}
	return family, nil
}

func (s *Service) allChunks(ctx context.Context) ([]vectorstore.Chunk, int, error) {
	var all []vectorstore.Chunk
	offset := 0
	for {
		page, total, err := s.store.List(ctx, 1000, offset)
		if err != nil {
			return nil, 0, err
		}
		all = append(all, page...)
		offset += len(page)
		if len(page) == 0 || offset >= total {
			return all, total, nil
		}
	}
}

func docFromChunks(chunks []vectorstore.Chunk) *Document {
	first := chunks[0]
	doc := &Document{
		ID:        first.BaseID,
		Filename:  baseFilename(first.Source),
		Chunks:    len(chunks),
		CreatedAt: first.CreatedAt,
		UpdatedAt: first.UpdatedAt,
	}
	for _, c := range chunks {
		if c.UpdatedAt.After(doc.UpdatedAt) {
			doc.UpdatedAt = c.UpdatedAt
		}
	}
	return doc
}

// baseFilename strips the "(Part k/N)" suffix from a chunk source.
func baseFilename(source string) string {
	if idx := strings.LastIndex(source, " (Part "); idx > 0 && strings.HasSuffix(source, ")") {
		return source[:idx]
	}
	return source
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= 160 {
		return content
	}
	return string(runes[:160]) + "..."
}
