package docs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/knowledge-chat/internal/backup"
	"github.com/suPer8Hu/knowledge-chat/internal/log"
	"github.com/suPer8Hu/knowledge-chat/internal/parser"
	"github.com/suPer8Hu/knowledge-chat/internal/vectorstore/memory"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	v := make([]float64, 4)
	for i, r := range text {
		v[i%4] += float64(r)
	}
	return v, nil
}

func (fixedEmbedder) Dimensions() int { return 4 }

type dirtyCounter struct{ n int }

func (d *dirtyCounter) MarkDirty() { d.n++ }

func newTestService(t *testing.T) (*Service, *memory.Store, *dirtyCounter) {
	t.Helper()
	store := memory.NewStore(fixedEmbedder{})
	backups, err := backup.NewManager(t.TempDir(), 3, nil)
	require.NoError(t, err)
	dirty := &dirtyCounter{}
	svc := NewService(store, parser.New(log.NewNop()), backups, dirty, nil)
	return svc, store, dirty
}

func TestCreate_SingleChunk(t *testing.T) {
	svc, store, dirty := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Create(ctx, "notes.md", "Short document body.")
	require.NoError(t, err)

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "notes.md", doc.Filename)
	assert.Equal(t, 1, doc.Chunks)
	assert.Equal(t, 1, dirty.n)

	chunk, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, chunk, "single-chunk document must use the base id as chunk id")
	assert.Equal(t, doc.ID, chunk.BaseID)
	assert.Equal(t, 0, chunk.ChunkIndex)
	assert.Equal(t, "notes.md", chunk.Source)
}

func TestCreate_MultiChunkNaming(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	// paragraphs large enough to force several chunks at the default size
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString(strings.Repeat("word ", 200))
		b.WriteString("\n\n")
	}

	doc, err := svc.Create(ctx, "big.txt", b.String())
	require.NoError(t, err)
	require.Greater(t, doc.Chunks, 1)

	first, err := store.Get(ctx, doc.ID+"-0")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, doc.ID, first.BaseID)
	assert.Contains(t, first.Source, "big.txt (Part 1/")

	// the bare base id is not a chunk id for multi-chunk documents
	none, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestGet_AssemblesMultiChunkContent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString(strings.Repeat("word ", 200))
		b.WriteString("\n\n")
	}
	created, err := svc.Create(ctx, "big.txt", b.String())
	require.NoError(t, err)
	require.Greater(t, created.Chunks, 1)

	doc, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Chunks, doc.Chunks)
	assert.Equal(t, "big.txt", doc.Filename)
	assert.Contains(t, doc.Content, "word word")
}

func TestGet_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_PreservesIDAndCreatedAt(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "doc.md", "original content")
	require.NoError(t, err)

	updated, err := svc.Update(ctx, created.ID, "", "replacement content")
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "doc.md", updated.Filename)
	assert.Equal(t, created.CreatedAt.Unix(), updated.CreatedAt.Unix())
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	chunk, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.Equal(t, "replacement content", chunk.Content)
}

func TestUpdate_MissingDocument(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Update(context.Background(), "missing", "f.md", "content")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_RemovesChunksAndMarksDirty(t *testing.T) {
	svc, store, dirty := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "doc.md", "to be deleted")
	require.NoError(t, err)
	before := dirty.n

	require.NoError(t, svc.Delete(ctx, created.ID))
	assert.Greater(t, dirty.n, before)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDelete_MultiChunkByBaseID(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString(strings.Repeat("word ", 200))
		b.WriteString("\n\n")
	}
	created, err := svc.Create(ctx, "big.txt", b.String())
	require.NoError(t, err)
	require.Greater(t, created.Chunks, 1)

	require.NoError(t, svc.Delete(ctx, created.ID))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "deleting by base id must remove every chunk")
}

func TestDelete_SingleChunkKeepsSiblingsAndBackups(t *testing.T) {
	store := memory.NewStore(fixedEmbedder{})
	backupDir := t.TempDir()
	backups, err := backup.NewManager(backupDir, 3, nil)
	require.NoError(t, err)
	svc := NewService(store, parser.New(log.NewNop()), backups, &dirtyCounter{}, nil)
	ctx := context.Background()

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString(strings.Repeat("word ", 200))
		b.WriteString("\n\n")
	}
	created, err := svc.Create(ctx, "big.txt", b.String())
	require.NoError(t, err)
	require.Greater(t, created.Chunks, 1)

	require.NoError(t, svc.Delete(ctx, created.ID+"-0"))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, created.Chunks-1, n, "only the named chunk should go")

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "chunk-level deletes must keep the backups")

	// removing the rest of the family takes the backups with it
	require.NoError(t, svc.Delete(ctx, created.ID))
	entries, err = os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestList_PaginatesDocuments(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"a.md", "b.md", "c.md"} {
		_, err := svc.Create(ctx, name, "content of "+name)
		require.NoError(t, err)
	}

	page, total, err := svc.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)
	for _, d := range page {
		assert.NotEmpty(t, d.Preview)
		assert.Empty(t, d.Content, "listing must not inline full content")
	}

	rest, _, err := svc.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	empty, _, err := svc.List(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestList_PreviewTruncation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	long := strings.Repeat("x", 500)
	_, err := svc.Create(ctx, "long.md", long)
	require.NoError(t, err)

	page, _, err := svc.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 163, len(page[0].Preview))
	assert.True(t, strings.HasSuffix(page[0].Preview, "..."))
}

func TestReset(t *testing.T) {
	svc, store, dirty := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "doc.md", "content")
	require.NoError(t, err)

	before := dirty.n
	require.NoError(t, svc.Reset(ctx))
	assert.Greater(t, dirty.n, before)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPreload_OnlyWhenEmpty(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, dir, "one.md", "# Doc One\n\nHello.")
	writeFile(t, dir, "two.txt", "Doc two body.")
	writeFile(t, dir, "ignore.bin", "not supported")

	require.NoError(t, svc.Preload(ctx, dir))
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// second preload is a no-op because the store is populated
	require.NoError(t, svc.Preload(ctx, dir))
	after, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, after)
}

func TestPreload_MissingDirIsFine(t *testing.T) {
	svc, _, _ := newTestService(t)
	assert.NoError(t, svc.Preload(context.Background(), "/nonexistent/dir"))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
