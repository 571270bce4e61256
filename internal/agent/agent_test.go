package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/suPer8Hu/knowledge-chat/internal/ai"
	"github.com/suPer8Hu/knowledge-chat/internal/vectorstore"
)

type fakeStore struct {
	chunks   []vectorstore.ScoredChunk
	countErr error
}

func (s *fakeStore) Add(context.Context, []vectorstore.Chunk) error { return nil }
func (s *fakeStore) Get(context.Context, string) (*vectorstore.Chunk, error) {
	return nil, nil
}
func (s *fakeStore) Delete(context.Context, string) error { return nil }
func (s *fakeStore) List(context.Context, int, int) ([]vectorstore.Chunk, int, error) {
	return nil, 0, nil
}
func (s *fakeStore) Search(context.Context, string, int) ([]vectorstore.ScoredChunk, error) {
	return s.chunks, nil
}
func (s *fakeStore) Count(context.Context) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return len(s.chunks), nil
}
func (s *fakeStore) Reset(context.Context) error { return nil }

type recordingProvider struct {
	last  []ai.Message
	reply string
}

func (p *recordingProvider) Chat(_ context.Context, messages []ai.Message) (string, error) {
	p.last = append([]ai.Message(nil), messages...)
	if p.reply == "" {
		return "ok", nil
	}
	return p.reply, nil
}

func newTestAgent(t *testing.T, store vectorstore.Store, provider ai.Provider) *Agent {
	t.Helper()
	a, err := New(store, provider, Options{
		PreambleFile: filepath.Join(t.TempDir(), "preamble.md"),
		TopK:         3,
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return a
}

func TestNew_CreatesDefaultPreamble(t *testing.T) {
	a := newTestAgent(t, &fakeStore{}, &recordingProvider{})
	if a.Preamble() != DefaultPreamble {
		t.Fatalf("unexpected preamble: %q", a.Preamble())
	}
	data, err := os.ReadFile(a.path)
	if err != nil {
		t.Fatalf("preamble file not written: %v", err)
	}
	if string(data) != DefaultPreamble {
		t.Fatalf("file content mismatch: %q", data)
	}
}

func TestSetPreamble_TakesEffectAfterRebuild(t *testing.T) {
	a := newTestAgent(t, &fakeStore{}, &recordingProvider{})

	if err := a.SetPreamble("You are a pirate."); err != nil {
		t.Fatalf("set preamble: %v", err)
	}
	if !a.Dirty() {
		t.Fatal("expected dirty after SetPreamble")
	}
	if a.Preamble() != DefaultPreamble {
		t.Fatal("published snapshot must not change before rebuild")
	}

	if err := a.Rebuild(context.Background()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if a.Dirty() {
		t.Fatal("dirty flag should clear after rebuild")
	}
	if a.Preamble() != "You are a pirate." {
		t.Fatalf("preamble not refreshed: %q", a.Preamble())
	}
}

func TestSetPreamble_RejectsEmpty(t *testing.T) {
	a := newTestAgent(t, &fakeStore{}, &recordingProvider{})
	if err := a.SetPreamble("   "); err == nil {
		t.Fatal("expected error for blank preamble")
	}
}

func TestChat_RebuildsWhenDirty(t *testing.T) {
	a := newTestAgent(t, &fakeStore{}, &recordingProvider{})

	if a.Rebuilds() != 0 {
		t.Fatalf("fresh agent should have 0 rebuilds, got %d", a.Rebuilds())
	}

	a.MarkDirty()
	if _, err := a.Chat(context.Background(), nil, "hello"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if a.Rebuilds() != 1 {
		t.Fatalf("expected 1 rebuild, got %d", a.Rebuilds())
	}

	// clean agent does not rebuild again
	if _, err := a.Chat(context.Background(), nil, "hello again"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if a.Rebuilds() != 1 {
		t.Fatalf("unexpected rebuild on clean agent, got %d", a.Rebuilds())
	}
}

func TestRebuildFailureKeepsOldSnapshotAndDirty(t *testing.T) {
	store := &fakeStore{}
	a := newTestAgent(t, store, &recordingProvider{})

	if err := a.SetPreamble("new preamble"); err != nil {
		t.Fatalf("set preamble: %v", err)
	}
	store.countErr = errors.New("qdrant down")

	if err := a.Rebuild(context.Background()); err == nil {
		t.Fatal("expected rebuild error")
	}
	if !a.Dirty() {
		t.Fatal("dirty must stay set after a failed rebuild")
	}
	if a.Preamble() != DefaultPreamble {
		t.Fatal("failed rebuild must not publish a new snapshot")
	}

	// chat still serves on the stale snapshot
	if _, err := a.Chat(context.Background(), nil, "hello"); err != nil {
		t.Fatalf("chat on stale snapshot: %v", err)
	}

	store.countErr = nil
	if err := a.Rebuild(context.Background()); err != nil {
		t.Fatalf("rebuild after recovery: %v", err)
	}
	if a.Preamble() != "new preamble" {
		t.Fatalf("preamble not refreshed: %q", a.Preamble())
	}
}

func TestChat_InjectsRetrievedContext(t *testing.T) {
	store := &fakeStore{chunks: []vectorstore.ScoredChunk{
		{Score: 0.9, Chunk: vectorstore.Chunk{Content: "Widgets cost $5.", Source: "pricing.md"}},
	}}
	prov := &recordingProvider{}
	a := newTestAgent(t, store, prov)

	history := []ai.Message{
		{Role: ai.RoleUser, Content: "earlier question"},
		{Role: ai.RoleAssistant, Content: "earlier answer"},
	}
	if _, err := a.Chat(context.Background(), history, "how much are widgets?"); err != nil {
		t.Fatalf("chat: %v", err)
	}

	if len(prov.last) != 5 {
		t.Fatalf("expected 5 messages (preamble, context, 2 history, user), got %d", len(prov.last))
	}
	if prov.last[0].Role != ai.RoleSystem || prov.last[0].Content != DefaultPreamble {
		t.Fatalf("first message must be the preamble: %+v", prov.last[0])
	}
	if !strings.Contains(prov.last[1].Content, "Widgets cost $5.") ||
		!strings.Contains(prov.last[1].Content, "pricing.md") {
		t.Fatalf("retrieved context missing: %+v", prov.last[1])
	}
	if prov.last[4].Role != ai.RoleUser || prov.last[4].Content != "how much are widgets?" {
		t.Fatalf("last message must be the user turn: %+v", prov.last[4])
	}
}

func TestChat_NoContextMessageWhenStoreEmpty(t *testing.T) {
	prov := &recordingProvider{}
	a := newTestAgent(t, &fakeStore{}, prov)

	if _, err := a.Chat(context.Background(), nil, "hi"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(prov.last) != 2 {
		t.Fatalf("expected preamble + user only, got %d messages", len(prov.last))
	}
}

func TestStreamChat_FallsBackToUnaryProvider(t *testing.T) {
	prov := &recordingProvider{reply: "full reply"}
	a := newTestAgent(t, &fakeStore{}, prov)

	frags, errCh := a.StreamChat(context.Background(), nil, "hi")

	var got []string
	for f := range frags {
		got = append(got, f)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("stream err: %v", err)
	}
	if len(got) != 1 || got[0] != "full reply" {
		t.Fatalf("unexpected fragments: %v", got)
	}
}

type failingStreamProvider struct {
	recordingProvider
}

func (p *failingStreamProvider) StreamChat(ctx context.Context, _ []ai.Message) (<-chan string, <-chan error) {
	out := make(chan string, 2)
	errCh := make(chan error, 1)
	out <- "partial "
	errCh <- errors.New("upstream reset")
	close(out)
	close(errCh)
	return out, errCh
}

func TestStreamChat_MidStreamErrorBecomesTerminalFragment(t *testing.T) {
	a := newTestAgent(t, &fakeStore{}, &failingStreamProvider{})

	frags, errCh := a.StreamChat(context.Background(), nil, "hi")

	var got []string
	for f := range frags {
		got = append(got, f)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("mid-stream failure must not surface on errCh, got %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected fragments")
	}
	last := got[len(got)-1]
	if !strings.HasPrefix(last, "Error: ") || !strings.Contains(last, "upstream reset") {
		t.Fatalf("expected terminal error fragment, got %q", last)
	}
}
