// Package agent holds the compiled conversational agent: the preamble, the
// retrieval hook into the vector store and the completion provider. The
// compiled state is published as an immutable snapshot; writers mark the
// agent dirty and the next chat rebuilds it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/suPer8Hu/knowledge-chat/internal/ai"
	"github.com/suPer8Hu/knowledge-chat/internal/log"
	"github.com/suPer8Hu/knowledge-chat/internal/vectorstore"
)

// DefaultPreamble is used when the preamble file does not exist yet.
const DefaultPreamble = "You are a helpful assistant. Answer questions based on the provided documents. If the documents do not contain the answer, say so honestly."

type Options struct {
	PreambleFile string
	TopK         int
	Logger       log.Logger
}

// snapshot is the immutable compiled agent state. Chats read whichever
// snapshot is current when they start; a concurrent rebuild never affects
// an in-flight chat.
type snapshot struct {
	preamble string
	builtAt  time.Time
}

type Agent struct {
	store    vectorstore.Store
	provider ai.Provider
	path     string
	topK     int
	logger   log.Logger

	snap     atomic.Pointer[snapshot]
	dirty    atomic.Bool
	rebuilds atomic.Int64

	rebuildMu sync.Mutex
}

// New compiles the initial agent. A missing preamble file is created with
// DefaultPreamble.
func New(store vectorstore.Store, provider ai.Provider, opts Options) (*Agent, error) {
	if opts.TopK < 1 {
		opts.TopK = 3
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}

	a := &Agent{
		store:    store,
		provider: provider,
		path:     opts.PreambleFile,
		topK:     opts.TopK,
		logger:   opts.Logger.With("component", "agent"),
	}

	preamble, err := a.loadPreamble()
	if err != nil {
		return nil, err
	}
	a.snap.Store(&snapshot{preamble: preamble, builtAt: time.Now()})
	return a, nil
}

func (a *Agent) loadPreamble() (string, error) {
	data, err := os.ReadFile(a.path)
	if errors.Is(err, os.ErrNotExist) {
		if mkErr := os.MkdirAll(filepath.Dir(a.path), 0o755); mkErr != nil {
			return "", fmt.Errorf("create preamble dir: %w", mkErr)
		}
		if wErr := os.WriteFile(a.path, []byte(DefaultPreamble), 0o644); wErr != nil {
			return "", fmt.Errorf("write default preamble: %w", wErr)
		}
		return DefaultPreamble, nil
	}
	if err != nil {
		return "", fmt.Errorf("read preamble: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return DefaultPreamble, nil
	}
	return string(data), nil
}

// Preamble returns the preamble of the current snapshot.
func (a *Agent) Preamble() string {
	return a.snap.Load().preamble
}

// PreambleUpdatedAt returns the mtime of the preamble file.
func (a *Agent) PreambleUpdatedAt() time.Time {
	info, err := os.Stat(a.path)
	if err != nil {
		return a.snap.Load().builtAt
	}
	return info.ModTime()
}

// SetPreamble persists the new preamble and marks the agent dirty. The
// running snapshot keeps the old preamble until the next rebuild.
func (a *Agent) SetPreamble(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("preamble must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("create preamble dir: %w", err)
	}
	if err := os.WriteFile(a.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write preamble: %w", err)
	}
	a.MarkDirty()
	return nil
}

// MarkDirty schedules a rebuild before the next chat.
func (a *Agent) MarkDirty() { a.dirty.Store(true) }

// Dirty reports whether a rebuild is pending.
func (a *Agent) Dirty() bool { return a.dirty.Load() }

// Rebuilds returns how many rebuilds have completed.
func (a *Agent) Rebuilds() int64 { return a.rebuilds.Load() }

// Rebuild recompiles the snapshot: reload the preamble and probe the vector
// store. On failure the previous snapshot stays published and the dirty
// flag stays set.
func (a *Agent) Rebuild(ctx context.Context) error {
	a.rebuildMu.Lock()
	defer a.rebuildMu.Unlock()

	preamble, err := a.loadPreamble()
	if err != nil {
		a.dirty.Store(true)
		return err
	}
	count, err := a.store.Count(ctx)
	if err != nil {
		a.dirty.Store(true)
		return fmt.Errorf("probe vector store: %w", err)
	}

	a.snap.Store(&snapshot{preamble: preamble, builtAt: time.Now()})
	a.dirty.Store(false)
	a.rebuilds.Add(1)
	a.logger.Info("agent rebuilt", "chunks", count)
	return nil
}

// ensureFresh rebuilds when dirty. A failed rebuild is logged and the chat
// proceeds on the stale snapshot.
func (a *Agent) ensureFresh(ctx context.Context) {
	if !a.dirty.Load() {
		return
	}
	if err := a.Rebuild(ctx); err != nil {
		a.logger.Warn("rebuild failed, serving stale snapshot", "error", err)
	}
}

// Chat answers one user message with retrieved document context and the
// given prior history.
func (a *Agent) Chat(ctx context.Context, history []ai.Message, userMessage string) (string, error) {
	a.ensureFresh(ctx)

	messages, err := a.assemble(ctx, history, userMessage)
	if err != nil {
		return "", err
	}
	return a.provider.Chat(ctx, messages)
}

// StreamChat is Chat over a fragment channel. Upstream provider errors
// surface as one terminal "Error: {msg}" fragment; errCh only carries
// failures raised before the provider was called.
func (a *Agent) StreamChat(ctx context.Context, history []ai.Message, userMessage string) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error, 1)

	a.ensureFresh(ctx)

	messages, err := a.assemble(ctx, history, userMessage)
	if err != nil {
		errCh <- err
		close(out)
		close(errCh)
		return out, errCh
	}

	sp, ok := a.provider.(ai.StreamProvider)
	if !ok {
		go func() {
			defer close(out)
			defer close(errCh)
			reply, err := a.provider.Chat(ctx, messages)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case out <- reply:
			case <-ctx.Done():
			}
		}()
		return out, errCh
	}

	fragments, upstreamErrs := sp.StreamChat(ctx, messages)
	go func() {
		defer close(out)
		defer close(errCh)
		for fragments != nil || upstreamErrs != nil {
			select {
			case frag, ok := <-fragments:
				if !ok {
					fragments = nil
					continue
				}
				select {
				case out <- frag:
				case <-ctx.Done():
					return
				}
			case err, ok := <-upstreamErrs:
				if !ok {
					upstreamErrs = nil
					continue
				}
				if err == nil {
					continue
				}
				a.logger.Warn("stream interrupted", "error", err)
				select {
				case out <- "Error: " + err.Error():
				case <-ctx.Done():
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errCh
}

// assemble builds the completion request: preamble, retrieved excerpts,
// prior history, then the user message.
func (a *Agent) assemble(ctx context.Context, history []ai.Message, userMessage string) ([]ai.Message, error) {
	snap := a.snap.Load()

	scored, err := a.store.Search(ctx, userMessage, a.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	messages := make([]ai.Message, 0, len(history)+3)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: snap.preamble})

	if len(scored) > 0 {
		var b strings.Builder
		b.WriteString("Relevant document excerpts:\n")
		for _, sc := range scored {
			b.WriteString("\n---\nSource: ")
			b.WriteString(sc.Chunk.Source)
			b.WriteString("\n")
			b.WriteString(sc.Chunk.Content)
			b.WriteString("\n")
		}
		messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: b.String()})
	}

	messages = append(messages, history...)
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: userMessage})
	return messages, nil
}
