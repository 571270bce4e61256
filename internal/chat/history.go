package chat

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/suPer8Hu/knowledge-chat/internal/ai"
	"github.com/suPer8Hu/knowledge-chat/internal/log"
)

// SummaryPrefix marks the synthetic user turn that replaces a compressed
// history.
const SummaryPrefix = "[History Summary] "

// idleTTL is how long a user's in-memory history survives without activity.
const idleTTL = 30 * time.Minute

// SummarizeFunc condenses prior turns into one short summary.
type SummarizeFunc func(ctx context.Context, messages []ai.Message) (string, error)

// ProviderSummarizer summarizes history through the completion provider.
func ProviderSummarizer(provider ai.Provider, prompt string) SummarizeFunc {
	return func(ctx context.Context, messages []ai.Message) (string, error) {
		var b strings.Builder
		for _, m := range messages {
			b.WriteString(m.Role)
			b.WriteString(": ")
			b.WriteString(m.Content)
			b.WriteByte('\n')
		}
		return provider.Chat(ctx, []ai.Message{
			{Role: ai.RoleSystem, Content: prompt},
			{Role: ai.RoleUser, Content: b.String()},
		})
	}
}

type HistoryOptions struct {
	MaxHistory        int
	CompressThreshold int
	SummaryEnabled    bool
	Summarize         SummarizeFunc
	Logger            log.Logger
}

// History is the process-wide per-user short-term memory. Entries expire
// after 30 minutes idle; a janitor goroutine sweeps them out.
type History struct {
	mu      sync.RWMutex
	entries map[string]*userHistory

	maxHistory        int
	compressThreshold int
	summaryEnabled    bool
	summarize         SummarizeFunc
	logger            log.Logger
}

type userHistory struct {
	mu       sync.Mutex
	messages []ai.Message
	lastSeen time.Time
}

func NewHistory(opts HistoryOptions) *History {
	if opts.MaxHistory < 1 {
		opts.MaxHistory = 10
	}
	if opts.CompressThreshold < 1 {
		opts.CompressThreshold = 5
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	return &History{
		entries:           make(map[string]*userHistory),
		maxHistory:        opts.MaxHistory,
		compressThreshold: opts.CompressThreshold,
		summaryEnabled:    opts.SummaryEnabled,
		summarize:         opts.Summarize,
		logger:            opts.Logger.With("component", "history"),
	}
}

// StartJanitor sweeps expired entries until ctx is cancelled.
func (h *History) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.sweep(time.Now())
			}
		}
	}()
}

func (h *History) sweep(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, entry := range h.entries {
		entry.mu.Lock()
		expired := now.Sub(entry.lastSeen) > idleTTL
		entry.mu.Unlock()
		if expired {
			delete(h.entries, userID)
		}
	}
}

func (h *History) entry(userID string) *userHistory {
	h.mu.RLock()
	e := h.entries[userID]
	h.mu.RUnlock()
	if e != nil {
		return e
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if e = h.entries[userID]; e == nil {
		e = &userHistory{lastSeen: time.Now()}
		h.entries[userID] = e
	}
	return e
}

// Snapshot returns a copy of the user's current history.
func (h *History) Snapshot(userID string) []ai.Message {
	e := h.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSeen = time.Now()
	out := make([]ai.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// Append records one completed turn and compresses or truncates as needed.
func (h *History) Append(ctx context.Context, userID, userMessage, assistantMessage string) {
	e := h.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastSeen = time.Now()
	e.messages = append(e.messages,
		ai.Message{Role: ai.RoleUser, Content: userMessage},
		ai.Message{Role: ai.RoleAssistant, Content: assistantMessage},
	)

	if h.summaryEnabled && h.summarize != nil && len(e.messages) > h.compressThreshold {
		if !h.compress(ctx, e) {
			e.messages = e.messages[len(e.messages)-h.compressThreshold:]
		}
		return
	}
	if len(e.messages) > h.maxHistory {
		e.messages = e.messages[len(e.messages)-h.maxHistory:]
	}
}

// compress replaces the entire history with one synthetic user turn holding
// the summary. Returns false when summarization failed; the caller then
// head-truncates to the compression threshold instead.
func (h *History) compress(ctx context.Context, e *userHistory) bool {
	summary, err := h.summarize(ctx, e.messages)
	if err != nil || strings.TrimSpace(summary) == "" {
		h.logger.Warn("history summarization failed, truncating", "error", err)
		return false
	}

	e.messages = []ai.Message{{
		Role:    ai.RoleUser,
		Content: SummaryPrefix + strings.TrimSpace(summary),
	}}
	return true
}

// Clear drops the user's in-memory history.
func (h *History) Clear(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, userID)
}

// Meaningless reports whether a message carries no conversational content:
// blank, a single character, or punctuation only. Such messages skip the
// in-memory history but are still written to the durable log.
func Meaningless(message string) bool {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return true
	}
	runes := []rune(trimmed)
	if len(runes) < 2 {
		return true
	}
	for _, r := range runes {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
