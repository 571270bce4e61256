package chat

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/suPer8Hu/knowledge-chat/internal/ai"
	"github.com/suPer8Hu/knowledge-chat/internal/common"
	"github.com/suPer8Hu/knowledge-chat/internal/log"
)

var ErrEmptyMessage = errors.New("message must not be empty")

// Responder answers one user message given prior history. Implemented by
// the agent; faked in tests.
type Responder interface {
	Chat(ctx context.Context, history []ai.Message, userMessage string) (string, error)
	StreamChat(ctx context.Context, history []ai.Message, userMessage string) (<-chan string, <-chan error)
}

// Service orchestrates one chat turn: resolve the user id, steer the reply
// language, call the agent, write the durable log, update the in-memory
// history and close the conversation on an end word.
type Service struct {
	agent   Responder
	history *History
	repo    *Repo
	logger  log.Logger
}

func NewService(agent Responder, history *History, repo *Repo, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{
		agent:   agent,
		history: history,
		repo:    repo,
		logger:  logger.With("component", "chat"),
	}
}

type ChatResult struct {
	Reply     string
	UserID    string
	Generated bool
}

// Chat answers synchronously. Agent failures degrade to an apology reply
// rather than an error so the client always gets an answer body.
func (s *Service) Chat(ctx context.Context, userID, message string) (*ChatResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	userID, generated, err := s.resolveUser(userID)
	if err != nil {
		return nil, err
	}

	hist := s.history.Snapshot(userID)
	reply, chatErr := s.agent.Chat(ctx, hist, steerLanguage(message))
	if chatErr != nil {
		s.logger.Error("chat failed", "user_id", userID, "error", chatErr)
		reply = "Sorry, I encountered an error: " + chatErr.Error()
	}

	s.finishTurn(ctx, userID, message, reply, chatErr == nil)
	return &ChatResult{Reply: reply, UserID: userID, Generated: generated}, nil
}

type StreamResult struct {
	UserID    string
	Generated bool
	Fragments <-chan string
}

// StreamChat answers over a fragment channel. Errors raised before the
// first fragment surface as a single "Error: {msg}" fragment; the agent
// converts mid-stream failures the same way.
func (s *Service) StreamChat(ctx context.Context, userID, message string) (*StreamResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	userID, generated, err := s.resolveUser(userID)
	if err != nil {
		return nil, err
	}

	hist := s.history.Snapshot(userID)
	fragments, errCh := s.agent.StreamChat(ctx, hist, steerLanguage(message))

	out := make(chan string)
	go func() {
		defer close(out)

		var reply strings.Builder
		failed := false
		cancelled := false

	loop:
		for fragments != nil || errCh != nil {
			select {
			case frag, ok := <-fragments:
				if !ok {
					fragments = nil
					continue
				}
				reply.WriteString(frag)
				select {
				case out <- frag:
				case <-ctx.Done():
					cancelled = true
					break loop
				}
			case err, ok := <-errCh:
				if !ok {
					errCh = nil
					continue
				}
				if err == nil {
					continue
				}
				s.logger.Error("stream chat failed", "user_id", userID, "error", err)
				failed = true
				msg := "Error: " + err.Error()
				reply.WriteString(msg)
				select {
				case out <- msg:
				case <-ctx.Done():
					cancelled = true
				}
				break loop
			case <-ctx.Done():
				cancelled = true
				break loop
			}
		}

		// A cancelled stream leaves no trace: partial output is discarded.
		if cancelled {
			return
		}

		if reply.Len() > 0 {
			s.finishTurn(context.WithoutCancel(ctx), userID, message, reply.String(), !failed)
		}
	}()

	return &StreamResult{UserID: userID, Generated: generated, Fragments: out}, nil
}

func (s *Service) resolveUser(userID string) (string, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID != "" {
		return userID, false, nil
	}
	id, err := common.NewULID()
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// finishTurn writes the durable log, updates in-memory history and closes
// the conversation when the user said goodbye. Every message reaches the
// durable log; meaningless ones and failed turns skip the history cache.
func (s *Service) finishTurn(ctx context.Context, userID, message, reply string, succeeded bool) {
	conv, err := s.repo.GetOrCreateActive(ctx, userID)
	if err != nil {
		s.logger.Warn("conversation lookup failed", "user_id", userID, "error", err)
	} else {
		if _, err := s.repo.AddMessage(ctx, conv.ID, ai.RoleUser, message); err != nil {
			s.logger.Warn("persist user message failed", "conversation_id", conv.ID, "error", err)
		}
		if _, err := s.repo.AddMessage(ctx, conv.ID, ai.RoleAssistant, reply); err != nil {
			s.logger.Warn("persist reply failed", "conversation_id", conv.ID, "error", err)
		}
	}

	if succeeded && !Meaningless(message) {
		s.history.Append(ctx, userID, message, reply)
	}

	if IsEndWord(message) {
		if err := s.repo.Close(ctx, userID); err != nil {
			s.logger.Warn("close conversation failed", "user_id", userID, "error", err)
		}
		s.history.Clear(userID)
	}
}

// UserHistory returns the durable messages of the user's most recent
// conversation, oldest first.
func (s *Service) UserHistory(ctx context.Context, userID string) ([]ConversationMessage, error) {
	convs, err := s.repo.UserConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return []ConversationMessage{}, nil
	}
	return s.repo.Messages(ctx, convs[0].ID)
}

var endWords = []string{
	"再见", "拜拜", "结束", "完成", "好了", "谢谢", "感谢", "没问题", "明白了", "搞定", "解决",
	"bye", "goodbye", "thanks", "thank you", "done", "finished", "completed", "perfect", "great",
}

// IsEndWord reports whether the message, stripped of trailing punctuation,
// is a conversation-closing phrase.
func IsEndWord(message string) bool {
	m := strings.ToLower(strings.TrimSpace(message))
	m = strings.TrimRightFunc(m, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	for _, w := range endWords {
		if m == w {
			return true
		}
	}
	return false
}

// steerLanguage appends a same-language instruction when the message is
// mostly non-CJK, so the model doesn't default to the document language.
func steerLanguage(message string) string {
	if cjkRatio(message) >= 0.3 {
		return message
	}
	return message + "\n\n(Please respond in the same language as my message.)"
}

func cjkRatio(s string) float64 {
	letters, cjk := 0, 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(cjk) / float64(letters)
}
