package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/suPer8Hu/knowledge-chat/internal/ai"
)

type fakeResponder struct {
	reply       string
	err         error
	fragments   []string
	streamErr   error
	lastHistory []ai.Message
	lastMessage string
}

func (f *fakeResponder) Chat(_ context.Context, history []ai.Message, userMessage string) (string, error) {
	f.lastHistory = append([]ai.Message(nil), history...)
	f.lastMessage = userMessage
	if f.err != nil {
		return "", f.err
	}
	if f.reply == "" {
		return "ok", nil
	}
	return f.reply, nil
}

func (f *fakeResponder) StreamChat(_ context.Context, history []ai.Message, userMessage string) (<-chan string, <-chan error) {
	f.lastHistory = append([]ai.Message(nil), history...)
	f.lastMessage = userMessage

	out := make(chan string, len(f.fragments))
	errCh := make(chan error, 1)
	for _, frag := range f.fragments {
		out <- frag
	}
	if f.streamErr != nil {
		errCh <- f.streamErr
	}
	close(out)
	close(errCh)
	return out, errCh
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, responder Responder) (*Service, *Repo, *History) {
	t.Helper()
	repo := NewRepo(openTestDB(t))
	history := NewHistory(HistoryOptions{MaxHistory: 10, CompressThreshold: 9})
	return NewService(responder, history, repo, nil), repo, history
}

func TestChat_PersistsBothMessages(t *testing.T) {
	resp := &fakeResponder{reply: "the answer"}
	svc, repo, _ := newTestService(t, resp)

	result, err := svc.Chat(context.Background(), "user-1", "what is it?")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if result.Reply != "the answer" {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}
	if result.UserID != "user-1" || result.Generated {
		t.Fatalf("user id should pass through unchanged: %+v", result)
	}

	convs, err := repo.UserConversations(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].Status != StatusActive {
		t.Fatalf("expected one active conversation, got %+v", convs)
	}

	msgs, err := repo.Messages(context.Background(), convs[0].ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != ai.RoleUser || msgs[0].Content != "what is it?" {
		t.Fatalf("unexpected user row: %+v", msgs[0])
	}
	if msgs[1].Role != ai.RoleAssistant || msgs[1].Content != "the answer" {
		t.Fatalf("unexpected assistant row: %+v", msgs[1])
	}
}

func TestChat_GeneratesUserID(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeResponder{})

	result, err := svc.Chat(context.Background(), "", "hello there")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !result.Generated || result.UserID == "" {
		t.Fatalf("expected a generated user id, got %+v", result)
	}
	if len(result.UserID) != 26 {
		t.Fatalf("expected a ULID, got %q", result.UserID)
	}
}

func TestChat_EmptyMessageRejected(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeResponder{})
	if _, err := svc.Chat(context.Background(), "u", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestChat_ErrorBecomesApology(t *testing.T) {
	resp := &fakeResponder{err: errors.New("model exploded")}
	svc, repo, history := newTestService(t, resp)

	result, err := svc.Chat(context.Background(), "u1", "hello there")
	if err != nil {
		t.Fatalf("chat must not fail on agent errors: %v", err)
	}
	want := "Sorry, I encountered an error: model exploded"
	if result.Reply != want {
		t.Fatalf("reply = %q, want %q", result.Reply, want)
	}

	// the apology still reaches the durable log
	convs, _ := repo.UserConversations(context.Background(), "u1")
	if len(convs) != 1 {
		t.Fatalf("expected conversation row, got %d", len(convs))
	}
	msgs, _ := repo.Messages(context.Background(), convs[0].ID)
	if len(msgs) != 2 || msgs[1].Content != want {
		t.Fatalf("apology not persisted: %+v", msgs)
	}

	// but a failed turn never enters the in-memory history
	if len(history.Snapshot("u1")) != 0 {
		t.Fatal("failed turn must not enter history")
	}
}

func TestChat_EndWordClosesConversation(t *testing.T) {
	svc, repo, history := newTestService(t, &fakeResponder{})

	if _, err := svc.Chat(context.Background(), "u1", "hello there"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(history.Snapshot("u1")) != 2 {
		t.Fatal("expected history after first turn")
	}

	if _, err := svc.Chat(context.Background(), "u1", "thanks!"); err != nil {
		t.Fatalf("chat: %v", err)
	}

	convs, _ := repo.UserConversations(context.Background(), "u1")
	if len(convs) != 1 || convs[0].Status != StatusClosed {
		t.Fatalf("expected closed conversation, got %+v", convs)
	}
	if len(history.Snapshot("u1")) != 0 {
		t.Fatal("end word must clear the in-memory history")
	}
}

func TestChat_MeaninglessSkipsHistoryButPersists(t *testing.T) {
	svc, repo, history := newTestService(t, &fakeResponder{})

	if _, err := svc.Chat(context.Background(), "u1", "???"); err != nil {
		t.Fatalf("chat: %v", err)
	}

	if len(history.Snapshot("u1")) != 0 {
		t.Fatal("meaningless message must not enter history")
	}

	convs, _ := repo.UserConversations(context.Background(), "u1")
	if len(convs) != 1 {
		t.Fatalf("expected conversation row, got %d", len(convs))
	}
	msgs, _ := repo.Messages(context.Background(), convs[0].ID)
	if len(msgs) != 2 {
		t.Fatalf("meaningless turn must still hit the durable log, got %d rows", len(msgs))
	}
}

func TestChat_LanguageSteering(t *testing.T) {
	resp := &fakeResponder{}
	svc, _, _ := newTestService(t, resp)

	if _, err := svc.Chat(context.Background(), "u1", "hello in english"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(resp.lastMessage, "hello in english") ||
		!strings.Contains(resp.lastMessage, "same language") {
		t.Fatalf("expected steering instruction for non-CJK input, got %q", resp.lastMessage)
	}

	if _, err := svc.Chat(context.Background(), "u1", "请介绍一下这个产品"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.lastMessage != "请介绍一下这个产品" {
		t.Fatalf("CJK input must pass through unchanged, got %q", resp.lastMessage)
	}
}

func TestChat_HistoryFlowsToResponder(t *testing.T) {
	resp := &fakeResponder{}
	svc, _, _ := newTestService(t, resp)

	if _, err := svc.Chat(context.Background(), "u1", "first question"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if _, err := svc.Chat(context.Background(), "u1", "second question"); err != nil {
		t.Fatalf("chat: %v", err)
	}

	if len(resp.lastHistory) != 2 {
		t.Fatalf("expected prior turn in history, got %d messages", len(resp.lastHistory))
	}
	if resp.lastHistory[0].Content != "first question" {
		t.Fatalf("unexpected history: %+v", resp.lastHistory)
	}
}

func TestStreamChat_ForwardsFragmentsAndPersists(t *testing.T) {
	resp := &fakeResponder{fragments: []string{"Hello", ", ", "world"}}
	svc, repo, _ := newTestService(t, resp)

	result, err := svc.StreamChat(context.Background(), "", "greet me please")
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}
	if !result.Generated || result.UserID == "" {
		t.Fatalf("expected generated user id, got %+v", result)
	}

	var got []string
	for f := range result.Fragments {
		got = append(got, f)
	}
	if strings.Join(got, "") != "Hello, world" {
		t.Fatalf("unexpected fragments: %v", got)
	}

	convs, _ := repo.UserConversations(context.Background(), result.UserID)
	if len(convs) != 1 {
		t.Fatalf("expected conversation row, got %d", len(convs))
	}
	msgs, _ := repo.Messages(context.Background(), convs[0].ID)
	if len(msgs) != 2 || msgs[1].Content != "Hello, world" {
		t.Fatalf("assembled reply not persisted: %+v", msgs)
	}
}

func TestStreamChat_ErrorBecomesFragment(t *testing.T) {
	resp := &fakeResponder{streamErr: errors.New("connection reset")}
	svc, _, history := newTestService(t, resp)

	result, err := svc.StreamChat(context.Background(), "u1", "hello there")
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}

	var got []string
	for f := range result.Fragments {
		got = append(got, f)
	}
	if len(got) == 0 {
		t.Fatal("expected an error fragment")
	}
	last := got[len(got)-1]
	if !strings.HasPrefix(last, "Error: ") {
		t.Fatalf("expected terminal error fragment, got %q", last)
	}
	if len(history.Snapshot("u1")) != 0 {
		t.Fatal("failed stream must not enter history")
	}
}

// hangingStreamResponder emits one fragment and then blocks until the
// context is cancelled.
type hangingStreamResponder struct{}

func (hangingStreamResponder) Chat(context.Context, []ai.Message, string) (string, error) {
	return "ok", nil
}

func (hangingStreamResponder) StreamChat(ctx context.Context, _ []ai.Message, _ string) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error)
	go func() {
		defer close(out)
		defer close(errCh)
		select {
		case out <- "partial ":
		case <-ctx.Done():
			return
		}
		<-ctx.Done()
	}()
	return out, errCh
}

func TestStreamChat_CancelledStreamWritesNothing(t *testing.T) {
	svc, repo, history := newTestService(t, hangingStreamResponder{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := svc.StreamChat(ctx, "u1", "hello there")
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}

	frag, ok := <-result.Fragments
	if !ok || frag != "partial " {
		t.Fatalf("expected the first fragment, got %q (ok=%v)", frag, ok)
	}
	cancel()

	// the channel closes once the stream goroutine has wound down
	for range result.Fragments {
	}

	convs, err := repo.UserConversations(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(convs) != 0 {
		t.Fatalf("cancelled stream must leave no durable rows, got %+v", convs)
	}
	if len(history.Snapshot("u1")) != 0 {
		t.Fatal("cancelled stream must not enter history")
	}
}

func TestRepo_CloseIdle(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	conv, err := repo.GetOrCreateActive(ctx, "idler")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	// age the conversation past the idle window
	if err := repo.db.Model(&Conversation{}).Where("id = ?", conv.ID).
		Update("updated_at", time.Now().Add(-25*time.Hour)).Error; err != nil {
		t.Fatalf("age conversation: %v", err)
	}

	fresh, err := repo.GetOrCreateActive(ctx, "busy")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	closed, err := repo.CloseIdle(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("close idle: %v", err)
	}
	if closed != 1 {
		t.Fatalf("expected 1 closed conversation, got %d", closed)
	}

	got, err := repo.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusClosed {
		t.Fatalf("idle conversation not closed: %+v", got)
	}
	still, _ := repo.Get(ctx, fresh.ID)
	if still.Status != StatusActive {
		t.Fatalf("fresh conversation wrongly closed: %+v", still)
	}
}

func TestRepo_Stats(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	conv, err := repo.GetOrCreateActive(ctx, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.AddMessage(ctx, conv.ID, ai.RoleUser, "hi"); err != nil {
		t.Fatalf("add message: %v", err)
	}
	if err := repo.Close(ctx, "u1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := repo.GetOrCreateActive(ctx, "u2"); err != nil {
		t.Fatalf("create: %v", err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Active != 1 || stats.Closed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.TotalMessages != 1 {
		t.Fatalf("total messages = %d, want 1", stats.TotalMessages)
	}
	if stats.Today != 2 {
		t.Fatalf("today = %d, want 2", stats.Today)
	}
}

func TestIsEndWord(t *testing.T) {
	yes := []string{"bye", "Bye", "BYE!", "thanks", "thank you", "再见", "谢谢", "done", "goodbye!!"}
	for _, m := range yes {
		if !IsEndWord(m) {
			t.Fatalf("expected %q to close the conversation", m)
		}
	}
	no := []string{"goodbye cruel world", "thanks for nothing, now explain more", "not done yet", "hello"}
	for _, m := range no {
		if IsEndWord(m) {
			t.Fatalf("%q must not close the conversation", m)
		}
	}
}
