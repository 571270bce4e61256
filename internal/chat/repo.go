package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/knowledge-chat/internal/common"
)

// Repo is the gorm-backed conversation store.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// AutoMigrate creates the conversation tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Conversation{}, &ConversationMessage{})
}

// GetOrCreateActive returns the user's current active conversation,
// creating one when none exists.
func (r *Repo) GetOrCreateActive(ctx context.Context, userID string) (*Conversation, error) {
	var conv Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, StatusActive).
		Order("updated_at DESC").
		First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("query active conversation: %w", err)
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	conv = Conversation{
		ID:     id,
		UserID: userID,
		Status: StatusActive,
	}
	if err := r.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &conv, nil
}

// AddMessage appends one turn and bumps the conversation's updated_at in
// the same transaction.
func (r *Repo) AddMessage(ctx context.Context, conversationID, role, content string) (*ConversationMessage, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	msg := ConversationMessage{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&Conversation{}).
			Where("id = ?", conversationID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	return &msg, nil
}

// Messages returns a conversation's messages oldest first.
func (r *Repo) Messages(ctx context.Context, conversationID string) ([]ConversationMessage, error) {
	var msgs []ConversationMessage
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// UserConversations returns every conversation of one user, newest first.
func (r *Repo) UserConversations(ctx context.Context, userID string) ([]Conversation, error) {
	var convs []Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("list user conversations: %w", err)
	}
	return convs, nil
}

// List pages through all conversations, optionally filtering by user id or
// title substring.
func (r *Repo) List(ctx context.Context, limit, offset int, search string) ([]Conversation, int64, error) {
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	q := r.db.WithContext(ctx).Model(&Conversation{})
	if search != "" {
		like := "%" + search + "%"
		q = q.Where("user_id LIKE ? OR title LIKE ?", like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	var convs []Conversation
	err := q.Order("updated_at DESC").Limit(limit).Offset(offset).Find(&convs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	return convs, total, nil
}

// Get returns one conversation or gorm.ErrRecordNotFound.
func (r *Repo) Get(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := r.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// Update changes status and/or title. Empty fields are left untouched.
func (r *Repo) Update(ctx context.Context, id, status, title string) (*Conversation, error) {
	updates := map[string]any{"updated_at": time.Now()}
	if status != "" {
		if status != StatusActive && status != StatusClosed && status != StatusEscalated {
			return nil, fmt.Errorf("invalid status %q", status)
		}
		updates["status"] = status
	}
	if title != "" {
		updates["title"] = title
	}

	res := r.db.WithContext(ctx).Model(&Conversation{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("update conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.Get(ctx, id)
}

// Delete removes a conversation and its messages transactionally.
func (r *Repo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&ConversationMessage{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// Close marks the user's active conversations closed.
func (r *Repo) Close(ctx context.Context, userID string) error {
	err := r.db.WithContext(ctx).Model(&Conversation{}).
		Where("user_id = ? AND status = ?", userID, StatusActive).
		Updates(map[string]any{"status": StatusClosed, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("close conversation: %w", err)
	}
	return nil
}

// CloseIdle closes active conversations with no activity for the given
// duration and returns how many were closed.
func (r *Repo) CloseIdle(ctx context.Context, idle time.Duration) (int64, error) {
	cutoff := time.Now().Add(-idle)
	res := r.db.WithContext(ctx).Model(&Conversation{}).
		Where("status = ? AND updated_at < ?", StatusActive, cutoff).
		Updates(map[string]any{"status": StatusClosed, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, fmt.Errorf("close idle conversations: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Stats summarizes the conversation log.
type Stats struct {
	Total         int64 `json:"total"`
	Active        int64 `json:"active"`
	Closed        int64 `json:"closed"`
	Escalated     int64 `json:"escalated"`
	TotalMessages int64 `json:"total_messages"`
	Today         int64 `json:"today"`
}

func (r *Repo) Stats(ctx context.Context) (*Stats, error) {
	db := r.db.WithContext(ctx)
	var s Stats

	if err := db.Model(&Conversation{}).Count(&s.Total).Error; err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	for status, dst := range map[string]*int64{
		StatusActive:    &s.Active,
		StatusClosed:    &s.Closed,
		StatusEscalated: &s.Escalated,
	} {
		if err := db.Model(&Conversation{}).Where("status = ?", status).Count(dst).Error; err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}
	if err := db.Model(&ConversationMessage{}).Count(&s.TotalMessages).Error; err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	startOfDay := time.Now().Truncate(24 * time.Hour)
	if err := db.Model(&Conversation{}).Where("created_at >= ?", startOfDay).Count(&s.Today).Error; err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &s, nil
}
