package chat

import "time"

const (
	StatusActive    = "active"
	StatusClosed    = "closed"
	StatusEscalated = "escalated"
)

// Conversation is the durable record of one user session.
type Conversation struct {
	ID        string    `gorm:"primaryKey;size:32" json:"id"`
	UserID    string    `gorm:"index;size:64;not null" json:"user_id"`
	Status    string    `gorm:"size:16;not null;default:active" json:"status"`
	Title     string    `gorm:"size:255" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

// ConversationMessage is one durable turn. Every message is written through
// here even when the in-memory history skips it.
type ConversationMessage struct {
	ID             string    `gorm:"primaryKey;size:32" json:"id"`
	ConversationID string    `gorm:"index;size:32;not null" json:"conversation_id"`
	Role           string    `gorm:"size:16;not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

func (ConversationMessage) TableName() string { return "conversation_messages" }
