package store

import "time"

// Conversation roles.
const (
	RoleHuman  = "human"
	RoleAI     = "ai"
	RoleSystem = "system"
)

// Message is one recorded line of a chat conversation.
type Message struct {
	ID        int64     `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscription is a chat receiving the scheduled issues digest.
type Subscription struct {
	ChatID string    `json:"chat_id"`
	Since  time.Time `json:"since"`
}
