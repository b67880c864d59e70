package models

import "time"

// MessageType tells a human-written message from a generated one.
type MessageType string

const (
	MessageHuman MessageType = "human"
	MessageAI    MessageType = "ai"
)

// Chat links an owner with one of their pets.
type Chat struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	PetID         int64      `json:"pet_id"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// Message is a chat message. SenderID is nil for generated messages.
type Message struct {
	ID        int64       `json:"id"`
	ChatID    int64       `json:"chat_id"`
	SenderID  *int64      `json:"sender_id,omitempty"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}
