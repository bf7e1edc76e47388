package model

import (
	"slices"
	"time"
)

// Message is a direct or group chat message.
type Message struct {
	ID             string    `json:"id"`
	TempID         string    `json:"clientTempId,omitempty"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	RecipientID    string    `json:"recipientId,omitempty"`
	GroupID        string    `json:"groupId,omitempty"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
	ReadBy         []string  `json:"readBy,omitempty"`
	Pending        bool      `json:"-"`
}

// EntityID implements store.Entity.
func (m Message) EntityID() string { return m.ID }

// Clone implements store.Entity.
func (m Message) Clone() Message {
	out := m
	out.ReadBy = slices.Clone(m.ReadBy)
	return out
}

// ReadByUser reports whether user has read the message.
func (m Message) ReadByUser(user string) bool {
	return slices.Contains(m.ReadBy, user)
}

// MarkRead returns the message with user added to ReadBy.
func (m Message) MarkRead(user string) Message {
	if m.ReadByUser(user) {
		return m
	}
	out := m.Clone()
	out.ReadBy = append(out.ReadBy, user)
	return out
}

// Conversation is a message thread between two users or within a group.
type Conversation struct {
	ID              string    `json:"id"`
	Participants    []string  `json:"participants"`
	IsGroup         bool      `json:"isGroup,omitempty"`
	Name            string    `json:"name,omitempty"`
	LastMessageText string    `json:"lastMessageText,omitempty"`
	LastMessageAt   time.Time `json:"lastMessageAt,omitempty"`
	UnreadCount     int       `json:"unreadCount"`
}

// EntityID implements store.Entity.
func (c Conversation) EntityID() string { return c.ID }

// Clone implements store.Entity.
func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = slices.Clone(c.Participants)
	return out
}
