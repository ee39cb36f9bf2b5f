// Package chat owns conversation state and the per-conversation orchestrator
// that drives one assistant response cycle per user turn.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// AssetKind records how a message's attached asset came to be.
type AssetKind string

const (
	AssetUploaded  AssetKind = "uploaded"
	AssetGenerated AssetKind = "generated"
	AssetEdited    AssetKind = "edited"
)

// Asset references an image attached to a message. The bytes live wherever
// the referencing URL points; the conversation stores only the reference.
type Asset struct {
	Kind AssetKind `json:"kind"`
	URL  string    `json:"url"`
}

// Message is one entry in a conversation. Messages are immutable once a
// later message is appended, except the in-progress assistant message, which
// grows in place until its stream terminates.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Asset     *Asset    `json:"asset,omitempty"`
	// ImageOp marks the message as the result of an image operation.
	ImageOp bool `json:"image_op,omitempty"`
}

// Conversation is an ordered message sequence. Insertion order is
// conversation order; messages are never reordered.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        uuid.New().String(),
		Title:     "New conversation",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// newMessage builds a message with a fresh ID and timestamp.
func newMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// snapshot returns a deep-enough copy for publication: observers may hold it
// across further orchestrator mutations.
func (c *Conversation) snapshot() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// titleFrom derives a conversation title from the first user turn.
func titleFrom(text string) string {
	const max = 50
	runes := []rune(text)
	if len(runes) > max {
		return string(runes[:max])
	}
	return text
}

// Store persists conversations. Implementations live in the sqlite and
// postgres subpackages; memory.go carries an in-process one.
type Store interface {
	Save(ctx context.Context, conv *Conversation) error
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]*Conversation, error)
	CurrentID(ctx context.Context) (string, error)
	SetCurrentID(ctx context.Context, id string) error
}
