// ABOUTME: Store interface and data types for the transcript turn index
// ABOUTME: Defines Turn and Conversation records and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested conversation has no turns
var ErrNotFound = errors.New("not found")

// Turn is one logged prompt/response exchange within a conversation.
type Turn struct {
	ConversationID string
	Index          int
	PromptBytes    int
	ResponseBytes  int
	CreatedAt      time.Time
}

// Conversation summarizes the turns recorded for one conversation id.
type Conversation struct {
	ID        string
	Turns     int
	FirstTurn time.Time
	LastTurn  time.Time
}

// Store numbers transcript turns so indices stay unique across restarts.
type Store interface {
	// RecordTurn appends a turn to the conversation and returns its index.
	// The first turn of a conversation has index 0.
	RecordTurn(ctx context.Context, conversationID string, promptBytes, responseBytes int) (int, error)

	// ListTurns returns the turns of a conversation in index order.
	ListTurns(ctx context.Context, conversationID string) ([]*Turn, error)

	// GetConversation summarizes a conversation, or returns ErrNotFound.
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)

	// ListConversations returns the most recently active conversations first.
	// A limit of zero or less returns all of them.
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)

	Close() error
}
