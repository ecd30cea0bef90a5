// ABOUTME: In-memory Store implementation for tests and database-less runs
// ABOUTME: Numbering restarts from zero whenever the process restarts

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation.
type MockStore struct {
	mu    sync.RWMutex
	turns map[string][]*Turn // keyed by conversation ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		turns: make(map[string][]*Turn),
	}
}

// RecordTurn appends a turn and returns its index.
func (m *MockStore) RecordTurn(ctx context.Context, conversationID string, promptBytes, responseBytes int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := len(m.turns[conversationID])
	m.turns[conversationID] = append(m.turns[conversationID], &Turn{
		ConversationID: conversationID,
		Index:          index,
		PromptBytes:    promptBytes,
		ResponseBytes:  responseBytes,
		CreatedAt:      time.Now().UTC(),
	})
	return index, nil
}

// ListTurns returns copies of the conversation's turns in index order.
func (m *MockStore) ListTurns(ctx context.Context, conversationID string) ([]*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Turn
	for _, t := range m.turns[conversationID] {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

// GetConversation summarizes a conversation, or returns ErrNotFound.
func (m *MockStore) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.turns[conversationID]
	if len(turns) == 0 {
		return nil, ErrNotFound
	}
	return summarize(conversationID, turns), nil
}

// ListConversations returns the most recently active conversations first.
func (m *MockStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Conversation, 0, len(m.turns))
	for id, turns := range m.turns {
		out = append(out, summarize(id, turns))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastTurn.After(out[j].LastTurn)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

func summarize(id string, turns []*Turn) *Conversation {
	return &Conversation{
		ID:        id,
		Turns:     len(turns),
		FirstTurn: turns[0].CreatedAt,
		LastTurn:  turns[len(turns)-1].CreatedAt,
	}
}

var _ Store = (*MockStore)(nil)
