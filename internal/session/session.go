// ABOUTME: Per-dialogue session state: remote conversation id, step counter, terminal flag.
// ABOUTME: Sessions live in an expiring LRU keyed by caller id or a history hash.

package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Session is the state of one logical dialogue.
//
// Acquire/Release serialize whole requests on the session. The accessors are
// individually safe for concurrent use.
type Session struct {
	Key string

	turn chan struct{}

	mu             sync.Mutex
	conversationID string
	steps          int
	terminal       bool
}

func newSession(key string) *Session {
	return &Session{Key: key, turn: make(chan struct{}, 1)}
}

// New returns a standalone session that is not tracked by any Store.
func New(key string) *Session {
	return newSession(key)
}

// Acquire blocks until the caller owns the session or ctx is done.
func (s *Session) Acquire(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release gives up ownership taken by Acquire.
func (s *Session) Release() {
	<-s.turn
}

// ConversationID returns the cached remote conversation id, "" in state NEW.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// SetConversationID caches the remote conversation id.
func (s *Session) SetConversationID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = id
}

// Steps returns the number of round trips taken in the current conversation.
func (s *Session) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// IncrementSteps records one round trip and returns the new count.
func (s *Session) IncrementSteps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps++
	return s.steps
}

// BeginTurn starts a new user turn: the session leaves TERMINAL. The
// conversation id and the step counter are kept; only Reset restarts them.
func (s *Session) BeginTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal = false
}

// Terminal reports whether the dialogue reached a final answer or the step limit.
func (s *Session) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// MarkTerminal moves the session to TERMINAL.
func (s *Session) MarkTerminal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal = true
}

// Reset discards the conversation and returns the session to NEW.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = ""
	s.steps = 0
	s.terminal = false
}

// Store holds sessions in a size-bounded LRU whose entries expire after ttl.
type Store struct {
	mu     sync.Mutex
	cache  *expirable.LRU[string, *Session]
	logger *slog.Logger
}

// NewStore creates a Store holding at most size sessions.
func NewStore(size int, ttl time.Duration, logger *slog.Logger) *Store {
	s := &Store{logger: logger}
	s.cache = expirable.NewLRU[string, *Session](size, s.onEvict, ttl)
	return s
}

func (s *Store) onEvict(key string, sess *Session) {
	s.logger.Debug("session evicted", "session", key, "conversation_id", sess.ConversationID())
}

// Get returns the session for key, creating it when absent.
func (s *Store) Get(key string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.cache.Get(key); ok {
		return sess
	}
	sess := newSession(key)
	s.cache.Add(key, sess)
	return sess
}

// Remove drops the session for key.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.cache.Len()
}

// KeyFor derives the session key for a request. An explicit id supplied by
// the caller wins; otherwise the dialogue is identified by hashing the model
// with its opening system and user messages, which stay fixed as the
// history grows.
func KeyFor(explicit, model, firstSystem, firstUser string) string {
	if explicit != "" {
		return "id:" + explicit
	}
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(firstSystem))
	h.Write([]byte{0})
	h.Write([]byte(firstUser))
	return "h:" + hex.EncodeToString(h.Sum(nil))
}
