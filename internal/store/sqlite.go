// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Keeps the turns table with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// timeLayout has a fixed width so MIN/MAX over created_at sort correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != MemoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// busy_timeout is per connection, so it goes in the DSN where every
	// pooled connection picks it up.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == MemoryPath {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS turns (
			conversation_id TEXT NOT NULL,
			turn_index      INTEGER NOT NULL,
			prompt_bytes    INTEGER NOT NULL DEFAULT 0,
			response_bytes  INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			PRIMARY KEY (conversation_id, turn_index)
		);

		CREATE INDEX IF NOT EXISTS idx_turns_created
			ON turns(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordTurn assigns the next index inside a single INSERT so concurrent
// writers for the same conversation never collide.
func (s *SQLiteStore) RecordTurn(ctx context.Context, conversationID string, promptBytes, responseBytes int) (int, error) {
	query := `
		INSERT INTO turns (conversation_id, turn_index, prompt_bytes, response_bytes, created_at)
		SELECT ?, COALESCE(MAX(turn_index) + 1, 0), ?, ?, ?
		FROM turns WHERE conversation_id = ?
		RETURNING turn_index
	`

	var index int
	err := s.db.QueryRowContext(ctx, query,
		conversationID,
		promptBytes,
		responseBytes,
		time.Now().UTC().Format(timeLayout),
		conversationID,
	).Scan(&index)
	if err != nil {
		return 0, fmt.Errorf("recording turn: %w", err)
	}

	return index, nil
}

// ListTurns returns the turns of a conversation in index order.
func (s *SQLiteStore) ListTurns(ctx context.Context, conversationID string) ([]*Turn, error) {
	query := `
		SELECT conversation_id, turn_index, prompt_bytes, response_bytes, created_at
		FROM turns
		WHERE conversation_id = ?
		ORDER BY turn_index ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.ConversationID, &t.Index, &t.PromptBytes, &t.ResponseBytes, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		turns = append(turns, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}

	return turns, nil
}

// GetConversation summarizes a conversation, or returns ErrNotFound.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	query := `
		SELECT conversation_id, COUNT(*), MIN(created_at), MAX(created_at)
		FROM turns
		WHERE conversation_id = ?
		GROUP BY conversation_id
	`

	var first, last string
	c := &Conversation{}
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(&c.ID, &c.Turns, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	if err := c.setTimes(first, last); err != nil {
		return nil, err
	}
	return c, nil
}

// ListConversations returns the most recently active conversations first.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	query := `
		SELECT conversation_id, COUNT(*), MIN(created_at), MAX(created_at) AS last_turn
		FROM turns
		GROUP BY conversation_id
		ORDER BY last_turn DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var first, last string
		c := &Conversation{}
		if err := rows.Scan(&c.ID, &c.Turns, &first, &last); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		if err := c.setTimes(first, last); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}

	return convs, nil
}

func (c *Conversation) setTimes(first, last string) error {
	var err error
	if c.FirstTurn, err = time.Parse(timeLayout, first); err != nil {
		return fmt.Errorf("parsing first turn time: %w", err)
	}
	if c.LastTurn, err = time.Parse(timeLayout, last); err != nil {
		return fmt.Errorf("parsing last turn time: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
