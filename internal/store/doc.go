// Package store keeps the transcript turn index in SQLite.
//
// # Architecture
//
// The transcript writer names its files <conversation>/<index>_*.md. The
// index has to stay unique for a conversation even when the gateway
// restarts, so every logged turn is recorded here first and the assigned
// index is used for the file names.
//
//   - Store: the interface the transcript writer depends on
//   - SQLiteStore: the durable implementation (modernc.org/sqlite, no cgo)
//   - MockStore: an in-memory implementation for tests and for runs without
//     a database path
//
// # Schema
//
//	turns(conversation_id, turn_index, prompt_bytes, response_bytes, created_at)
//	PRIMARY KEY (conversation_id, turn_index)
//
// RecordTurn computes MAX(turn_index)+1 inside the INSERT statement, so two
// concurrent writers for the same conversation cannot receive the same index.
// Timestamps are stored as RFC 3339 text in UTC.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("./data/transcripts.db")
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	idx, err := s.RecordTurn(ctx, "conv-1", len(prompt), len(response))
package store
