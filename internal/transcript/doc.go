// Package transcript writes a best-effort audit log of the agent engine's
// round trips to disk.
//
// Layout under the base directory:
//
//	<conversation_id>/<index>_system.md
//	<conversation_id>/<index>_prompt.md
//	<conversation_id>/<index>_response.md
//	raw_dumps/system_<unix>.md
//	raw_dumps/user_<unix>.md
//
// Turn indices come from a store.Store, so numbering continues after a
// restart when the SQLite store is used. Writes happen on one worker
// goroutine fed by an unbounded queue; LogTurn and DumpRaw never block and
// never fail. Close drains the queue.
package transcript
