// Package relay brokers commands between callers and execution clients.
//
// # Overview
//
// Execution clients are scripts running inside a live browser page. Callers
// are short-lived connections that need one command carried out by a page.
// Both speak JSON over WebSocket to the same endpoint, and the relay tells
// them apart by the first message on each connection:
//
//   - {"type":"sender", ...}: the connection is a caller
//   - anything else: the connection is an execution client and joins the
//     broadcast set; that first message is then handled like any other
//     execution client message
//
// # Request/Response Correlation
//
// For each caller command the relay:
//
//  1. Rejects it with {"success":false,"error":"No clients connected"} when
//     the broadcast set is empty (no pending entry is created)
//  2. Registers a pending entry keyed by request_id
//  3. Sends {"command","params","request_id"} (or {"code","request_id"} on
//     the legacy path) to every execution client, pruning failed sends
//  4. Forwards the first execution client message carrying that request_id
//     to the caller verbatim and deletes the entry
//
// Later replies for an answered request_id are dropped and logged as
// duplicates. Replies for ids that were never pending are logged and dropped.
//
// # Routing Policy
//
// With routing "broadcast" every execution client receives every command.
// With routing "exclusive" a command is rejected unless exactly one execution
// client is connected.
//
// # Deadlines
//
// RequestTimeout bounds how long a pending entry lives. When it fires the
// caller receives {"success":false,"error":"request timed out"}. A caller
// that disconnects takes its pending entries with it.
//
// # Proxy
//
// Proxy is a dumb pass-through for pages that can only reach a different
// host or port: every accepted connection is paired with a fresh upstream
// connection to the relay and frames are copied both ways.
//
// # Thread Safety
//
// Each connection has one reader goroutine and serialized writes. The
// broadcast set and pending table are guarded by a single mutex.
package relay
