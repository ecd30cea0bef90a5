// Package gateway runs the wormhole-gateway servers.
//
// A gateway process can run three components, selected by Options:
//
//   - the relay, a WebSocket broker that execution clients (browser pages)
//     and callers connect to, plus GET /health;
//   - the API, an OpenAI-compatible HTTP surface backed by the agent engine;
//   - the proxy, a pass-through WebSocket forwarder to a remote relay.
//
// # API endpoints
//
//	GET  /v1/models              static model catalog
//	POST /v1/chat/completions    chat completion, JSON or SSE
//	POST /chat/completions       same, for clients without the /v1 prefix
//	POST /api/show               Ollama model description stub
//	GET  /api/version            {"version":"1.0.0"}
//	GET  /api/transcripts        recent transcript conversations
//	GET  /api/transcripts/{id}   turns of one conversation
//	GET  /health                 liveness
//	GET  /health/ready           503 until an execution client is connected
//
// The transcript endpoints exist only when transcripts are enabled, and
// metrics are served at metrics.path when metrics are enabled.
//
// # Streaming
//
// A streamed completion writes its role chunk before the engine runs. An
// engine failure after that point is sent as a data event carrying an
// OpenAI error envelope, followed by data: [DONE].
//
// # Sessions
//
// Requests are grouped into dialogues by the X-Session-ID header, then the
// request's user field, then a hash of the model and the opening system and
// user messages. A dialogue's requests run one at a time.
//
// # Listeners
//
// Without Tailscale every component listens on its configured TCP address.
// With Tailscale the gateway joins the tailnet through tsnet and listens on
// the ports of those addresses; the API uses :80, or :443 with Tailscale
// certificates when tailscale.https is set. The engine then reaches the
// relay through the tailnet as well.
package gateway
