// Package agent runs the tool-calling protocol against a remote chat session.
//
// # Overview
//
// The remote session is a third-party chat application driven through the
// relay. It knows nothing about tools: the engine describes the offered
// tools in the prompt and reads tool invocations and final answers back out
// of the free-text replies (see package markup).
//
// # Engine
//
//	eng := agent.New(agent.Config{MaxSteps: 20}, transportClient, composer, transcriptWriter, logger, m)
//
// Key operations:
//
//   - HandleInitialToolRequest: a new user turn with tools offered
//   - HandleToolResponse: tool results for the previous tool call
//   - HandleSimpleMessage: a plain message without tool scaffolding
//   - Classify: interpret one reply (pure)
//
// # Session State
//
// Each dialogue has a session.Session carrying its remote conversation id
// and step counter:
//
//	NEW ──createConversation──▶ ACTIVE ──final answer / step limit──▶ TERMINAL
//
// In NEW the prompt is sent with createConversation. Pages may answer it
// in the same result; otherwise the prompt is sent again with sendMessage.
// In ACTIVE every prompt goes through sendMessage on the cached id. A
// request marked NewConversation returns the session to NEW first.
//
// # Classification
//
// In priority order: a final answer marker yields the extracted answer and
// no tool call; else the first complete <invoke> block becomes a ToolCall
// and is cut from the text; else the reply is returned as is.
//
// # Step Guard
//
// Every completed round trip increments the session's step counter. Once
// it reaches MaxSteps the engine answers MaxStepsText without contacting
// the relay, for this and every later request of the conversation. Only a
// new conversation (the client resending a history with no assistant
// message) restarts the counter.
//
// # Audit
//
// Completed round trips are passed to the TurnLogger, which must never
// block or fail the engine.
package agent
