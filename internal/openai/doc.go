// Package openai translates between OpenAI-style chat-completion requests
// and the agent engine.
//
// ParseTurn reduces the message history to what the engine needs: the last
// system and user texts, the <userRequest> and <attachments> blocks of the
// user text, the tool calls and results of the current exchange, and three
// flags. Route applies the first matching rule:
//
//  1. tools offered, and no tool results yet or the last assistant
//     message was a final answer: RouteInitialTool
//  2. tool results present and not final: RouteToolResponse
//  3. otherwise: RouteSimple
//
// NewCompletion and Chunker render the engine's reply. A streamed reply is
// a role chunk, then either one tool call chunk or the content deltas, then
// a finish chunk, then DoneSentinel. Joining the content deltas gives the
// non-streaming content byte for byte.
package openai
