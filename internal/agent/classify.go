// ABOUTME: Reply classification: final answer, tool call or plain text.
// ABOUTME: Pure functions over the remote session's free-text replies.

package agent

import (
	"strings"

	"github.com/2389/wormhole-gateway/internal/markup"
)

// Kind is the classification of a reply.
type Kind int

const (
	KindText Kind = iota
	KindToolCall
	KindFinal
)

func (k Kind) String() string {
	switch k {
	case KindToolCall:
		return "tool_call"
	case KindFinal:
		return "final"
	default:
		return "text"
	}
}

// Classification is the interpreted form of one reply.
type Classification struct {
	Kind     Kind
	Text     string
	ToolCall *markup.ToolCall
}

// Classify interprets reply. A final answer marker wins over any tool
// invocation in the same reply; otherwise the first complete invocation is
// cut out of the text; otherwise the reply is returned unchanged.
func Classify(reply string) Classification {
	if markup.HasFinalAnswer(reply) {
		return Classification{Kind: KindFinal, Text: markup.ExtractFinalAnswer(reply)}
	}
	if text, call := markup.ParseToolCall(reply); call != nil {
		return Classification{Kind: KindToolCall, Text: text, ToolCall: call}
	}
	return Classification{Kind: KindText, Text: reply}
}

// CalledTool is a tool invocation the client previously received.
type CalledTool struct {
	Name      string
	Arguments string
}

// ToolResult is the client's answer to a tool invocation.
type ToolResult struct {
	Name    string
	Content string
}

const unknownTool = "unknown_tool"

// ToolOutput renders tool calls and their results as the follow-up prompt body.
func ToolOutput(calls []CalledTool, results []ToolResult) string {
	parts := make([]string, 0, len(calls)+len(results))
	for _, c := range calls {
		parts = append(parts, "You called: "+orUnknown(c.Name)+"("+c.Arguments+")")
	}
	for _, r := range results {
		parts = append(parts, "Tool '"+orUnknown(r.Name)+"' returned: "+r.Content)
	}
	return strings.Join(parts, "\n\n")
}

func orUnknown(name string) string {
	if name == "" {
		return unknownTool
	}
	return name
}
