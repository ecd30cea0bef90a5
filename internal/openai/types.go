// ABOUTME: OpenAI chat-completion wire types accepted and produced by the gateway.
// ABOUTME: Message content may arrive as a string or as a list of typed parts.

package openai

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/2389/wormhole-gateway/internal/markup"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model      string          `json:"model"`
	Messages   []Message       `json:"messages"`
	Stream     bool            `json:"stream,omitempty"`
	Tools      []Tool          `json:"tools,omitempty"`
	ToolChoice json.RawMessage `json:"tool_choice,omitempty"`
	// User doubles as an explicit session identifier.
	User string `json:"user,omitempty"`
}

// Message is one entry of the conversation history.
type Message struct {
	Role       string     `json:"role"`
	Content    Content    `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Content holds either plain text or a list of parts.
type Content struct {
	text  string
	parts []ContentPart
	raw   json.RawMessage
}

// TextContent returns string content.
func TextContent(s string) Content {
	return Content{text: s}
}

// PartsContent returns multi-part content.
func PartsContent(parts ...ContentPart) Content {
	return Content{parts: parts}
}

// UnmarshalJSON accepts a string, a list of parts, or null. Anything else
// is kept verbatim and rendered as its JSON text.
func (c *Content) UnmarshalJSON(data []byte) error {
	*c = Content{}
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || string(data) == "null":
		return nil
	case data[0] == '"':
		return json.Unmarshal(data, &c.text)
	case data[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err == nil {
			c.parts = parts
			return nil
		}
	}
	c.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes the content in the form it was given.
func (c Content) MarshalJSON() ([]byte, error) {
	switch {
	case c.parts != nil:
		return json.Marshal(c.parts)
	case c.raw != nil:
		return c.raw, nil
	default:
		return json.Marshal(c.text)
	}
}

// Text flattens the content: text parts are joined by a single space. A
// list without text parts renders as its JSON.
func (c Content) Text() string {
	switch {
	case c.parts != nil:
		var texts []string
		for _, p := range c.parts {
			if p.Type == "text" {
				texts = append(texts, p.Text)
			}
		}
		if len(texts) == 0 {
			raw, _ := json.Marshal(c.parts)
			return string(raw)
		}
		return strings.Join(texts, " ")
	case c.raw != nil:
		return string(c.raw)
	default:
		return c.text
	}
}

// IsEmpty reports whether the content carries nothing.
func (c Content) IsEmpty() bool {
	return c.text == "" && len(c.parts) == 0 && len(c.raw) == 0
}

// Tool is an offered function tool.
type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes an offered function.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a function call emitted by the assistant.
type ToolCall struct {
	// Index is set on streamed tool call deltas only.
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// FromMarkup converts a parsed invocation into the wire form.
func FromMarkup(tc *markup.ToolCall) *ToolCall {
	if tc == nil {
		return nil
	}
	return &ToolCall{
		ID:   tc.ID,
		Type: "function",
		Function: FunctionCall{
			Name:      tc.Name,
			Arguments: tc.Arguments,
		},
	}
}

// ErrorBody is the OpenAI error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one API error.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// Error types.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeServer         = "server_error"
)

// NewError builds an error envelope.
func NewError(errType, message, code string) ErrorBody {
	return ErrorBody{Error: ErrorDetail{Message: message, Type: errType, Code: code}}
}
