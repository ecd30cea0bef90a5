// ABOUTME: Reduces a chat-completion request to the facts the agent engine needs.
// ABOUTME: Extracts the user request, attachments, tool exchange and routing decision.

package openai

import (
	"regexp"
	"strings"

	"github.com/2389/wormhole-gateway/internal/markup"
)

// Route is the engine path a request takes.
type Route string

const (
	RouteInitialTool  Route = "initial_tool"
	RouteToolResponse Route = "tool_response"
	RouteSimple       Route = "simple"
)

var (
	userRequestPattern = regexp.MustCompile(`(?s)<userRequest>(.*?)</userRequest>`)
	attachmentsPattern = regexp.MustCompile(`(?s)<attachments>.*?</attachments>`)
)

// ToolResult is a tool message answering one of the assistant's calls.
type ToolResult struct {
	Name    string
	Content string
}

// Turn is the parsed form of one request.
type Turn struct {
	Model string
	Tools []Tool

	// RawSystem is the content of the last system message.
	RawSystem string
	// RawUser is the flattened content of the last user message.
	RawUser string
	// UserRequest is the <userRequest> body of RawUser, or all of it.
	UserRequest string
	// Attachments is the whole <attachments> block of RawUser, tags included.
	Attachments string

	// IsNewConversation is true when the history has no assistant message.
	IsNewConversation bool
	// HasToolResults is true when a tool message follows the last user message.
	HasToolResults bool
	// LastAssistantFinal is true when the latest assistant message carried
	// a final answer marker.
	LastAssistantFinal bool

	// Calls are the tool calls of the last assistant message that made any.
	Calls []ToolCall
	// Results are the tool messages after that assistant message.
	Results []ToolResult
}

// ParseTurn scans the message history of req.
func ParseTurn(req *ChatCompletionRequest) *Turn {
	t := &Turn{
		Model:             req.Model,
		Tools:             req.Tools,
		IsNewConversation: true,
	}

	lastCaller := -1
	for i, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			t.RawSystem = msg.Content.Text()
		case RoleUser:
			t.RawUser = msg.Content.Text()
			t.Attachments = attachmentsPattern.FindString(t.RawUser)
			if m := userRequestPattern.FindStringSubmatch(t.RawUser); m != nil {
				t.UserRequest = strings.TrimSpace(m[1])
			} else {
				t.UserRequest = t.RawUser
			}
			t.HasToolResults = false
		case RoleAssistant:
			t.IsNewConversation = false
			text := msg.Content.Text()
			t.LastAssistantFinal = text != "" && markup.HasFinalAnswer(text)
			if len(msg.ToolCalls) > 0 {
				lastCaller = i
			}
		case RoleTool:
			t.HasToolResults = true
		}
	}

	if lastCaller >= 0 {
		t.Calls = req.Messages[lastCaller].ToolCalls
		names := make(map[string]string, len(t.Calls))
		for _, c := range t.Calls {
			names[c.ID] = c.Function.Name
		}
		for _, msg := range req.Messages[lastCaller+1:] {
			if msg.Role != RoleTool {
				continue
			}
			name := msg.Name
			if name == "" {
				name = names[msg.ToolCallID]
			}
			t.Results = append(t.Results, ToolResult{Name: name, Content: msg.Content.Text()})
		}
	}

	return t
}

// Route picks the engine path; the first matching rule wins.
func (t *Turn) Route() Route {
	switch {
	case len(t.Tools) > 0 && (!t.HasToolResults || t.LastAssistantFinal):
		return RouteInitialTool
	case t.HasToolResults && !t.LastAssistantFinal:
		return RouteToolResponse
	default:
		return RouteSimple
	}
}

// FirstSystemAndUser returns the first system and first user texts, the
// stable part of a dialogue used to key its session.
func FirstSystemAndUser(msgs []Message) (system, user string) {
	var haveSystem, haveUser bool
	for _, m := range msgs {
		switch {
		case m.Role == RoleSystem && !haveSystem:
			system, haveSystem = m.Content.Text(), true
		case m.Role == RoleUser && !haveUser:
			user, haveUser = m.Content.Text(), true
		}
		if haveSystem && haveUser {
			break
		}
	}
	return system, user
}
