// ABOUTME: Scripted execution client logic: answers relay commands the way a chat page would.
// ABOUTME: Calls the first offered tool, turns tool results into a final answer, echoes everything else.

package main

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// command is a relay message addressed to the page.
type command struct {
	Command   string          `json:"command"`
	Params    json.RawMessage `json:"params"`
	Code      string          `json:"code"`
	RequestID string          `json:"request_id"`
}

// param returns a string parameter, or "" when absent or not a string.
func (c command) param(name string) string {
	var m map[string]any
	if err := json.Unmarshal(c.Params, &m); err != nil {
		return ""
	}
	s, _ := m[name].(string)
	return s
}

// reply is what the page sends back through the relay.
type reply struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

var toolLine = regexp.MustCompile(`(?m)^- ([^:\s]+):`)

// page holds the conversations the fake has opened.
type page struct {
	useTools bool

	mu    sync.Mutex
	convs map[string]int
}

func newPage(useTools bool) *page {
	return &page{useTools: useTools, convs: make(map[string]int)}
}

func (p *page) handle(cmd command) reply {
	out := reply{RequestID: cmd.RequestID}

	switch {
	case cmd.Code != "" && cmd.Command == "":
		out.Error = "fake page does not evaluate code"
	case cmd.Command == "createConversation":
		id := uuid.NewString()
		p.mu.Lock()
		p.convs[id] = 1
		p.mu.Unlock()
		out.Success = true
		out.Result = map[string]string{
			"conversationId": id,
			"response":       p.answer(cmd.param("prompt")),
		}
	case cmd.Command == "sendMessage":
		id := cmd.param("conversationId")
		p.mu.Lock()
		_, ok := p.convs[id]
		if ok {
			p.convs[id]++
		}
		p.mu.Unlock()
		if !ok {
			out.Error = fmt.Sprintf("unknown conversation %q", id)
			break
		}
		out.Success = true
		// Real pages often hand back their result pre-serialized.
		raw, _ := json.Marshal(map[string]string{"response": p.answer(cmd.param("prompt"))})
		out.Result = string(raw)
	default:
		out.Error = fmt.Sprintf("unknown command %q", cmd.Command)
	}
	return out
}

// answer picks a scripted reply for prompt.
func (p *page) answer(prompt string) string {
	if strings.Contains(prompt, " returned: ") {
		result := prompt[strings.Index(prompt, " returned: ")+len(" returned: "):]
		if i := strings.IndexByte(result, '\n'); i >= 0 {
			result = result[:i]
		}
		return fmt.Sprintf(`<invoke name="final_answer"><parameter name="answer">The tool said: %s</parameter></invoke>`, result)
	}

	if p.useTools {
		if m := toolLine.FindStringSubmatch(prompt); m != nil && m[1] != "final_answer" {
			return fmt.Sprintf("Let me check.\n<invoke name=%q><parameter name=\"input\">%s</parameter></invoke>", m[1], lastLine(prompt))
		}
	}

	return echoReply(lastLine(prompt))
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "bullet") || strings.Contains(lower, "list") {
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n- Third item\n\n> This is a blockquote.\n"
	}
	return fmt.Sprintf("Echo: **%s**\n\nI received your message and am responding with some *formatted* text.", input)
}
