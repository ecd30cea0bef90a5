// ABOUTME: Non-streaming chat.completion responses and the static model catalog.
// ABOUTME: Token usage is approximated by whitespace word counts.

package openai

import (
	"strings"

	"github.com/google/uuid"
)

// Finish reasons.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
)

// Reply is the engine's answer in wire-neutral form.
type Reply struct {
	Text     string
	ToolCall *ToolCall
}

// FinishReason is tool_calls when the reply carries a tool call, else stop.
func (r Reply) FinishReason() string {
	if r.ToolCall != nil {
		return FinishToolCalls
	}
	return FinishStop
}

// Completion is a chat.completion object.
type Completion struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	SystemFingerprint *string  `json:"system_fingerprint"`
	Choices           []Choice `json:"choices"`
	Usage             Usage    `json:"usage"`
}

// Choice is one completion alternative; the gateway always returns one.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	Logprobs     *struct{}       `json:"logprobs"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant message of a completion. Content is
// null when a tool call is returned.
type ResponseMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Usage carries approximate token counts.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewCompletionID returns an id of the form chatcmpl-<29 hex digits>.
func NewCompletionID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "chatcmpl-" + hex[:29]
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// PromptTokens approximates the prompt size of a request.
func PromptTokens(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += WordCount(m.Content.Text())
	}
	return n
}

// NewCompletion builds the non-streaming response for reply.
func NewCompletion(id string, created int64, model string, reply Reply, promptTokens int) *Completion {
	msg := ResponseMessage{Role: RoleAssistant}
	if reply.ToolCall != nil {
		msg.ToolCalls = []ToolCall{*reply.ToolCall}
	} else {
		text := reply.Text
		msg.Content = &text
	}

	completionTokens := WordCount(reply.Text)
	return &Completion{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: reply.FinishReason(),
		}},
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
}

// Model is one entry of GET /v1/models.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the GET /v1/models body.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

func model(id string, created int64, owner string) Model {
	return Model{ID: id, Object: "model", Created: created, OwnedBy: owner}
}

// Catalog lists the models the remote chat application offers. The ids are
// passed through to the page unchanged.
var Catalog = []Model{
	model("gpt-5-chat", 1730419200, "openai"),
	model("gpt-5-2025-08-07", 1730419200, "openai"),
	model("GPT-4o", 1715367600, "openai"),
	model("gpt-4o-audio-preview-2025-06-03", 1730419200, "openai"),
	model("gpt-4o-mini-audio-preview-2024-12-17", 1730419200, "openai"),
	model("GPT-4.1", 1715367600, "openai"),
	model("o3", 1730419200, "openai"),
	model("o4-mini", 1730419200, "openai"),
	model("claude-sonnet-4-5-20250929", 1730419200, "anthropic"),
	model("claude-haiku-4-5-20251001", 1730419200, "anthropic"),
	model("claude-opus-4-1-20250805", 1730419200, "anthropic"),
	model("claude-opus-4-20250514", 1730419200, "anthropic"),
	model("claude-sonnet-4-20250514", 1730419200, "anthropic"),
	model("gemini-2.5-pro-preview-06-05", 1730419200, "google"),
	model("gemini-2.5-flash-preview-05-20", 1730419200, "google"),
	model("Grok 3", 1730419200, "xai"),
	model("Llama 4 Maverick", 1730419200, "meta"),
	model("qwen3-235b-a22b-2507-v1", 1730419200, "alibaba"),
	model("deepseek-r1-0528", 1730419200, "deepseek"),
}

// Models returns the catalog as a list object.
func Models() ModelList {
	data := make([]Model, len(Catalog))
	copy(data, Catalog)
	return ModelList{Object: "list", Data: data}
}

// ShowResponse is the Ollama /api/show stub.
type ShowResponse struct {
	Modelfile  string      `json:"modelfile"`
	Parameters string      `json:"parameters"`
	Template   string      `json:"template"`
	Details    ShowDetails `json:"details"`
}

// ShowDetails is the fixed details block clients expect from /api/show.
type ShowDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// Show describes name for Ollama clients.
func Show(name string) ShowResponse {
	return ShowResponse{
		Modelfile: "# Modelfile for " + name,
		Details: ShowDetails{
			Format:            "gguf",
			Family:            "llama",
			Families:          []string{"llama"},
			ParameterSize:     "8B",
			QuantizationLevel: "Q4_0",
		},
	}
}
