// ABOUTME: Streaming chat.completion.chunk synthesis from a finished reply.
// ABOUTME: Content deltas concatenate back to exactly the non-streaming content.

package openai

import (
	"regexp"
	"strings"
)

// DoneSentinel terminates an SSE stream.
const DoneSentinel = "[DONE]"

// Chunk is a chat.completion.chunk object.
type Chunk struct {
	ID                string        `json:"id"`
	Object            string        `json:"object"`
	Created           int64         `json:"created"`
	Model             string        `json:"model"`
	SystemFingerprint *string       `json:"system_fingerprint"`
	Choices           []ChunkChoice `json:"choices"`
}

// ChunkChoice carries one delta.
type ChunkChoice struct {
	Index        int       `json:"index"`
	Delta        Delta     `json:"delta"`
	Logprobs     *struct{} `json:"logprobs"`
	FinishReason *string   `json:"finish_reason"`
}

// Delta is the incremental part of a chunk.
type Delta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Chunker builds the chunks of one streamed completion.
type Chunker struct {
	id      string
	created int64
	model   string
}

// NewChunker creates a Chunker for the completion id.
func NewChunker(id string, created int64, model string) *Chunker {
	return &Chunker{id: id, created: created, model: model}
}

func (c *Chunker) chunk(delta Delta, finish *string) Chunk {
	return Chunk{
		ID:      c.id,
		Object:  "chat.completion.chunk",
		Created: c.created,
		Model:   c.model,
		Choices: []ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finish,
		}},
	}
}

// Role is the opening chunk announcing the assistant role.
func (c *Chunker) Role() Chunk {
	return c.chunk(Delta{Role: RoleAssistant}, nil)
}

// Body returns the tool call chunk, or the content chunks of the text.
func (c *Chunker) Body(reply Reply) []Chunk {
	if reply.ToolCall != nil {
		tc := *reply.ToolCall
		idx := 0
		tc.Index = &idx
		return []Chunk{c.chunk(Delta{ToolCalls: []ToolCall{tc}}, nil)}
	}

	deltas := ContentDeltas(reply.Text)
	out := make([]Chunk, 0, len(deltas))
	for _, d := range deltas {
		out = append(out, c.chunk(Delta{Content: d}, nil))
	}
	return out
}

// Finish is the closing chunk with an empty delta and the finish reason.
func (c *Chunker) Finish(reply Reply) Chunk {
	reason := reply.FinishReason()
	return c.chunk(Delta{}, &reason)
}

// All returns every chunk of a stream for reply, in order.
func (c *Chunker) All(reply Reply) []Chunk {
	out := []Chunk{c.Role()}
	out = append(out, c.Body(reply)...)
	return append(out, c.Finish(reply))
}

var wordPattern = regexp.MustCompile(`\S+\s*`)

// ContentDeltas splits text for streaming: line by line with a separate
// "\n" delta between lines, and word by word within a line. Each word keeps
// the whitespace that follows it and a line's leading whitespace rides on
// its first word, so the deltas concatenate to exactly text.
func ContentDeltas(text string) []string {
	if text == "" {
		return nil
	}

	var out []string
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			out = append(out, "\n")
		}
		if line == "" {
			continue
		}

		locs := wordPattern.FindAllStringIndex(line, -1)
		if len(locs) == 0 {
			// Whitespace only.
			out = append(out, line)
			continue
		}
		for j, loc := range locs {
			start := loc[0]
			if j == 0 {
				start = 0
			}
			out = append(out, line[start:loc[1]])
		}
	}
	return out
}
