// ABOUTME: Tests for the fake page's scripted replies.
// ABOUTME: Replies must parse with the same markup rules the gateway applies.

package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wormhole-gateway/internal/markup"
)

func cmdWith(name string, params map[string]string) command {
	raw, _ := json.Marshal(params)
	return command{Command: name, Params: raw, RequestID: "r1"}
}

func TestPage_ToolLoop(t *testing.T) {
	p := newPage(true)

	created := p.handle(cmdWith("createConversation", map[string]string{
		"prompt": "Available tools:\n- search: Search the web\n\nUser request:\nfind cats",
	}))
	require.True(t, created.Success)
	assert.Equal(t, "r1", created.RequestID)
	result := created.Result.(map[string]string)
	require.NotEmpty(t, result["conversationId"])

	remaining, call := markup.ParseToolCall(result["response"])
	require.NotNil(t, call)
	assert.Equal(t, "search", call.Name)
	assert.JSONEq(t, `{"input":"find cats"}`, call.Arguments)
	assert.Equal(t, "Let me check.", strings.TrimSpace(remaining))

	sent := p.handle(cmdWith("sendMessage", map[string]string{
		"conversationId": result["conversationId"],
		"prompt":         "You called: search({\"input\":\"find cats\"})\n\nTool 'search' returned: 3 cats",
	}))
	require.True(t, sent.Success)
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(sent.Result.(string)), &body))
	assert.True(t, markup.HasFinalAnswer(body["response"]))
	assert.Equal(t, "The tool said: 3 cats", markup.ExtractFinalAnswer(body["response"]))
}

func TestPage_EchoWithoutTools(t *testing.T) {
	p := newPage(false)

	out := p.handle(cmdWith("createConversation", map[string]string{"prompt": "- search: x\nhello"}))
	require.True(t, out.Success)
	assert.Contains(t, out.Result.(map[string]string)["response"], "Echo: **hello**")
}

func TestPage_Errors(t *testing.T) {
	p := newPage(true)

	out := p.handle(cmdWith("sendMessage", map[string]string{"conversationId": "nope", "prompt": "x"}))
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "unknown conversation")

	out = p.handle(command{Code: "1+1", RequestID: "r2"})
	assert.False(t, out.Success)
	assert.Equal(t, "r2", out.RequestID)

	out = p.handle(cmdWith("reload", nil))
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "unknown command")
}

func TestCommand_ParamIgnoresNonStrings(t *testing.T) {
	c := command{Params: json.RawMessage(`{"prompt": 3, "model": "o3"}`)}
	assert.Equal(t, "", c.param("prompt"))
	assert.Equal(t, "o3", c.param("model"))
	assert.Equal(t, "", command{}.param("prompt"))
}
