// ABOUTME: Tests for reply markup parsing.
// ABOUTME: Covers tool call extraction, recovery rules and final answer handling.

package markup

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolCall_RoundTrip(t *testing.T) {
	text := `Intro <invoke name="search"><parameter name="q">cats</parameter></invoke> Outro`

	remaining, call := ParseToolCall(text)

	require.NotNil(t, call)
	assert.Equal(t, "Intro  Outro", remaining)
	assert.Equal(t, "search", call.Name)
	assert.Equal(t, `{"q":"cats"}`, call.Arguments)
	assert.Regexp(t, regexp.MustCompile(`^call_[0-9a-f]{24}$`), call.ID)
}

func TestParseToolCall_NoInvocation(t *testing.T) {
	text := "just a plain answer"

	remaining, call := ParseToolCall(text)

	assert.Nil(t, call)
	assert.Equal(t, text, remaining)
}

func TestParseToolCall_KeepsParameterOrder(t *testing.T) {
	text := `<invoke name="write"><parameter name="path">a.txt</parameter>` +
		`<parameter name="content">hi</parameter><parameter name="mode">0644</parameter></invoke>`

	_, call := ParseToolCall(text)

	require.NotNil(t, call)
	assert.Equal(t, `{"path":"a.txt","content":"hi","mode":"0644"}`, call.Arguments)
}

func TestParseToolCall_ValuesAreVerbatim(t *testing.T) {
	text := "<invoke name=\"run\"><parameter name=\"cmd\">\n  ls -la\n</parameter></invoke>"

	_, call := ParseToolCall(text)

	require.NotNil(t, call)
	var args map[string]string
	require.NoError(t, json.Unmarshal([]byte(call.Arguments), &args))
	assert.Equal(t, "\n  ls -la\n", args["cmd"])
}

func TestParseToolCall_CaseInsensitiveTagsAndSingleQuotes(t *testing.T) {
	text := `<INVOKE name='lookup'><Parameter NAME='id'>42</PARAMETER></Invoke>`

	remaining, call := ParseToolCall(text)

	require.NotNil(t, call)
	assert.Equal(t, "", remaining)
	assert.Equal(t, "lookup", call.Name)
	assert.Equal(t, `{"id":"42"}`, call.Arguments)
}

func TestParseToolCall_FirstInvocationOnly(t *testing.T) {
	text := `A<invoke name="one"></invoke>B<invoke name="two"></invoke>C`

	remaining, call := ParseToolCall(text)

	require.NotNil(t, call)
	assert.Equal(t, "one", call.Name)
	assert.Equal(t, `{}`, call.Arguments)
	assert.Equal(t, `AB<invoke name="two"></invoke>C`, remaining)
}

func TestParseToolCall_UnterminatedInvoke(t *testing.T) {
	text := `Before <invoke name="search"><parameter name="q">cats</parameter> and nothing closes`

	remaining, call := ParseToolCall(text)

	assert.Nil(t, call)
	assert.Equal(t, text, remaining)
}

func TestParseToolCall_UnterminatedParameterRunsToInvokeEnd(t *testing.T) {
	text := `<invoke name="search"><parameter name="q">cats and dogs</invoke>`

	_, call := ParseToolCall(text)

	require.NotNil(t, call)
	assert.Equal(t, `{"q":"cats and dogs"}`, call.Arguments)
}

func TestParseToolCall_DuplicateParameterLastWins(t *testing.T) {
	text := `<invoke name="t"><parameter name="a">1</parameter>` +
		`<parameter name="b">2</parameter><parameter name="a">3</parameter></invoke>`

	_, call := ParseToolCall(text)

	require.NotNil(t, call)
	assert.Equal(t, `{"a":"3","b":"2"}`, call.Arguments)
}

func TestParseToolCall_NestedInvokeKeptRaw(t *testing.T) {
	inner := `<invoke name="inner"><parameter name="x">1</parameter></invoke>`
	text := `<invoke name="outer"><parameter name="code">` + inner + `</parameter></invoke> tail`

	remaining, call := ParseToolCall(text)

	require.NotNil(t, call)
	assert.Equal(t, "outer", call.Name)
	assert.Equal(t, " tail", remaining)

	var args map[string]string
	require.NoError(t, json.Unmarshal([]byte(call.Arguments), &args))
	assert.Equal(t, map[string]string{"code": inner}, args)
}

func TestParseToolCall_IgnoresLookalikeTags(t *testing.T) {
	tests := []string{
		`<invoked name="x"></invoked>`,
		`<invoke>no name</invoke>`,
		`<invoke name="x" unterminated`,
		`a < b and c > d`,
	}
	for _, text := range tests {
		remaining, call := ParseToolCall(text)
		assert.Nil(t, call, "text %q", text)
		assert.Equal(t, text, remaining)
	}
}

func TestInvocations_SkipsUnterminatedOpenTag(t *testing.T) {
	text := `<invoke name="a"></invoke><invoke name="b"><invoke name="c"></invoke>`

	invs := Invocations(text)

	require.Len(t, invs, 2)
	assert.Equal(t, "a", invs[0].Name)
	assert.Equal(t, "c", invs[1].Name)
}

func TestParseToolCall_StrayOpenTagBeforeBlock(t *testing.T) {
	block := `<invoke name="search"><parameter name="q">cats</parameter></invoke>`
	text := "I will use <invoke name=\"x\"> now.\n" + block

	remaining, call := ParseToolCall(text)

	require.NotNil(t, call)
	assert.Equal(t, "search", call.Name)
	assert.Equal(t, `{"q":"cats"}`, call.Arguments)
	assert.Equal(t, "I will use <invoke name=\"x\"> now.\n", remaining)
}

func TestHasFinalAnswer(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{`<invoke name="final_answer"><parameter name="answer">42</parameter></invoke>`, true},
		{`<final_answer>done</final_answer>`, true},
		{`<FINAL_ANSWER>done`, true},
		{`<invoke name='final_answer'></invoke>`, true},
		{`mentions name="final_answer" in passing`, true},
		{`<invoke name="search"></invoke>`, false},
		{`FINAL: not a marker on its own`, false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HasFinalAnswer(tt.text), "text %q", tt.text)
	}
}

func TestExtractFinalAnswer(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "invoke answer parameter",
			text: `Thinking. <invoke name="final_answer"><parameter name="answer"> 42 </parameter></invoke>`,
			want: "42",
		},
		{
			name: "invoke wins over tag",
			text: `<final_answer>tag</final_answer><invoke name="final_answer"><parameter name="answer">invoke</parameter></invoke>`,
			want: "invoke",
		},
		{
			name: "tag body",
			text: "prefix <Final_Answer>\nThe result.\n</final_answer> suffix",
			want: "The result.",
		},
		{
			name: "unterminated tag is cleaned",
			text: "<final_answer> The result.",
			want: "The result.",
		},
		{
			name: "legacy markers removed",
			text: "[FINAL ANSWER] final: all good",
			want: "all good",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractFinalAnswer(tt.text))
		})
	}
}

func TestNewCallID(t *testing.T) {
	a, b := NewCallID(), NewCallID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len("call_")+24)
}
