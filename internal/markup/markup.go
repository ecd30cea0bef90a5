// ABOUTME: Invocation parsing, tool call extraction and final answer handling.
// ABOUTME: Builds on the tag scanner; never fails, malformed markup degrades to text.

package markup

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// FinalAnswerTool is the reserved tool name that terminates a dialogue.
const FinalAnswerTool = "final_answer"

// finalMarkers are stripped when a reply signals a final answer without a
// well-formed block around it.
var finalMarkers = regexp.MustCompile(`(?i)<final_answer>|</final_answer>|\[FINAL ANSWER\]|FINAL:`)

// Param is one named parameter of an invocation.
type Param struct {
	Name  string
	Value string
}

// Invocation is one complete top-level <invoke> block.
type Invocation struct {
	Name   string
	Params []Param

	// Start and End delimit the whole block in the source text.
	Start int
	End   int
}

// Param returns the value of the named parameter.
func (inv *Invocation) Param(name string) (string, bool) {
	for _, p := range inv.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Arguments renders the parameters as a JSON object, keys in source order.
func (inv *Invocation) Arguments() string {
	var buf strings.Builder
	buf.WriteByte('{')
	for i, p := range inv.Params {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(quoteJSON(p.Name))
		buf.WriteByte(':')
		buf.WriteString(quoteJSON(p.Value))
	}
	buf.WriteByte('}')
	return buf.String()
}

func (inv *Invocation) setParam(index map[string]int, name, value string) {
	if i, ok := index[name]; ok {
		inv.Params[i].Value = value
		return
	}
	index[name] = len(inv.Params)
	inv.Params = append(inv.Params, Param{Name: name, Value: value})
}

// ToolCall is a tool invocation extracted from a reply.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// NewCallID returns an identifier of the form call_<24 hex digits>.
func NewCallID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "call_" + hex[:24]
}

// Invocations returns every complete top-level invocation in text. An
// opening tag that never closes is treated as text and the scan resumes at
// the next opening tag.
func Invocations(text string) []Invocation {
	toks := scan(text)

	var out []Invocation
	for k := 0; k < len(toks); k++ {
		if toks[k].kind != tokOpenInvoke {
			continue
		}
		inv, closeIdx, ok := parseBlock(text, toks, k)
		if !ok {
			continue
		}
		out = append(out, inv)
		k = closeIdx
	}
	return out
}

// parseBlock reads the invocation opened at toks[open]. It returns the index
// of the matching close token, or false when the block never closes.
func parseBlock(text string, toks []token, open int) (Invocation, int, bool) {
	inv := Invocation{Name: toks[open].name, Start: toks[open].start}
	index := make(map[string]int)

	depth := 1
	paramOpen := false
	var paramName string
	var paramStart int

	for k := open + 1; k < len(toks); k++ {
		t := toks[k]
		switch t.kind {
		case tokOpenInvoke:
			depth++
		case tokCloseInvoke:
			depth--
			if depth > 0 {
				continue
			}
			if paramOpen {
				inv.setParam(index, paramName, text[paramStart:t.start])
			}
			inv.End = t.end
			return inv, k, true
		case tokOpenParam:
			if depth == 1 && !paramOpen {
				paramOpen = true
				paramName = t.name
				paramStart = t.end
			}
		case tokCloseParam:
			if depth == 1 && paramOpen {
				inv.setParam(index, paramName, text[paramStart:t.start])
				paramOpen = false
			}
		}
	}
	return Invocation{}, 0, false
}

// ParseToolCall extracts the first complete invocation from text. It returns
// the text with that block cut out and the tool call, or the unchanged text
// and nil when there is no complete invocation.
func ParseToolCall(text string) (string, *ToolCall) {
	invs := Invocations(text)
	if len(invs) == 0 {
		return text, nil
	}
	inv := invs[0]
	remaining := text[:inv.Start] + text[inv.End:]
	return remaining, &ToolCall{
		ID:        NewCallID(),
		Name:      inv.Name,
		Arguments: inv.Arguments(),
	}
}

// HasFinalAnswer reports whether text carries a final answer marker.
func HasFinalAnswer(text string) bool {
	if strings.Contains(text, `name="final_answer"`) {
		return true
	}
	for _, t := range scan(text) {
		switch t.kind {
		case tokOpenFinal:
			return true
		case tokOpenInvoke, tokOpenParam:
			if t.name == FinalAnswerTool {
				return true
			}
		}
	}
	return false
}

// ExtractFinalAnswer returns the final answer payload of text.
func ExtractFinalAnswer(text string) string {
	for _, inv := range Invocations(text) {
		if inv.Name != FinalAnswerTool {
			continue
		}
		if answer, ok := inv.Param("answer"); ok {
			return strings.TrimSpace(answer)
		}
	}

	toks := scan(text)
	for k, t := range toks {
		if t.kind != tokOpenFinal {
			continue
		}
		for _, c := range toks[k+1:] {
			if c.kind == tokCloseFinal {
				return strings.TrimSpace(text[t.end:c.start])
			}
		}
		break
	}

	return strings.TrimSpace(finalMarkers.ReplaceAllString(text, ""))
}

func quoteJSON(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}
