// ABOUTME: Helpers for pulling tagged sections out of client-supplied text.
// ABOUTME: Used for <userRequest>, <attachments>, <instructions> and <context> blocks.

package prompt

import (
	"regexp"
	"strings"
	"sync"
)

var tagPatterns sync.Map // tag name -> *regexp.Regexp

func tagPattern(tag string) *regexp.Regexp {
	if re, ok := tagPatterns.Load(tag); ok {
		return re.(*regexp.Regexp)
	}
	q := regexp.QuoteMeta(tag)
	re := regexp.MustCompile(`(?is)<` + q + `>(.*?)</` + q + `>`)
	actual, _ := tagPatterns.LoadOrStore(tag, re)
	return actual.(*regexp.Regexp)
}

// ExtractTag returns the trimmed body of the first <tag>...</tag> block in
// text, or "" when there is none. Tag names match case-insensitively.
func ExtractTag(text, tag string) string {
	m := tagPattern(tag).FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ExtractTagBlock returns the first <tag>...</tag> block including its tags.
func ExtractTagBlock(text, tag string) string {
	return tagPattern(tag).FindString(text)
}

// ClientInstructions returns the <instructions> block of a client system message.
func ClientInstructions(system string) string {
	return ExtractTag(system, "instructions")
}

// ClientContext returns the <context> block of a client system message.
func ClientContext(system string) string {
	return ExtractTag(system, "context")
}
