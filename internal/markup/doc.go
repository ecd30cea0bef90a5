// Package markup parses the tool-calling markup embedded in free-text replies.
//
// # Grammar
//
// Replies are plain text that may contain these tags:
//
//	<invoke name="TOOL"> ... </invoke>
//	<parameter name="KEY">VALUE</parameter>
//	<final_answer> ... </final_answer>
//
// Tag names are matched case-insensitively and attribute values may use
// single or double quotes. Anything that does not scan as one of these tags
// is ordinary text, so malformed markup never produces an error.
//
// # Recovery rules
//
//   - An <invoke> without a matching </invoke> is not an invocation. Because
//     it swallows the rest of the reply, nothing after it is either.
//   - Nested <invoke> blocks are depth tracked. Their markup stays as raw text
//     inside the enclosing parameter value and their parameters are ignored.
//   - A <parameter> left open inside a closed invocation runs to </invoke>.
//   - A repeated parameter name keeps the position of its first occurrence and
//     the value of its last.
//
// # Final answers
//
// A reply signals a final answer when it contains name="final_answer" or a
// <final_answer> tag. ExtractFinalAnswer prefers the answer parameter of a
// final_answer invocation, then the body of the first <final_answer> block,
// then the reply with the marker tokens removed.
package markup
