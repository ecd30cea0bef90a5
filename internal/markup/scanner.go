// ABOUTME: Tag scanner for the invoke/parameter/final_answer reply markup.
// ABOUTME: Produces a flat token list; everything else in the reply is plain text.

package markup

import "strings"

type tokenKind int

const (
	tokOpenInvoke tokenKind = iota
	tokCloseInvoke
	tokOpenParam
	tokCloseParam
	tokOpenFinal
	tokCloseFinal
)

// token is one recognised tag. start and end are byte offsets into the
// scanned text, end being exclusive.
type token struct {
	kind  tokenKind
	name  string
	start int
	end   int
}

// scan returns every recognised tag in text, in order.
func scan(text string) []token {
	var toks []token
	for i := 0; i < len(text); {
		j := strings.IndexByte(text[i:], '<')
		if j < 0 {
			break
		}
		pos := i + j
		if tok, ok := readTag(text, pos); ok {
			toks = append(toks, tok)
			i = tok.end
			continue
		}
		i = pos + 1
	}
	return toks
}

// readTag tries to read a tag starting at the '<' at pos.
func readTag(text string, pos int) (token, bool) {
	i := pos + 1
	closing := false
	if i < len(text) && text[i] == '/' {
		closing = true
		i++
	}

	nameStart := i
	for i < len(text) && isNameByte(text[i]) {
		i++
	}
	kind, ok := tagKind(strings.ToLower(text[nameStart:i]), closing)
	if !ok {
		return token{}, false
	}

	attrs, end, ok := readAttrs(text, i)
	if !ok {
		return token{}, false
	}

	tok := token{kind: kind, start: pos, end: end}
	switch kind {
	case tokCloseInvoke, tokCloseParam, tokCloseFinal:
		if len(attrs) > 0 {
			return token{}, false
		}
	case tokOpenInvoke, tokOpenParam:
		name, ok := attrs["name"]
		if !ok {
			return token{}, false
		}
		tok.name = name
	}
	return tok, true
}

func tagKind(name string, closing bool) (tokenKind, bool) {
	switch name {
	case "invoke":
		if closing {
			return tokCloseInvoke, true
		}
		return tokOpenInvoke, true
	case "parameter":
		if closing {
			return tokCloseParam, true
		}
		return tokOpenParam, true
	case "final_answer":
		if closing {
			return tokCloseFinal, true
		}
		return tokOpenFinal, true
	}
	return 0, false
}

// readAttrs reads attributes up to and including the closing '>'.
// It returns the attributes, the offset just past the tag and whether the
// tag was well formed.
func readAttrs(text string, i int) (map[string]string, int, bool) {
	var attrs map[string]string
	for {
		for i < len(text) && isSpace(text[i]) {
			i++
		}
		if i >= len(text) {
			return nil, 0, false
		}
		switch text[i] {
		case '>':
			return attrs, i + 1, true
		case '/':
			if i+1 < len(text) && text[i+1] == '>' {
				return attrs, i + 2, true
			}
			return nil, 0, false
		case '<':
			return nil, 0, false
		}

		keyStart := i
		for i < len(text) && isNameByte(text[i]) {
			i++
		}
		if i == keyStart {
			return nil, 0, false
		}
		key := strings.ToLower(text[keyStart:i])

		for i < len(text) && isSpace(text[i]) {
			i++
		}
		value := ""
		if i < len(text) && text[i] == '=' {
			i++
			for i < len(text) && isSpace(text[i]) {
				i++
			}
			if i >= len(text) {
				return nil, 0, false
			}
			if q := text[i]; q == '"' || q == '\'' {
				closeAt := strings.IndexByte(text[i+1:], q)
				if closeAt < 0 {
					return nil, 0, false
				}
				value = text[i+1 : i+1+closeAt]
				i += closeAt + 2
			} else {
				valStart := i
				for i < len(text) && !isSpace(text[i]) && text[i] != '>' && text[i] != '<' {
					i++
				}
				value = text[valStart:i]
			}
		}

		if attrs == nil {
			attrs = make(map[string]string)
		}
		attrs[key] = value
	}
}

func isNameByte(b byte) bool {
	return b == '_' || b == '-' || b == ':' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
