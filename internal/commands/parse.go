package commands

import (
	"strings"
)

// tokenize splits command text into tokens. Only double quotes group words,
// so apostrophes in free text survive. Examples:
//
//	!kick @user "spamming links"
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar rune
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ && ch == qChar:
			inQ = false
		case inQ:
			buf.WriteRune(ch)
		case ch == '"':
			inQ, qChar = true, ch
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteRune(ch)
		}
	}
	flush()
	return out
}

// splitCommand strips prefix and returns the lowercased command word, its
// arguments and the untouched text after the command word. ok is false when
// content is not a command.
func splitCommand(prefix, content string) (name string, args []string, raw string, ok bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", nil, "", false
	}
	body := strings.TrimPrefix(content, prefix)
	parts := tokenize(body)
	if len(parts) == 0 {
		return "", nil, "", false
	}
	return strings.ToLower(parts[0]), parts[1:], skipToken(body), true
}

// skipToken drops the first token of s, honouring double quotes and
// escapes the way tokenize does, and returns the rest without surrounding
// whitespace.
func skipToken(s string) string {
	s = strings.TrimLeft(s, " \t\r\n")
	var inQ, esc bool
	for i, ch := range s {
		switch {
		case esc:
			esc = false
		case ch == '\\':
			esc = true
		case ch == '"':
			inQ = !inQ
		case !inQ && (ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'):
			return strings.TrimSpace(s[i:])
		}
	}
	return ""
}

// freeText turns the raw tail of a command into a reason. One fully quoted
// phrase loses its quotes; anything else is kept verbatim.
func freeText(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' && !strings.Contains(raw[1:len(raw)-1], `"`) {
		return strings.TrimSpace(raw[1 : len(raw)-1])
	}
	return raw
}

// MentionID extracts the snowflake from <@id>, <@!id>, <#id> or a bare id.
func MentionID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
		switch {
		case strings.HasPrefix(s, "@!"):
			s = s[2:]
		case strings.HasPrefix(s, "@&"):
			return "", false
		case strings.HasPrefix(s, "@"), strings.HasPrefix(s, "#"):
			s = s[1:]
		default:
			return "", false
		}
	}
	if s == "" {
		return "", false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return s, true
}
