package library

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	maxNameRunes        = 200
	maxDescriptionRunes = 5000
)

// sanitizeText strips markup and control characters from free text and
// normalizes it to NFC. Newlines survive only when multiline is set.
func sanitizeText(s string, multiline bool, maxRunes int) string {
	s = strings.ToValidUTF8(s, "")
	s = stripTags(s)
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' && multiline:
			b.WriteRune(r)
		case r == '\r' || r == '\n' || r == '\t':
			b.WriteRune(' ')
		case unicode.IsControl(r), r == '<', r == '>':
			// dropped
		default:
			b.WriteRune(r)
		}
	}

	out := strings.TrimSpace(b.String())
	if utf8.RuneCountInString(out) > maxRunes {
		out = strings.TrimSpace(string([]rune(out)[:maxRunes]))
	}
	return out
}

// stripTags removes anything that looks like an HTML tag. An unterminated
// '<' drops the rest of the string, as tag strippers customarily do.
func stripTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// orDefault returns fallback when s is empty.
func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
