package strutil

import (
	"strings"
	"unicode/utf8"
)

// TruncateUTF8 returns the longest prefix of s that is at most maxBytes
// bytes and does not split a multi-byte UTF-8 character.
func TruncateUTF8(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

// Preview flattens whitespace runs to single spaces and truncates the result
// to maxBytes, marking cut text with "...".
func Preview(s string, maxBytes int) string {
	flat := strings.Join(strings.Fields(s), " ")
	if maxBytes <= 0 || len(flat) <= maxBytes {
		return flat
	}
	const marker = "..."
	if maxBytes <= len(marker) {
		return TruncateUTF8(flat, maxBytes)
	}
	return TruncateUTF8(flat, maxBytes-len(marker)) + marker
}

