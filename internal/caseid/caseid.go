// Package caseid validates and expands the 8-character case identifiers
// operators type into the chat.
package caseid

import (
	"regexp"
)

// Length is the number of hex characters in a partial case identifier.
const Length = 8

var promptRe = regexp.MustCompile(`(?i)\bcase(?:[\s_]*id)?[:\s#]*?([0-9a-f]{8})\b`)

// Valid reports whether s is exactly eight ASCII hex digits.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isHex(s[i]) {
			return false
		}
	}
	return true
}

func isHex(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'a' && c <= 'f':
		return true
	case c >= 'A' && c <= 'F':
		return true
	}
	return false
}

// Pattern expands a partial identifier into the prefix-match argument used
// with `case_id LIKE ?`.
func Pattern(id string) string {
	return id + "%"
}

// Extract returns the first case identifier mentioned in a free-text prompt,
// e.g. "summarize case 1a2b3c4d" or "case_id: 1A2B3C4D". Later mentions are
// ignored.
func Extract(text string) (string, bool) {
	m := promptRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
