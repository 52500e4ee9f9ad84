package utils

import "unicode/utf8"

// MaxErrorLen bounds error strings recorded on results and job items.
const MaxErrorLen = 200

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// ErrorText renders err truncated to MaxErrorLen, or "" for nil.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	return Truncate(err.Error(), MaxErrorLen)
}
