package shared

import "unicode/utf8"

// Tail returns at most the last n bytes of s, never starting mid-rune.
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
