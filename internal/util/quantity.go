package util

import (
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// HumanSize formats a byte count with binary multiples, e.g. 1536 -> "1.5 KiB".
func HumanSize(n int64) string {
	return humanize.IBytes(uint64(max(n, 0)))
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
