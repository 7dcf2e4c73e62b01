package util

import (
	"fmt"
	"unicode/utf8"
)

// MaxRowErrorLen caps the error excerpt persisted on a synced row. Full
// provider responses are available in the server logs.
const MaxRowErrorLen = 200

// MaxLogLen caps verbose log output (1KB) to control log growth while
// keeping enough context to diagnose provider failures.
const MaxLogLen = 1024

// Truncate shortens long strings, appending the original size.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateError shortens an error message to the row-error cap, backing
// off to a rune boundary so the persisted excerpt stays valid UTF-8.
func TruncateError(s string) string {
	if len(s) <= MaxRowErrorLen {
		return s
	}
	cut := MaxRowErrorLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
