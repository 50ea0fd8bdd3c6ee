// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import "strings"

// TruncateRunes truncates s to at most max runes, with no ellipsis.
// Rune-based so multi-byte input is never split mid-character.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// TruncateWithEllipsis truncates s to at most max runes, replacing
// the tail with "..." when anything was cut.
func TruncateWithEllipsis(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// CollapseWhitespace trims s and collapses every internal run of
// whitespace (including newlines) into a single space. Used when a
// multi-line prompt becomes a one-line title or preview.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
