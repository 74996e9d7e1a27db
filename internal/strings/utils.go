// Package strings provides rune-aware text helpers shared by the service
// and the terminal client.
package strings

import (
	"strings"
	"unicode/utf8"
)

// Head returns the first n runes of s. It never splits a multi-byte rune.
func Head(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Clip shortens s to at most n runes, appending marker when anything was
// removed. The marker is not counted against n. It reports whether s was cut.
func Clip(s string, n int, marker string) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	return Head(s, n) + marker, true
}

// Preview shortens s for log output, ending in "..." when cut.
func Preview(s string, n int) string {
	if n < 4 {
		n = 4
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return Head(s, n-3) + "..."
}

// WordWrap wraps text to width columns on word boundaries, keeping existing
// newlines. Words longer than width sit on their own line. ANSI escape
// sequences do not count toward the width.
func WordWrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if visibleLength(line) > width {
			lines[i] = wrapLine(line, width)
		}
	}
	return strings.Join(lines, "\n")
}

func wrapLine(line string, width int) string {
	var b strings.Builder
	col := 0
	for _, word := range strings.Fields(line) {
		n := visibleLength(word)
		switch {
		case col == 0:
		case col+1+n > width:
			b.WriteByte('\n')
			col = 0
		default:
			b.WriteByte(' ')
			col++
		}
		b.WriteString(word)
		col += n
	}
	return b.String()
}

// visibleLength counts runes outside ANSI escape sequences.
func visibleLength(s string) int {
	inEscape := false
	count := 0
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
		default:
			count++
		}
	}
	return count
}
