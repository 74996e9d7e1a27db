package ingest

import (
	"regexp"
	"strings"

	lstrings "github.com/joss/lumina/internal/strings"
)

const (
	// MaxChars is the most document text, in runes, kept for a prompt.
	MaxChars = 300000
	// TruncationMarker is appended when a document is cut at MaxChars.
	TruncationMarker = "... (Document Truncated)"
)

// blankRun matches a line break, any whitespace-only lines, and the next
// break. Unicode space separators and BOMs count as whitespace.
var blankRun = regexp.MustCompile(`\n[\s\v\p{Zs}\x{2028}\x{2029}\x{FEFF}]*\n`)

// Normalize collapses runs of blank lines, trims, and caps the text at
// MaxChars. It reports whether the text was truncated and fails with
// ErrNoText when nothing but whitespace was extracted.
func Normalize(raw string) (string, bool, error) {
	if strings.TrimSpace(raw) == "" {
		return "", false, ErrNoText
	}
	text := strings.TrimSpace(blankRun.ReplaceAllString(raw, "\n\n"))
	text, cut := lstrings.Clip(text, MaxChars, TruncationMarker)
	return text, cut, nil
}
