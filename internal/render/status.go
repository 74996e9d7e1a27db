package render

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// fieldWidth aligns Field values.
const fieldWidth = 8

// Section formats a heading for status output.
func (r *Renderer) Section(title string) string {
	return r.paint(color.New(color.Bold).SprintfFunc(), strings.ToUpper(title)+":")
}

// Field formats an indented label and value.
func (r *Renderer) Field(label, value string) string {
	return fmt.Sprintf("  %-*s %s", fieldWidth, label, value)
}

// Check formats a pass or fail line.
func (r *Renderer) Check(ok bool, label string) string {
	if !r.pretty {
		if ok {
			return "  [ok] " + label
		}
		return "  [--] " + label
	}
	if ok {
		return "  " + color.GreenString("✓") + " " + label
	}
	return "  " + color.RedString("✗") + " " + label
}
