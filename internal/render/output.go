package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/joss/lumina/internal/domain"
	lstrings "github.com/joss/lumina/internal/strings"
	"github.com/joss/lumina/pkg/llm"
)

// snippetPreview is how much of a source snippet is shown inline.
const snippetPreview = 80

// Renderer prints chat output for a terminal. With pretty off it emits
// plain text without colour or icons.
type Renderer struct {
	out    io.Writer
	pretty bool
	width  int

	// midLine is set while an answer is being streamed without a newline.
	midLine bool
}

// New creates a renderer. width wraps transcripts; zero disables wrapping.
func New(out io.Writer, pretty bool, width int) *Renderer {
	return &Renderer{out: out, pretty: pretty, width: width}
}

func (r *Renderer) paint(fn func(string, ...any) string, s string) string {
	if !r.pretty {
		return s
	}
	return fn("%s", s)
}

// Prompt returns the input prompt.
func (r *Renderer) Prompt() string {
	return r.paint(color.CyanString, "you> ")
}

// Event renders one streamed event. Content is written as it arrives.
func (r *Renderer) Event(ev domain.Event) {
	switch ev.Type {
	case domain.EventStatus:
		fmt.Fprintln(r.out, r.paint(color.HiBlackString, "lumina is "+ev.Content))
	case domain.EventContent:
		fmt.Fprint(r.out, ev.Content)
		r.midLine = !strings.HasSuffix(ev.Content, "\n")
	case domain.EventSources:
		r.endLine()
		fmt.Fprint(r.out, r.Sources(ev.Sources))
	case domain.EventError:
		r.endLine()
		fmt.Fprintln(r.out, r.Error(ev.Detail))
	case domain.EventDone:
		r.endLine()
	}
}

func (r *Renderer) endLine() {
	if r.midLine {
		fmt.Fprintln(r.out)
		r.midLine = false
	}
}

// Sources formats citations.
func (r *Renderer) Sources(sources []domain.Source) string {
	if len(sources) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(r.paint(color.CyanString, "Sources:") + "\n")
	for _, s := range sources {
		page := fmt.Sprintf("p.%d", s.Page)
		fmt.Fprintf(&sb, "  %s  %s\n", r.paint(color.YellowString, page), lstrings.Preview(oneLine(s.Snippet), snippetPreview))
	}
	return sb.String()
}

// Error formats an error message.
func (r *Renderer) Error(detail string) string {
	if !r.pretty {
		return "error: " + detail
	}
	return color.RedString("✗ %s", detail)
}

// Success formats a confirmation.
func (r *Renderer) Success(msg string) string {
	if !r.pretty {
		return msg
	}
	return color.GreenString("✓ ") + msg
}

// Upload summarizes an ingested document.
func (r *Renderer) Upload(filename, text string) string {
	chars := len([]rune(text))
	msg := fmt.Sprintf("%s: %d characters extracted", filename, chars)
	if strings.HasSuffix(text, "... (Document Truncated)") {
		msg += " (truncated)"
	}
	return r.Success(msg)
}

// Transcript formats a conversation.
func (r *Renderer) Transcript(msgs []domain.ChatMessage) string {
	if len(msgs) == 0 {
		return "No messages yet"
	}
	var sb strings.Builder
	for _, m := range msgs {
		label := "you"
		paint := color.CyanString
		if m.Role == domain.ChatRoleAssistant {
			label = "lumina"
			paint = color.MagentaString
		}
		if m.Failed {
			label += " (failed)"
		}
		sb.WriteString(r.paint(paint, label+":") + "\n")
		sb.WriteString(lstrings.WordWrap(m.Content, r.width) + "\n")
		sb.WriteString(r.Sources(m.Sources))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Providers lists completion providers and their models, marking active.
func (r *Renderer) Providers(providers []llm.Provider, active string) string {
	var sb strings.Builder
	for _, p := range providers {
		marker := " "
		if p.ID() == active {
			marker = r.paint(color.GreenString, "*")
		}
		fmt.Fprintf(&sb, "%s %s (%s)\n", marker, r.paint(color.CyanString, p.Name()), p.ID())
		for i, m := range p.Models() {
			suffix := ""
			if i == 0 {
				suffix = " [default]"
			}
			fmt.Fprintf(&sb, "    %s  %s%s\n", m.ID, r.paint(color.HiBlackString, fmt.Sprintf("%dk context", m.ContextSize/1000)), suffix)
		}
	}
	return sb.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
