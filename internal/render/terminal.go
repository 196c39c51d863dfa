package render

import (
	"fmt"
	"io"
)

// Formatter writes rendered sources to w.
type Formatter interface {
	Format(w io.Writer, sources []RenderedSource) error
}

// TerminalFormatter formats rendered sources for terminal output.
type TerminalFormatter struct {
	color bool
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color}
}

// Format writes one block per source, newest post first.
func (f *TerminalFormatter) Format(w io.Writer, sources []RenderedSource) error {
	if len(sources) == 0 {
		_, err := fmt.Fprintln(w, "No sources to show.")
		return err
	}

	for i, src := range sources {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s %s\n", f.bold(src.Title), f.dim(src.Link))

		if len(src.Posts) == 0 {
			fmt.Fprintln(w, f.dim("  no posts yet"))
			continue
		}
		for _, p := range src.Posts {
			summary := p.Summary
			if summary == "" {
				summary = "(no text)"
			}
			fmt.Fprintf(w, "  %s  %s\n", f.green(fmt.Sprintf("%5s", p.Date)), summary)
			fmt.Fprintf(w, "         %s\n", f.dim(p.Link))
		}
	}
	return nil
}

// ANSI helpers, no-op when color=false.

func (f *TerminalFormatter) bold(s string) string {
	if !f.color {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func (f *TerminalFormatter) green(s string) string {
	if !f.color {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func (f *TerminalFormatter) dim(s string) string {
	if !f.color {
		return s
	}
	return "\033[2m" + s + "\033[0m"
}
