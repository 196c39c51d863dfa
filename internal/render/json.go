package render

import (
	"encoding/json"
	"io"
)

type jsonOutput struct {
	Sources []RenderedSource `json:"sources"`
	Total   int              `json:"total_posts"`
}

// JSONFormatter formats rendered sources as JSON.
type JSONFormatter struct{}

// NewJSON creates a JSON formatter.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

// Format writes the sources as indented JSON to w.
func (f *JSONFormatter) Format(w io.Writer, sources []RenderedSource) error {
	out := jsonOutput{Sources: sources}
	if out.Sources == nil {
		out.Sources = []RenderedSource{}
	}
	for _, s := range sources {
		out.Total += len(s.Posts)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(out)
}
