package privacy

import (
	"fmt"
	"regexp"

	"github.com/ppiankov/infoscape/internal/source"
)

const redactedPlaceholder = "[REDACTED]"

// Redactor masks configured patterns in post text before it is stored.
// A nil or empty Redactor leaves posts untouched.
type Redactor struct {
	patterns []*regexp.Regexp
}

// New compiles patterns into a Redactor. Returns an error naming the first
// invalid pattern.
func New(patterns []string) (*Redactor, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &Redactor{patterns: compiled}, nil
}

func (r *Redactor) Enabled() bool {
	return r != nil && len(r.patterns) > 0
}

// Apply replaces all pattern matches in text with [REDACTED].
func (r *Redactor) Apply(text string) string {
	if !r.Enabled() {
		return text
	}
	for _, re := range r.patterns {
		text = re.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}

// Post redacts heading and text. Link and timestamp form the identity of the
// post and are never rewritten.
func (r *Redactor) Post(p source.Post) source.Post {
	if !r.Enabled() {
		return p
	}
	p.Heading = r.Apply(p.Heading)
	p.Text = r.Apply(p.Text)
	return p
}
