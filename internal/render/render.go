// Package render projects stored posts into display-ready views.
package render

import (
	"html"
	"html/template"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ppiankov/infoscape/internal/source"
)

const (
	todayLayout = "15:04"
	dateLayout  = "01.02"
	lineBreak   = "<br>"
)

var imageLineRe = regexp.MustCompile(`^<img src="([^"]+)">(?:</img>)?$`)

// RenderedPost is the display projection of a post. Heading and HTML are
// sanitized and safe to embed in a page.
type RenderedPost struct {
	Date    string        `json:"date"`
	Link    string        `json:"link"`
	Summary string        `json:"summary"`
	Heading template.HTML `json:"heading"`
	HTML    template.HTML `json:"html"`
}

// RenderedSource groups the rendered posts of one source.
type RenderedSource struct {
	Title string         `json:"title"`
	Link  string         `json:"link"`
	Posts []RenderedPost `json:"posts"`
}

// Renderer formats posts for a fixed reference timezone. It holds no
// per-call state and is safe for concurrent use.
type Renderer struct {
	loc    *time.Location
	policy *bluemonday.Policy
}

func New(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}

	p := bluemonday.NewPolicy()
	p.AllowElements("br", "mark")
	p.AllowNoAttrs().OnElements("br", "mark")
	p.AllowAttrs("src").OnElements("img")
	p.AllowURLSchemes("http", "https")

	return &Renderer{loc: loc, policy: p}
}

// RenderPost projects one post. now decides between the time-of-day and the
// month.day date label.
func (r *Renderer) RenderPost(p source.Post, keywords []string, now time.Time) RenderedPost {
	return RenderedPost{
		Date:    r.dateLabel(p.Timestamp, now),
		Link:    p.Link,
		Summary: p.Heading,
		Heading: template.HTML(r.policy.Sanitize(highlight(p.Heading, keywordPattern(keywords)))),
		HTML:    template.HTML(r.policy.Sanitize(bodyHTML(p.Text))),
	}
}

func (r *Renderer) RenderSource(title, link string, posts []source.Post, keywords []string, now time.Time) RenderedSource {
	out := RenderedSource{Title: title, Link: link, Posts: make([]RenderedPost, 0, len(posts))}
	for _, p := range posts {
		out.Posts = append(out.Posts, r.RenderPost(p, keywords, now))
	}
	return out
}

func (r *Renderer) dateLabel(ts int64, now time.Time) string {
	local := time.Unix(ts, 0).In(r.loc)
	today := now.In(r.loc)

	ly, lm, ld := local.Date()
	ty, tm, td := today.Date()
	if ly == ty && lm == tm && ld == td {
		return local.Format(todayLayout)
	}
	return local.Format(dateLayout)
}

// bodyHTML escapes every text line and keeps image lines as <img> tags.
func bodyHTML(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if m := imageLineRe.FindStringSubmatch(line); m != nil {
			out = append(out, `<img src="`+html.EscapeString(html.UnescapeString(m[1]))+`">`)
			continue
		}
		out = append(out, html.EscapeString(line))
	}
	return strings.Join(out, lineBreak)
}

// keywordPattern matches any keyword case-insensitively, preferring longer
// keywords when several overlap. Returns nil when there is nothing to match.
func keywordPattern(keywords []string) *regexp.Regexp {
	quoted := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			quoted = append(quoted, regexp.QuoteMeta(kw))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	slices.SortFunc(quoted, func(a, b string) int { return len(b) - len(a) })
	return regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)
}

// highlight escapes s and wraps every match of re in <mark>.
func highlight(s string, re *regexp.Regexp) string {
	if re == nil {
		return html.EscapeString(s)
	}

	var b strings.Builder
	last := 0
	for _, m := range re.FindAllStringIndex(s, -1) {
		b.WriteString(html.EscapeString(s[last:m[0]]))
		b.WriteString("<mark>")
		b.WriteString(html.EscapeString(s[m[0]:m[1]]))
		b.WriteString("</mark>")
		last = m[1]
	}
	b.WriteString(html.EscapeString(s[last:]))
	return b.String()
}
