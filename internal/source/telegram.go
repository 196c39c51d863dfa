package source

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/ppiankov/infoscape/internal/metrics"
)

// Markup of the public channel preview (t.me/s/<channel>).
const (
	blockSelector     = "div.tgme_widget_message_wrap"
	dateSelector      = "a.tgme_widget_message_date"
	textSelector      = "div.tgme_widget_message_text"
	photoSelector     = "a.tgme_widget_message_photo_wrap"
	blockExcerptLimit = 300
)

var (
	backgroundImageRe = regexp.MustCompile(`background-image\s*:\s*url\(\s*['"]?([^'")]+)['"]?\s*\)`)
	invisibleReplacer = strings.NewReplacer(
		"\u200b", "",
		"\u200c", "",
		"\u200d", "",
		"\u2060", "",
		"\ufeff", "",
	)
	timestampLayouts = []string{time.RFC3339, "2006-01-02T15:04:05-0700"}
)

// ParseTelegram extracts posts from a channel preview page. Every message
// block is handled on its own: a block without a date or link is logged and
// skipped. The returned sequence is lazy and can be ranged over only once.
func ParseTelegram(sourceID string, r io.Reader, logger *slog.Logger) (iter.Seq[Post], error) {
	if logger == nil {
		logger = slog.Default()
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("telegram: parse html: %w", err)
	}

	blocks := doc.Find(blockSelector)
	var consumed atomic.Bool

	return func(yield func(Post) bool) {
		if consumed.Swap(true) {
			return
		}
		for i := range blocks.Length() {
			block := blocks.Eq(i)
			post, err := extractPost(sourceID, i, block)
			if err != nil {
				logger.Warn("skip message block",
					"source", sourceID,
					"error", err,
					"block", blockExcerpt(block))
				metrics.RecordMalformedBlock(sourceID)
				continue
			}
			if !yield(post) {
				return
			}
		}
	}, nil
}

func extractPost(sourceID string, index int, block *goquery.Selection) (Post, error) {
	ts, err := blockTimestamp(block)
	if err != nil {
		return Post{}, &BlockError{Index: index, Reason: err.Error()}
	}

	link, ok := blockLink(block)
	if !ok {
		return Post{}, &BlockError{Index: index, Reason: "no message link"}
	}

	post := Post{
		SourceID:  sourceID,
		Link:      link,
		Timestamp: ts,
	}

	if body, ok := blockBody(block); ok {
		post.Text = body
		post.Heading = pickHeading(body)
	}

	if imageURL, ok := blockImageURL(block); ok {
		img := fmt.Sprintf(`<img src="%s"></img>`, imageURL)
		if post.Text == "" {
			post.Text = img
		} else {
			post.Text += "\n" + img
		}
	}

	return post, nil
}

func blockTimestamp(block *goquery.Selection) (int64, error) {
	date := block.Find(dateSelector).First()
	if date.Length() == 0 {
		return 0, errors.New("no date element")
	}
	raw, ok := date.Find("time").First().Attr("datetime")
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, errors.New("no datetime attribute")
	}
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("invalid datetime %q", raw)
}

func blockLink(block *goquery.Selection) (string, bool) {
	href, ok := block.Find(dateSelector).First().Attr("href")
	href = strings.TrimSpace(href)
	return href, ok && href != ""
}

// blockBody joins all text containers of a block. The last container is the
// message itself; earlier ones are quoted replies and get a deeper "> "
// prefix the further back they are. Empty containers contribute no text but
// still count towards the depth of older ones.
func blockBody(block *goquery.Selection) (string, bool) {
	var messages [][]string
	block.Find(textSelector).Each(func(_ int, s *goquery.Selection) {
		messages = append(messages, extractLines(s))
	})

	parts := make([]string, 0, len(messages))
	prefix := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if len(messages[i]) > 0 {
			lines := make([]string, len(messages[i]))
			for j, line := range messages[i] {
				lines[j] = prefix + line
			}
			parts = append(parts, strings.Join(lines, "\n"))
		}
		prefix = nextQuotePrefix(prefix)
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n\n"), true
}

func nextQuotePrefix(prefix string) string {
	if prefix == "" {
		return "> "
	}
	return ">" + prefix
}

// extractLines returns the non-empty, whitespace-normalized lines of a text
// container. <br> elements act as line breaks; other text nodes are joined
// with a single space.
func extractLines(s *goquery.Selection) []string {
	var chunks []string
	for _, node := range s.Nodes {
		collectText(node, &chunks)
	}

	raw := strings.Join(chunks, " ")
	raw = strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(raw)

	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.Join(strings.Fields(invisibleReplacer.Replace(line)), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func collectText(n *html.Node, chunks *[]string) {
	switch n.Type {
	case html.TextNode:
		*chunks = append(*chunks, n.Data)
		return
	case html.ElementNode:
		if n.Data == "br" {
			*chunks = append(*chunks, "\n")
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, chunks)
	}
}

// pickHeading returns the first body line, moving on while the current
// candidate is only a short hashtag line such as "#news" or "#daily digest".
func pickHeading(body string) string {
	heading := ""
	for _, line := range strings.Split(body, "\n") {
		if heading == "" || isTagLine(heading) {
			heading = line
			continue
		}
		break
	}
	return heading
}

func isTagLine(line string) bool {
	return strings.HasPrefix(line, "#") && len(strings.Fields(line)) < 3
}

func blockImageURL(block *goquery.Selection) (string, bool) {
	style, ok := block.Find(photoSelector).First().Attr("style")
	if !ok {
		return "", false
	}
	for _, decl := range strings.Split(style, ";") {
		if m := backgroundImageRe.FindStringSubmatch(decl); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

func blockExcerpt(block *goquery.Selection) string {
	raw, err := goquery.OuterHtml(block)
	if err != nil {
		return ""
	}
	raw = strings.Join(strings.Fields(raw), " ")
	if len(raw) > blockExcerptLimit {
		return raw[:blockExcerptLimit] + "…"
	}
	return raw
}
