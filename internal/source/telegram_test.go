package source

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func messageBlock(link, datetime string, texts ...string) string {
	var b strings.Builder
	b.WriteString(`<div class="tgme_widget_message_wrap js-widget_message_wrap"><div class="tgme_widget_message" data-post="x/1">`)
	for _, text := range texts {
		fmt.Fprintf(&b, `<div class="tgme_widget_message_text js-message_text" dir="auto">%s</div>`, text)
	}
	fmt.Fprintf(&b, `<div class="tgme_widget_message_footer"><a class="tgme_widget_message_date" href="%s"><time datetime="%s" class="time">22:08</time></a></div>`, link, datetime)
	b.WriteString(`</div></div>`)
	return b.String()
}

func page(blocks ...string) string {
	return `<!DOCTYPE html><html><head><title>channel</title></head><body><section class="tgme_channel_history">` +
		strings.Join(blocks, "\n") + `</section></body></html>`
}

func parsePage(t *testing.T, sourceID, html string) []Post {
	t.Helper()
	seq, err := ParseTelegram(sourceID, strings.NewReader(html), discardLogger)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return slices.Collect(seq)
}

func blockSelection(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return doc.Selection
}

func TestParseTelegram_SinglePost(t *testing.T) {
	posts := parsePage(t, "x", page(messageBlock("https://t.me/x/3", "2022-05-24T19:08:13+00:00", "hello world")))

	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(posts))
	}
	want := Post{
		SourceID:  "x",
		Link:      "https://t.me/x/3",
		Timestamp: 1653419293,
		Heading:   "hello world",
		Text:      "hello world",
	}
	if posts[0] != want {
		t.Errorf("post = %+v, want %+v", posts[0], want)
	}
}

func TestParseTelegram_MalformedBlockIsolated(t *testing.T) {
	broken := `<div class="tgme_widget_message_wrap"><div class="tgme_widget_message_text">no date here</div></div>`
	html := page(
		messageBlock("https://t.me/x/1", "2022-05-24T10:00:00+00:00", "one"),
		messageBlock("https://t.me/x/2", "2022-05-24T11:00:00+00:00", "two"),
		broken,
		messageBlock("https://t.me/x/4", "2022-05-24T13:00:00+00:00", "four"),
		messageBlock("https://t.me/x/5", "2022-05-24T14:00:00+00:00", "five"),
	)

	posts := parsePage(t, "x", html)
	if len(posts) != 4 {
		t.Fatalf("got %d posts, want 4", len(posts))
	}

	var links []string
	for _, p := range posts {
		links = append(links, p.Link)
	}
	want := []string{"https://t.me/x/1", "https://t.me/x/2", "https://t.me/x/4", "https://t.me/x/5"}
	if !slices.Equal(links, want) {
		t.Errorf("links = %v, want %v", links, want)
	}
}

func TestParseTelegram_BadDatetimeAndMissingHref(t *testing.T) {
	noHref := `<div class="tgme_widget_message_wrap"><a class="tgme_widget_message_date"><time datetime="2022-05-24T19:08:13+00:00"></time></a></div>`
	html := page(
		messageBlock("https://t.me/x/1", "yesterday", "bad date"),
		noHref,
		messageBlock("https://t.me/x/3", "2022-05-24T19:08:13+00:00", "good"),
	)

	posts := parsePage(t, "x", html)
	if len(posts) != 1 || posts[0].Link != "https://t.me/x/3" {
		t.Fatalf("posts = %+v, want only x/3", posts)
	}
}

func TestParseTelegram_QuoteNesting(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		want  string
	}{
		{
			name:  "reply",
			texts: []string{"oldest line", "newest line"},
			want:  "newest line\n\n> oldest line",
		},
		{
			name:  "three messages",
			texts: []string{"first", "second", "third"},
			want:  "third\n\n> second\n\n>> first",
		},
		{
			name:  "four messages multi-line",
			texts: []string{"a1<br>a2", "b", "c", "d"},
			want:  "d\n\n> c\n\n>> b\n\n>>> a1\n>>> a2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts := parsePage(t, "x", page(messageBlock("https://t.me/x/9", "2022-05-24T19:08:13+00:00", tt.texts...)))
			if len(posts) != 1 {
				t.Fatalf("got %d posts, want 1", len(posts))
			}
			if posts[0].Text != tt.want {
				t.Errorf("text = %q, want %q", posts[0].Text, tt.want)
			}
		})
	}
}

func TestParseTelegram_QuoteDepthGrowsByOne(t *testing.T) {
	posts := parsePage(t, "x", page(messageBlock("https://t.me/x/9", "2022-05-24T19:08:13+00:00", "m0", "m1", "m2", "m3")))
	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(posts))
	}

	messages := strings.Split(posts[0].Text, "\n\n")
	if len(messages) != 4 {
		t.Fatalf("got %d messages, want 4: %q", len(messages), posts[0].Text)
	}
	for depth, msg := range messages {
		wantPrefix := ""
		if depth > 0 {
			wantPrefix = strings.Repeat(">", depth) + " "
		}
		if !strings.HasPrefix(msg, wantPrefix) || strings.HasPrefix(msg, wantPrefix+">") {
			t.Errorf("message %d = %q, want prefix %q", depth, msg, wantPrefix)
		}
	}
}

func TestParseTelegram_WhitespaceNormalization(t *testing.T) {
	text := "  hello \u200b  world <br/><br>  <b>bold</b>\ttext\n\n   <br> \u200b<br>tail "
	posts := parsePage(t, "x", page(messageBlock("https://t.me/x/1", "2022-05-24T19:08:13+00:00", text)))
	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(posts))
	}

	want := "hello world\nbold text\ntail"
	if posts[0].Text != want {
		t.Errorf("text = %q, want %q", posts[0].Text, want)
	}
	for _, line := range strings.Split(posts[0].Text, "\n") {
		if strings.TrimSpace(line) == "" {
			t.Errorf("blank line in output: %q", posts[0].Text)
		}
	}
}

func TestParseTelegram_ImageOnly(t *testing.T) {
	block := `<div class="tgme_widget_message_wrap"><div class="tgme_widget_message">` +
		`<a class="tgme_widget_message_photo_wrap 123 45_67" href="#" style="width:794px;background-image:url('https://cdn4.telegram-cdn.org/file/JYf.jpg')">` +
		`<div class="tgme_widget_message_photo" style="padding-top:48.11%"></div></a>` +
		`<a class="tgme_widget_message_date" href="https://t.me/x/7"><time datetime="2022-05-24T19:08:13+00:00"></time></a>` +
		`</div></div>`

	posts := parsePage(t, "x", page(block))
	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(posts))
	}
	if posts[0].Text != `<img src="https://cdn4.telegram-cdn.org/file/JYf.jpg"></img>` {
		t.Errorf("text = %q", posts[0].Text)
	}
	if posts[0].Heading != "" {
		t.Errorf("heading = %q, want empty", posts[0].Heading)
	}
}

func TestParseTelegram_TextWithImage(t *testing.T) {
	block := `<div class="tgme_widget_message_wrap">` +
		`<a class="tgme_widget_message_photo_wrap" style="background-image:url('https://cdn/p.jpg')"></a>` +
		`<div class="tgme_widget_message_text">caption</div>` +
		`<a class="tgme_widget_message_date" href="https://t.me/x/8"><time datetime="2022-05-24T19:08:13+00:00"></time></a>` +
		`</div>`

	posts := parsePage(t, "x", page(block))
	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(posts))
	}
	if posts[0].Text != "caption\n<img src=\"https://cdn/p.jpg\"></img>" {
		t.Errorf("text = %q", posts[0].Text)
	}
	if posts[0].Heading != "caption" {
		t.Errorf("heading = %q, want caption", posts[0].Heading)
	}
}

func TestParseTelegram_NoBody(t *testing.T) {
	posts := parsePage(t, "x", page(messageBlock("https://t.me/x/1", "2022-05-24T19:08:13+00:00")))
	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(posts))
	}
	if posts[0].Text != "" || posts[0].Heading != "" {
		t.Errorf("post = %+v, want empty text and heading", posts[0])
	}
}

func TestParseTelegram_EmptyContainer(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		want  string
	}{
		{"empty quote", []string{"", "only"}, "only"},
		{"empty newest", []string{"quoted", ""}, "> quoted"},
		{"whitespace between", []string{"a", " \n <br> ", "c"}, "c\n\n>> a"},
		{"all empty", []string{"", "<br>"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts := parsePage(t, "x", page(messageBlock("https://t.me/x/4", "2022-05-24T19:08:13+00:00", tt.texts...)))
			if len(posts) != 1 {
				t.Fatalf("got %d posts, want 1", len(posts))
			}
			if posts[0].Text != tt.want {
				t.Errorf("text = %q, want %q", posts[0].Text, tt.want)
			}
			if tt.want == "" {
				return
			}
			parts := strings.Split(posts[0].Text, "\n\n")
			for _, part := range parts {
				if strings.TrimSpace(part) == "" {
					t.Errorf("blank message part in %q", posts[0].Text)
				}
			}
		})
	}
}

func TestParseTelegram_EmptyContainerWithImage(t *testing.T) {
	block := `<div class="tgme_widget_message_wrap">` +
		`<a class="tgme_widget_message_photo_wrap" style="background-image:url('https://cdn/p.jpg')"></a>` +
		`<div class="tgme_widget_message_text"></div>` +
		`<div class="tgme_widget_message_text">only</div>` +
		`<a class="tgme_widget_message_date" href="https://t.me/x/8"><time datetime="2022-05-24T19:08:13+00:00"></time></a>` +
		`</div>`

	posts := parsePage(t, "x", page(block))
	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(posts))
	}
	if posts[0].Text != "only\n<img src=\"https://cdn/p.jpg\"></img>" {
		t.Errorf("text = %q", posts[0].Text)
	}
	if posts[0].Heading != "only" {
		t.Errorf("heading = %q, want only", posts[0].Heading)
	}
}

func TestParseTelegram_SinglePass(t *testing.T) {
	html := page(
		messageBlock("https://t.me/x/1", "2022-05-24T10:00:00+00:00", "one"),
		messageBlock("https://t.me/x/2", "2022-05-24T11:00:00+00:00", "two"),
	)
	seq, err := ParseTelegram("x", strings.NewReader(html), discardLogger)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if got := len(slices.Collect(seq)); got != 2 {
		t.Fatalf("first pass: got %d posts, want 2", got)
	}
	if got := len(slices.Collect(seq)); got != 0 {
		t.Errorf("second pass: got %d posts, want 0", got)
	}
}

func TestParseTelegram_StopEarly(t *testing.T) {
	html := page(
		messageBlock("https://t.me/x/1", "2022-05-24T10:00:00+00:00", "one"),
		messageBlock("https://t.me/x/2", "2022-05-24T11:00:00+00:00", "two"),
		messageBlock("https://t.me/x/3", "2022-05-24T12:00:00+00:00", "three"),
	)
	seq, err := ParseTelegram("x", strings.NewReader(html), discardLogger)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	count := 0
	for range seq {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestParseTelegram_EmptyPage(t *testing.T) {
	posts := parsePage(t, "x", "<html><body>nothing</body></html>")
	if len(posts) != 0 {
		t.Errorf("got %d posts, want 0", len(posts))
	}
}

func TestPickHeading(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"plain", "first\nsecond", "first"},
		{"single tag skipped", "#tag\nreal heading\nmore", "real heading"},
		{"two word tag skipped", "#daily digest\nnews", "news"},
		{"long tag line kept", "#tag with words\nnext", "#tag with words"},
		{"consecutive tags", "#a\n#b\ncontent", "content"},
		{"only tags", "#a\n#b", "#b"},
		{"tag then quoted message", "#tag\n\n> quoted", "> quoted"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickHeading(tt.body); got != tt.want {
				t.Errorf("pickHeading(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestBlockTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		want    int64
		wantErr bool
	}{
		{
			name: "utc offset",
			html: `<a class="tgme_widget_message_date" href="#"><time datetime="2022-05-24T19:08:13+00:00" class="time">22:08</time></a>`,
			want: 1653419293,
		},
		{
			name: "non-utc offset",
			html: `<a class="tgme_widget_message_date" href="#"><time datetime="2022-05-24T22:08:13+03:00"></time></a>`,
			want: 1653419293,
		},
		{
			name: "compact offset",
			html: `<a class="tgme_widget_message_date" href="#"><time datetime="2022-05-24T19:08:13+0000"></time></a>`,
			want: 1653419293,
		},
		{
			name:    "other element",
			html:    `<div class="other_tag" href="#"></div>`,
			wantErr: true,
		},
		{
			name:    "no time element",
			html:    `<a class="tgme_widget_message_date" href="#">22:08</a>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := blockTimestamp(blockSelection(t, tt.html))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("timestamp = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBlockLink(t *testing.T) {
	link, ok := blockLink(blockSelection(t, `<a class="tgme_widget_message_date" href="https://t.me/infoscape_test/3"><time datetime="2022-05-24T19:08:13+00:00">22:08</time></a>`))
	if !ok || link != "https://t.me/infoscape_test/3" {
		t.Errorf("link = %q, %v", link, ok)
	}

	if _, ok := blockLink(blockSelection(t, `<a class="other_tag" href="https://t.me/infoscape_test/3"></a>`)); ok {
		t.Error("expected no link for other element")
	}
}

func TestBlockImageURL(t *testing.T) {
	html := `<a class="tgme_widget_message_photo_wrap 123 45_67" href="#" style="width:794px;background-image:url('https://cdn4.telegram-cdn.org/file/JYf.jpg')">
		<div class="tgme_widget_message_photo" style="padding-top:48.110831234257%"></div>
	</a>`
	got, ok := blockImageURL(blockSelection(t, html))
	if !ok || got != "https://cdn4.telegram-cdn.org/file/JYf.jpg" {
		t.Errorf("image url = %q, %v", got, ok)
	}

	if _, ok := blockImageURL(blockSelection(t, `<div class="other_tag" href="#"></div>`)); ok {
		t.Error("expected no image url")
	}
}

func TestExtractPost_MalformedError(t *testing.T) {
	sel := blockSelection(t, `<div class="tgme_widget_message_wrap"></div>`).Find(blockSelector)
	_, err := extractPost("x", 2, sel)
	if !errors.Is(err, ErrMalformedBlock) {
		t.Fatalf("err = %v, want ErrMalformedBlock", err)
	}
	var be *BlockError
	if !errors.As(err, &be) || be.Index != 2 {
		t.Errorf("err = %#v, want BlockError index 2", err)
	}
}

func TestParse_Dispatch(t *testing.T) {
	seq, err := Parse(ParserTelegram, "x", strings.NewReader(page(messageBlock("https://t.me/x/1", "2022-05-24T19:08:13+00:00", "hi"))), discardLogger)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := len(slices.Collect(seq)); got != 1 {
		t.Errorf("got %d posts, want 1", got)
	}

	_, err = Parse("rss", "x", strings.NewReader(""), discardLogger)
	if !errors.Is(err, ErrUnknownParser) {
		t.Errorf("err = %v, want ErrUnknownParser", err)
	}
}
