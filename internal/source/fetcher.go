package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultHostInterval = time.Second
	DefaultUserAgent    = "Mozilla/5.0 (compatible; infoscape/1.0; +https://github.com/ppiankov/infoscape)"
	maxPageBytes        = 10 << 20
)

// ErrFetch is matched by every *FetchError.
var ErrFetch = errors.New("fetch failed")

// ErrPageTooLarge is wrapped by a *FetchError when the body exceeds the size limit.
var ErrPageTooLarge = errors.New("page exceeds size limit")

// FetchError describes a failed page retrieval.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetch}
	}
	return []error{ErrFetch, e.Err}
}

// FetcherOptions configures a Fetcher. Zero Timeout, UserAgent and
// MaxPageBytes fall back to defaults; a zero HostInterval disables per-host
// spacing.
type FetcherOptions struct {
	Timeout      time.Duration
	UserAgent    string
	HostInterval time.Duration
	MaxPageBytes int64
	Transport    http.RoundTripper
}

// Fetcher downloads channel pages over HTTP. Requests to the same host are
// spaced at least HostInterval apart; the fetcher is safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	interval time.Duration
	maxBytes int64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxPageBytes <= 0 {
		opts.MaxPageBytes = maxPageBytes
	}
	if opts.HostInterval < 0 {
		opts.HostInterval = 0
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	return &Fetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: &userAgentTransport{base: base, userAgent: opts.UserAgent},
		},
		interval: opts.HostInterval,
		maxBytes: opts.MaxPageBytes,
		limiters: make(map[string]*rate.Limiter),
	}
}

// userAgentTransport injects a User-Agent header into every request.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

// Fetch returns the page body at pageURL decoded to UTF-8.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return nil, &FetchError{URL: pageURL, Err: errors.New("invalid url")}
	}

	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(raw)) > f.maxBytes {
		return nil, &FetchError{URL: pageURL, Err: fmt.Errorf("%w (%d bytes)", ErrPageTooLarge, f.maxBytes)}
	}

	body, err := charset.NewReader(bytes.NewReader(raw), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: fmt.Errorf("decode charset: %w", err)}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: fmt.Errorf("decode body: %w", err)}
	}
	return data, nil
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.limiters[host]; ok {
		return l
	}
	limit := rate.Inf
	if f.interval > 0 {
		limit = rate.Every(f.interval)
	}
	l := rate.NewLimiter(limit, 1)
	f.limiters[host] = l
	return l
}
