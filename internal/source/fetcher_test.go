package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetcher_SetsUserAgent(t *testing.T) {
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{UserAgent: "infoscape-test/1.0", HostInterval: -1})
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != "<html>ok</html>" {
		t.Errorf("body = %q", body)
	}
	if ua, _ := gotUA.Load().(string); ua != "infoscape-test/1.0" {
		t.Errorf("user-agent = %q", ua)
	}
}

func TestFetcher_DefaultUserAgent(t *testing.T) {
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{})
	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if ua, _ := gotUA.Load().(string); ua != DefaultUserAgent {
		t.Errorf("user-agent = %q, want default", ua)
	}
}

func TestFetcher_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{})
	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusBadGateway {
		t.Errorf("err = %#v, want status 502", err)
	}
	if !strings.Contains(err.Error(), "HTTP 502") {
		t.Errorf("error = %q, want containing 'HTTP 502'", err)
	}
}

func TestFetcher_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{Timeout: 50 * time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
}

func TestFetcher_InvalidURL(t *testing.T) {
	f := NewFetcher(FetcherOptions{})
	_, err := f.Fetch(context.Background(), "not a url")
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
}

func TestFetcher_DecodesCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1251")
		// "Привет" in windows-1251
		_, _ = w.Write([]byte{0xcf, 0xf0, 0xe8, 0xe2, 0xe5, 0xf2})
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{})
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != "Привет" {
		t.Errorf("body = %q, want Привет", body)
	}
}

func TestFetcher_HostRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{HostInterval: time.Hour})
	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := f.Fetch(ctx, srv.URL); !errors.Is(err, ErrFetch) {
		t.Fatalf("second fetch err = %v, want rate-limited ErrFetch", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestFetcher_PageSizeLimit(t *testing.T) {
	body := strings.Repeat("a", 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{MaxPageBytes: 63})
	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrFetch) || !errors.Is(err, ErrPageTooLarge) {
		t.Fatalf("err = %v, want ErrFetch and ErrPageTooLarge", err)
	}

	f = NewFetcher(FetcherOptions{MaxPageBytes: 64})
	got, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch at limit: %v", err)
	}
	if string(got) != body {
		t.Errorf("body length = %d, want 64", len(got))
	}
}
