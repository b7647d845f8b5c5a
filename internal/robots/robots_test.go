package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/crawlcore/ingestion/internal/kv"
)

func serverWithRobots(body string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})
	return httptest.NewServer(mux)
}

// testHTTPDoer rewrites requests to hit the test server regardless of the
// https://<domain>/robots.txt host the Registry constructs, since
// httptest.Server always listens on 127.0.0.1.
type testHTTPDoer struct {
	server *httptest.Server
}

func (d testHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	target := d.server.URL + "/robots.txt"
	newReq, err := http.NewRequestWithContext(req.Context(), req.Method, target, nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(newReq)
}

func TestIsAllowedDefaultsTrueWithNoRobots(t *testing.T) {
	server := serverWithRobots("")
	defer server.Close()
	reg := New(kv.NewMemoryStore(), testHTTPDoer{server}, "test-agent")
	if !reg.IsAllowed(context.Background(), "test-agent", "https://example.com/private/x") {
		t.Errorf("expected allow by default with empty robots.txt")
	}
}

func TestIsAllowedDisallow(t *testing.T) {
	server := serverWithRobots("User-agent: *\nDisallow: /private/\n")
	defer server.Close()
	reg := New(kv.NewMemoryStore(), testHTTPDoer{server}, "test-agent")
	if reg.IsAllowed(context.Background(), "test-agent", "https://example.com/private/x") {
		t.Errorf("expected disallow for /private/x")
	}
	if !reg.IsAllowed(context.Background(), "test-agent", "https://example.com/public/x") {
		t.Errorf("expected allow for /public/x")
	}
}

func TestIsAllowedLongestMatchWins(t *testing.T) {
	server := serverWithRobots("User-agent: *\nDisallow: /a/\nAllow: /a/b/\n")
	defer server.Close()
	reg := New(kv.NewMemoryStore(), testHTTPDoer{server}, "test-agent")
	if !reg.IsAllowed(context.Background(), "test-agent", "https://example.com/a/b/c") {
		t.Errorf("expected the longer Allow rule to win over the shorter Disallow")
	}
	if reg.IsAllowed(context.Background(), "test-agent", "https://example.com/a/x") {
		t.Errorf("expected the Disallow rule to apply outside the Allow prefix")
	}
}

func TestCrawlDelay(t *testing.T) {
	server := serverWithRobots("User-agent: *\nCrawl-delay: 2\n")
	defer server.Close()
	reg := New(kv.NewMemoryStore(), testHTTPDoer{server}, "test-agent")
	delay := reg.CrawlDelay(context.Background(), "test-agent", "example.com")
	if delay.Seconds() != 2 {
		t.Errorf("CrawlDelay = %v, want 2s", delay)
	}
}

func TestRobotsBodyIsCached(t *testing.T) {
	hits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("User-agent: *\nDisallow: /x\n"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	reg := New(kv.NewMemoryStore(), testHTTPDoer{server}, "test-agent")
	ctx := context.Background()
	reg.IsAllowed(ctx, "test-agent", "https://example.com/x")
	reg.IsAllowed(ctx, "test-agent", "https://example.com/y")
	if hits != 1 {
		t.Errorf("robots.txt fetched %d times, want 1 (cache hit on second call)", hits)
	}
}

func TestRegistryDefaultAllowOn4xx(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	reg := New(kv.NewMemoryStore(), testHTTPDoer{server}, "test-agent")
	if !reg.IsAllowed(context.Background(), "test-agent", "https://example.com/anything") {
		t.Errorf("expected allow by default when robots.txt returns 404")
	}
}
