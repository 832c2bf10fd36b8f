package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func rewriteTo(srv *httptest.Server) *http.Client {
	return &http.Client{Timeout: 2 * time.Second, Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		req.URL.Scheme = "http"
		req.URL.Host = srv.Listener.Addr().String()
		return http.DefaultTransport.RoundTrip(req)
	})}
}

func collect(t *testing.T, tokens <-chan string, errCh <-chan error) ([]string, error) {
	t.Helper()
	var out []string
	for tok := range tokens {
		out = append(out, tok)
	}
	return out, <-errCh
}

func TestStream_NoKey(t *testing.T) {
	c := NewOpenAIClient("", "model")
	tokens, errCh := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if _, err := collect(t, tokens, errCh); err == nil {
		t.Fatalf("expected error with missing key")
	}
}

func TestStream_ParsesSSETokens(t *testing.T) {
	body := strings.Join([]string{
		`data: {"choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		``,
		`data: {"choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		``,
		`data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewOpenAIClient("key", "model")
	c.HTTPClient = rewriteTo(srv)
	tokens, errCh := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}})
	got, err := collect(t, tokens, errCh)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(got, "") != "Hello" {
		t.Fatalf("token mismatch: %v", got)
	}
}

func TestStream_HTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		_, _ = w.Write([]byte("oops"))
	}))
	defer srv.Close()
	c := NewOpenAIClient("key", "model")
	c.HTTPClient = rewriteTo(srv)
	tokens, errCh := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if _, err := collect(t, tokens, errCh); err == nil {
		t.Fatalf("expected error; got nil")
	}
}
