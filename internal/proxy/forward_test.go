package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripLeadingV1(t *testing.T) {
	cases := map[string]string{
		"/v1/chat/completions": "/chat/completions",
		"/v1":                  "/",
		"/v1/":                 "/",
		"/chat/completions":    "/chat/completions",
		"/":                    "/",
	}
	for in, want := range cases {
		assert.Equal(t, want, stripLeadingV1(in), "input %q", in)
	}
}

func TestBuildUpstreamRequest_SanitizesHeadersAndInjectsKey(t *testing.T) {
	h := &Handler{cfg: Config{UpstreamBaseURL: "https://upstream.example", UpstreamAPIKey: "upstream-secret"}}

	body := []byte(`{"model":"gpt"}`)
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(body)))
	r.Header.Set("Authorization", "Bearer sk-whatever")
	r.Header.Set("X-Cashu", "cashuAtoken")
	r.Header.Set("Refund-Lnurl", "lnurl1whatever")
	r.Header.Set("Key-Expiry-Time", "1234567890")
	r.Header.Set("Content-Length", "15")
	r.Header.Set("Host", "client-facing-host")
	r.Header.Set("X-Custom", "keep-me")

	req, err := h.buildUpstreamRequest(context.Background(), r, body)
	require.NoError(t, err)

	assert.Equal(t, "https://upstream.example/chat/completions", req.URL.String())
	assert.Equal(t, "Bearer upstream-secret", req.Header.Get("Authorization"))
	assert.Empty(t, req.Header.Get("X-Cashu"))
	assert.Empty(t, req.Header.Get("Refund-Lnurl"))
	assert.Empty(t, req.Header.Get("Key-Expiry-Time"))
	assert.Equal(t, "keep-me", req.Header.Get("X-Custom"))
	require.NotNil(t, req.GetBody)
}

func TestBuildUpstreamRequest_AppendsChatCompletionsAPIVersion(t *testing.T) {
	h := &Handler{cfg: Config{UpstreamBaseURL: "https://upstream.example", ChatCompletionsAPIVersion: "2024-01-01"}}

	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req, err := h.buildUpstreamRequest(context.Background(), r, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://upstream.example/chat/completions?api-version=2024-01-01", req.URL.String())
}

func TestBuildUpstreamRequest_NoAPIVersionForOtherPaths(t *testing.T) {
	h := &Handler{cfg: Config{UpstreamBaseURL: "https://upstream.example", ChatCompletionsAPIVersion: "2024-01-01"}}

	r := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req, err := h.buildUpstreamRequest(context.Background(), r, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://upstream.example/models", req.URL.String())
}

func TestForward_NoRetryOnSuccess(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := &Handler{httpClient: upstream.Client()}
	req, err := http.NewRequest(http.MethodGet, upstream.URL, nil)
	require.NoError(t, err)

	resp, err := h.forward(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestForward_RetriesOnceOnConnectionFailure(t *testing.T) {
	h := &Handler{httpClient: &http.Client{}}
	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:1/unreachable", nil)
	require.NoError(t, err)

	_, err = h.forward(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after retry")
}

// failOnceTransport drains (but does not forward) the first request's
// body before failing, simulating a connection error after the client
// started sending -- exactly the case req.Clone's shared Body reader
// can't recover from.
type failOnceTransport struct {
	attempts int
	gotBody  string
}

func (f *failOnceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.attempts++
	if f.attempts == 1 {
		if req.Body != nil {
			_, _ = io.ReadAll(req.Body)
		}
		return nil, fmt.Errorf("simulated connection reset")
	}
	data, _ := io.ReadAll(req.Body)
	f.gotBody = string(data)
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil
}

// TestForward_RetryResendsFullBody confirms the retry resends the complete
// original body via req.GetBody rather than whatever req.Body's reader had
// left unread after the first (failed) attempt drained it -- a bare
// req.Clone reuses the same exhausted reader and would resend nothing.
func TestForward_RetryResendsFullBody(t *testing.T) {
	transport := &failOnceTransport{}
	h := &Handler{httpClient: &http.Client{Transport: transport}}

	payload := []byte(`{"model":"gpt-4","messages":[]}`)
	req, err := h.buildUpstreamRequest(context.Background(), httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil), payload)
	require.NoError(t, err)

	resp, err := h.forward(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 2, transport.attempts)
	assert.Equal(t, string(payload), transport.gotBody)
}
