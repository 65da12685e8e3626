package proxy

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
)

// sanitizedHeaders is the set of header names (lower-cased) that must
// never reach the upstream, whether because they carry this proxy's own
// credentials or because the transport layer recomputes them (spec.md
// §4.G, §8 invariant 6).
var sanitizedHeaders = map[string]struct{}{
	"host":            {},
	"content-length":  {},
	"refund-lnurl":    {},
	"key-expiry-time": {},
	"x-cashu":         {},
	"authorization":   {},
}

// buildUpstreamRequest constructs the outbound request: strip a leading
// "v1" path segment, sanitise headers, inject the configured upstream API
// key, and append the chat/completions API version query param when
// configured (spec.md §4.G). body is the already-buffered request body (it
// was read in full by readBodyAndModel to sniff the model name); passing
// it as a *bytes.Reader rather than the exhausted r.Body lets
// http.NewRequestWithContext populate req.GetBody, so forward's retry can
// rewind to a fresh copy instead of resending whatever the first attempt
// left unread.
func (h *Handler) buildUpstreamRequest(ctx context.Context, r *http.Request, body []byte) (*http.Request, error) {
	path := stripLeadingV1(r.URL.Path)
	url := strings.TrimRight(h.cfg.UpstreamBaseURL, "/") + path

	if strings.Contains(path, "chat/completions") && h.cfg.ChatCompletionsAPIVersion != "" {
		if strings.Contains(url, "?") {
			url += "&api-version=" + h.cfg.ChatCompletionsAPIVersion
		} else {
			url += "?api-version=" + h.cfg.ChatCompletionsAPIVersion
		}
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	for name, values := range r.Header {
		if _, blocked := sanitizedHeaders[strings.ToLower(name)]; blocked {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	if h.cfg.UpstreamAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.UpstreamAPIKey)
	}

	return req, nil
}

func stripLeadingV1(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "v1" || strings.HasPrefix(trimmed, "v1/") {
		trimmed = strings.TrimPrefix(trimmed, "v1")
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return trimmed
}

// forward sends req to the upstream, retrying once on a connection-level
// failure (spec.md §4.G). There is deliberately no per-request timeout on
// the client -- streaming responses may be long-lived; callers rely on the
// inbound request's context for cancellation. The retry rewinds the body
// via req.GetBody rather than reusing req.Clone's Body, which would still
// be positioned wherever the failed attempt's transport left it -- Clone
// copies the reader reference, not its contents.
func (h *Handler) forward(req *http.Request) (*http.Response, error) {
	resp, err := h.httpClient.Do(req)
	if err == nil {
		return resp, nil
	}

	retryReq := req.Clone(req.Context())
	if req.GetBody != nil {
		fresh, bodyErr := req.GetBody()
		if bodyErr == nil {
			retryReq.Body = fresh
		}
	}

	resp, retryErr := h.httpClient.Do(retryReq)
	if retryErr != nil {
		return nil, fmt.Errorf("upstream request failed after retry: %w", retryErr)
	}
	return resp, nil
}
