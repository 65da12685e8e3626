// Package usage implements the Usage Extractor (spec.md §4.H): parsing
// either a plain JSON chat-completion response or an SSE event stream to
// surface {model, prompt_tokens, completion_tokens}.
package usage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// ErrUnparseable signals the response body matched neither a JSON object
// nor an SSE event stream at all. Callers route this to the emergency
// refund path (spec.md §4.J) rather than charging MaxCost.
var ErrUnparseable = errors.New("response body is neither JSON nor SSE")

// Result is the Usage Extractor's output. HasUsage is false when the body
// parsed cleanly (a real JSON object or a real SSE stream) but never
// carried a usage field — that is the "base-only" signal spec.md §4.H
// describes, distinct from ErrUnparseable.
type Result struct {
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	HasUsage         bool
}

type chatCompletionPayload struct {
	Model string        `json:"model"`
	Usage *usagePayload `json:"usage"`
}

type usagePayload struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// sniffWindow is how many bytes are peeked to classify the response shape.
// Large enough to see past a leading SSE comment or BOM, small enough to
// avoid buffering a whole streamed body just to sniff it.
const sniffWindow = 512

// Extract reads body to completion, dispatching on response shape
// (spec.md §9's "dynamic dispatch on response shape"): non-streaming JSON
// is decoded once; SSE is scanned line-by-line, retaining the last
// usage-bearing payload and the first model seen.
func Extract(body io.Reader) (*Result, error) {
	br := bufio.NewReaderSize(body, sniffWindow*2)

	peeked, _ := br.Peek(sniffWindow)
	switch {
	case looksLikeSSE(peeked):
		return extractSSE(br)
	case looksLikeJSON(peeked):
		return extractJSON(br)
	default:
		return nil, ErrUnparseable
	}
}

func looksLikeJSON(b []byte) bool {
	trimmed := bytes.TrimLeft(b, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// looksLikeSSE matches spec.md §4.H's "begins with or contains data: lines":
// "data:" counts only at the start of a line, not inside a JSON string.
func looksLikeSSE(b []byte) bool {
	trimmed := bytes.TrimLeft(b, " \t\r\n")
	return bytes.HasPrefix(trimmed, []byte("data:")) || bytes.Contains(b, []byte("\ndata:"))
}

func extractJSON(r io.Reader) (*Result, error) {
	var payload chatCompletionPayload
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, ErrUnparseable
	}

	res := &Result{Model: payload.Model}
	if payload.Usage != nil {
		res.HasUsage = true
		res.PromptTokens = payload.Usage.PromptTokens
		res.CompletionTokens = payload.Usage.CompletionTokens
	}
	return res, nil
}

// extractSSE scans the stream line by line, decoding each `data: {...}`
// payload. Lines that fail to decode are skipped per spec.md §4.H, rather
// than aborting the whole extraction.
func extractSSE(r io.Reader) (*Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	res := &Result{}
	sawEvent := false

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var event chatCompletionPayload
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}
		sawEvent = true

		if res.Model == "" && event.Model != "" {
			res.Model = event.Model
		}
		if event.Usage != nil {
			res.HasUsage = true
			res.PromptTokens = event.Usage.PromptTokens
			res.CompletionTokens = event.Usage.CompletionTokens
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, ErrUnparseable
	}
	if !sawEvent {
		return nil, ErrUnparseable
	}
	return res, nil
}
