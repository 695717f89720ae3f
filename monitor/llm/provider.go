// Package llm contains the provider adapters and the dispatch worker that
// turns anomaly events into persisted comparative analyses.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Options tunes a single provider call.
type Options struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Response is a successful provider completion.
type Response struct {
	Text      string
	WordCount int
}

// Provider is one pluggable LLM backend. Call must honor ctx cancellation and
// return a *CallError for classified failures.
type Provider interface {
	Name() string
	Call(ctx context.Context, prompt string, opts Options) (*Response, error)
}

// ErrorKind classifies provider failures for the analysis record.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindAPI
	KindRefused
)

// CallError is a classified provider failure.
type CallError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

// IsRefusal reports whether err is a content-policy refusal.
func IsRefusal(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Kind == KindRefused
}

// wordCount counts whitespace-separated words in a completion.
func wordCount(text string) int {
	return len(strings.Fields(text))
}

// httpDoer is the shared HTTP transport for provider adapters: a pooled
// client plus a client-side rate limiter so bursts of dispatches never
// hammer a provider API.
type httpDoer struct {
	client  *http.Client
	limiter *rate.Limiter
}

func newHTTPDoer() *httpDoer {
	return &httpDoer{
		// Per-request deadlines come from the call context; the client
		// timeout is only a backstop.
		client:  &http.Client{Timeout: 5 * time.Minute},
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

func (d *httpDoer) do(req *http.Request) (*http.Response, error) {
	if err := d.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return d.client.Do(req)
}

// refusalMarkers are substrings of provider error bodies that indicate a
// content-policy refusal rather than a transport or API failure.
var refusalMarkers = []string{
	"content_policy", "content policy", "content_filter", "refused",
	"safety", "policy_violation",
}

func looksLikeRefusal(body string) bool {
	lower := strings.ToLower(body)
	for _, m := range refusalMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
