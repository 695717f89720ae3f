package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIProvider calls any OpenAI-compatible chat completions endpoint
// (OpenAI itself, vLLM, or other gateways speaking the same wire format).
type OpenAIProvider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	doer    *httpDoer
}

// NewOpenAIProvider creates an adapter for an OpenAI-compatible endpoint.
func NewOpenAIProvider(name, baseURL, apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		doer:    newHTTPDoer(),
	}
}

// Name returns the configured provider name.
func (p *OpenAIProvider) Name() string { return p.name }

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Call issues one chat completion request.
func (p *OpenAIProvider) Call(ctx context.Context, prompt string, opts Options) (*Response, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	body, err := json.Marshal(openAIRequest{
		Model:       p.model,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return nil, &CallError{Kind: KindAPI, Message: fmt.Sprintf("marshal request: %v", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Kind: KindTransport, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.doer.do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &CallError{Kind: KindTransport, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CallError{Kind: KindTransport, Message: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		kind := KindAPI
		if looksLikeRefusal(string(raw)) {
			kind = KindRefused
		}
		return nil, &CallError{Kind: kind, StatusCode: resp.StatusCode, Message: truncate(string(raw), 500)}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &CallError{Kind: KindAPI, Message: fmt.Sprintf("parse response: %v", err)}
	}
	if parsed.Error != nil {
		kind := KindAPI
		if looksLikeRefusal(parsed.Error.Type + " " + parsed.Error.Message) {
			kind = KindRefused
		}
		return nil, &CallError{Kind: kind, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return nil, &CallError{Kind: KindAPI, Message: "no choices in response"}
	}
	choice := parsed.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, &CallError{Kind: KindRefused, Message: "completion stopped by content filter"}
	}
	text := choice.Message.Content
	return &Response{Text: text, WordCount: wordCount(text)}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
