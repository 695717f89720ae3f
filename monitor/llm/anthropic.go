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

const anthropicAPIVersion = "2023-06-01"

// AnthropicProvider calls the Anthropic messages API.
type AnthropicProvider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	doer    *httpDoer
}

// NewAnthropicProvider creates an Anthropic adapter.
func NewAnthropicProvider(name, baseURL, apiKey, model string) *AnthropicProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &AnthropicProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		doer:    newHTTPDoer(),
	}
}

// Name returns the configured provider name.
func (p *AnthropicProvider) Name() string { return p.name }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
	// Temperature is a pointer so 0 round-trips distinctly from unset.
	Temperature *float64 `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call issues one messages request.
func (p *AnthropicProvider) Call(ctx context.Context, prompt string, opts Options) (*Response, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	temp := opts.Temperature
	body, err := json.Marshal(anthropicRequest{
		Model:       p.model,
		MaxTokens:   maxTokens,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, &CallError{Kind: KindAPI, Message: fmt.Sprintf("marshal request: %v", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Kind: KindTransport, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

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

	var parsed anthropicResponse
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
	if parsed.StopReason == "refusal" {
		return nil, &CallError{Kind: KindRefused, Message: "model refused the request"}
	}
	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	if text == "" {
		return nil, &CallError{Kind: KindAPI, Message: "empty response content"}
	}
	return &Response{Text: text, WordCount: wordCount(text)}, nil
}
