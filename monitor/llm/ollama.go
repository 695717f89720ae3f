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

// OllamaProvider calls a local Ollama server's generate API.
type OllamaProvider struct {
	name    string
	baseURL string
	model   string
	doer    *httpDoer
}

// NewOllamaProvider creates a local-model adapter.
func NewOllamaProvider(name, baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		doer:    newHTTPDoer(),
	}
}

// Name returns the configured provider name.
func (p *OllamaProvider) Name() string { return p.name }

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Call issues one non-streaming generate request.
func (p *OllamaProvider) Call(ctx context.Context, prompt string, opts Options) (*Response, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	options := map[string]any{"temperature": opts.Temperature}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	body, err := json.Marshal(ollamaRequest{
		Model:   p.model,
		Prompt:  prompt,
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return nil, &CallError{Kind: KindAPI, Message: fmt.Sprintf("marshal request: %v", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Kind: KindTransport, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

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
		return nil, &CallError{Kind: KindAPI, StatusCode: resp.StatusCode, Message: truncate(string(raw), 500)}
	}
	var parsed ollamaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &CallError{Kind: KindAPI, Message: fmt.Sprintf("parse response: %v", err)}
	}
	if parsed.Error != "" {
		return nil, &CallError{Kind: KindAPI, Message: parsed.Error}
	}
	return &Response{Text: parsed.Response, WordCount: wordCount(parsed.Response)}, nil
}
