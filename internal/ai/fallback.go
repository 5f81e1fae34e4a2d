package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultOllamaEndpoint = "http://localhost:11434/api/generate"
	DefaultOllamaModel    = "qwen2.5:7b-instruct"

	// NoOllamaContentReply is returned when Ollama answers without text.
	NoOllamaContentReply = "Không nhận được nội dung từ Ollama."
)

// NewFallback builds the fallback named by cfg.FallbackProvider.
func NewFallback(cfg Config) (Fallback, error) {
	switch strings.ToLower(cfg.FallbackProvider) {
	case "", "ollama":
		return NewOllamaFallback(cfg.OllamaEndpoint, cfg.OllamaModel), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai fallback: OPENAI_API_KEY is required")
		}
		return NewOpenAIFallback(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("unknown fallback provider %q", cfg.FallbackProvider)
	}
}

// OllamaFallback calls the /api/generate endpoint of a local Ollama server.
type OllamaFallback struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

func NewOllamaFallback(endpoint, model string) *OllamaFallback {
	if endpoint == "" {
		endpoint = DefaultOllamaEndpoint
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaFallback{
		endpoint:   endpoint,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *OllamaFallback) Name() string { return "ollama" }

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response *string `json:"response"`
	Text     *string `json:"text"`
}

// Generate posts a non-streaming request. Non-2xx statuses are errors.
func (o *OllamaFallback) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaRequest{Model: o.model, Prompt: prompt})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFallbackFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFallbackFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrFallbackFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: ollama returned %s: %s", ErrFallbackFailed, resp.Status, strings.TrimSpace(string(data)))
	}

	var out ollamaResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrFallbackFailed, err)
	}
	switch {
	case out.Response != nil:
		return *out.Response, nil
	case out.Text != nil:
		return *out.Text, nil
	}
	return NoOllamaContentReply, nil
}

// OpenAIFallback uses an OpenAI compatible chat completion endpoint.
type OpenAIFallback struct {
	client *openai.Client
	model  string
}

func NewOpenAIFallback(apiKey, baseURL, model string) *OpenAIFallback {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIFallback{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAIFallback) Name() string { return "openai" }

func (o *OpenAIFallback) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %v", ErrFallbackFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no response choices", ErrFallbackFailed)
	}
	return resp.Choices[0].Message.Content, nil
}
