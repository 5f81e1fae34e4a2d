// Package ai answers exam questions from OCR text.
//
// The primary provider is Gemini, used with several API keys and models. Keys
// are picked round-robin; a key that is rate limited or forbidden is skipped
// for the next few calls. When no key can answer, the request goes to a local
// Ollama model or an OpenAI compatible endpoint. After a run of consecutive
// fallback calls every key is given another chance.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quizsnap/internal/logger"
)

const (
	DefaultPromptPrefix = "Bạn là trợ lý trả lời đề kiểm tra. Đọc kỹ nội dung OCR, trích xuất câu hỏi và trả lời ngắn gọn, rõ ràng. "

	// EmptyOCRReply is returned without calling a provider when there is no text.
	EmptyOCRReply = "Không tìm thấy nội dung từ OCR."

	// NoContentReply is returned when Gemini answers without any text.
	NoContentReply = "Không nhận được nội dung từ Gemini."

	DefaultKeyCooldownCalls  = 6
	DefaultFallbackThreshold = 6
	DefaultRateLimitWait     = 2 * time.Second
)

// DefaultModels are tried in order for every key.
var DefaultModels = []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}

// Generator calls the primary provider with one key and one model.
type Generator interface {
	Generate(ctx context.Context, apiKey, model, prompt string) (string, error)
}

// Fallback answers a prompt when the primary provider cannot.
type Fallback interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config holds the AI settings.
type Config struct {
	APIKeys           []string
	Models            []string
	PromptPrefix      string
	RateLimitWait     time.Duration
	KeyCooldownCalls  int
	FallbackThreshold int

	FallbackProvider string // ollama or openai
	OllamaEndpoint   string
	OllamaModel      string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
}

// Client answers prompts with key rotation and fallback. It is safe for
// concurrent use; the key state is shared by all callers.
type Client struct {
	keys          []string
	models        []string
	prefix        string
	rateLimitWait time.Duration
	cooldownCalls int
	fallbackAfter int

	gen      Generator
	fallback Fallback
	sleep    func(ctx context.Context, d time.Duration) error
	log      zerolog.Logger

	mu        sync.Mutex
	cooldown  []int // remaining calls each key is skipped for
	cursor    int
	fallbacks int // consecutive calls answered by the fallback
}

// New builds a client with the Gemini generator and the configured fallback.
func New(cfg Config) (*Client, error) {
	fallback, err := NewFallback(cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(cfg, NewGeminiGenerator(), fallback), nil
}

// NewClient builds a client around explicit providers.
func NewClient(cfg Config, gen Generator, fallback Fallback) *Client {
	models := cfg.Models
	if len(models) == 0 {
		models = DefaultModels
	}
	prefix := cfg.PromptPrefix
	if prefix == "" {
		prefix = DefaultPromptPrefix
	}
	if cfg.RateLimitWait < 0 {
		cfg.RateLimitWait = 0
	}
	if cfg.KeyCooldownCalls <= 0 {
		cfg.KeyCooldownCalls = DefaultKeyCooldownCalls
	}
	if cfg.FallbackThreshold <= 0 {
		cfg.FallbackThreshold = DefaultFallbackThreshold
	}

	return &Client{
		keys:          append([]string(nil), cfg.APIKeys...),
		models:        models,
		prefix:        prefix,
		rateLimitWait: cfg.RateLimitWait,
		cooldownCalls: cfg.KeyCooldownCalls,
		fallbackAfter: cfg.FallbackThreshold,
		gen:           gen,
		fallback:      fallback,
		sleep:         sleepContext,
		log:           logger.WithComponent("ai"),
		cooldown:      make([]int, len(cfg.APIKeys)),
	}
}

// Close releases cached provider clients.
func (c *Client) Close() error {
	if closer, ok := c.gen.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// BuildPrompt prepends the prompt prefix to the OCR text.
func (c *Client) BuildPrompt(ocrText string) string {
	return c.prefix + "\n\nNội dung OCR:\n" + ocrText
}

// GetAnswer asks the providers about ocrText and returns the raw reply.
func (c *Client) GetAnswer(ctx context.Context, ocrText string) (string, error) {
	const op = "GetAnswer"

	if strings.TrimSpace(ocrText) == "" {
		return EmptyOCRReply, nil
	}
	prompt := c.BuildPrompt(ocrText)

	if len(c.keys) == 0 {
		return c.useFallback(ctx, op, prompt, errors.New("no Gemini API keys configured"))
	}

	order, ok := c.plan()
	if !ok {
		return c.useFallback(ctx, op, prompt, errors.New("all Gemini keys are cooling down"))
	}

	var lastErr error
	for _, idx := range order {
		key := c.keys[idx]
		cool := false
		for _, model := range c.models {
			reply, err := c.gen.Generate(ctx, key, model, prompt)
			if err == nil {
				c.succeeded(idx)
				return reply, nil
			}
			if ctx.Err() != nil {
				return "", fmt.Errorf("%s: %w", op, ctx.Err())
			}
			lastErr = err

			switch {
			case errors.Is(err, ErrRateLimited):
				cool = true
				c.log.Warn().Str("key", logger.RedactKey(key)).Str("model", model).Dur("wait", c.rateLimitWait).Msg("Gemini rate limited")
				if err := c.sleep(ctx, c.rateLimitWait); err != nil {
					return "", fmt.Errorf("%s: %w", op, err)
				}
			case errors.Is(err, ErrForbidden):
				cool = true
				c.log.Warn().Str("key", logger.RedactKey(key)).Str("model", model).Msg("Gemini key forbidden for model")
			default:
				c.log.Warn().Err(err).Str("key", logger.RedactKey(key)).Str("model", model).Msg("Gemini request failed")
			}
		}
		if cool {
			c.coolDown(idx)
		}
	}

	c.allKeysFailed()
	return c.useFallback(ctx, op, prompt, lastErr)
}

// plan advances the cooldown counters and returns the keys to try, in
// configured order starting at the round-robin pick. It reports false when
// the call should go straight to the fallback.
func (c *Client) plan() ([]int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var available []int
	for i := range c.keys {
		if c.cooldown[i] > 0 {
			c.cooldown[i]--
			continue
		}
		available = append(available, i)
	}

	if len(available) == 0 {
		if c.fallbacks < c.fallbackAfter {
			c.fallbacks++
			return nil, false
		}
		c.log.Info().Int("fallback_calls", c.fallbacks).Msg("Retrying all Gemini keys")
		c.resetLocked()
		for i := range c.keys {
			available = append(available, i)
		}
	}

	start := c.cursor % len(available)
	c.cursor++
	return append(available[start:len(available):len(available)], available[:start]...), true
}

func (c *Client) succeeded(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cooldown[idx] = 0
	c.fallbacks = 0
}

func (c *Client) coolDown(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cooldown[idx] = c.cooldownCalls
}

func (c *Client) allKeysFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallbacks++
	if c.fallbacks >= c.fallbackAfter {
		c.resetLocked()
	}
}

func (c *Client) resetLocked() {
	for i := range c.cooldown {
		c.cooldown[i] = 0
	}
	c.fallbacks = 0
}

func (c *Client) useFallback(ctx context.Context, op, prompt string, primaryErr error) (string, error) {
	if c.fallback == nil {
		return "", fmt.Errorf("%s: %w: %v; no fallback configured", op, ErrProviderExhausted, primaryErr)
	}

	c.log.Info().Err(primaryErr).Str("fallback", c.fallback.Name()).Msg("Using fallback provider")
	reply, err := c.fallback.Generate(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return "", fmt.Errorf("%s: %w: primary: %v; %s: %w", op, ErrProviderExhausted, primaryErr, c.fallback.Name(), err)
	}
	return reply, nil
}

// ParseModels splits a comma separated model list, dropping blanks and
// case-insensitive duplicates. An empty list yields DefaultModels.
func ParseModels(list string) []string {
	var models []string
	seen := make(map[string]bool)
	for _, m := range strings.Split(list, ",") {
		m = strings.TrimSpace(m)
		if m == "" || seen[strings.ToLower(m)] {
			continue
		}
		seen[strings.ToLower(m)] = true
		models = append(models, m)
	}
	if len(models) == 0 {
		return append([]string(nil), DefaultModels...)
	}
	return models
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
