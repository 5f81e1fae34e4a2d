package ai

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiGenerator calls Gemini through generative-ai-go with one cached
// client per API key.
type GeminiGenerator struct {
	mu      sync.Mutex
	clients map[string]*genai.Client
}

func NewGeminiGenerator() *GeminiGenerator {
	return &GeminiGenerator{clients: make(map[string]*genai.Client)}
}

func (g *GeminiGenerator) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cl, ok := g.clients[apiKey]; ok {
		return cl, nil
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	g.clients[apiKey] = cl
	return cl, nil
}

// Generate sends prompt to model with temperature 0 and returns the first
// text part of the reply.
func (g *GeminiGenerator) Generate(ctx context.Context, apiKey, model, prompt string) (string, error) {
	cl, err := g.client(ctx, apiKey)
	if err != nil {
		return "", classify(err)
	}

	m := cl.GenerativeModel(strings.TrimSpace(model))
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0),
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classify(err)
	}
	if txt := firstText(resp); strings.TrimSpace(txt) != "" {
		return txt, nil
	}
	return NoContentReply, nil
}

// Close closes every cached client.
func (g *GeminiGenerator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for key, cl := range g.clients {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(g.clients, key)
	}
	return errors.Join(errs...)
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
