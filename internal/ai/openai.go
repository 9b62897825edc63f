package ai

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIProvider talks to an OpenAI-compatible chat completion endpoint.
// Multiple API keys are rotated round-robin; a rate-limited key advances the
// rotation and the next key is tried within the same call, so a single
// throttled key does not fail the request.
type OpenAIProvider struct {
	name        string
	model       string
	maxTokens   int64
	temperature float64

	clients []openai.Client

	mu        sync.Mutex
	next      int
	rotations uint64
}

// OpenAIOptions configures an OpenAIProvider.
type OpenAIOptions struct {
	Name        string   // cascade label, e.g. "groq"
	BaseURL     string   // endpoint base URL; empty uses the OpenAI default
	APIKeys     []string // rotated round-robin; empty keys are dropped
	Model       string
	MaxTokens   int64
	Temperature float64
}

// NewOpenAIProvider builds the provider. A provider without any usable key is
// still valid; Complete then returns ErrNotConfigured.
func NewOpenAIProvider(opts OpenAIOptions) *OpenAIProvider {
	p := &OpenAIProvider{
		name:        opts.Name,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}
	if p.name == "" {
		p.name = "openai"
	}
	for _, key := range opts.APIKeys {
		if key == "" {
			continue
		}
		ropts := []option.RequestOption{option.WithAPIKey(key)}
		if opts.BaseURL != "" {
			ropts = append(ropts, option.WithBaseURL(opts.BaseURL))
		}
		p.clients = append(p.clients, openai.NewClient(ropts...))
	}
	return p
}

func (p *OpenAIProvider) Name() string { return p.name }

// KeyRotations reports how many times a rate-limited key forced a rotation.
func (p *OpenAIProvider) KeyRotations() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rotations
}

func (p *OpenAIProvider) nextClient() *openai.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &p.clients[p.next]
	p.next = (p.next + 1) % len(p.clients)
	return c
}

func (p *OpenAIProvider) noteRotation() {
	p.mu.Lock()
	p.rotations++
	p.mu.Unlock()
}

// Complete runs one chat completion. Each configured key is tried at most
// once per call; only rate-limit errors advance to the next key, any other
// error fails immediately. When every key is throttled the call returns
// ErrRateLimited.
func (p *OpenAIProvider) Complete(ctx context.Context, systemPrompt string, history []Turn, userMessage string) (string, error) {
	if len(p.clients) == 0 {
		return "", ErrNotConfigured
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(systemPrompt))
	}
	for _, t := range history {
		switch t.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		default:
			msgs = append(msgs, openai.UserMessage(t.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(userMessage))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: msgs,
	}
	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(p.maxTokens)
	}
	if p.temperature > 0 {
		params.Temperature = openai.Float(p.temperature)
	}

	var lastErr error
	for attempt := 0; attempt < len(p.clients); attempt++ {
		client := p.nextClient()
		resp, err := client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = err
			if isRateLimited(err) {
				p.noteRotation()
				continue
			}
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("ai: empty completion")
		}
		return resp.Choices[0].Message.Content, nil
	}
	if isRateLimited(lastErr) {
		return "", ErrRateLimited
	}
	return "", lastErr
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == http.StatusTooManyRequests
	}
	return errors.Is(err, ErrRateLimited)
}
