// Package ai implements the multi-provider assistant backing customer
// replies. A Manager tries a cascade of providers in order and degrades to a
// deterministic rule-based fallback, so callers always get a reply text.
//
// Providers:
//   - OpenAIProvider: any OpenAI-compatible chat completion endpoint,
//     with round-robin key rotation on rate limits
//   - GeminiProvider: the Google Generative Language REST API
//   - RuleFallback: canned answers, cannot fail
package ai

import (
	"context"
	"errors"
)

// Message roles used in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior exchange line passed to a provider as context.
type Turn struct {
	Role    string
	Content string
}

// Request is one reply generation request.
type Request struct {
	Sender  string
	Text    string
	History []Turn
}

// Outcome is the produced reply. Provider names the source: a provider's
// Name(), "cache", or "fallback".
type Outcome struct {
	Text     string
	Provider string
}

// Sentinel errors providers return for cascade decisions.
var (
	// ErrRateLimited signals the provider (all its keys) is rate limited.
	ErrRateLimited = errors.New("ai: rate limited")

	// ErrNotConfigured signals the provider has no credentials and should
	// be skipped silently.
	ErrNotConfigured = errors.New("ai: provider not configured")
)

// Provider generates one completion. Implementations must honor ctx
// cancellation and return ErrRateLimited when throttled upstream.
type Provider interface {
	Name() string
	Complete(ctx context.Context, systemPrompt string, history []Turn, userMessage string) (string, error)
}
