package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider calls the Google Generative Language REST API. The SDK-less
// REST form keeps the dependency surface small; the endpoint takes one flat
// prompt, so history is rendered into the prompt text.
type GeminiProvider struct {
	apiKey  string
	model   string
	baseURL string
	hc      *http.Client
}

// NewGeminiProvider builds the provider. An empty key is allowed; Complete
// then returns ErrNotConfigured. hc nil uses http.DefaultClient.
func NewGeminiProvider(apiKey, model, baseURL string, hc *http.Client) *GeminiProvider {
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &GeminiProvider{apiKey: apiKey, model: model, baseURL: baseURL, hc: hc}
}

func (p *GeminiProvider) Name() string { return "gemini" }

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (p *GeminiProvider) Complete(ctx context.Context, systemPrompt string, history []Turn, userMessage string) (string, error) {
	if p.apiKey == "" {
		return "", ErrNotConfigured
	}

	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\n\nConversation:\n")
	for _, t := range history {
		if t.Role == RoleAssistant {
			sb.WriteString("Assistant: ")
		} else {
			sb.WriteString("User: ")
		}
		sb.WriteString(t.Content)
		sb.WriteByte('\n')
	}
	sb.WriteString("\nUser: ")
	sb.WriteString(userMessage)
	sb.WriteString("\n\nAssistant:")

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: sb.String()}}}},
	})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(p.baseURL, "/"), p.model, url.QueryEscape(p.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ai: gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out geminiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("ai: gemini returned no candidates")
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}
