package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGemini_Complete(t *testing.T) {
	var gotBody geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "k1" {
			t.Errorf("missing api key in query")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": "cork is great"}}}},
			},
		})
	}))
	defer srv.Close()

	p := NewGeminiProvider("k1", "gemini-test", srv.URL, srv.Client())
	out, err := p.Complete(context.Background(), "system", []Turn{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}, "tell me about cork")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "cork is great" {
		t.Fatalf("out = %q", out)
	}

	// History must be flattened into the single prompt part.
	prompt := gotBody.Contents[0].Parts[0].Text
	for _, want := range []string{"system", "User: hi", "Assistant: hello", "User: tell me about cork"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestGemini_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewGeminiProvider("k1", "gemini-test", srv.URL, srv.Client())
	_, err := p.Complete(context.Background(), "s", nil, "m")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestGemini_NotConfigured(t *testing.T) {
	p := NewGeminiProvider("", "gemini-test", "", nil)
	_, err := p.Complete(context.Background(), "s", nil, "m")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestGemini_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewGeminiProvider("k1", "gemini-test", srv.URL, srv.Client())
	if _, err := p.Complete(context.Background(), "s", nil, "m"); err == nil {
		t.Fatal("expected error for 500")
	}
}
