package ai

import (
	"strings"
	"testing"
)

func TestFallback_CorkMaterial(t *testing.T) {
	f := &RuleFallback{BusinessName: "Cork Works"}
	got := f.Respond("What is cork exactly?")
	if !strings.Contains(got, "Cork Oak") {
		t.Fatalf("unexpected answer: %q", got)
	}
}

func TestFallback_Sustainability(t *testing.T) {
	f := &RuleFallback{}
	got := f.Respond("how sustainable is this really")
	if !strings.Contains(got, "biodegrades") {
		t.Fatalf("unexpected answer: %q", got)
	}
}

func TestFallback_GreetingExactOnly(t *testing.T) {
	f := &RuleFallback{BusinessName: "Cork Works"}
	if got := f.Respond("hello"); !strings.Contains(got, "Cork Works") {
		t.Fatalf("greeting should name the store: %q", got)
	}
	// A greeting with a product question must not get the greeting reply.
	got := f.Respond("hello what do coasters cost")
	if strings.Contains(got, "Welcome to") {
		t.Fatalf("context-needing question answered with greeting: %q", got)
	}
}

func TestFallback_Contact(t *testing.T) {
	f := &RuleFallback{ContactInfo: "Email: sales@example.com"}
	got := f.Respond("what is your contact email")
	if !strings.Contains(got, "sales@example.com") {
		t.Fatalf("unexpected answer: %q", got)
	}
}

func TestFallback_ProductQuestionsGetRetryPrompt(t *testing.T) {
	f := &RuleFallback{}
	got := f.Respond("how much is the bifold wallet in bulk")
	if !strings.Contains(got, "rephrase") {
		t.Fatalf("product question must get the retry prompt, got %q", got)
	}
	if got == "" {
		t.Fatal("fallback must never return empty text")
	}
}
