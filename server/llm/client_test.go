package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSetHeaderPreserveCase(t *testing.T) {
	hdr := http.Header{}
	setHeaderPreserveCase(hdr, "HTTP-Referer", "https://example.com/app")
	if vals := hdr["HTTP-Referer"]; len(vals) != 1 || vals[0] != "https://example.com/app" {
		t.Fatalf("expected HTTP-Referer slice to be preserved, got %+v", vals)
	}
	if _, exists := hdr["Http-Referer"]; exists {
		t.Fatalf("unexpected canonical header variant present: %+v", hdr)
	}

	setHeaderPreserveCase(hdr, "Referer", "https://example.com/app")
	if got := hdr.Get("Referer"); got != "https://example.com/app" {
		t.Fatalf("expected Referer to be set via canonical path, got %q", got)
	}

	setHeaderPreserveCase(hdr, "  ", "value")
	setHeaderPreserveCase(hdr, "X-Test", "   ")
	if _, exists := hdr[" "]; exists {
		t.Fatalf("expected blank header keys to be ignored")
	}
	if got := hdr.Get("X-Test"); got != "" {
		t.Fatalf("expected blank header values to be skipped, got %q", got)
	}
}

func TestChatClientComplete(t *testing.T) {
	var body map[string]any
	var title []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		title = r.Header["X-Title"]
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "grok-3-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "  your code smells like legacy  "}}]
		}`))
	}))
	defer srv.Close()

	c := newFromConfig(apiConfig{
		Kind:         providerOpenRouter,
		APIKey:       "k",
		Model:        "grok-3-mini",
		BaseURL:      srv.URL,
		ExtraHeaders: map[string]string{"X-Title": "Roast Arena"},
	})
	temp := 0.9
	out, err := c.Complete(context.Background(), Prompt{System: "sys", User: "roast", MaxTokens: 200, Temperature: &temp})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if out != "your code smells like legacy" {
		t.Fatalf("unexpected output %q", out)
	}
	if body["model"] != "grok-3-mini" {
		t.Fatalf("unexpected model %v", body["model"])
	}
	if v, _ := body["max_tokens"].(float64); v != 200 {
		t.Fatalf("unexpected max_tokens %v", body["max_tokens"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(msgs))
	}
	if len(title) != 1 || title[0] != "Roast Arena" {
		t.Fatalf("expected X-Title header, got %v", title)
	}
}

func TestChatClientUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model"}}`))
	}))
	defer srv.Close()

	c := newFromConfig(apiConfig{Kind: providerXAI, APIKey: "k", Model: "nope", BaseURL: srv.URL})
	if _, err := c.Complete(context.Background(), Prompt{User: "hi"}); err == nil {
		t.Fatalf("expected error from 400 response")
	}
}
