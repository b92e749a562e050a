package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAI_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("Missing or wrong Authorization header")
		}
		var body openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if !body.Stream {
			t.Error("stream flag not set")
		}
		if body.MaxTokens != 10 {
			t.Errorf("max_tokens = %d, want 10", body.MaxTokens)
		}
		if body.Model != "gpt-4o" {
			t.Errorf("model = %q, want gpt-4o", body.Model)
		}
		writeSSE(w, "Hel", "lo")
	}))
	defer server.Close()

	o := &OpenAI{
		apiKey:  "test-key",
		model:   "gpt-4o",
		baseURL: server.URL,
		client:  server.Client(),
	}

	text, err := drain(t, o.Stream(context.Background(), StreamRequest{
		Messages:  []Message{{Role: RoleUser, Content: "test"}},
		MaxTokens: 10,
	}))
	if err != nil {
		t.Fatalf("Stream error: %v", err)
	}
	if text != "Hello" {
		t.Errorf("text = %q, want %q", text, "Hello")
	}
}

func TestOpenAI_RateLimit(t *testing.T) {
	fastRetries(t)
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			w.WriteHeader(429)
			w.Write([]byte(`{"error":"rate limited"}`))
			return
		}
		writeSSE(w, "ok")
	}))
	defer server.Close()

	o := &OpenAI{
		apiKey:  "test-key",
		model:   "gpt-4o",
		baseURL: server.URL,
		retries: 3,
		client:  server.Client(),
	}

	text, err := drain(t, o.Stream(context.Background(), StreamRequest{
		Messages: []Message{{Role: RoleUser, Content: "test"}},
	}))
	if err != nil {
		t.Fatalf("Stream error after retries: %v", err)
	}
	if text != "ok" {
		t.Errorf("text = %q, want %q", text, "ok")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts (2 retries), got %d", attempts)
	}
}

func TestOpenAI_NoRetryByDefault(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(429)
	}))
	defer server.Close()

	o := &OpenAI{apiKey: "k", model: "m", baseURL: server.URL, client: server.Client()}

	_, err := drain(t, o.Stream(context.Background(), StreamRequest{}))
	if !IsRateLimited(err) {
		t.Fatalf("Expected rate limit error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestOpenAI_MidStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"part\"}}]}\n\n"))
		w.Write([]byte("data: {\"error\":{\"message\":\"boom\"}}\n\n"))
	}))
	defer server.Close()

	o := &OpenAI{apiKey: "k", model: "m", baseURL: server.URL, client: server.Client()}

	text, err := drain(t, o.Stream(context.Background(), StreamRequest{}))
	if err == nil {
		t.Fatal("Expected mid-stream error")
	}
	if text != "part" {
		t.Errorf("text before error = %q, want %q", text, "part")
	}
}
