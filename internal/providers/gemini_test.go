package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGemini_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "gemini-2.0-flash:streamGenerateContent") {
			t.Errorf("Path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Error("alt=sse not requested")
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Error("Missing API key header")
		}
		var body geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.GenerationConfig == nil || body.GenerationConfig.MaxOutputTokens != 10 {
			t.Errorf("GenerationConfig = %+v", body.GenerationConfig)
		}

		w.Write([]byte(`data: {"candidates":[{"index":0,"content":{"parts":[{"text":"one "}]}}]}` + "\n\n"))
		w.Write([]byte(`data: {"candidates":[{"index":0,"content":{"parts":[{"text":"two"}]}}]}` + "\n\n"))
	}))
	defer server.Close()

	g := &Gemini{
		apiKey: "test-key",
		model:  "gemini-2.0-flash",
		client: &http.Client{
			Transport: &rewriteTransport{
				base:    server.Client().Transport,
				baseURL: server.URL,
			},
		},
	}

	text, err := drain(t, g.Stream(context.Background(), StreamRequest{
		Messages:  []Message{{Role: RoleUser, Content: "test"}},
		MaxTokens: 10,
	}))
	if err != nil {
		t.Fatalf("Stream error: %v", err)
	}
	if text != "one two" {
		t.Errorf("text = %q, want %q", text, "one two")
	}
}

func TestGemini_Name(t *testing.T) {
	g := &Gemini{model: "test"}
	if g.Name() != "gemini" {
		t.Errorf("Name() = %q, want %q", g.Name(), "gemini")
	}
}
