package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama implements the Streamer interface for Ollama and LM Studio through
// their OpenAI-compatible API.
type Ollama struct {
	apiKey  string
	model   string
	baseURL string
	retries int
	client  *http.Client
}

// NewOllama creates a new Ollama provider. No API key is required by default.
func NewOllama(cfg Config) (*Ollama, error) {
	baseURL := cfg.Endpoint
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_HOST")
	}
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}

	// Normalize URL: strip trailing /, /v1, /v1/chat/completions
	baseURL = strings.TrimRight(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1/chat/completions")
	baseURL = strings.TrimSuffix(baseURL, "/v1")

	// Optional API key for servers that require it (e.g., LM Studio)
	apiKey := os.Getenv("DIFFREVIEW_OLLAMA_API_KEY")

	return &Ollama{
		apiKey:  apiKey,
		model:   cfg.Model,
		baseURL: baseURL + "/v1/chat/completions",
		retries: cfg.Retries,
		client:  newHTTPClient(),
	}, nil
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Stream(ctx context.Context, req StreamRequest) <-chan StreamEvent {
	payload, err := json.Marshal(newOpenAIRequest(o.model, req))
	if err != nil {
		return failedStream(fmt.Errorf("marshaling request: %w", err))
	}

	return runStream(ctx, o.Name(), o.retries, o.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if o.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
		}
		return httpReq, nil
	}, decodeOpenAIStream)
}
