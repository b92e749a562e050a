package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
)

const defaultOpenAIURL = "https://api.openai.com/v1/chat/completions"

// OpenAI implements the Streamer interface for OpenAI's API.
type OpenAI struct {
	apiKey  string
	model   string
	baseURL string
	retries int
	client  *http.Client
}

// NewOpenAI creates a new OpenAI provider.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
	}
	baseURL := cfg.Endpoint
	if baseURL == "" {
		baseURL = os.Getenv("DIFFREVIEW_OPENAI_BASE_URL")
	}
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	return &OpenAI{
		apiKey:  key,
		model:   cfg.Model,
		baseURL: baseURL,
		retries: cfg.Retries,
		client:  newHTTPClient(),
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Stream(ctx context.Context, req StreamRequest) <-chan StreamEvent {
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
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
		return httpReq, nil
	}, decodeOpenAIStream)
}

type openaiRequest struct {
	Model     string          `json:"model,omitempty"`
	Messages  []openaiMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
	Stream    bool            `json:"stream"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func newOpenAIRequest(model string, req StreamRequest) openaiRequest {
	messages := make([]openaiMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openaiMessage{Role: m.Role, Content: m.Content}
	}
	return openaiRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}
}

// failedStream returns a closed channel holding a single error event.
func failedStream(err error) <-chan StreamEvent {
	out := make(chan StreamEvent, 1)
	out <- StreamEvent{Err: err}
	close(out)
	return out
}
