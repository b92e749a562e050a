package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 4096
)

// Anthropic implements the Streamer interface for Anthropic's API.
type Anthropic struct {
	apiKey  string
	model   string
	retries int
	client  *http.Client
}

// NewAnthropic creates a new Anthropic provider.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}
	return &Anthropic{
		apiKey:  key,
		model:   cfg.Model,
		retries: cfg.Retries,
		client:  newHTTPClient(),
	}, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Stream(ctx context.Context, req StreamRequest) <-chan StreamEvent {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		// The Messages API requires an explicit cap.
		maxTokens = anthropicMaxTokens
	}

	body := anthropicRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		Stream:    true,
	}
	var system []string
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	body.System = strings.Join(system, "\n\n")

	payload, err := json.Marshal(body)
	if err != nil {
		return failedStream(fmt.Errorf("marshaling request: %w", err))
	}

	return runStream(ctx, a.Name(), a.retries, a.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicAPIURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", a.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
		return httpReq, nil
	}, decodeAnthropicStream)
}

func decodeAnthropicStream(ctx context.Context, body io.Reader, out chan<- StreamEvent) error {
	return readSSE(body, func(event, data string) (bool, error) {
		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return true, fmt.Errorf("parsing stream event: %w", err)
		}
		if ev.Type == "" {
			ev.Type = event
		}

		switch ev.Type {
		case "content_block_delta":
			if ev.Delta == nil || ev.Delta.Type != "text_delta" {
				return false, nil
			}
			if !sendEvent(ctx, out, StreamEvent{Choices: []Choice{{Index: ev.Index, Delta: ev.Delta.Text}}}) {
				return true, ctx.Err()
			}
		case "message_stop":
			return true, nil
		case "error":
			msg := "unknown error"
			if ev.Error != nil {
				msg = ev.Error.Type + ": " + ev.Error.Message
			}
			if ev.Error != nil && ev.Error.Type == "overloaded_error" {
				return true, &serverError{statusCode: 529, body: msg}
			}
			return true, fmt.Errorf("stream error: %s", msg)
		}
		return false, nil
	})
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicStreamEvent struct {
	Type  string          `json:"type"`
	Index int             `json:"index"`
	Delta *anthropicDelta `json:"delta,omitempty"`
	Error *anthropicError `json:"error,omitempty"`
}

type anthropicDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
