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

const geminiAPIURL = "https://generativelanguage.googleapis.com/v1beta/models"

// Gemini implements the Streamer interface for Google's Gemini API.
type Gemini struct {
	apiKey  string
	model   string
	retries int
	client  *http.Client
}

// NewGemini creates a new Gemini provider.
func NewGemini(cfg Config) (*Gemini, error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		key = os.Getenv("GOOGLE_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY (or GOOGLE_API_KEY) environment variable is not set")
	}
	return &Gemini{
		apiKey:  key,
		model:   cfg.Model,
		retries: cfg.Retries,
		client:  newHTTPClient(),
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Stream(ctx context.Context, req StreamRequest) <-chan StreamEvent {
	target := fmt.Sprintf("%s/%s:streamGenerateContent?alt=sse", geminiAPIURL, g.model)

	body := geminiRequest{}
	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			body.Contents = append(body.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			body.Contents = append(body.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}}}
	}
	if req.MaxTokens > 0 {
		body.GenerationConfig = &geminiGenConfig{MaxOutputTokens: req.MaxTokens}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return failedStream(fmt.Errorf("marshaling request: %w", err))
	}

	return runStream(ctx, g.Name(), g.retries, g.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", g.apiKey)
		return httpReq, nil
	}, decodeGeminiStream)
}

func decodeGeminiStream(ctx context.Context, body io.Reader, out chan<- StreamEvent) error {
	return readSSE(body, func(_, data string) (bool, error) {
		var resp geminiResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			return true, fmt.Errorf("parsing stream chunk: %w", err)
		}
		if resp.Error != nil {
			return true, fmt.Errorf("stream error: %s", resp.Error.Message)
		}

		ev := StreamEvent{Choices: make([]Choice, 0, len(resp.Candidates))}
		for _, c := range resp.Candidates {
			var text strings.Builder
			for _, part := range c.Content.Parts {
				text.WriteString(part.Text)
			}
			ev.Choices = append(ev.Choices, Choice{Index: c.Index, Delta: text.String()})
		}
		if !sendEvent(ctx, out, ev) {
			return true, ctx.Err()
		}
		return false, nil
	})
}

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *geminiError      `json:"error,omitempty"`
}

type geminiCandidate struct {
	Index   int           `json:"index"`
	Content geminiContent `json:"content"`
}

type geminiError struct {
	Message string `json:"message"`
}
