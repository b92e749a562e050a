package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
)

const defaultAzureAPIVersion = "2024-06-01"

// Azure implements the Streamer interface for Azure OpenAI deployments.
// The model is addressed by deployment id rather than by model name.
type Azure struct {
	apiKey     string
	endpoint   string
	deployment string
	apiVersion string
	retries    int
	client     *http.Client
}

// NewAzure creates a new Azure OpenAI provider. The key is read from
// OPEN_AI_AZURE_KEY; endpoint and deployment come from the config.
func NewAzure(cfg Config) (*Azure, error) {
	key := os.Getenv("OPEN_AI_AZURE_KEY")
	if key == "" {
		return nil, fmt.Errorf("OPEN_AI_AZURE_KEY environment variable is not set")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure endpoint is not configured (set OPEN_AI_AZURE_ENDPOINT)")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("azure deployment is not configured (set OPEN_AI_AZURE_DEPLOYMENT_ID)")
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAzureAPIVersion
	}
	return &Azure{
		apiKey:     key,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		deployment: cfg.Model,
		apiVersion: apiVersion,
		retries:    cfg.Retries,
		client:     newHTTPClient(),
	}, nil
}

func (a *Azure) Name() string { return "azure" }

func (a *Azure) url() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		a.endpoint, url.PathEscape(a.deployment), url.QueryEscape(a.apiVersion))
}

func (a *Azure) Stream(ctx context.Context, req StreamRequest) <-chan StreamEvent {
	// The deployment selects the model; the body carries none.
	payload, err := json.Marshal(newOpenAIRequest("", req))
	if err != nil {
		return failedStream(fmt.Errorf("marshaling request: %w", err))
	}

	target := a.url()
	return runStream(ctx, a.Name(), a.retries, a.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("api-key", a.apiKey)
		return httpReq, nil
	}, decodeOpenAIStream)
}
