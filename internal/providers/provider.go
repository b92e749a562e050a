package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is a single chat message sent to a completion API.
type Message struct {
	Role    string
	Content string
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StreamRequest contains the data sent to a completion API.
type StreamRequest struct {
	Messages  []Message
	MaxTokens int
}

// Choice is one choice record of a streamed event. Delta is empty when the
// event carried no text for that choice.
type Choice struct {
	Index int
	Delta string
}

// StreamEvent is a partial-content event. An event with a non-nil Err is the
// last event of its stream.
type StreamEvent struct {
	Choices []Choice
	Err     error
}

// Text returns the concatenated deltas of all choices in the event.
func (e StreamEvent) Text() string {
	if len(e.Choices) == 1 {
		return e.Choices[0].Delta
	}
	var b strings.Builder
	for _, c := range e.Choices {
		b.WriteString(c.Delta)
	}
	return b.String()
}

// Streamer is the streaming completion abstraction.
type Streamer interface {
	// Stream starts a streaming completion and returns immediately. The
	// returned channel is closed when the stream ends, fails or ctx is done.
	Stream(ctx context.Context, req StreamRequest) <-chan StreamEvent
	Name() string
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	// Model is the model name, or the deployment id for Azure.
	Model      string
	Endpoint   string
	APIVersion string
	Retries    int
}

// New creates a provider by name.
func New(cfg Config) (Streamer, error) {
	switch cfg.Provider {
	case "azure", "":
		return NewAzure(cfg)
	case "openai":
		return NewOpenAI(cfg)
	case "anthropic":
		return NewAnthropic(cfg)
	case "gemini", "google":
		return NewGemini(cfg)
	case "ollama", "lmstudio":
		return NewOllama(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// Names lists the accepted provider names.
func Names() []string {
	return []string{"azure", "openai", "anthropic", "gemini", "ollama", "lmstudio"}
}

func newHTTPClient() *http.Client {
	// No overall timeout: a stream may legitimately run for minutes and is
	// bounded by the caller's context instead.
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 120 * time.Second,
		},
	}
}

// decodeFunc parses a successful response body and forwards events to out.
type decodeFunc func(ctx context.Context, body io.Reader, out chan<- StreamEvent) error

// runStream performs the request on a new goroutine and returns the event
// channel right away.
func runStream(ctx context.Context, name string, retries int, client *http.Client, build func() (*http.Request, error), decode decodeFunc) <-chan StreamEvent {
	out := make(chan StreamEvent)
	go func() {
		defer close(out)

		var resp *http.Response
		err := retryWithBackoff(ctx, retries, func() error {
			req, err := build()
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}
			r, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("sending request: %w", err)
			}
			if r.StatusCode != http.StatusOK {
				defer r.Body.Close()
				body, _ := io.ReadAll(io.LimitReader(r.Body, 64<<10))
				return statusError(r.StatusCode, body)
			}
			resp = r
			return nil
		})
		if err != nil {
			sendEvent(ctx, out, StreamEvent{Err: fmt.Errorf("%s: %w", name, err)})
			return
		}
		defer resp.Body.Close()

		if err := decode(ctx, resp.Body, out); err != nil {
			sendEvent(ctx, out, StreamEvent{Err: fmt.Errorf("%s: %w", name, err)})
		}
	}()
	return out
}

// sendEvent delivers ev unless ctx is done first.
func sendEvent(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- ev:
		return true
	}
}
