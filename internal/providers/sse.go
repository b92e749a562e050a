package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// readSSE reads server-sent events from r and calls fn with the event name
// (empty when the stream does not name events) and each data payload. It
// stops when fn returns stop or an error, or at end of stream.
func readSSE(r io.Reader, fn func(event, data string) (stop bool, err error)) error {
	reader := bufio.NewReader(r)
	var event string
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				event = ""
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				stop, ferr := fn(event, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
				if ferr != nil {
					return ferr
				}
				if stop {
					return nil
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading stream: %w", err)
		}
	}
}

type openaiStreamChunk struct {
	Choices []openaiStreamChoice `json:"choices"`
	Error   *openaiError         `json:"error,omitempty"`
}

type openaiStreamChoice struct {
	Index int          `json:"index"`
	Delta *openaiDelta `json:"delta,omitempty"`
}

type openaiDelta struct {
	Content string `json:"content"`
}

type openaiError struct {
	Message string `json:"message"`
}

// decodeOpenAIStream parses the chat-completions SSE format shared by
// OpenAI, Azure OpenAI and OpenAI-compatible local servers.
func decodeOpenAIStream(ctx context.Context, body io.Reader, out chan<- StreamEvent) error {
	return readSSE(body, func(_, data string) (bool, error) {
		if data == "[DONE]" {
			return true, nil
		}
		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return true, fmt.Errorf("parsing stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return true, fmt.Errorf("stream error: %s", chunk.Error.Message)
		}

		ev := StreamEvent{Choices: make([]Choice, 0, len(chunk.Choices))}
		for _, c := range chunk.Choices {
			choice := Choice{Index: c.Index}
			if c.Delta != nil {
				choice.Delta = c.Delta.Content
			}
			ev.Choices = append(ev.Choices, choice)
		}
		if !sendEvent(ctx, out, ev) {
			return true, ctx.Err()
		}
		return false, nil
	})
}
