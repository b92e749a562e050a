package providers

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

// drain collects the text and terminal error of a stream.
func drain(t *testing.T, ch <-chan StreamEvent) (string, error) {
	t.Helper()
	var b strings.Builder
	var err error
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return b.String(), err
			}
			if ev.Err != nil {
				err = ev.Err
				continue
			}
			b.WriteString(ev.Text())
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

// writeSSE writes data frames in the chat-completions format.
func writeSSE(w http.ResponseWriter, deltas ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, d := range deltas {
		fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", d)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

// fastRetries shortens back-off for the duration of a test.
func fastRetries(t *testing.T) {
	t.Helper()
	orig := retryBaseDelay
	retryBaseDelay = time.Millisecond
	t.Cleanup(func() { retryBaseDelay = orig })
}

// rewriteTransport rewrites all request URLs to point at the test server.
type rewriteTransport struct {
	base    http.RoundTripper
	baseURL string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = "http"
	req.URL.Host = t.baseURL[len("http://"):]
	if t.base != nil {
		return t.base.RoundTrip(req)
	}
	return http.DefaultTransport.RoundTrip(req)
}
