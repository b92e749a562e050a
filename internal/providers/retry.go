package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// retryBaseDelay is the first back-off step; it doubles on every attempt.
var retryBaseDelay = time.Second

type rateLimitError struct{}

func (e *rateLimitError) Error() string { return "rate limited" }

type serverError struct {
	statusCode int
	body       string
}

func (e *serverError) Error() string { return "server error: " + e.body }

type authError struct {
	message string
}

func (e *authError) Error() string {
	return "authentication error: " + e.message
}

// IsAuthError checks if an error is, or wraps, an authentication error.
func IsAuthError(err error) bool {
	var ae *authError
	return errors.As(err, &ae)
}

// IsRateLimited checks if an error is, or wraps, a 429 response.
func IsRateLimited(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

func isRetryable(err error) bool {
	var rl *rateLimitError
	var se *serverError
	return errors.As(err, &rl) || errors.As(err, &se)
}

// statusError maps a non-200 response to a typed error.
func statusError(code int, body []byte) error {
	switch {
	case code == http.StatusTooManyRequests:
		return &rateLimitError{}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &authError{message: string(body)}
	case code >= 500:
		return &serverError{statusCode: code, body: string(body)}
	default:
		return fmt.Errorf("API error (status %d): %s", code, string(body))
	}
}

func retryWithBackoff(ctx context.Context, maxRetries int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		// Only rate limits and server errors are worth another attempt.
		if !isRetryable(lastErr) {
			return lastErr
		}

		if attempt < maxRetries {
			backoff := retryBaseDelay << uint(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}
