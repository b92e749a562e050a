// Package providers implements the Streamer interface for each supported
// completion API.
//
// Supported providers: Azure OpenAI deployments (the default), OpenAI,
// Anthropic (Claude), Google (Gemini), and Ollama / LMStudio for local models
// through their OpenAI-compatible endpoint.
//
// Every Streamer returns a channel immediately and performs the HTTP call on
// its own goroutine, so callers can start many streams in a fixed order
// without waiting for response headers. The channel carries partial-content
// events and at most one terminal error event, and is always closed by the
// provider.
//
// Opening a stream may be retried with exponential back-off on 429 and 5xx
// responses when a provider is configured with Retries > 0. Errors that occur
// once the stream has started are never retried.
//
// Use [New] to obtain a Streamer from a [Config].
package providers
