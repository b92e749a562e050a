// Package redact removes secrets from a unified diff before any of it is
// sent to a completion provider.
//
// Detection uses regex heuristics covering common secret shapes: API keys,
// JWTs, private keys, AWS credentials, bearer tokens and provider-specific
// tokens (Azure, Anthropic, OpenAI, GitHub, Slack).
//
// Files whose paths match configured glob patterns keep their diff headers
// but have every hunk replaced with a single placeholder line.
package redact
