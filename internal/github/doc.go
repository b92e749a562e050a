// Package github provides a minimal GitHub REST API client for posting a
// review as a pull-request comment and fetching pull-request diffs.
//
// The repository is taken from an "owner/repo" string (as set in
// GITHUB_REPOSITORY) or detected from the local git remote. Requests are
// authenticated with GITHUB_TOKEN and paced by a token-bucket limiter.
package github
