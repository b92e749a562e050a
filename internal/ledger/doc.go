// Package ledger remembers which diffs have already been reviewed on which
// pull request, so a re-run of the same CI job does not post the same
// review twice.
//
// Keys are SHA-256 hashes of the repository, pull-request number and diff
// content. Entries expire after a TTL. Two backends are provided: JSON files
// in the user cache directory, and Redis for runners that share state.
package ledger
