// Package output writes a local copy of a review run.
//
// Two formats are supported:
//   - text: the comment body followed by a short run summary (default)
//   - json: the full structured report
//
// Use [GetWriter] to obtain a [Writer] for a given format string, or
// [WriteReport] to also handle choosing between a file and stdout.
package output
