// Package review turns a pull-request diff into a single review comment.
//
// The engine guards the diff's size, redacts secrets, splits it into
// fixed-size chunks followed by a closing instruction, optionally primes
// the model with a preamble call, and streams every chunk through the
// bounded dispatcher. The aggregated completion text becomes the comment;
// the Report records what happened to each chunk.
package review
