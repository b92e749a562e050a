// Package tokenizer estimates how many model tokens a chunk will cost.
// Counts are used for logging and reporting only; chunking is by
// character count.
package tokenizer
