// Package dispatch submits an ordered list of text chunks to a streaming
// completion provider with bounded concurrency and a fixed pacing delay,
// and aggregates the streamed text into a single result.
//
// Chunks are started strictly in input order. At most Options.Limit streams
// are open at once; when the limit is reached the dispatcher waits for one
// stream to finish before pacing and starting the next chunk. Every chunk
// is followed by Options.Delay, including the last one.
//
// A failing chunk never fails the batch. Its error is logged, recorded on
// its ChunkResult and otherwise ignored, and whatever text it streamed
// before failing stays in the aggregate.
package dispatch
