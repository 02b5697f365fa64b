// Package stream is the single representation of "zero or more items produced
// over time" used by every feature contract.
//
// A Sequence is a FIFO buffer with one writer and one reader. Its Policy picks
// unbounded buffering, bounded buffering that blocks the writer, or bounded
// buffering that drops the oldest item. A Sequence completes exactly once:
// successfully, with an error, or cancelled. Readers drain buffered items
// before they observe the terminal outcome, and Err distinguishes the three
// outcomes (use errors.Is(err, ErrCancelled) for cancellation).
//
// Forward starts a background Task that pumps a Source into a Sink and
// always completes the Sink, whatever the exit path: source finished, source
// failed, sink rejected a write, or the task was cancelled. Go bridges a
// one-shot call into a Sequence through the same Task machinery.
package stream
