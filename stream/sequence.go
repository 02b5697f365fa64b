package stream

import (
	"context"
	"iter"
	"sync"

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
)

var (
	// ErrCancelled matches every cancelled outcome.
	ErrCancelled = errspkg.ErrCancelled
	// ErrClosed is returned by Write on a sequence that already completed.
	ErrClosed = errspkg.ErrSequenceClosed
)

// Source is anything a Task can pull items from. Next returns ok=false once
// the source is exhausted; a nil error then means it finished cleanly.
type Source[T any] interface {
	Next(ctx context.Context) (item T, ok bool, err error)
}

// Sink is the write side a Task pumps into.
type Sink[T any] interface {
	Write(ctx context.Context, item T) error
	TryComplete(err error) bool
}

// SourceFunc adapts a function to Source.
type SourceFunc[T any] func(ctx context.Context) (T, bool, error)

func (f SourceFunc[T]) Next(ctx context.Context) (T, bool, error) { return f(ctx) }

// Option configures a Sequence.
type Option[T any] func(*Sequence[T])

// WithDropCallback is invoked, outside the lock, for every item discarded by
// a DropOldest policy.
func WithDropCallback[T any](fn func(T)) Option[T] {
	return func(s *Sequence[T]) { s.onDrop = fn }
}

// Sequence is an ordered, possibly infinite sequence of T with a capacity
// policy and a single completion outcome.
type Sequence[T any] struct {
	mu     sync.Mutex
	policy Policy
	items  []T
	head   int

	state   State
	err     error
	written uint64
	dropped uint64

	// changed is closed and replaced on every state or buffer change so that
	// suspended readers and writers can select on it next to their context.
	changed chan struct{}
	done    chan struct{}

	stopWatch func() bool
	onDrop    func(T)
}

// New creates an open Sequence. When ctx is non-nil it becomes the
// sequence's cancellation signal: once ctx is done the sequence transitions
// to Cancelled and every suspended Write and Next returns.
func New[T any](ctx context.Context, policy Policy, opts ...Option[T]) *Sequence[T] {
	s := &Sequence[T]{
		policy:  policy,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if ctx != nil && ctx.Done() != nil {
		s.stopWatch = context.AfterFunc(ctx, func() {
			s.Cancel(context.Cause(ctx))
		})
	}
	return s
}

// Policy returns the capacity policy.
func (s *Sequence[T]) Policy() Policy { return s.policy }

// Done is closed when the sequence leaves the Open state.
func (s *Sequence[T]) Done() <-chan struct{} { return s.done }

// State returns the current completion state.
func (s *Sequence[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error: nil while open or after a clean completion,
// the failure after Failed, and an error matching ErrCancelled after
// Cancelled.
func (s *Sequence[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Outcome returns state and terminal error together.
func (s *Sequence[T]) Outcome() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

// Len returns the number of buffered items.
func (s *Sequence[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items) - s.head
}

// Written returns how many items were accepted by Write.
func (s *Sequence[T]) Written() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Dropped returns how many items a DropOldest policy discarded.
func (s *Sequence[T]) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Write appends item. It fails immediately when the sequence is not open. A
// full Block sequence suspends the caller until the reader frees a slot, the
// sequence is cancelled, or ctx is done.
func (s *Sequence[T]) Write(ctx context.Context, item T) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		if s.state != Open {
			err := s.closedErrLocked()
			s.mu.Unlock()
			return err
		}

		size := len(s.items) - s.head
		if !s.policy.IsBounded() || size < s.policy.Capacity {
			s.pushLocked(item)
			s.mu.Unlock()
			return nil
		}

		if s.policy.Overflow == DropOldest {
			var zero T
			dropped := s.items[s.head]
			s.items[s.head] = zero
			s.head++
			s.dropped++
			s.compactLocked()
			s.pushLocked(item)
			s.mu.Unlock()
			if s.onDrop != nil {
				s.onDrop(dropped)
			}
			return nil
		}

		wait := s.changed
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return errspkg.FromContext(ctx)
		}
	}
}

// Next returns the next buffered item in write order. When the buffer is
// empty and the sequence is complete it returns ok=false together with the
// terminal error. A done ctx aborts only this read.
func (s *Sequence[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		if s.head < len(s.items) {
			item := s.items[s.head]
			s.items[s.head] = zero
			s.head++
			s.compactLocked()
			s.broadcastLocked()
			s.mu.Unlock()
			return item, true, nil
		}
		if s.state != Open {
			err := s.err
			s.mu.Unlock()
			return zero, false, err
		}
		wait := s.changed
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return zero, false, errspkg.FromContext(ctx)
		}
	}
}

// All iterates the sequence until it completes. A non-nil terminal error is
// yielded once, as the last pair.
func (s *Sequence[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			item, ok, err := s.Next(ctx)
			if !ok {
				if err != nil {
					var zero T
					yield(zero, err)
				}
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// TryComplete moves an open sequence to Completed (err == nil), Cancelled
// (err is a cancellation) or Failed. It returns false and changes nothing if
// the sequence already completed. Only the sequence's writer calls it.
func (s *Sequence[T]) TryComplete(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Open {
		return false
	}
	switch {
	case err == nil:
		s.state = Completed
	case errspkg.IsCancellation(err):
		s.state = Cancelled
		s.err = errspkg.Cancelled(err)
	default:
		s.state = Failed
		s.err = err
	}
	s.finishLocked()
	return true
}

// Cancel detaches the reader: buffered items are discarded and an open
// sequence becomes Cancelled. It reports whether the state changed.
func (s *Sequence[T]) Cancel(cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.head = 0
	if s.state != Open {
		s.broadcastLocked()
		return false
	}
	s.state = Cancelled
	s.err = errspkg.Cancelled(cause)
	s.finishLocked()
	return true
}

// Close is Cancel(nil); it lets a Sequence satisfy io.Closer.
func (s *Sequence[T]) Close() error {
	s.Cancel(nil)
	return nil
}

func (s *Sequence[T]) pushLocked(item T) {
	s.items = append(s.items, item)
	s.written++
	s.broadcastLocked()
}

func (s *Sequence[T]) compactLocked() {
	if s.head == len(s.items) {
		s.items = s.items[:0]
		s.head = 0
		return
	}
	if s.head > 32 && s.head*2 >= len(s.items) {
		n := copy(s.items, s.items[s.head:])
		clear(s.items[n:])
		s.items = s.items[:n]
		s.head = 0
	}
}

func (s *Sequence[T]) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Sequence[T]) finishLocked() {
	close(s.done)
	s.broadcastLocked()
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}
}

func (s *Sequence[T]) closedErrLocked() error {
	if s.state == Cancelled {
		return s.err
	}
	return ErrClosed
}
