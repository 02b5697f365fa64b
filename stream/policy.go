package stream

import "fmt"

// Overflow selects what a bounded Sequence does with a write when it is full.
type Overflow int

const (
	// Block suspends the writer until the reader frees a slot or the write is
	// cancelled.
	Block Overflow = iota
	// DropOldest discards the oldest buffered item to make room.
	DropOldest
)

// String returns a human-readable representation of the overflow policy.
func (o Overflow) String() string {
	switch o {
	case Block:
		return "block"
	case DropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// Policy is the capacity policy of a Sequence. A Capacity of zero or less
// means unbounded.
type Policy struct {
	Capacity int
	Overflow Overflow
}

// Unbounded never blocks or drops.
func Unbounded() Policy { return Policy{} }

// Bounded holds at most n items and blocks the writer when full.
func Bounded(n int) Policy { return Policy{Capacity: n, Overflow: Block} }

// BoundedDropOldest holds at most n items and drops the oldest when full.
func BoundedDropOldest(n int) Policy { return Policy{Capacity: n, Overflow: DropOldest} }

// IsBounded reports whether the policy limits the buffer.
func (p Policy) IsBounded() bool { return p.Capacity > 0 }

// Blocks reports whether a full buffer suspends the writer.
func (p Policy) Blocks() bool { return p.IsBounded() && p.Overflow == Block }

func (p Policy) String() string {
	if !p.IsBounded() {
		return "unbounded"
	}
	return fmt.Sprintf("bounded(%d,%s)", p.Capacity, p.Overflow)
}

// State is the completion state of a Sequence.
type State int32

const (
	Open State = iota
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool { return s != Open }
