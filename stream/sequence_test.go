package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceYieldsWritesInOrderThenOutcome(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		policy  Policy
		outcome error
		state   State
	}{
		{"unbounded ok", Unbounded(), nil, Completed},
		{"unbounded failure", Unbounded(), boom, Failed},
		{"bounded ok", Bounded(16), nil, Completed},
		{"drop oldest failure", BoundedDropOldest(16), boom, Failed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			seq := New[int](nil, tt.policy)
			writes := []int{3, 1, 4, 1, 5, 9, 2, 6}
			for _, w := range writes {
				require.NoError(t, seq.Write(ctx, w))
			}
			require.True(t, seq.TryComplete(tt.outcome))
			assert.False(t, seq.TryComplete(errors.New("late")), "second completion must be a no-op")
			assert.False(t, seq.TryComplete(nil))

			got, err := Collect[int](ctx, seq)
			assert.Equal(t, writes, got)
			assert.Equal(t, tt.outcome, err)
			assert.Equal(t, tt.state, seq.State())
		})
	}
}

func TestSequenceWriteAfterCompletionFails(t *testing.T) {
	seq := New[string](nil, Unbounded())
	require.True(t, seq.TryComplete(nil))
	assert.ErrorIs(t, seq.Write(context.Background(), "x"), ErrClosed)
}

func TestSequenceCancelledOutcomeIsDistinct(t *testing.T) {
	seq := New[string](nil, Unbounded())
	require.NoError(t, seq.Write(context.Background(), "buffered"))
	require.True(t, seq.TryComplete(context.Canceled))

	item, ok, err := seq.Next(context.Background())
	require.True(t, ok, "buffered items drain before the terminal signal")
	assert.Equal(t, "buffered", item)
	assert.NoError(t, err)

	_, ok, err = seq.Next(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, Cancelled, seq.State())
}

func TestBoundedBlockSuspendsSecondWrite(t *testing.T) {
	ctx := context.Background()
	seq := New[int](nil, Bounded(1))
	require.NoError(t, seq.Write(ctx, 1))

	written := make(chan error, 1)
	go func() { written <- seq.Write(ctx, 2) }()

	select {
	case <-written:
		t.Fatal("second write must suspend while the buffer is full")
	case <-time.After(50 * time.Millisecond):
	}

	item, ok, err := seq.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, item)

	select {
	case err := <-written:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write did not resume after the read drained a slot")
	}

	item, ok, _ = seq.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, 2, item)
}

func TestBoundedBlockPendingWriterUnblocksOnCancel(t *testing.T) {
	seq := New[int](nil, Bounded(1))
	require.NoError(t, seq.Write(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	written := make(chan error, 1)
	go func() { written <- seq.Write(ctx, 2) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-written:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("pending writer hung after cancellation")
	}
	assert.Equal(t, 1, seq.Len())
}

func TestSequenceBoundContextCancelsEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	seq := New[int](ctx, Bounded(1))
	require.NoError(t, seq.Write(context.Background(), 1))

	writer := make(chan error, 1)
	go func() { writer <- seq.Write(context.Background(), 2) }()

	reader := New[int](ctx, Unbounded())
	read := make(chan error, 1)
	go func() {
		_, _, err := reader.Next(context.Background())
		read <- err
	}()

	cancel()

	for _, ch := range []chan error{writer, read} {
		select {
		case err := <-ch:
			assert.ErrorIs(t, err, ErrCancelled)
		case <-time.After(time.Second):
			t.Fatal("suspension did not unblock")
		}
	}
	assert.Equal(t, Cancelled, seq.State())
	assert.Equal(t, Cancelled, reader.State())
	assert.Zero(t, seq.Len(), "cancellation discards the buffer")
}

func TestDropOldestKeepsNewest(t *testing.T) {
	var dropped []int
	seq := New[int](nil, BoundedDropOldest(2), WithDropCallback(func(v int) { dropped = append(dropped, v) }))
	for i := 1; i <= 5; i++ {
		require.NoError(t, seq.Write(context.Background(), i))
	}
	seq.TryComplete(nil)

	got, err := Collect[int](context.Background(), seq)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, got)
	assert.Equal(t, []int{1, 2, 3}, dropped)
	assert.EqualValues(t, 3, seq.Dropped())
	assert.EqualValues(t, 5, seq.Written())
}

func TestDropOldestWithoutReaderStaysBounded(t *testing.T) {
	seq := New[int](nil, BoundedDropOldest(4))
	for i := 0; i < 100_000; i++ {
		require.NoError(t, seq.Write(context.Background(), i))
	}
	assert.Equal(t, 4, seq.Len())
	seq.mu.Lock()
	backing := cap(seq.items)
	seq.mu.Unlock()
	assert.LessOrEqual(t, backing, 128, "backing array must not grow with writes")

	seq.TryComplete(nil)
	got, err := Collect[int](context.Background(), seq)
	require.NoError(t, err)
	assert.Equal(t, []int{99_996, 99_997, 99_998, 99_999}, got)
}

func TestNextHonoursReadContext(t *testing.T) {
	seq := New[int](nil, Unbounded())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok, err := seq.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Open, seq.State(), "an aborted read leaves the sequence open")
}

func TestCloseDetachesReader(t *testing.T) {
	seq := New[int](nil, Unbounded())
	require.NoError(t, seq.Close())
	assert.Equal(t, Cancelled, seq.State())
	assert.ErrorIs(t, seq.Write(context.Background(), 1), ErrCancelled)
	select {
	case <-seq.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestAllYieldsTerminalError(t *testing.T) {
	boom := errors.New("boom")
	seq := New[int](nil, Unbounded())
	_ = seq.Write(context.Background(), 7)
	seq.TryComplete(boom)

	var items []int
	var last error
	for v, err := range seq.All(context.Background()) {
		if err != nil {
			last = err
			continue
		}
		items = append(items, v)
	}
	assert.Equal(t, []int{7}, items)
	assert.Equal(t, boom, last)
}

func TestPolicyString(t *testing.T) {
	assert.Equal(t, "unbounded", Unbounded().String())
	assert.Equal(t, "bounded(4,block)", Bounded(4).String())
	assert.Equal(t, "bounded(2,drop-oldest)", BoundedDropOldest(2).String())
	assert.True(t, Bounded(1).Blocks())
	assert.False(t, BoundedDropOldest(1).Blocks())
	assert.True(t, Failed.Terminal())
	assert.False(t, Open.Terminal())
}
