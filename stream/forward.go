package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
)

// ErrDetached is the cancellation cause recorded when a task's destination
// completes, usually because its reader went away, before the source did.
var ErrDetached = errors.New("adapterflow: destination detached")

// TaskOption configures a forwarding Task.
type TaskOption func(*taskOptions)

type taskOptions struct {
	name  string
	hooks ForwardHooks
}

// WithName labels the task for hooks and logs.
func WithName(name string) TaskOption {
	return func(o *taskOptions) { o.name = name }
}

// WithHooks attaches lifecycle hooks. Repeated use merges the hooks.
func WithHooks(hooks ForwardHooks) TaskOption {
	return func(o *taskOptions) { o.hooks = o.hooks.Merge(hooks) }
}

// Task is a supervised background pump started by Forward. It owns the
// write side of its destination.
type Task struct {
	name   string
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu    sync.Mutex
	state State
	err   error
	items uint64
}

// Name returns the task label.
func (t *Task) Name() string { return t.name }

// Cancel stops the pump. The destination completes as Cancelled unless the
// source already finished.
func (t *Task) Cancel(cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	t.cancel(cause)
}

// Done is closed once the destination has been completed.
func (t *Task) Done() <-chan struct{} { return t.done }

// State returns Open while pumping and the destination outcome afterwards.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the outcome handed to the destination.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Items returns the number of items written to the destination so far.
func (t *Task) Items() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.items
}

// Wait blocks until the task finished or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return errspkg.FromContext(ctx)
	}
}

// Forward starts a Task that copies src into dst in order. It returns
// immediately. Whatever happens, dst.TryComplete is called exactly once with
// the task outcome: nil when src finished cleanly, the source or destination
// error, or a cancellation when ctx or Task.Cancel fired first.
//
// When the task stops early it cancels src if src has a Cancel(error)
// method, and it always closes src if src is an io.Closer.
func Forward[T any](ctx context.Context, src Source[T], dst Sink[T], opts ...TaskOption) *Task {
	return ForwardMap(ctx, src, dst, func(item T) (T, error) { return item, nil }, opts...)
}

// ForwardMap is Forward with a per-item transform. An error from fn fails
// the destination.
func ForwardMap[T, U any](ctx context.Context, src Source[T], dst Sink[U], fn func(T) (U, error), opts ...TaskOption) *Task {
	var o taskOptions
	for _, opt := range opts {
		opt(&o)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	t := &Task{
		name:   o.name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if d, ok := any(dst).(interface{ Done() <-chan struct{} }); ok {
		go func() {
			select {
			case <-d.Done():
				cancel(ErrDetached)
			case <-runCtx.Done():
			}
		}()
	}

	go t.run(runCtx, o.hooks, func(ctx context.Context) error {
		return pump(ctx, t, src, dst, fn)
	}, func(outcome error) {
		releaseSource(src, outcome)
		dst.TryComplete(outcome)
	})
	return t
}

func (t *Task) run(ctx context.Context, hooks ForwardHooks, body func(context.Context) error, finish func(error)) {
	defer t.cancel(nil)

	info := TaskInfo{Name: t.name, StartedAt: time.Now()}
	if hooks.OnStart != nil {
		hooks.OnStart(info)
	}

	outcome := t.guard(ctx, body)
	state := stateFor(outcome)
	if state == Cancelled {
		outcome = errspkg.Cancelled(outcome)
	}

	t.guardFinish(finish, outcome)

	t.mu.Lock()
	t.state = state
	t.err = outcome
	info.Items = t.items
	t.mu.Unlock()
	close(t.done)

	info.Duration = time.Since(info.StartedAt)
	info.State = state
	hooks.fire(info, outcome)
}

func (t *Task) guard(ctx context.Context, body func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapterflow: forwarding task %q panicked: %v", t.name, r)
		}
	}()
	return body(ctx)
}

// guardFinish keeps a panicking Close or TryComplete from escaping the pump
// goroutine.
func (t *Task) guardFinish(finish func(error), outcome error) {
	defer func() { _ = recover() }()
	finish(outcome)
}

func pump[T, U any](ctx context.Context, t *Task, src Source[T], dst Sink[U], fn func(T) (U, error)) error {
	for {
		if err := errspkg.FromContext(ctx); err != nil {
			return err
		}
		item, ok, err := src.Next(ctx)
		if err != nil {
			if ctxErr := errspkg.FromContext(ctx); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		if !ok {
			return nil
		}
		out, err := fn(item)
		if err != nil {
			return err
		}
		if err := dst.Write(ctx, out); err != nil {
			if ctxErr := errspkg.FromContext(ctx); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, ErrClosed) {
				return errspkg.Cancelled(ErrDetached)
			}
			return err
		}
		t.mu.Lock()
		t.items++
		t.mu.Unlock()
	}
}

func releaseSource[T any](src Source[T], outcome error) {
	if outcome != nil {
		if c, ok := src.(interface{ Cancel(error) bool }); ok {
			c.Cancel(outcome)
		}
	}
	if c, ok := src.(io.Closer); ok {
		_ = c.Close()
	}
}

func stateFor(err error) State {
	switch {
	case err == nil:
		return Completed
	case errspkg.IsCancellation(err):
		return Cancelled
	default:
		return Failed
	}
}
