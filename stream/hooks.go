package stream

import "time"

// TaskInfo describes a forwarding task to hooks.
type TaskInfo struct {
	// Name identifies the task in logs and metrics.
	Name string
	// StartedAt is when the pump goroutine started.
	StartedAt time.Time
	// Duration is only set for OnDone, OnError and OnCancel.
	Duration time.Duration
	// Items is the number of items written to the destination.
	Items uint64
	// State is the outcome handed to the destination.
	State State
}

// ForwardHooks are optional callbacks for forwarding task lifecycle events.
// Nil hooks are not called. Hooks run on the pump goroutine and must not
// block.
type ForwardHooks struct {
	OnStart  func(info TaskInfo)
	OnDone   func(info TaskInfo)
	OnError  func(info TaskInfo, err error)
	OnCancel func(info TaskInfo, cause error)
}

// Merge returns hooks that call h first and then other.
func (h ForwardHooks) Merge(other ForwardHooks) ForwardHooks {
	return ForwardHooks{
		OnStart:  chainInfo(h.OnStart, other.OnStart),
		OnDone:   chainInfo(h.OnDone, other.OnDone),
		OnError:  chainInfoErr(h.OnError, other.OnError),
		OnCancel: chainInfoErr(h.OnCancel, other.OnCancel),
	}
}

func chainInfo(a, b func(TaskInfo)) func(TaskInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info TaskInfo) {
		a(info)
		b(info)
	}
}

func chainInfoErr(a, b func(TaskInfo, error)) func(TaskInfo, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info TaskInfo, err error) {
		a(info, err)
		b(info, err)
	}
}

func (h ForwardHooks) fire(info TaskInfo, err error) {
	switch info.State {
	case Completed:
		if h.OnDone != nil {
			h.OnDone(info)
		}
	case Cancelled:
		if h.OnCancel != nil {
			h.OnCancel(info, err)
		}
	default:
		if h.OnError != nil {
			h.OnError(info, err)
		}
	}
}
