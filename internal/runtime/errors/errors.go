// Package errors holds the error taxonomy shared by the streaming core, the
// capability registry, the remote bindings and the key-value stores.
package errors

import (
	"context"
	sterrors "errors"
	"fmt"
)

var (
	ErrCancelled          = sterrors.New("adapterflow: operation cancelled")
	ErrNotFound           = sterrors.New("adapterflow: key not found")
	ErrSequenceClosed     = sterrors.New("adapterflow: sequence is not open")
	ErrDuplicateFeature   = sterrors.New("adapterflow: feature already registered")
	ErrFeatureMismatch    = sterrors.New("adapterflow: implementation does not satisfy feature contract")
	ErrFeatureSetSealed   = sterrors.New("adapterflow: feature set is sealed")
	ErrAdapterRequired    = sterrors.New("adapterflow: adapter is required")
	ErrAdapterNotFound    = sterrors.New("adapterflow: adapter not found")
	ErrDuplicateAdapter   = sterrors.New("adapterflow: adapter already registered")
	ErrClientRequired     = sterrors.New("adapterflow: remote client is required")
	ErrUnknownOperation   = sterrors.New("adapterflow: unknown feature operation")
	ErrValidation         = sterrors.New("adapterflow: validation failed")
	ErrUnsupportedFeature = sterrors.New("adapterflow: feature not supported")
	ErrTransport          = sterrors.New("adapterflow: transport failure")
	ErrStore              = sterrors.New("adapterflow: store failure")
)

// ValidationError reports a malformed request. It is always returned before a
// sequence is created.
type ValidationError struct {
	Field  string
	Reason string
}

// Validation builds a ValidationError for the named field.
func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("adapterflow: invalid request: %s", e.Reason)
	}
	return fmt.Sprintf("adapterflow: invalid request: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// UnsupportedFeatureError reports that an adapter's feature set has no
// implementation for the requested contract.
type UnsupportedFeatureError struct {
	AdapterID string
	Feature   string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("adapterflow: adapter %q does not support feature %s", e.AdapterID, e.Feature)
}

func (e *UnsupportedFeatureError) Is(target error) bool {
	return target == ErrUnsupportedFeature
}

// TransportError wraps a failure raised by a remote transport client.
type TransportError struct {
	Transport string
	Op        string
	Err       error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("adapterflow: %s transport: %s failed", e.Transport, e.Op)
	}
	return fmt.Sprintf("adapterflow: %s transport: %s failed: %v", e.Transport, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Transport wraps err as a TransportError unless it already carries one of the
// core classifications.
func Transport(transport, op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClassified(err) {
		return err
	}
	return &TransportError{Transport: transport, Op: op, Err: err}
}

// CancelledError is the terminal outcome of an operation stopped by its caller
// or by subscription teardown. It matches both ErrCancelled and
// context.Canceled.
type CancelledError struct {
	Cause error
}

// Cancelled wraps cause as a CancelledError. Passing an error that is
// already cancelled returns it unchanged.
func Cancelled(cause error) error {
	var ce *CancelledError
	if sterrors.As(cause, &ce) {
		return cause
	}
	return &CancelledError{Cause: cause}
}

func (e *CancelledError) Error() string {
	if e.Cause == nil || e.Cause == context.Canceled {
		return ErrCancelled.Error()
	}
	return fmt.Sprintf("%s: %v", ErrCancelled.Error(), e.Cause)
}

func (e *CancelledError) Unwrap() error { return e.Cause }

func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled || target == context.Canceled
}

// IsCancellation reports whether err represents cancellation rather than a
// failure. Deadline expiry counts as failure.
func IsCancellation(err error) bool {
	return err != nil && (sterrors.Is(err, ErrCancelled) || sterrors.Is(err, context.Canceled))
}

// FromContext converts a done context into the taxonomy. Deadline expiry
// stays a failure; any other cause becomes a cancellation. It returns nil
// while ctx is live.
func FromContext(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if sterrors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	return Cancelled(cause)
}

// StoreError wraps a key-value store failure.
type StoreError struct {
	Op  string
	Key []byte
	Err error
}

// Store wraps err as a StoreError. ErrNotFound passes through untouched so
// callers can keep matching the not-found status directly.
func Store(op string, key []byte, err error) error {
	if err == nil || sterrors.Is(err, ErrNotFound) {
		return err
	}
	return &StoreError{Op: op, Key: key, Err: err}
}

func (e *StoreError) Error() string {
	if len(e.Key) == 0 {
		return fmt.Sprintf("adapterflow: store %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("adapterflow: store %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// InvalidExtensionURIError is returned when an extension contract URI is not
// a strict descendant of the extension base path.
type InvalidExtensionURIError struct {
	URI    string
	Reason string
}

func (e *InvalidExtensionURIError) Error() string {
	return fmt.Sprintf("adapterflow: invalid extension URI %q: %s", e.URI, e.Reason)
}

// IsClassified reports whether err already carries one of the taxonomy kinds.
func IsClassified(err error) bool {
	switch {
	case sterrors.Is(err, ErrValidation),
		sterrors.Is(err, ErrUnsupportedFeature),
		sterrors.Is(err, ErrTransport),
		IsCancellation(err),
		sterrors.Is(err, ErrStore),
		sterrors.Is(err, ErrAdapterNotFound),
		sterrors.Is(err, ErrUnknownOperation):
		return true
	}
	return false
}

// Kind names the taxonomy class of err. Wire bindings use it to carry the
// classification across process boundaries.
type Kind string

const (
	KindNone        Kind = ""
	KindValidation  Kind = "validation"
	KindUnsupported Kind = "unsupported"
	KindTransport   Kind = "transport"
	KindCancelled   Kind = "cancelled"
	KindStore       Kind = "store"
	KindNotFound    Kind = "not_found"
	KindUnknown     Kind = "unknown"
)

// KindOf classifies err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case sterrors.Is(err, ErrValidation):
		return KindValidation
	case sterrors.Is(err, ErrUnsupportedFeature), sterrors.Is(err, ErrUnknownOperation):
		return KindUnsupported
	case IsCancellation(err):
		return KindCancelled
	case sterrors.Is(err, ErrAdapterNotFound):
		return KindNotFound
	case sterrors.Is(err, ErrStore):
		return KindStore
	case sterrors.Is(err, ErrTransport):
		return KindTransport
	}
	return KindUnknown
}

// FromKind rebuilds a classified error from a wire kind and message.
func FromKind(kind Kind, transport, msg string) error {
	switch kind {
	case KindNone:
		return nil
	case KindValidation:
		return Validation("", msg)
	case KindUnsupported:
		return &UnsupportedFeatureError{Feature: msg}
	case KindCancelled:
		return Cancelled(sterrors.New(msg))
	case KindNotFound:
		return fmt.Errorf("%w: %s", ErrAdapterNotFound, msg)
	case KindStore:
		return &StoreError{Op: "remote", Err: sterrors.New(msg)}
	}
	return &TransportError{Transport: transport, Op: "remote", Err: sterrors.New(msg)}
}
