package errors

import (
	"context"
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrCancelled", ErrCancelled, "adapterflow: operation cancelled"},
		{"ErrNotFound", ErrNotFound, "adapterflow: key not found"},
		{"ErrSequenceClosed", ErrSequenceClosed, "adapterflow: sequence is not open"},
		{"ErrDuplicateFeature", ErrDuplicateFeature, "adapterflow: feature already registered"},
		{"ErrFeatureMismatch", ErrFeatureMismatch, "adapterflow: implementation does not satisfy feature contract"},
		{"ErrAdapterNotFound", ErrAdapterNotFound, "adapterflow: adapter not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestCancelledMatchesContextCanceled(t *testing.T) {
	err := Cancelled(context.Canceled)
	if !errors.Is(err, ErrCancelled) {
		t.Fatal("expected ErrCancelled match")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatal("expected context.Canceled match")
	}
	if got := err.Error(); got != "adapterflow: operation cancelled" {
		t.Fatalf("unexpected message %q", got)
	}
	if Cancelled(err) != err {
		t.Fatal("expected already cancelled error to be returned unchanged")
	}
}

func TestIsCancellation(t *testing.T) {
	if IsCancellation(nil) {
		t.Fatal("nil is not a cancellation")
	}
	if IsCancellation(context.DeadlineExceeded) {
		t.Fatal("deadline expiry is a failure, not a cancellation")
	}
	if !IsCancellation(context.Canceled) {
		t.Fatal("context.Canceled is a cancellation")
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Fatal("live context must map to nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := FromContext(ctx); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	dctx, dcancel := context.WithTimeout(context.Background(), 0)
	defer dcancel()
	<-dctx.Done()
	err := FromContext(dctx)
	if !errors.Is(err, context.DeadlineExceeded) || IsCancellation(err) {
		t.Fatalf("expected deadline failure, got %v", err)
	}
}

func TestTransportWrapping(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		if Transport("rpc", "stream", nil) != nil {
			t.Fatal("expected nil")
		}
	})

	t.Run("plain errors are wrapped", func(t *testing.T) {
		inner := errors.New("connection reset")
		err := Transport("rpc", "stream", inner)
		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("expected TransportError, got %T", err)
		}
		if !errors.Is(err, inner) || !errors.Is(err, ErrTransport) {
			t.Fatal("expected wrapped error and ErrTransport to match")
		}
	})

	t.Run("classified errors keep their class", func(t *testing.T) {
		v := Validation("tags", "at least one tag is required")
		if got := Transport("rpc", "stream", v); got != v {
			t.Fatalf("expected validation error unchanged, got %v", got)
		}
	})
}

func TestStoreWrapping(t *testing.T) {
	if !errors.Is(Store("read", []byte("k"), ErrNotFound), ErrNotFound) {
		t.Fatal("not found must stay matchable")
	}
	err := Store("write", []byte("k"), errors.New("disk full"))
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %T", err)
	}
	if !errors.Is(err, ErrStore) {
		t.Fatal("expected ErrStore match")
	}
}

func TestKindRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"none", nil, KindNone},
		{"validation", Validation("page", "must be positive"), KindValidation},
		{"unsupported", &UnsupportedFeatureError{AdapterID: "a", Feature: "f"}, KindUnsupported},
		{"cancelled", Cancelled(nil), KindCancelled},
		{"transport", &TransportError{Transport: "hub", Op: "call", Err: errors.New("x")}, KindTransport},
		{"store", &StoreError{Op: "read", Err: errors.New("x")}, KindStore},
		{"unknown", errors.New("plain"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.kind {
				t.Fatalf("KindOf() = %q, want %q", got, tt.kind)
			}
			if tt.kind == KindNone || tt.kind == KindUnknown {
				return
			}
			rebuilt := FromKind(tt.kind, "rpc", "remote message")
			if got := KindOf(rebuilt); got != tt.kind {
				t.Fatalf("FromKind() kind = %q, want %q", got, tt.kind)
			}
		})
	}
}
