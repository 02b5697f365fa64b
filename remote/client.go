// Package remote lets an adapter's features be served by another process.
//
// A Client is the transport-neutral shape every wire binding implements:
// one-shot calls through Invoke and native streams through Stream. NewProxy
// turns a Client into a local adapter whose features forward to the remote
// one, and Dispatcher is the server-side counterpart that routes inbound
// calls to locally registered adapters.
package remote

import (
	"context"
	"sync"

	"github.com/drblury/adapterflow/adapter"
	"github.com/drblury/adapterflow/internal/runtime/metadata"
	"github.com/drblury/adapterflow/stream"
)

// Call addresses one feature operation on a remote adapter. Payload is the
// JSON-encoded request.
type Call struct {
	AdapterID string
	Feature   string
	Operation string
	Payload   []byte
	Metadata  metadata.Metadata

	// Input carries the JSON-encoded items of client-stream operations.
	Input stream.Source[[]byte]
}

// RawStream is a native streaming handle. Next advances to the next item
// and reports false once the stream ended; Err then holds the terminal
// error. The stream is bound to the context passed to Client.Stream.
type RawStream interface {
	Next() bool
	Current() []byte
	Err() error
	Close() error
}

// Client is a remote transport client.
type Client interface {
	// Name identifies the binding in errors and logs.
	Name() string
	ListAdapters(ctx context.Context) ([]adapter.Info, error)
	Describe(ctx context.Context, adapterID string) (adapter.Info, error)
	Invoke(ctx context.Context, call Call) ([]byte, error)
	Stream(ctx context.Context, call Call) (RawStream, error)
	Close() error
}

// rawSource adapts a remote stream to stream.Source. The remote call is
// opened on the first Next so that it runs under the forwarding task's
// context and is cancelled with it.
type rawSource struct {
	client Client
	call   Call

	mu     sync.Mutex
	opened bool
	raw    RawStream
}

func newRawSource(client Client, call Call) *rawSource {
	return &rawSource{client: client, call: call}
}

func (r *rawSource) Next(ctx context.Context) ([]byte, bool, error) {
	r.mu.Lock()
	if !r.opened {
		r.opened = true
		r.mu.Unlock()
		raw, err := r.client.Stream(ctx, r.call)
		if err != nil {
			return nil, false, r.wrap(ctx, err)
		}
		r.mu.Lock()
		r.raw = raw
	}
	raw := r.raw
	r.mu.Unlock()

	if raw == nil {
		return nil, false, nil
	}
	if raw.Next() {
		return raw.Current(), true, nil
	}
	if err := raw.Err(); err != nil {
		return nil, false, r.wrap(ctx, err)
	}
	return nil, false, nil
}

func (r *rawSource) wrap(ctx context.Context, err error) error {
	return remoteError(ctx, r.client.Name(), r.call.Operation, err)
}

func (r *rawSource) Close() error {
	r.mu.Lock()
	raw := r.raw
	r.raw = nil
	r.opened = true
	r.mu.Unlock()
	if raw == nil {
		return nil
	}
	return raw.Close()
}

// SequenceStream exposes a byte sequence as a RawStream. Server bindings use
// it to hand dispatcher output to their wire loop.
func SequenceStream(ctx context.Context, seq *stream.Sequence[[]byte]) RawStream {
	return &sequenceStream{ctx: ctx, seq: seq}
}

type sequenceStream struct {
	ctx     context.Context
	seq     *stream.Sequence[[]byte]
	current []byte
	err     error
	done    bool
}

func (s *sequenceStream) Next() bool {
	if s.done {
		return false
	}
	item, ok, err := s.seq.Next(s.ctx)
	if !ok {
		s.done = true
		s.err = err
		s.current = nil
		return false
	}
	s.current = item
	return true
}

func (s *sequenceStream) Current() []byte { return s.current }

func (s *sequenceStream) Err() error { return s.err }

func (s *sequenceStream) Close() error {
	s.done = true
	s.seq.Cancel(nil)
	return nil
}
