package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/adapterflow/adapter"
	"github.com/drblury/adapterflow/internal/runtime/cloudevents"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/internal/runtime/ids"
	"github.com/drblury/adapterflow/internal/runtime/jsoncodec"
	"github.com/drblury/adapterflow/internal/runtime/logging"
	"github.com/drblury/adapterflow/internal/runtime/metadata"
	"github.com/drblury/adapterflow/remote"
	"github.com/drblury/adapterflow/stream"
	"github.com/drblury/adapterflow/transport"
)

// ErrClientClosed fails calls still pending when the client closes.
var ErrClientClosed = errors.New("adapterflow: hub client closed")

// ClientOptions configures a Client.
type ClientOptions struct {
	// RequestTopic is the server's topic. Defaults to DefaultRequestTopic.
	RequestTopic string
	// ReplyTopic is where this client receives results. Defaults to a
	// unique topic below RequestTopic.
	ReplyTopic string
	Source     string
	// MaxMessageSize rejects larger events before publishing. Zero means
	// no limit; use the backend's Capabilities.MaxMessageSize.
	MaxMessageSize int64
	Logger         logging.ServiceLogger
}

// Client is a remote.Client over a Watermill transport.
type Client struct {
	pub   message.Publisher
	opts  ClientOptions
	log   logging.ServiceLogger
	stop  context.CancelFunc
	done  chan struct{}
	close sync.Once

	mu     sync.Mutex
	calls  map[string]*inbox
	closed bool
}

// NewClient subscribes to the reply topic and returns a ready client. The
// transport stays owned by the caller.
func NewClient(ctx context.Context, t transport.Transport, opts ClientOptions) (*Client, error) {
	if t.Publisher == nil || t.Subscriber == nil {
		return nil, errspkg.Validation("transport", "publisher and subscriber are required")
	}
	if opts.RequestTopic == "" {
		opts.RequestTopic = DefaultRequestTopic
	}
	if opts.ReplyTopic == "" {
		opts.ReplyTopic = opts.RequestTopic + ".reply." + ids.CreateULID()
	}
	if opts.Source == "" {
		opts.Source = "adapterflow-hub-client"
	}

	subCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	msgs, err := t.Subscriber.Subscribe(subCtx, opts.ReplyTopic)
	if err != nil {
		stop()
		return nil, errspkg.Transport(transportName, "subscribe", err)
	}
	c := &Client{
		pub:   t.Publisher,
		opts:  opts,
		log:   logging.ForComponent(opts.Logger, "hub-client").With(logging.LogFields{"reply_topic": opts.ReplyTopic}),
		stop:  stop,
		done:  make(chan struct{}),
		calls: make(map[string]*inbox),
	}
	go c.receive(msgs)
	return c, nil
}

func (c *Client) Name() string { return transportName }

func (c *Client) ListAdapters(ctx context.Context) ([]adapter.Info, error) {
	data, err := c.unary(ctx, modeList, remote.Call{})
	if err != nil {
		return nil, err
	}
	return jsoncodec.DecodeAs[[]adapter.Info](data)
}

func (c *Client) Describe(ctx context.Context, adapterID string) (adapter.Info, error) {
	data, err := c.unary(ctx, modeDescribe, remote.Call{AdapterID: adapterID})
	if err != nil {
		return adapter.Info{}, err
	}
	return jsoncodec.DecodeAs[adapter.Info](data)
}

func (c *Client) Invoke(ctx context.Context, call remote.Call) ([]byte, error) {
	return c.unary(ctx, modeInvoke, call)
}

func (c *Client) Stream(ctx context.Context, call remote.Call) (remote.RawStream, error) {
	return c.open(ctx, modeStream, call)
}

// Close stops receiving replies and fails every pending call.
func (c *Client) Close() error {
	c.close.Do(func() {
		c.stop()
		<-c.done
	})
	return nil
}

func (c *Client) unary(ctx context.Context, mode string, call remote.Call) ([]byte, error) {
	s, err := c.open(ctx, mode, call)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if !s.Next() {
		if err := s.Err(); err != nil {
			return nil, err
		}
		return nil, errspkg.Transport(transportName, mode, errors.New("empty reply"))
	}
	out := s.Current()
	// Drain the completion so a late failure is not lost.
	for s.Next() {
	}
	return out, s.Err()
}

func (c *Client) open(ctx context.Context, mode string, call remote.Call) (*clientStream, error) {
	callID := ids.WithPrefix("call")
	box := newInbox()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errspkg.Transport(transportName, mode, ErrClientClosed)
	}
	c.calls[callID] = box
	c.mu.Unlock()

	evt := cloudevents.New(TypeCall, c.opts.Source, call.Payload).
		WithSubject(mode).
		WithExtension(cloudevents.ExtCallID, callID).
		WithExtension(cloudevents.ExtReplyTo, c.opts.ReplyTopic).
		WithExtension(cloudevents.ExtAdapterID, call.AdapterID).
		WithExtension(cloudevents.ExtFeature, call.Feature).
		WithExtension(cloudevents.ExtOperation, call.Operation)
	if id := call.Metadata.Get(metadata.KeyCorrelationID); id != "" {
		cloudevents.SetCorrelationID(&evt, id)
	}
	if err := publish(c.pub, c.opts.RequestTopic, evt, call.Metadata, c.opts.MaxMessageSize); err != nil {
		c.forget(callID)
		return nil, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	s := &clientStream{c: c, ctx: ctx, cancel: cancel, callID: callID, box: box}
	if call.Input != nil {
		go c.sendInput(ctx, s, call.Input)
	}
	return s, nil
}

// sendInput publishes the client-side items of a call. A failing input
// aborts the call.
func (c *Client) sendInput(ctx context.Context, s *clientStream, input stream.Source[[]byte]) {
	var seq uint64
	for {
		data, ok, err := input.Next(ctx)
		if err != nil {
			s.cancel(err)
			s.box.fail(err)
			c.sendCancel(s.callID)
			return
		}
		if !ok {
			end := cloudevents.New(TypeInputEnd, c.opts.Source, nil).WithExtension(cloudevents.ExtCallID, s.callID)
			cloudevents.SetCount(&end, seq)
			if err := publish(c.pub, c.opts.RequestTopic, end, nil, c.opts.MaxMessageSize); err != nil {
				s.box.fail(err)
			}
			return
		}
		evt := cloudevents.New(TypeInput, c.opts.Source, data).WithExtension(cloudevents.ExtCallID, s.callID)
		cloudevents.SetSeq(&evt, seq)
		if err := publish(c.pub, c.opts.RequestTopic, evt, nil, c.opts.MaxMessageSize); err != nil {
			s.box.fail(err)
			return
		}
		seq++
	}
}

func (c *Client) sendCancel(callID string) {
	evt := cloudevents.New(TypeCancel, c.opts.Source, nil).WithExtension(cloudevents.ExtCallID, callID)
	if err := publish(c.pub, c.opts.RequestTopic, evt, nil, c.opts.MaxMessageSize); err != nil {
		c.log.Debug("Cancel not delivered", logging.LogFields{"call_id": callID, "error": err.Error()})
	}
}

func (c *Client) forget(callID string) {
	c.mu.Lock()
	delete(c.calls, callID)
	c.mu.Unlock()
}

func (c *Client) receive(msgs <-chan *message.Message) {
	defer close(c.done)
	defer c.failAll()
	for msg := range msgs {
		evt, err := decodeMessage(msg)
		msg.Ack()
		if err != nil {
			c.log.Debug("Dropping malformed reply", logging.LogFields{"error": err.Error()})
			continue
		}
		c.mu.Lock()
		box := c.calls[cloudevents.CallID(evt)]
		c.mu.Unlock()
		if box == nil {
			continue
		}
		switch evt.Type {
		case TypeItem:
			box.push(cloudevents.Seq(evt), evt.Data)
		case TypeComplete:
			box.end(cloudevents.Count(evt), completionError(evt))
		}
	}
}

func (c *Client) failAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, box := range c.calls {
		box.fail(errspkg.Transport(transportName, "receive", ErrClientClosed))
		delete(c.calls, id)
	}
}

type clientStream struct {
	c      *Client
	ctx    context.Context
	cancel context.CancelCauseFunc
	callID string
	box    *inbox

	cur  []byte
	err  error
	done bool
	once sync.Once
}

func (s *clientStream) Next() bool {
	if s.done {
		return false
	}
	data, ok, err := s.box.read(s.ctx)
	if !ok {
		s.done = true
		s.cur = nil
		s.err = err
		if cause := context.Cause(s.ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			s.err = cause
		}
		return false
	}
	s.cur = data
	return true
}

func (s *clientStream) Current() []byte { return s.cur }

func (s *clientStream) Err() error { return s.err }

// Close tells the server to stop unless the call already completed.
func (s *clientStream) Close() error {
	s.once.Do(func() {
		completed := s.done && s.ctx.Err() == nil
		s.done = true
		s.cancel(nil)
		s.c.forget(s.callID)
		if !completed {
			s.c.sendCancel(s.callID)
		}
	})
	return nil
}

var _ remote.Client = (*Client)(nil)
