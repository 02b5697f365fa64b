package hub

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/adapterflow/features"
	"github.com/drblury/adapterflow/internal/runtime/cloudevents"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/internal/runtime/jsoncodec"
	"github.com/drblury/adapterflow/internal/runtime/logging"
	"github.com/drblury/adapterflow/internal/runtime/metadata"
	"github.com/drblury/adapterflow/remote"
	"github.com/drblury/adapterflow/stream"
	"github.com/drblury/adapterflow/transport"
)

// DefaultOrphanTimeout bounds how long input or cancel events for a call
// that never arrived are kept.
const DefaultOrphanTimeout = 30 * time.Second

// ServerOptions configures a Server.
type ServerOptions struct {
	RequestTopic  string
	Source        string
	OrphanTimeout time.Duration
	// MaxMessageSize fails calls whose results exceed it. Zero means no
	// limit.
	MaxMessageSize int64
	Logger         logging.ServiceLogger
}

// Server serves a Dispatcher on a request topic.
type Server struct {
	d    *remote.Dispatcher
	t    transport.Transport
	opts ServerOptions
	log  logging.ServiceLogger

	mu    sync.Mutex
	calls map[string]*serverCall
	wg    sync.WaitGroup
	stop  context.CancelFunc
	done  chan struct{}
}

type serverCall struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	input   *inbox
	started bool
	seen    time.Time
}

// NewServer prepares a server; Start begins consuming requests.
func NewServer(d *remote.Dispatcher, t transport.Transport, opts ServerOptions) *Server {
	if opts.RequestTopic == "" {
		opts.RequestTopic = DefaultRequestTopic
	}
	if opts.Source == "" {
		opts.Source = "adapterflow-hub-server"
	}
	if opts.OrphanTimeout <= 0 {
		opts.OrphanTimeout = DefaultOrphanTimeout
	}
	return &Server{
		d:     d,
		t:     t,
		opts:  opts,
		log:   logging.ForComponent(opts.Logger, "hub-server").With(logging.LogFields{"topic": opts.RequestTopic}),
		calls: make(map[string]*serverCall),
	}
}

// Start subscribes to the request topic. Calls run until ctx is done or
// Close is called.
func (s *Server) Start(ctx context.Context) error {
	if s.t.Publisher == nil || s.t.Subscriber == nil {
		return errspkg.Validation("transport", "publisher and subscriber are required")
	}
	ctx, stop := context.WithCancel(ctx)
	msgs, err := s.t.Subscriber.Subscribe(ctx, s.opts.RequestTopic)
	if err != nil {
		stop()
		return errspkg.Transport(transportName, "subscribe", err)
	}
	s.stop = stop
	s.done = make(chan struct{})
	s.log.Info("Hub server listening", nil)
	go s.receive(ctx, msgs)
	return nil
}

// Close stops consuming, cancels running calls and waits for them.
func (s *Server) Close() {
	if s.stop == nil {
		return
	}
	s.stop()
	<-s.done
	s.wg.Wait()
}

func (s *Server) receive(ctx context.Context, msgs <-chan *message.Message) {
	defer close(s.done)
	sweep := time.NewTicker(s.opts.OrphanTimeout / 2)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			s.cancelAll()
			return
		case <-sweep.C:
			s.sweepOrphans()
		case msg, ok := <-msgs:
			if !ok {
				s.cancelAll()
				return
			}
			s.route(ctx, msg)
		}
	}
}

func (s *Server) route(ctx context.Context, msg *message.Message) {
	evt, err := decodeMessage(msg)
	msg.Ack()
	if err != nil {
		s.log.Debug("Dropping malformed request", logging.LogFields{"error": err.Error()})
		return
	}
	callID := cloudevents.CallID(evt)
	if callID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.entryLocked(ctx, callID)
	switch evt.Type {
	case TypeCall:
		if sc.started {
			return
		}
		sc.started = true
		md := metadata.FromWatermill(msg.Metadata, MetadataPrefix)
		s.wg.Add(1)
		go s.serve(sc, callID, evt, md)
	case TypeInput:
		sc.input.push(cloudevents.Seq(evt), evt.Data)
	case TypeInputEnd:
		sc.input.end(cloudevents.Count(evt), completionError(evt))
	case TypeCancel:
		sc.cancel(errspkg.Cancelled(nil))
	}
}

// entryLocked returns the state of callID, creating it for events that
// overtake their call.
func (s *Server) entryLocked(ctx context.Context, callID string) *serverCall {
	sc, ok := s.calls[callID]
	if !ok {
		callCtx, cancel := context.WithCancelCause(ctx)
		sc = &serverCall{ctx: callCtx, cancel: cancel, input: newInbox()}
		s.calls[callID] = sc
	}
	sc.seen = time.Now()
	return sc
}

func (s *Server) sweepOrphans() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-s.opts.OrphanTimeout)
	for id, sc := range s.calls {
		if !sc.started && sc.seen.Before(cutoff) {
			sc.cancel(nil)
			delete(s.calls, id)
		}
	}
}

func (s *Server) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.calls {
		sc.cancel(errspkg.Cancelled(nil))
	}
}

func (s *Server) serve(sc *serverCall, callID string, evt cloudevents.Event, md metadata.Metadata) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.calls, callID)
		s.mu.Unlock()
		sc.cancel(nil)
	}()

	replyTo := cloudevents.ReplyTo(evt)
	if replyTo == "" {
		return
	}
	call := remote.Call{
		AdapterID: evt.GetExtensionString(cloudevents.ExtAdapterID),
		Feature:   evt.GetExtensionString(cloudevents.ExtFeature),
		Operation: evt.GetExtensionString(cloudevents.ExtOperation),
		Payload:   evt.Data,
		Metadata:  md,
	}
	if id := cloudevents.GetCorrelationID(evt); id != "" && call.Metadata.Get(metadata.KeyCorrelationID) == "" {
		call.Metadata = call.Metadata.With(metadata.KeyCorrelationID, id)
	}
	r := &replier{s: s, callID: callID, topic: replyTo, trace: evt}

	mode := ""
	if evt.Subject != nil {
		mode = *evt.Subject
	}
	switch mode {
	case modeList:
		infos, err := s.d.ListAdapters(sc.ctx)
		r.single(infos, err)
	case modeDescribe:
		info, err := s.d.Describe(sc.ctx, call.AdapterID)
		r.single(info, err)
	case modeInvoke:
		out, err := s.d.Invoke(sc.ctx, call)
		r.raw(out, err)
	default:
		if op, ok := features.LookupOperation(call.Feature, call.Operation); ok && op.Kind == features.ClientStream {
			call.Input = stream.SourceFunc[[]byte](sc.input.read)
		}
		seq, err := s.d.Dispatch(sc.ctx, call)
		if err != nil {
			r.complete(err)
			return
		}
		r.stream(sc.ctx, seq)
	}
}

// replier publishes the results of one call.
type replier struct {
	s      *Server
	callID string
	topic  string
	trace  cloudevents.Event
	next   uint64
}

func (r *replier) event(eventType string, data []byte) cloudevents.Event {
	evt := cloudevents.New(eventType, r.s.opts.Source, data).WithExtension(cloudevents.ExtCallID, r.callID)
	cloudevents.CopyTracingContext(r.trace, &evt)
	return evt
}

func (r *replier) item(data []byte) error {
	evt := r.event(TypeItem, data)
	cloudevents.SetSeq(&evt, r.next)
	if err := publish(r.s.t.Publisher, r.topic, evt, nil, r.s.opts.MaxMessageSize); err != nil {
		return err
	}
	r.next++
	return nil
}

func (r *replier) complete(err error) {
	evt := r.event(TypeComplete, nil)
	cloudevents.SetCount(&evt, r.next)
	setCompletionError(&evt, err)
	if perr := publish(r.s.t.Publisher, r.topic, evt, nil, r.s.opts.MaxMessageSize); perr != nil {
		r.s.log.Error("Completion not delivered", perr, logging.LogFields{"call_id": r.callID})
	}
}

func (r *replier) raw(data []byte, err error) {
	if err == nil {
		err = r.item(data)
	}
	r.complete(err)
}

func (r *replier) single(v any, err error) {
	if err != nil {
		r.complete(err)
		return
	}
	data, err := jsoncodec.Marshal(v)
	r.raw(data, err)
}

func (r *replier) stream(ctx context.Context, seq *stream.Sequence[[]byte]) {
	defer seq.Cancel(nil)
	for {
		data, ok, err := seq.Next(ctx)
		if !ok {
			r.complete(err)
			return
		}
		if err := r.item(data); err != nil {
			r.complete(err)
			return
		}
	}
}
