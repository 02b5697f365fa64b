// Package subscription shares live push feeds between consumers. One
// upstream feed per Key is fanned out to a private Sequence per consumer and
// torn down exactly once when the last consumer detaches.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/internal/runtime/ids"
	"github.com/drblury/adapterflow/internal/runtime/logging"
	"github.com/drblury/adapterflow/stream"
)

var (
	// ErrUnsubscribed is the cancellation cause recorded on a consumer's
	// sequence when its handle is closed.
	ErrUnsubscribed = errors.New("adapterflow: consumer unsubscribed")
	// ErrNoSubscribers is the cancellation cause handed to an upstream feed
	// when its last consumer detaches.
	ErrNoSubscribers = errors.New("adapterflow: last subscriber detached")
	// ErrManagerClosed is returned by Subscribe after Close.
	ErrManagerClosed = errors.New("adapterflow: subscription manager closed")
)

// Kind is the subscriber kind.
type Kind int

const (
	// Active subscribers start the upstream feed.
	Active Kind = iota
	// Passive subscribers only consume what is already flowing.
	Passive
)

func (k Kind) String() string {
	switch k {
	case Active:
		return "active"
	case Passive:
		return "passive"
	default:
		return "unknown"
	}
}

// Key identifies one shared feed. Topic partitions a feature's feeds, for
// example by event topic or by a normalised tag list.
type Key struct {
	AdapterID string
	Feature   string
	Topic     string
}

func (k Key) String() string {
	if k.Topic == "" {
		return k.AdapterID + "|" + k.Feature
	}
	return k.AdapterID + "|" + k.Feature + "|" + k.Topic
}

// Feed is the view of a subscription the upstream producer gets. Producers
// may use it to suppress work while no active subscriber is attached.
type Feed interface {
	Key() Key
	// ActiveSubscribers returns the current number of active consumers.
	ActiveSubscribers() int
	// Subscribers returns the current number of consumers of either kind.
	Subscribers() int
	// ActiveChanged is closed the next time the active count changes.
	ActiveChanged() <-chan struct{}
	// WaitForActive blocks until at least one active consumer is attached.
	WaitForActive(ctx context.Context) error
}

// StartFunc opens the upstream feed. It is called once per feed with a
// context that is cancelled at teardown. The returned Source is pumped by a
// forwarding task until it completes or the feed is torn down.
type StartFunc[T any] func(ctx context.Context, feed Feed) (stream.Source[T], error)

// Option configures a Manager.
type Option func(*options)

type options struct {
	name         string
	logger       logging.ServiceLogger
	metrics      *Metrics
	hooks        stream.ForwardHooks
	passiveStart bool
	base         context.Context
}

// WithName labels the manager in logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger.
func WithLogger(log logging.ServiceLogger) Option {
	return func(o *options) { o.logger = log }
}

// WithMetrics records feed statistics into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithForwardHooks attaches hooks to every upstream forwarding task.
func WithForwardHooks(h stream.ForwardHooks) Option {
	return func(o *options) { o.hooks = o.hooks.Merge(h) }
}

// WithPassiveStart lets passive subscribers start a feed.
func WithPassiveStart() Option {
	return func(o *options) { o.passiveStart = true }
}

// WithBaseContext sets the parent of every upstream feed context. Values
// propagate; cancelling it tears every feed down.
func WithBaseContext(ctx context.Context) Option {
	return func(o *options) { o.base = ctx }
}

// Manager tracks the live feeds for one item type.
type Manager[T any] struct {
	opts options
	log  logging.ServiceLogger

	mu      sync.Mutex
	entries map[Key]*entry[T]
	closed  bool
}

// NewManager creates a Manager.
func NewManager[T any](opts ...Option) *Manager[T] {
	o := options{name: "subscriptions", base: context.Background()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager[T]{
		opts:    o,
		log:     logging.ForComponent(o.logger, o.name),
		entries: make(map[Key]*entry[T]),
	}
}

// Subscribe creates or joins the feed for key and returns a handle whose
// Sequence receives the items published after joining. The first active
// subscriber (or any subscriber with WithPassiveStart) starts the feed by
// calling start. The consumer detaches by closing the handle, by cancelling
// its sequence, or by cancelling ctx.
//
// A blocking policy bounds only the consumer's sequence. Items the consumer
// has not yet taken wait in a private unbounded inbox so the shared fan-out
// never stalls; Handle.Backlog reports how many are waiting there.
func (m *Manager[T]) Subscribe(ctx context.Context, key Key, kind Kind, policy stream.Policy, start StartFunc[T]) (*Handle[T], error) {
	if key.AdapterID == "" {
		return nil, errspkg.Validation("adapterId", "adapter id is required")
	}
	if key.Feature == "" {
		return nil, errspkg.Validation("feature", "feature is required")
	}
	if start == nil {
		return nil, errspkg.Validation("start", "start function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := errspkg.FromContext(ctx); err != nil {
		return nil, err
	}

	c := m.newConsumer(ctx, key, kind, policy)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	e, ok := m.entries[key]
	if !ok {
		e = m.newEntry(key)
		m.entries[key] = e
		m.opts.metrics.entryCreated(key.Feature)
	}
	e.attach(c)
	needStart := !e.started && (kind == Active || m.opts.passiveStart)
	if needStart {
		e.started = true
	}
	m.mu.Unlock()

	h := &Handle[T]{m: m, entry: e, consumer: c}
	m.opts.metrics.consumerAttached(key.Feature, kind)
	m.log.Debug("Subscriber attached", logging.LogFields{
		logging.FieldSubscriptionKey: key.String(),
		logging.FieldSubscriptionID:  c.id,
		logging.FieldKind:            kind.String(),
		logging.FieldSubscribers:     e.Subscribers(),
	})

	if needStart {
		if err := m.startFeed(e, start); err != nil {
			h.release()
			return nil, err
		}
	}

	go h.watch()
	return h, nil
}

// Subscribers returns the consumer counts for key.
func (m *Manager[T]) Subscribers(key Key) (total, active int) {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return 0, 0
	}
	return e.Subscribers(), e.ActiveSubscribers()
}

// Keys returns the keys with an entry, sorted.
func (m *Manager[T]) Keys() []Key {
	m.mu.Lock()
	keys := make([]Key, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Len returns the number of entries.
func (m *Manager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close tears every feed down and cancels every consumer. Later Subscribe
// calls fail with ErrManagerClosed.
func (m *Manager[T]) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := make([]*entry[T], 0, len(m.entries))
	for key, e := range m.entries {
		e.closed = true
		entries = append(entries, e)
		delete(m.entries, key)
	}
	m.mu.Unlock()

	for _, e := range entries {
		e.completeConsumers(errspkg.Cancelled(ErrManagerClosed))
		e.teardown(ErrManagerClosed)
	}
	return nil
}

func (m *Manager[T]) newEntry(key Key) *entry[T] {
	ctx, cancel := context.WithCancelCause(m.opts.base)
	return &entry[T]{
		m:         m,
		key:       key,
		ctx:       ctx,
		cancel:    cancel,
		createdAt: time.Now(),
		changed:   make(chan struct{}),
	}
}

func (m *Manager[T]) startFeed(e *entry[T], start StartFunc[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapterflow: starting feed %s panicked: %v", e.key, r)
		}
		if err != nil {
			m.log.Error("Subscription feed failed to start", err, logging.LogFields{
				logging.FieldSubscriptionKey: e.key.String(),
			})
			e.TryComplete(err)
		}
	}()

	src, err := start(e.ctx, e)
	if err != nil {
		return err
	}
	if src == nil {
		return fmt.Errorf("adapterflow: feed %s started without a source", e.key)
	}

	e.mu.Lock()
	e.startedAt = time.Now()
	e.mu.Unlock()

	task := stream.Forward[T](e.ctx, src, e,
		stream.WithName("subscription:"+e.key.String()),
		stream.WithHooks(m.opts.hooks),
	)

	e.mu.Lock()
	e.task = task
	e.mu.Unlock()

	m.opts.metrics.feedStarted(e.key.Feature)
	m.log.Info("Subscription feed started", logging.LogFields{
		logging.FieldSubscriptionKey: e.key.String(),
		logging.FieldSubscribers:     e.Subscribers(),
	})
	return nil
}

func (m *Manager[T]) detach(e *entry[T], c *consumer[T]) {
	m.mu.Lock()
	remaining := e.remove(c)
	last := remaining == 0
	if last {
		e.closed = true
		if m.entries[e.key] == e {
			delete(m.entries, e.key)
		}
	}
	m.mu.Unlock()

	m.opts.metrics.consumerDetached(e.key.Feature, c.kind)
	m.log.Debug("Subscriber detached", logging.LogFields{
		logging.FieldSubscriptionKey: e.key.String(),
		logging.FieldSubscriptionID:  c.id,
		logging.FieldKind:            c.kind.String(),
		logging.FieldSubscribers:     remaining,
	})

	if last {
		e.teardown(ErrNoSubscribers)
	}
}

func (m *Manager[T]) newConsumer(ctx context.Context, key Key, kind Kind, policy stream.Policy) *consumer[T] {
	c := &consumer[T]{id: ids.WithPrefix("sub"), kind: kind}
	feature := key.Feature
	c.out = stream.New[T](ctx, policy, stream.WithDropCallback(func(T) {
		m.opts.metrics.dropped(feature)
	}))
	if policy.Blocks() {
		// A blocking consumer gets a private unbounded inbox so that its
		// backpressure never reaches the shared fan-out.
		c.inbox = stream.New[T](nil, stream.Unbounded())
		stream.Forward[T](context.Background(), c.inbox, c.out, stream.WithName("consumer:"+c.id))
	}
	return c
}

// Handle is one consumer's attachment to a feed.
type Handle[T any] struct {
	m        *Manager[T]
	entry    *entry[T]
	consumer *consumer[T]
	released atomic.Bool
}

// ID returns the consumer id.
func (h *Handle[T]) ID() string { return h.consumer.id }

// Key returns the feed key.
func (h *Handle[T]) Key() Key { return h.entry.key }

// Kind returns the subscriber kind.
func (h *Handle[T]) Kind() Kind { return h.consumer.kind }

// Sequence returns the consumer's private sequence.
func (h *Handle[T]) Sequence() *stream.Sequence[T] { return h.consumer.out }

// Backlog returns the number of items queued in the private inbox of a
// blocking consumer. It is always zero for non-blocking policies.
func (h *Handle[T]) Backlog() int {
	if h.consumer.inbox == nil {
		return 0
	}
	return h.consumer.inbox.Len()
}

// Next reads from the consumer's sequence.
func (h *Handle[T]) Next(ctx context.Context) (T, bool, error) {
	return h.consumer.out.Next(ctx)
}

// Close detaches the consumer. It is safe to call more than once.
func (h *Handle[T]) Close() error {
	h.consumer.out.Cancel(ErrUnsubscribed)
	h.release()
	return nil
}

func (h *Handle[T]) watch() {
	<-h.consumer.out.Done()
	h.release()
}

func (h *Handle[T]) release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	if h.consumer.inbox != nil {
		h.consumer.inbox.Cancel(ErrUnsubscribed)
	}
	h.m.detach(h.entry, h.consumer)
}

type consumer[T any] struct {
	id    string
	kind  Kind
	out   *stream.Sequence[T]
	inbox *stream.Sequence[T]
}

func (c *consumer[T]) deliver(item T) bool {
	target := c.out
	if c.inbox != nil {
		target = c.inbox
	}
	return target.Write(context.Background(), item) == nil
}

func (c *consumer[T]) complete(err error) {
	if c.inbox != nil {
		c.inbox.TryComplete(err)
		return
	}
	c.out.TryComplete(err)
}

// entry is one shared feed. It is the Sink of the upstream forwarding task.
type entry[T any] struct {
	m         *Manager[T]
	key       Key
	ctx       context.Context
	cancel    context.CancelCauseFunc
	createdAt time.Time

	// guarded by m.mu
	started bool
	closed  bool

	mu        sync.Mutex
	consumers []*consumer[T]
	changed   chan struct{}
	task      *stream.Task
	startedAt time.Time

	total  atomic.Int64
	active atomic.Int64
	torn   atomic.Bool
}

func (e *entry[T]) Key() Key { return e.key }

func (e *entry[T]) ActiveSubscribers() int { return int(e.active.Load()) }

func (e *entry[T]) Subscribers() int { return int(e.total.Load()) }

func (e *entry[T]) ActiveChanged() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changed
}

func (e *entry[T]) WaitForActive(ctx context.Context) error {
	for {
		changed := e.ActiveChanged()
		if e.ActiveSubscribers() > 0 {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return errspkg.FromContext(ctx)
		}
	}
}

func (e *entry[T]) attach(c *consumer[T]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := make([]*consumer[T], 0, len(e.consumers)+1)
	next = append(next, e.consumers...)
	e.consumers = append(next, c)
	e.total.Add(1)
	if c.kind == Active {
		e.active.Add(1)
		e.broadcastLocked()
	}
}

func (e *entry[T]) remove(c *consumer[T]) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := make([]*consumer[T], 0, len(e.consumers))
	for _, existing := range e.consumers {
		if existing != c {
			next = append(next, existing)
		}
	}
	e.consumers = next
	remaining := e.total.Add(-1)
	if c.kind == Active {
		e.active.Add(-1)
		e.broadcastLocked()
	}
	return int(remaining)
}

func (e *entry[T]) broadcastLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *entry[T]) snapshot() []*consumer[T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consumers
}

// Write fans item out to every attached consumer. Consumer writes never
// block, so a slow consumer cannot stall the others.
func (e *entry[T]) Write(_ context.Context, item T) error {
	delivered := 0
	for _, c := range e.snapshot() {
		if c.deliver(item) {
			delivered++
		}
	}
	e.m.opts.metrics.delivered(e.key.Feature, delivered)
	return nil
}

// TryComplete ends the feed: every consumer completes with the upstream
// outcome and the key is free for a new feed.
func (e *entry[T]) TryComplete(err error) bool {
	m := e.m
	m.mu.Lock()
	if e.closed {
		m.mu.Unlock()
		return false
	}
	e.closed = true
	if m.entries[e.key] == e {
		delete(m.entries, e.key)
	}
	m.mu.Unlock()

	if err != nil && !errspkg.IsCancellation(err) {
		m.log.Error("Subscription feed failed", err, logging.LogFields{
			logging.FieldSubscriptionKey: e.key.String(),
		})
	} else {
		m.log.Debug("Subscription feed completed", logging.LogFields{
			logging.FieldSubscriptionKey: e.key.String(),
		})
	}
	e.completeConsumers(err)
	return true
}

func (e *entry[T]) completeConsumers(err error) {
	for _, c := range e.snapshot() {
		c.complete(err)
	}
}

// teardown cancels the upstream feed. Only the first call has any effect.
func (e *entry[T]) teardown(cause error) {
	if !e.torn.CompareAndSwap(false, true) {
		return
	}
	e.cancel(cause)

	e.mu.Lock()
	task := e.task
	startedAt := e.startedAt
	e.mu.Unlock()

	if task != nil {
		task.Cancel(cause)
	}
	e.m.opts.metrics.entryTornDown(e.key.Feature, !startedAt.IsZero(), time.Since(startedAt))
	e.m.log.Info("Subscription torn down", logging.LogFields{
		logging.FieldSubscriptionKey: e.key.String(),
		"reason":                     cause.Error(),
	})
}
