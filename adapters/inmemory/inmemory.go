// Package inmemory is a reference adapter that keeps its tags, samples,
// events, asset model and annotations in memory. It implements every
// built-in feature plus a small admin extension, which makes it useful as a
// test double for remote bindings and as a template for real adapters.
//
// Push features run through a subscription.Manager: one upstream feed per
// tag set or event topic, shared by every consumer. Feeds only produce while
// an active subscriber is attached. Event cursor checkpoints are persisted in
// a kvstore.Store so identified callers can resume where they stopped.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drblury/adapterflow/adapter"
	"github.com/drblury/adapterflow/feature"
	"github.com/drblury/adapterflow/features"
	"github.com/drblury/adapterflow/internal/runtime/logging"
	"github.com/drblury/adapterflow/kvstore"
	"github.com/drblury/adapterflow/stream"
	"github.com/drblury/adapterflow/subscription"
)

// DefaultPushBuffer is the per-consumer buffer of push subscriptions.
const DefaultPushBuffer = 256

// AdminURI is the extension every in-memory adapter registers.
const AdminURI = "asc:extensions/inmemory/admin/"

// Options configures New.
type Options struct {
	Descriptor adapter.Descriptor
	// Store holds cursor checkpoints. Defaults to a private kvstore.Memory
	// that Close releases.
	Store  kvstore.Store
	Logger logging.ServiceLogger
	// Metrics records push feed statistics when set.
	Metrics *subscription.Metrics
	// Hooks observe the forwarding tasks behind push feeds.
	Hooks stream.ForwardHooks
	// PushPolicy is the buffer of each push consumer. Defaults to
	// stream.BoundedDropOldest(DefaultPushBuffer).
	PushPolicy *stream.Policy
	// ResumeCursors makes a cursor read without a position continue from the
	// caller's checkpoint.
	ResumeCursors bool
	// Now is the clock used for defaults. Defaults to time.Now.
	Now func() time.Time
}

// Adapter is the in-memory adapter.
type Adapter struct {
	*adapter.Base

	log         logging.ServiceLogger
	now         func() time.Time
	pushPolicy  stream.Policy
	resume      bool
	store       kvstore.Store
	ownsStore   bool
	cursors     kvstore.Store
	checkpoints kvstore.Typed[Checkpoint]

	snapshots *subscription.Manager[features.TagValueQueryResult]
	events    *subscription.Manager[features.EventMessage]

	mu          sync.RWMutex
	tags        map[string]*tagState
	tagOrder    []string
	history     []features.EventMessage
	eventSeqs   []uint64
	nextSeq     uint64
	nodes       map[string]features.AssetModelNode
	nodeOrder   []string
	annotations map[string][]features.TagValueAnnotation
	tagFeeds    map[*tagFeed]struct{}
	eventFeeds  map[*eventFeed]struct{}
	closed      bool
}

// New builds an empty adapter with every feature registered.
func New(opts Options) (*Adapter, error) {
	base, err := adapter.NewBase(opts.Descriptor)
	if err != nil {
		return nil, err
	}
	log := logging.ForComponent(opts.Logger, "inmemory").With(logging.LogFields{
		logging.FieldAdapterID: opts.Descriptor.ID,
	})
	a := &Adapter{
		Base:        base,
		log:         log,
		now:         opts.Now,
		pushPolicy:  stream.BoundedDropOldest(DefaultPushBuffer),
		resume:      opts.ResumeCursors,
		store:       opts.Store,
		tags:        make(map[string]*tagState),
		nodes:       make(map[string]features.AssetModelNode),
		annotations: make(map[string][]features.TagValueAnnotation),
		tagFeeds:    make(map[*tagFeed]struct{}),
		eventFeeds:  make(map[*eventFeed]struct{}),
	}
	if a.now == nil {
		a.now = time.Now
	}
	if opts.PushPolicy != nil {
		a.pushPolicy = *opts.PushPolicy
	}
	if a.store == nil {
		a.store = kvstore.NewMemory()
		a.ownsStore = true
	}
	a.cursors = kvstore.Scoped(a.store, []byte(checkpointPrefix+opts.Descriptor.ID+"/"))
	a.checkpoints = kvstore.NewTyped[Checkpoint](a.cursors)

	managerOpts := []subscription.Option{
		subscription.WithLogger(opts.Logger),
		subscription.WithMetrics(opts.Metrics),
		subscription.WithForwardHooks(opts.Hooks),
	}
	a.snapshots = subscription.NewManager[features.TagValueQueryResult](
		append(managerOpts, subscription.WithName("inmemory-snapshots"))...)
	a.events = subscription.NewManager[features.EventMessage](
		append(managerOpts, subscription.WithName("inmemory-events"))...)

	if err := a.register(); err != nil {
		return nil, err
	}
	a.log.Info("In-memory adapter created", logging.LogFields{"features": a.Features().Len()})
	return a, nil
}

func (a *Adapter) register() error {
	set := a.Features()
	n, err := set.AddMatching(a, features.Builtins()...)
	if err != nil {
		return err
	}
	if n != len(features.Builtins()) {
		return fmt.Errorf("inmemory: registered %d of %d built-in features", n, len(features.Builtins()))
	}
	admin, err := features.NewExtension(AdminURI, "In-memory admin", "Inspects the in-memory adapter.")
	if err != nil {
		return err
	}
	if err := feature.Register(set, admin, features.Extension(adminExtension{a: a})); err != nil {
		return err
	}
	set.Seal()
	return nil
}

// Close tears down every push feed and releases the checkpoint store when
// the adapter created it.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	errs := []error{a.snapshots.Close(), a.events.Close()}
	if a.ownsStore {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// CheckHealth reports the adapter's content and whether the checkpoint
// store answers.
func (a *Adapter) CheckHealth(ctx context.Context, _ *adapter.CallContext) (*stream.Sequence[features.HealthCheckResult], error) {
	return stream.Go(ctx, func(ctx context.Context) (features.HealthCheckResult, error) {
		a.mu.RLock()
		data := map[string]string{
			"tags":        fmt.Sprint(len(a.tags)),
			"events":      fmt.Sprint(len(a.history)),
			"nodes":       fmt.Sprint(len(a.nodes)),
			"tagFeeds":    fmt.Sprint(len(a.tagFeeds)),
			"eventFeeds":  fmt.Sprint(len(a.eventFeeds)),
			"annotations": fmt.Sprint(a.annotationCountLocked()),
		}
		closed := a.closed
		a.mu.RUnlock()

		content := features.HealthCheckResult{DisplayName: "content", Status: features.Healthy, Data: data}
		if closed {
			content.Status = features.Unhealthy
			content.Description = "adapter is closed"
		}
		return features.Composite(a.Descriptor().Name, content, a.storeHealth(ctx)), nil
	}, stream.WithName("inmemory.health")), nil
}

func (a *Adapter) storeHealth(ctx context.Context) features.HealthCheckResult {
	r := features.HealthCheckResult{DisplayName: "checkpoints", Status: features.Healthy}
	_, err := a.checkpoints.Keys(ctx, "")
	if err != nil {
		r.Status = features.Degraded
		r.Error = err.Error()
	}
	return r
}

func (a *Adapter) annotationCountLocked() int {
	n := 0
	for _, list := range a.annotations {
		n += len(list)
	}
	return n
}

// pushKind maps a requested subscription type onto a subscriber kind.
func pushKind(passive bool) subscription.Kind {
	if passive {
		return subscription.Passive
	}
	return subscription.Active
}
