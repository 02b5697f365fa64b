package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/drblury/adapterflow/adapter"
	"github.com/drblury/adapterflow/features"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/internal/runtime/logging"
	"github.com/drblury/adapterflow/stream"
	"github.com/drblury/adapterflow/subscription"
)

// tagFeed is the upstream of one snapshot subscription. Its fields are
// guarded by Adapter.mu.
type tagFeed struct {
	tags     map[string]bool
	live     *stream.Sequence[features.TagValueQueryResult]
	feed     subscription.Feed
	interval time.Duration
	pending  map[string]features.TagValueQueryResult
}

type eventFeed struct {
	topic string
	live  *stream.Sequence[features.EventMessage]
	feed  subscription.Feed
}

// SubscribeSnapshotTagValues joins the feed for the requested tag set. The
// feed starts with the current snapshot of every tag and then carries each
// change. With a publish interval, changes are coalesced and flushed once
// per interval.
func (a *Adapter) SubscribeSnapshotTagValues(ctx context.Context, _ *adapter.CallContext, req features.CreateSnapshotTagValueSubscriptionRequest) (*stream.Sequence[features.TagValueQueryResult], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ids, err := a.resolveTags(req.Tags)
	if err != nil {
		return nil, err
	}
	key := subscription.Key{AdapterID: a.Descriptor().ID, Feature: features.SnapshotTagValuePushFeature.URI(), Topic: req.Topic()}
	h, err := a.snapshots.Subscribe(ctx, key, subscription.Active, a.pushPolicy,
		func(feedCtx context.Context, feed subscription.Feed) (stream.Source[features.TagValueQueryResult], error) {
			return a.startTagFeed(feedCtx, feed, ids, req.PublishInterval)
		})
	if err != nil {
		return nil, err
	}
	return h.Sequence(), nil
}

func (a *Adapter) resolveTags(tags []string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(tags))
	for i, tag := range tags {
		t, ok := a.lookupLocked(tag)
		if !ok {
			return nil, errspkg.Validation(fmt.Sprintf("tags[%d]", i), fmt.Sprintf("%s %q", errUnknownTag, tag))
		}
		ids = append(ids, t.def.ID)
	}
	return ids, nil
}

func (a *Adapter) startTagFeed(ctx context.Context, feed subscription.Feed, ids []string, interval time.Duration) (stream.Source[features.TagValueQueryResult], error) {
	live := stream.New[features.TagValueQueryResult](ctx, stream.Unbounded())
	f := &tagFeed{tags: make(map[string]bool, len(ids)), live: live, feed: feed, interval: interval}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, errspkg.Cancelled(fmt.Errorf("adapter %s is closed", a.Descriptor().ID))
	}
	for _, id := range ids {
		if f.tags[id] {
			continue
		}
		f.tags[id] = true
		if t := a.tags[id]; t.snapshot != nil {
			_ = live.Write(ctx, t.result(features.QuerySnapshot, *t.snapshot))
		}
	}
	a.tagFeeds[f] = struct{}{}
	a.mu.Unlock()

	if interval > 0 {
		go a.flushEvery(ctx, f)
	}
	context.AfterFunc(ctx, func() {
		a.mu.Lock()
		delete(a.tagFeeds, f)
		a.mu.Unlock()
	})
	a.log.Debug("Snapshot feed started", logging.LogFields{
		logging.FieldSubscriptionKey: feed.Key().String(),
		"interval":                   interval.String(),
	})
	return live, nil
}

func (a *Adapter) publishSnapshotLocked(t *tagState) {
	res := t.result(features.QuerySnapshot, *t.snapshot)
	for f := range a.tagFeeds {
		if !f.tags[t.def.ID] || f.feed.ActiveSubscribers() == 0 {
			continue
		}
		if f.interval > 0 {
			if f.pending == nil {
				f.pending = make(map[string]features.TagValueQueryResult)
			}
			f.pending[t.def.ID] = res
			continue
		}
		_ = f.live.Write(context.Background(), res)
	}
}

func (a *Adapter) flushEvery(ctx context.Context, f *tagFeed) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.flush(ctx, f)
		}
	}
}

// flush writes the coalesced changes of f in tag order.
func (a *Adapter) flush(ctx context.Context, f *tagFeed) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(f.pending))
	for id := range f.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		_ = f.live.Write(ctx, f.pending[id])
	}
	f.pending = nil
}

// SubscribeEventMessages joins the live event feed for a topic; an empty
// topic receives every event. Passive subscribers never start the feed, and
// a running feed drops events while only passive subscribers remain.
func (a *Adapter) SubscribeEventMessages(ctx context.Context, _ *adapter.CallContext, req features.CreateEventMessageSubscriptionRequest) (*stream.Sequence[features.EventMessage], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	key := subscription.Key{AdapterID: a.Descriptor().ID, Feature: features.EventMessagePushFeature.URI(), Topic: req.Topic}
	h, err := a.events.Subscribe(ctx, key, pushKind(req.IsPassive()), a.pushPolicy,
		func(feedCtx context.Context, feed subscription.Feed) (stream.Source[features.EventMessage], error) {
			return a.startEventFeed(feedCtx, feed, req.Topic)
		})
	if err != nil {
		return nil, err
	}
	return h.Sequence(), nil
}

func (a *Adapter) startEventFeed(ctx context.Context, feed subscription.Feed, topic string) (stream.Source[features.EventMessage], error) {
	live := stream.New[features.EventMessage](ctx, stream.Unbounded())
	f := &eventFeed{topic: topic, live: live, feed: feed}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, errspkg.Cancelled(fmt.Errorf("adapter %s is closed", a.Descriptor().ID))
	}
	a.eventFeeds[f] = struct{}{}
	a.mu.Unlock()

	context.AfterFunc(ctx, func() {
		a.mu.Lock()
		delete(a.eventFeeds, f)
		a.mu.Unlock()
	})
	a.log.Debug("Event feed started", logging.LogFields{logging.FieldSubscriptionKey: feed.Key().String()})
	return live, nil
}

func (a *Adapter) publishEventLocked(msg features.EventMessage) {
	for f := range a.eventFeeds {
		if f.topic != "" && f.topic != msg.Topic {
			continue
		}
		if f.feed.ActiveSubscribers() == 0 {
			continue
		}
		_ = f.live.Write(context.Background(), msg)
	}
}
