package inmemory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/drblury/adapterflow/adapter"
	"github.com/drblury/adapterflow/features"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/internal/runtime/ids"
	"github.com/drblury/adapterflow/internal/runtime/logging"
	"github.com/drblury/adapterflow/stream"
)

const checkpointPrefix = "cursors/"

// Checkpoint is the last cursor position delivered to a caller.
type Checkpoint struct {
	Position  string    `json:"position"`
	Direction string    `json:"direction"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PublishEvent appends msg to the event history and pushes it to the live
// feeds. A missing id or event time is filled in.
func (a *Adapter) PublishEvent(msg features.EventMessage) (features.EventMessage, error) {
	if strings.TrimSpace(msg.Message) == "" {
		return msg, errspkg.Validation("message", "message text is required")
	}
	if msg.ID == "" {
		msg.ID = ids.WithPrefix("evt")
	}
	if msg.UtcEventTime.IsZero() {
		msg.UtcEventTime = a.now().UTC()
	}
	if msg.Priority == "" {
		msg.Priority = features.PriorityUnknown
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextSeq++
	// History stays ordered by event time; equal times keep arrival order.
	i := sort.Search(len(a.history), func(i int) bool { return a.history[i].UtcEventTime.After(msg.UtcEventTime) })
	a.history = slices.Insert(a.history, i, msg)
	a.eventSeqs = slices.Insert(a.eventSeqs, i, a.nextSeq)
	a.publishEventLocked(msg)
	return msg, nil
}

func topicFilter(topics []string) func(string) bool {
	if len(topics) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	return func(topic string) bool { return set[topic] }
}

func (a *Adapter) ReadEventMessagesForTimeRange(_ context.Context, _ *adapter.CallContext, req features.ReadEventMessagesForTimeRangeRequest) (*stream.Sequence[features.EventMessage], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	keep := topicFilter(req.Topics)

	a.mu.RLock()
	var found []features.EventMessage
	for _, msg := range a.history {
		t := msg.UtcEventTime
		if t.Before(req.UtcStartTime) || t.After(req.UtcEndTime) || !keep(msg.Topic) {
			continue
		}
		found = append(found, msg)
	}
	a.mu.RUnlock()

	if req.Direction == features.Backwards {
		slices.Reverse(found)
	}
	return stream.FromSlice(page(found, req.PageSize, req.Page)...), nil
}

// EncodeCursor renders the position of the event with the given sequence
// number.
func EncodeCursor(seq uint64) string { return strconv.FormatUint(seq, 10) }

func decodeCursor(cursor string) (uint64, error) {
	seq, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil || seq == 0 {
		return 0, errspkg.Validation("cursorPosition", fmt.Sprintf("invalid cursor %q", cursor))
	}
	return seq, nil
}

// ReadEventMessagesUsingCursor pages through events in arrival order. Each
// message carries the cursor that resumes after it. Reads by an identified
// caller record the last delivered position as a checkpoint once the page
// is fully consumed.
func (a *Adapter) ReadEventMessagesUsingCursor(ctx context.Context, cc *adapter.CallContext, req features.ReadEventMessagesUsingCursorRequest) (*stream.Sequence[features.EventMessageWithCursorPosition], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cc = adapter.OrAnonymous(cc)
	backwards := req.Direction == features.Backwards
	checkpointKey := checkpointKeyFor(cc.CallerID, req.Topic, backwards)

	cursor := req.CursorPosition
	if cursor == "" && a.resume && checkpointKey != "" {
		cp, err := a.checkpoints.ReadOr(ctx, checkpointKey, Checkpoint{})
		if err != nil {
			return nil, err
		}
		cursor = cp.Position
	}
	var after uint64
	if cursor != "" {
		seq, err := decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		after = seq
	}

	items := a.cursorPage(req.Topic, after, backwards, req.PageSize)
	src := &cursorPage{items: items}
	if checkpointKey != "" {
		src.done = func(ctx context.Context, last string) error {
			return a.saveCheckpoint(ctx, checkpointKey, last, req.Direction)
		}
	}
	out := stream.New[features.EventMessageWithCursorPosition](nil, stream.Bounded(req.PageSize))
	stream.Forward[features.EventMessageWithCursorPosition](ctx, src, out, stream.WithName("inmemory.read-cursor"))
	return out, nil
}

// cursorPage selects up to n events after (or, backwards, before) the
// sequence number after. Zero starts at the oldest or newest event.
func (a *Adapter) cursorPage(topic string, after uint64, backwards bool, n int) []features.EventMessageWithCursorPosition {
	a.mu.RLock()
	defer a.mu.RUnlock()

	// Cursor order is arrival order, independent of event time.
	order := make([]int, len(a.history))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return a.eventSeqs[order[i]] < a.eventSeqs[order[j]] })
	if backwards {
		slices.Reverse(order)
	}

	var out []features.EventMessageWithCursorPosition
	for _, i := range order {
		seq := a.eventSeqs[i]
		if after != 0 && ((!backwards && seq <= after) || (backwards && seq >= after)) {
			continue
		}
		if topic != "" && a.history[i].Topic != topic {
			continue
		}
		out = append(out, features.EventMessageWithCursorPosition{EventMessage: a.history[i], CursorPosition: EncodeCursor(seq)})
		if len(out) == n {
			break
		}
	}
	return out
}

func checkpointKeyFor(caller, topic string, backwards bool) string {
	if caller == "" {
		return ""
	}
	dir := strings.ToLower(string(features.Forwards))
	if backwards {
		dir = strings.ToLower(string(features.Backwards))
	}
	return caller + "/" + dir + "/" + topic
}

func (a *Adapter) saveCheckpoint(ctx context.Context, key, position string, dir features.ReadDirection) error {
	if dir == "" {
		dir = features.Forwards
	}
	err := a.checkpoints.Write(ctx, key, Checkpoint{Position: position, Direction: string(dir), UpdatedAt: a.now().UTC()})
	if err != nil {
		a.log.Error("Saving cursor checkpoint failed", err, logging.LogFields{"checkpoint": key})
	}
	return err
}

// Checkpoint returns the position recorded for a caller's cursor reads on a
// topic. The second result is false when the caller has none.
func (a *Adapter) Checkpoint(ctx context.Context, callerID, topic string, dir features.ReadDirection) (Checkpoint, bool, error) {
	key := checkpointKeyFor(callerID, topic, dir == features.Backwards)
	if key == "" {
		return Checkpoint{}, false, errspkg.Validation("callerId", "caller id is required")
	}
	cp, err := a.checkpoints.ReadOr(ctx, key, Checkpoint{})
	if err != nil {
		return Checkpoint{}, false, err
	}
	return cp, cp.Position != "", nil
}

// cursorPage is the source of one cursor read. done runs after the last
// item was handed out, with that item's position.
type cursorPage struct {
	items []features.EventMessageWithCursorPosition
	last  string
	done  func(ctx context.Context, last string) error
}

func (p *cursorPage) Next(ctx context.Context) (features.EventMessageWithCursorPosition, bool, error) {
	if len(p.items) > 0 {
		item := p.items[0]
		p.items = p.items[1:]
		p.last = item.CursorPosition
		return item, true, nil
	}
	if p.done != nil && p.last != "" {
		done := p.done
		p.done = nil
		if err := done(ctx, p.last); err != nil {
			return features.EventMessageWithCursorPosition{}, false, err
		}
	}
	return features.EventMessageWithCursorPosition{}, false, nil
}

// WriteEventMessages publishes each item. Invalid items fail individually.
func (a *Adapter) WriteEventMessages(ctx context.Context, _ *adapter.CallContext, req features.WriteEventMessagesRequest, messages stream.Source[features.WriteEventMessageItem]) (*stream.Sequence[features.WriteEventMessageResult], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return stream.Map(ctx, messages, stream.Unbounded(), func(item features.WriteEventMessageItem) (features.WriteEventMessageResult, error) {
		res := features.WriteEventMessageResult{CorrelationID: item.CorrelationID, Status: features.WriteSuccess}
		if err := item.Validate(); err != nil {
			res.Status, res.Notes = features.WriteFail, err.Error()
			return res, nil
		}
		msg, err := a.PublishEvent(item.Message)
		if err != nil {
			res.Status, res.Notes = features.WriteFail, err.Error()
			return res, nil
		}
		res.Notes = msg.ID
		return res, nil
	}, stream.WithName("inmemory.write-events")), nil
}
