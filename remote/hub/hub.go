// Package hub is the message-bus binding of the remote client contract.
// Calls, stream items and completions travel as CloudEvents over any
// Watermill publisher/subscriber pair, so a remote adapter can sit behind
// NATS, Kafka, RabbitMQ or any other registered transport.
//
// A call is published to the server's request topic and names the caller's
// reply topic. Items carry a sequence number and are re-ordered on arrival;
// a completion carries the item count and, on failure, the error kind.
package hub

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/adapterflow/internal/runtime/cloudevents"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/internal/runtime/jsoncodec"
	"github.com/drblury/adapterflow/internal/runtime/metadata"
	"github.com/drblury/adapterflow/transport"
)

const transportName = "hub"

// DefaultRequestTopic is the topic servers listen on unless configured.
const DefaultRequestTopic = "adapterflow.requests"

// MetadataPrefix namespaces call metadata inside Watermill metadata.
const MetadataPrefix = "af_"

// Event types.
const (
	TypeCall     = "adapterflow.call.v1"
	TypeInput    = "adapterflow.input.v1"
	TypeInputEnd = "adapterflow.input.end.v1"
	TypeCancel   = "adapterflow.cancel.v1"
	TypeItem     = "adapterflow.item.v1"
	TypeComplete = "adapterflow.complete.v1"
)

// Call modes, carried in the call event's subject.
const (
	modeInvoke   = "invoke"
	modeStream   = "stream"
	modeDescribe = "describe"
	modeList     = "list"
)

func newMessage(evt cloudevents.Event, md metadata.Metadata) (*message.Message, error) {
	payload, err := jsoncodec.Marshal(evt)
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if len(md) > 0 {
		msg.Metadata = metadata.ToWatermill(md, MetadataPrefix)
	}
	msg.Metadata.Set("ce_type", evt.Type)
	if id := cloudevents.CallID(evt); id != "" {
		msg.Metadata.Set(transport.MetadataPartitionKey, id)
	}
	return msg, nil
}

func decodeMessage(msg *message.Message) (cloudevents.Event, error) {
	var evt cloudevents.Event
	if err := jsoncodec.Unmarshal(msg.Payload, &evt); err != nil {
		return evt, err
	}
	return evt, evt.Validate()
}

// publish sends evt to topic. A positive limit rejects larger payloads
// before they reach the broker.
func publish(pub message.Publisher, topic string, evt cloudevents.Event, md metadata.Metadata, limit int64) error {
	msg, err := newMessage(evt, md)
	if err != nil {
		return errspkg.Validation("payload", err.Error())
	}
	caps := transport.Capabilities{Name: transportName, MaxMessageSize: limit}
	if err := caps.CheckSize(len(msg.Payload)); err != nil {
		return errspkg.Validation("payload", err.Error())
	}
	if err := pub.Publish(topic, msg); err != nil {
		return errspkg.Transport(transportName, "publish", err)
	}
	return nil
}

// completionError rebuilds the error carried by a completion.
func completionError(evt cloudevents.Event) error {
	kind := cloudevents.ErrorKind(evt)
	if kind == "" {
		return nil
	}
	return errspkg.FromKind(errspkg.Kind(kind), transportName, cloudevents.GetErrorMessage(evt))
}

func setCompletionError(evt *cloudevents.Event, err error) {
	if err == nil {
		return
	}
	cloudevents.SetError(evt, string(errspkg.KindOf(err)), err.Error())
}

// inbox re-orders sequenced frames and hands them out in order. The end of
// the stream is known once a completion reports how many frames preceded
// it.
type inbox struct {
	mu     sync.Mutex
	frames map[uint64][]byte
	next   uint64
	total  int64
	err    error
	failed bool
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{frames: make(map[uint64][]byte), total: -1, signal: make(chan struct{}, 1)}
}

func (b *inbox) notify() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *inbox) push(seq uint64, data []byte) {
	b.mu.Lock()
	if seq >= b.next && !b.failed {
		b.frames[seq] = data
	}
	b.mu.Unlock()
	b.notify()
}

// end records a completion after count frames.
func (b *inbox) end(count uint64, err error) {
	b.mu.Lock()
	if b.total < 0 && !b.failed {
		b.total = int64(count)
		b.err = err
	}
	b.mu.Unlock()
	b.notify()
}

// fail ends the stream immediately, dropping frames not yet read.
func (b *inbox) fail(err error) {
	b.mu.Lock()
	if !b.failed && (b.total < 0 || b.next < uint64(b.total)) {
		b.failed = true
		b.err = err
		b.frames = nil
	}
	b.mu.Unlock()
	b.notify()
}

func (b *inbox) read(ctx context.Context) ([]byte, bool, error) {
	for {
		b.mu.Lock()
		if b.failed {
			err := b.err
			b.mu.Unlock()
			return nil, false, err
		}
		if data, ok := b.frames[b.next]; ok {
			delete(b.frames, b.next)
			b.next++
			b.mu.Unlock()
			return data, true, nil
		}
		if b.total >= 0 && b.next >= uint64(b.total) {
			err := b.err
			b.mu.Unlock()
			return nil, false, err
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false, errspkg.FromContext(ctx)
		case <-b.signal:
		}
	}
}
