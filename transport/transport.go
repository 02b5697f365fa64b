// Package transport defines the message-bus backends the hub binding runs
// on. Each backend (kafka, rabbitmq, aws, etc.) lives in its own
// sub-package and registers a Builder with the transport registry.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// MetadataPartitionKey is the Watermill metadata key carrying the key that
// keeps related messages on one partition or consumer. The hub sets it to
// the call id.
const MetadataPartitionKey = "af_partition_key"

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the publisher and the subscriber. A pair backed by one
// value is closed once.
func (t Transport) Close() error {
	pub, sub := unwrap(t.Publisher), unwrap(t.Subscriber)
	var errs []error
	if pub != nil {
		errs = append(errs, t.Publisher.Close())
	}
	if sub != nil && sub != pub {
		errs = append(errs, t.Subscriber.Close())
	}
	return errors.Join(errs...)
}

// unwrap returns the value behind renaming wrappers for identity checks.
func unwrap(v any) any {
	switch w := v.(type) {
	case renamingPublisher:
		return unwrap(w.Publisher)
	case renamingSubscriber:
		return unwrap(w.Subscriber)
	}
	return v
}

// Builder is the function signature for creating a transport from config.
// Each transport package should provide a Builder function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetHubTransport returns the transport type name.
	GetHubTransport() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string
	GetNATSStream() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// RenameTopics maps every topic through rename before it reaches t. Brokers
// with restricted topic alphabets use it to carry hub topic names.
func RenameTopics(t Transport, rename func(string) string) Transport {
	out := t
	if t.Publisher != nil {
		out.Publisher = renamingPublisher{Publisher: t.Publisher, rename: rename}
	}
	if t.Subscriber != nil {
		out.Subscriber = renamingSubscriber{Subscriber: t.Subscriber, rename: rename}
	}
	return out
}

type renamingPublisher struct {
	message.Publisher
	rename func(string) string
}

func (p renamingPublisher) Publish(topic string, messages ...*message.Message) error {
	return p.Publisher.Publish(p.rename(topic), messages...)
}

type renamingSubscriber struct {
	message.Subscriber
	rename func(string) string
}

func (s renamingSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.Subscriber.Subscribe(ctx, s.rename(topic))
}
