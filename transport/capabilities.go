package transport

import "fmt"

// Capabilities describes what a backend guarantees to the hub binding.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// Ordered reports that messages of one topic (and partition key) arrive
	// in publish order. The hub re-orders frames either way.
	Ordered bool

	// Durable reports that messages survive a broker restart.
	Durable bool

	// Ack reports explicit acknowledgement.
	Ack bool

	// Partitioned reports that MetadataPartitionKey is honoured.
	Partitioned bool

	// Remote reports that the backend crosses process boundaries. In-process
	// backends only connect clients and servers of one Service.
	Remote bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// CheckSize reports whether a payload of n bytes fits the backend.
func (c Capabilities) CheckSize(n int) error {
	if c.MaxMessageSize > 0 && int64(n) > c.MaxMessageSize {
		return fmt.Errorf("%s: message of %d bytes exceeds limit of %d", c.Name, n, c.MaxMessageSize)
	}
	return nil
}

// Predefined capability sets for the built-in backends.
var (
	// ChannelCapabilities for in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:    "channel",
		Ordered: true,
		Ack:     true,
	}

	// KafkaCapabilities for Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:           "kafka",
		Ordered:        true,
		Durable:        true,
		Ack:            true,
		Partitioned:    true,
		Remote:         true,
		MaxMessageSize: 1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:    "rabbitmq",
		Ordered: true,
		Durable: true,
		Ack:     true,
		Remote:  true,
	}

	// NATSCapabilities for NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:           "nats",
		Remote:         true,
		MaxMessageSize: 1048576, // Default 1MB
	}

	// NATSJetStreamCapabilities for NATS JetStream transport.
	NATSJetStreamCapabilities = Capabilities{
		Name:           "nats-jetstream",
		Ordered:        true,
		Durable:        true,
		Ack:            true,
		Remote:         true,
		MaxMessageSize: 1048576, // Default 1MB
	}

	// AWSCapabilities for AWS SNS/SQS transport.
	AWSCapabilities = Capabilities{
		Name:           "aws",
		Durable:        true,
		Ack:            true,
		Remote:         true,
		MaxMessageSize: 262144, // 256KB
	}

	// HTTPCapabilities for HTTP-based transport.
	HTTPCapabilities = Capabilities{
		Name:   "http",
		Remote: true,
	}

	// IOCapabilities for file-based I/O transport.
	IOCapabilities = Capabilities{
		Name:    "io",
		Ordered: true,
		Durable: true,
		Ack:     true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Uses the registry to look up capabilities registered by each transport package.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
