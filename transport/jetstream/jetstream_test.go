package jetstream

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/adapterflow/internal/runtime/config"
	"github.com/drblury/adapterflow/transport"
)

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats-jetstream", caps.Name)
	assert.True(t, caps.Durable)
	assert.True(t, caps.Ordered)
	assert.Equal(t, transport.NATSJetStreamCapabilities, Capabilities())
}

func TestConfig_withDefaults(t *testing.T) {
	t.Run("empty config gets defaults", func(t *testing.T) {
		result := Config{}.withDefaults()

		assert.Equal(t, DefaultStreamName, result.StreamName)
		assert.Equal(t, DefaultMaxDeliver, result.MaxDeliver)
		assert.Equal(t, DefaultAckWait, result.AckWait)
		assert.Equal(t, DefaultMaxAge, result.MaxAge)
		assert.Equal(t, 1, result.Replicas)
	})

	t.Run("custom values preserved", func(t *testing.T) {
		cfg := Config{URL: "nats://localhost:4222", StreamName: "PLANT", MaxDeliver: 5, AckWait: 60, Replicas: 3}
		result := cfg.withDefaults()

		assert.Equal(t, "PLANT", result.StreamName)
		assert.Equal(t, 5, result.MaxDeliver)
		assert.Equal(t, cfg.AckWait, result.AckWait)
		assert.Equal(t, 3, result.Replicas)
	})
}

func TestStreamAndConsumerConfig(t *testing.T) {
	cfg := Config{StreamName: "PLANT"}.withDefaults()

	stream := cfg.StreamConfig()
	assert.Equal(t, "PLANT", stream.Name)
	assert.Equal(t, []string{"PLANT.>"}, stream.Subjects)
	assert.Equal(t, natsjs.LimitsPolicy, stream.Retention)

	consumer := cfg.ConsumerConfig("adapterflow.requests")
	assert.Equal(t, "PLANT.adapterflow.requests", consumer.FilterSubject)
	assert.Equal(t, natsjs.DeliverNewPolicy, consumer.DeliverPolicy)
	assert.Equal(t, natsjs.AckExplicitPolicy, consumer.AckPolicy)
	assert.Empty(t, consumer.Durable, "consumers are ephemeral")
	assert.Equal(t, DefaultInactiveThreshold, consumer.InactiveThreshold)
}

func TestMessageConversion(t *testing.T) {
	msg := message.NewMessage("uuid-1", []byte("payload"))
	msg.Metadata.Set("ce_type", "adapterflow.call.v1")
	msg.Metadata.Set(transport.MetadataPartitionKey, "call-1")

	nm := toNATS("PLANT.calls", msg)
	assert.Equal(t, "PLANT.calls", nm.Subject)
	assert.Equal(t, "uuid-1", nm.Header.Get(nats.MsgIdHdr))

	back := fromNATS(nm.Header, nm.Data)
	assert.Equal(t, "uuid-1", back.UUID)
	assert.Equal(t, "payload", string(back.Payload))
	assert.Equal(t, "adapterflow.call.v1", back.Metadata.Get("ce_type"))
	assert.Equal(t, "call-1", back.Metadata.Get(transport.MetadataPartitionKey))
	assert.Empty(t, back.Metadata.Get(nats.MsgIdHdr))

	assert.NotEmpty(t, fromNATS(nats.Header{}, nil).UUID)
}

func TestBuildConnectFailure(t *testing.T) {
	original := ConnectFactory
	t.Cleanup(func() { ConnectFactory = original })
	ConnectFactory = func(url string, opts ...nats.Option) (*nats.Conn, error) {
		assert.Equal(t, "nats://broker:4222", url)
		return nil, errors.New("no servers")
	}

	_, err := Build(context.Background(), &config.Config{NATSURL: "nats://broker:4222"}, watermill.NopLogger{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to connect to NATS: no servers")
}
