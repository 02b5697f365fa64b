package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/adapterflow/internal/runtime/config"
	"github.com/drblury/adapterflow/transport"
	"github.com/drblury/adapterflow/transport/transporttest"
)

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.Partitioned)
	assert.Equal(t, transport.KafkaCapabilities, Capabilities())
}

func TestPartitionKey(t *testing.T) {
	msg := message.NewMessage("uuid-1", nil)
	key, err := PartitionKey("calls", msg)
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", key)

	msg.Metadata.Set(transport.MetadataPartitionKey, "call-7")
	key, err = PartitionKey("calls", msg)
	require.NoError(t, err)
	assert.Equal(t, "call-7", key)
}

func stubFactories(t *testing.T, pub message.Publisher, pubErr error, sub message.Subscriber, subErr error) (*kafka.PublisherConfig, *kafka.SubscriberConfig) {
	t.Helper()
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})
	var gotPub kafka.PublisherConfig
	var gotSub kafka.SubscriberConfig
	PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		gotPub = cfg
		return pub, pubErr
	}
	SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		gotSub = cfg
		return sub, subErr
	}
	return &gotPub, &gotSub
}

func TestBuild(t *testing.T) {
	t.Run("wires brokers, group and client id", func(t *testing.T) {
		pub, sub := &transporttest.Publisher{}, &transporttest.Subscriber{}
		gotPub, gotSub := stubFactories(t, pub, nil, sub, nil)

		cfg := &config.Config{
			KafkaBrokers:       []string{"localhost:9092"},
			KafkaConsumerGroup: "plant-hub",
			KafkaClientID:      "north",
		}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Same(t, pub, tr.Publisher)
		assert.Same(t, sub, tr.Subscriber)

		assert.Equal(t, []string{"localhost:9092"}, gotPub.Brokers)
		assert.Equal(t, "plant-hub", gotSub.ConsumerGroup)
		require.NotNil(t, gotPub.OverwriteSaramaConfig)
		assert.Equal(t, "north", gotPub.OverwriteSaramaConfig.ClientID)
		assert.Equal(t, "north", gotSub.OverwriteSaramaConfig.ClientID)
	})

	t.Run("defaults the consumer group", func(t *testing.T) {
		_, gotSub := stubFactories(t, &transporttest.Publisher{}, nil, &transporttest.Subscriber{}, nil)
		_, err := Build(context.Background(), &config.Config{KafkaBrokers: []string{"b:9092"}}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Equal(t, DefaultConsumerGroup, gotSub.ConsumerGroup)
	})

	t.Run("publisher failure", func(t *testing.T) {
		stubFactories(t, nil, errors.New("publisher error"), nil, nil)
		_, err := Build(context.Background(), &config.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})

	t.Run("subscriber failure closes the publisher", func(t *testing.T) {
		pub := &transporttest.Publisher{}
		stubFactories(t, pub, nil, nil, errors.New("subscriber error"))
		_, err := Build(context.Background(), &config.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.Closed)
	})
}
