package transport

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_CloseClosesBothSides(t *testing.T) {
	pub := &mockPublisher{}
	sub := &mockSubscriber{}
	require.NoError(t, Transport{Publisher: pub, Subscriber: sub}.Close())
	assert.Equal(t, 1, pub.closed)
	assert.Equal(t, 1, sub.closed)

	assert.NoError(t, Transport{}.Close())
}

func TestTransport_CloseSharedPubSubOnce(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	assert.NoError(t, Transport{Publisher: ps, Subscriber: ps}.Close())
}

func TestCapabilities_CheckSize(t *testing.T) {
	assert.NoError(t, Capabilities{Name: "x"}.CheckSize(1<<30), "zero means unlimited")
	assert.NoError(t, AWSCapabilities.CheckSize(1024))
	err := AWSCapabilities.CheckSize(300 * 1024)
	assert.ErrorContains(t, err, "aws: message of 307200 bytes exceeds limit of 262144")
}

func TestPredefinedCapabilities(t *testing.T) {
	for _, caps := range []Capabilities{
		ChannelCapabilities, KafkaCapabilities, RabbitMQCapabilities, NATSCapabilities,
		NATSJetStreamCapabilities, AWSCapabilities, HTTPCapabilities, IOCapabilities,
	} {
		t.Run(caps.Name, func(t *testing.T) {
			assert.NotEmpty(t, caps.Name)
			if caps.Partitioned {
				assert.True(t, caps.Ordered, "partitioned backends keep per-key order")
			}
		})
	}
	assert.False(t, ChannelCapabilities.Remote)
	assert.True(t, KafkaCapabilities.Partitioned)
}

func TestRenameTopics(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	tr := RenameTopics(Transport{Publisher: ps, Subscriber: ps}, func(topic string) string {
		return "renamed-" + topic
	})
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	raw, err := ps.Subscribe(ctx, "renamed-calls")
	require.NoError(t, err)
	renamed, err := tr.Subscriber.Subscribe(ctx, "replies")
	require.NoError(t, err)

	require.NoError(t, tr.Publisher.Publish("calls", message.NewMessage("m1", nil)))
	select {
	case msg := <-raw:
		assert.Equal(t, "m1", msg.UUID)
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("renamed publish not delivered")
	}

	require.NoError(t, ps.Publish("renamed-replies", message.NewMessage("m2", nil)))
	select {
	case msg := <-renamed:
		assert.Equal(t, "m2", msg.UUID)
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("renamed subscription not delivered")
	}

	assert.Equal(t, Transport{}, RenameTopics(Transport{}, nil))
}

func TestTransport_CloseSeesThroughRenaming(t *testing.T) {
	pub := &mockPublisher{}
	shared := Transport{Publisher: pub, Subscriber: &mockSubscriber{}}
	require.NoError(t, RenameTopics(shared, func(s string) string { return s }).Close())
	assert.Equal(t, 1, pub.closed)
}
