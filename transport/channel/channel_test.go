package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
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
	assert.Equal(t, "channel", caps.Name)
	assert.True(t, caps.Ordered)
	assert.False(t, caps.Remote)
	assert.Equal(t, transport.ChannelCapabilities, Capabilities())
}

func TestBuildDeliversInOrder(t *testing.T) {
	tr, err := Build(context.Background(), &config.Config{HubTransport: TransportName}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := tr.Subscriber.Subscribe(ctx, "calls")
	require.NoError(t, err)

	go func() {
		for _, p := range []string{"a", "b", "c"} {
			_ = tr.Publisher.Publish("calls", message.NewMessage(watermill.NewUUID(), []byte(p)))
		}
	}()

	for _, want := range []string{"a", "b", "c"} {
		select {
		case msg := <-msgs:
			assert.Equal(t, want, string(msg.Payload))
			msg.Ack()
		case <-time.After(2 * time.Second):
			t.Fatalf("message %q not delivered", want)
		}
	}
}

func TestBuildUsesFactory(t *testing.T) {
	originalFactory := Factory
	defer func() { Factory = originalFactory }()

	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		assert.True(t, cfg.BlockPublishUntilSubscriberAck)
		assert.EqualValues(t, OutputBuffer, cfg.OutputChannelBuffer)
		return pub, sub
	}

	tr, err := Build(context.Background(), &config.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)
	assert.Same(t, sub, tr.Subscriber)
}
