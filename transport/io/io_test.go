package io

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/adapterflow/internal/runtime/config"
	"github.com/drblury/adapterflow/transport"
)

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "io", caps.Name)
	assert.True(t, caps.Ordered)
	assert.False(t, caps.Remote)
	assert.Equal(t, transport.IOCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.log")
	tr, err := Build(context.Background(), &config.Config{IOFile: path}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()
	assert.Equal(t, path, tr.Publisher.(*Publisher).filePath)
	assert.Equal(t, path, tr.Subscriber.(*Subscriber).filePath)

	tr, err = Build(context.Background(), &config.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, DefaultFilePath, tr.Publisher.(*Publisher).filePath)
}

func receive(t *testing.T, msgs <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg, ok := <-msgs:
		require.True(t, ok, "subscription closed")
		msg.Ack()
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestSubscriberTailsNewMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.log")
	pub := NewPublisher(path, nil)
	sub := NewSubscriber(path, nil)
	defer sub.Close()

	// Written before the subscription: not delivered.
	require.NoError(t, pub.Publish("calls", message.NewMessage("old", []byte("old"))))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := sub.Subscribe(ctx, "calls")
	require.NoError(t, err)

	first := message.NewMessage("m1", []byte("one"))
	first.Metadata.Set("ce_type", "adapterflow.call.v1")
	require.NoError(t, pub.Publish("replies", message.NewMessage("other", []byte("x"))))
	require.NoError(t, pub.Publish("calls", first, message.NewMessage("m2", []byte("two"))))

	got := receive(t, msgs)
	assert.Equal(t, "m1", got.UUID)
	assert.Equal(t, "one", string(got.Payload))
	assert.Equal(t, "adapterflow.call.v1", got.Metadata.Get("ce_type"))
	assert.Equal(t, "m2", receive(t, msgs).UUID)
}

func TestSubscriberFromStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.log")
	pub := NewPublisher(path, nil)
	require.NoError(t, pub.Publish("calls", message.NewMessage("old", []byte("old"))))

	sub := NewSubscriber(path, nil)
	sub.FromStart = true
	defer sub.Close()
	msgs, err := sub.Subscribe(context.Background(), "calls")
	require.NoError(t, err)
	assert.Equal(t, "old", receive(t, msgs).UUID)
}

func TestSubscriberSkipsPartialAndMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.log")
	sub := NewSubscriber(path, nil)
	defer sub.Close()
	msgs, err := sub.Subscribe(context.Background(), "calls")
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	_, err = f.WriteString(`{"uuid":"m1","topic":"calls",`)
	require.NoError(t, err)
	time.Sleep(3 * PollInterval)
	_, err = f.WriteString(`"payload":"b2s="}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got := receive(t, msgs)
	assert.Equal(t, "m1", got.UUID)
	assert.Equal(t, "ok", string(got.Payload))
}

func TestCloseEndsSubscriptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.log")
	pub := NewPublisher(path, nil)
	sub := NewSubscriber(path, nil)
	msgs, err := sub.Subscribe(context.Background(), "calls")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	_, ok := <-msgs
	assert.False(t, ok)

	_, err = sub.Subscribe(context.Background(), "calls")
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, pub.Close())
	assert.ErrorIs(t, pub.Publish("calls", message.NewMessage("x", nil)), ErrClosed)
}
