// Package jetstream provides the NATS JetStream backend for the hub. All
// hub topics live in one stream; every subscription is an ephemeral
// consumer that starts at new messages, so per-client reply topics leave
// nothing behind once the client is gone.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"

	"github.com/drblury/adapterflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is used when the config names no stream.
	DefaultStreamName = "ADAPTERFLOW"

	// DefaultMaxDeliver is the default max delivery attempts.
	DefaultMaxDeliver = 3

	// DefaultAckWait is the default ack wait timeout.
	DefaultAckWait = 30 * time.Second

	// DefaultMaxAge bounds how long hub messages stay in the stream.
	DefaultMaxAge = time.Hour

	// DefaultInactiveThreshold removes consumers whose subscriber is gone.
	DefaultInactiveThreshold = 5 * time.Minute
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("adapterflow: jetstream transport closed")

// ConnectFactory allows overriding the NATS connection for testing.
var ConnectFactory = func(url string, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

func init() {
	Register()
}

// Register registers the JetStream transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a new NATS JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(ctx, Config{
		URL:        cfg.GetNATSURL(),
		StreamName: cfg.GetNATSStream(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds NATS JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the name of the JetStream stream to use.
	StreamName string

	// MaxDeliver is the maximum number of delivery attempts.
	MaxDeliver int

	// AckWait is the duration to wait for acknowledgment.
	AckWait time.Duration

	// MaxAge bounds message retention.
	MaxAge time.Duration

	// Replicas is the number of stream replicas (for clustering).
	Replicas int
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// StreamConfig returns the stream holding every hub topic.
func (c Config) StreamConfig() natsjs.StreamConfig {
	return natsjs.StreamConfig{
		Name:      c.StreamName,
		Subjects:  []string{c.StreamName + ".>"},
		Retention: natsjs.LimitsPolicy,
		MaxAge:    c.MaxAge,
		Replicas:  c.Replicas,
	}
}

// ConsumerConfig returns the ephemeral consumer of one topic.
func (c Config) ConsumerConfig(topic string) natsjs.ConsumerConfig {
	return natsjs.ConsumerConfig{
		FilterSubject:     c.Subject(topic),
		DeliverPolicy:     natsjs.DeliverNewPolicy,
		AckPolicy:         natsjs.AckExplicitPolicy,
		AckWait:           c.AckWait,
		MaxDeliver:        c.MaxDeliver,
		InactiveThreshold: DefaultInactiveThreshold,
	}
}

// Subject maps a hub topic into the stream.
func (c Config) Subject(topic string) string {
	return c.StreamName + "." + topic
}

// Transport implements Publisher and Subscriber for NATS JetStream.
type Transport struct {
	nc     *nats.Conn
	js     natsjs.JetStream
	config Config
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

// New connects, ensures the stream exists and returns the transport.
func New(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := ConnectFactory(cfg.URL, nats.Name("adapterflow-hub"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := natsjs.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, cfg.StreamConfig()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.StreamName, err)
	}

	return &Transport{
		nc:      nc,
		js:      js,
		config:  cfg,
		logger:  logger,
		closing: make(chan struct{}),
	}, nil
}

// Publish publishes messages to the stream. The message UUID doubles as
// the JetStream de-duplication id.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return ErrClosed
	}
	for _, msg := range messages {
		if _, err := t.js.PublishMsg(context.Background(), toNATS(t.config.Subject(topic), msg), natsjs.WithMsgID(msg.UUID)); err != nil {
			return fmt.Errorf("failed to publish to JetStream: %w", err)
		}
	}
	return nil
}

// Subscribe creates an ephemeral consumer for topic. The returned channel
// closes when ctx ends or the transport closes.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	consumer, err := t.js.CreateConsumer(ctx, t.config.StreamName, t.config.ConsumerConfig(topic))
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	sub := &subscription{out: make(chan *message.Message), done: make(chan struct{})}
	cc, err := consumer.Consume(func(m natsjs.Msg) { sub.handle(ctx, t.logger, m) })
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		select {
		case <-ctx.Done():
		case <-t.closing:
		}
		cc.Stop()
		sub.stop()
	}()

	return sub.out, nil
}

// subscription hands JetStream messages to one Watermill channel.
type subscription struct {
	out    chan *message.Message
	done   chan struct{}
	mu     sync.Mutex
	halted bool
	active sync.WaitGroup
}

func (s *subscription) handle(ctx context.Context, logger watermill.LoggerAdapter, m natsjs.Msg) {
	s.mu.Lock()
	if s.halted {
		s.mu.Unlock()
		_ = m.Nak()
		return
	}
	s.active.Add(1)
	s.mu.Unlock()
	defer s.active.Done()

	msg := fromNATS(m.Headers(), m.Data())
	select {
	case s.out <- msg:
	case <-s.done:
		_ = m.Nak()
		return
	case <-ctx.Done():
		_ = m.Nak()
		return
	}

	select {
	case <-msg.Acked():
		if err := m.Ack(); err != nil {
			logger.Error("Failed to ack", err, nil)
		}
	case <-msg.Nacked():
		if err := m.Nak(); err != nil {
			logger.Error("Failed to nak", err, nil)
		}
	case <-s.done:
	case <-ctx.Done():
	}
}

func (s *subscription) stop() {
	s.mu.Lock()
	s.halted = true
	close(s.done)
	s.mu.Unlock()
	s.active.Wait()
	close(s.out)
}

func toNATS(subject string, msg *message.Message) *nats.Msg {
	headers := nats.Header{}
	for k, v := range msg.Metadata {
		headers.Set(k, v)
	}
	headers.Set(nats.MsgIdHdr, msg.UUID)
	return &nats.Msg{
		Subject: subject,
		Data:    msg.Payload,
		Header:  headers,
	}
}

func fromNATS(headers nats.Header, data []byte) *message.Message {
	id := headers.Get(nats.MsgIdHdr)
	if id == "" {
		id = watermill.NewUUID()
	}
	msg := message.NewMessage(id, data)
	for k, v := range headers {
		if k == nats.MsgIdHdr || len(v) == 0 {
			continue
		}
		msg.Metadata.Set(k, v[0])
	}
	return msg
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close stops every subscription and closes the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closing)
	t.mu.Unlock()

	t.wg.Wait()
	t.nc.Close()
	return nil
}

// Capabilities returns the JetStream transport capabilities.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}
