package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	idspkg "github.com/drblury/adapterflow/internal/runtime/ids"
	"github.com/drblury/adapterflow/transport"
)

const (
	tracerName = "adapterflow-runtime"

	// MetadataCorrelationID is set on every hub message that lacks one.
	MetadataCorrelationID = "correlation_id"
)

// decorateTransport wraps the hub pair: published messages get a
// correlation id and a producer span, and with metrics enabled both sides
// report Watermill's Prometheus metrics.
func (s *Service) decorateTransport(t transport.Transport) (transport.Transport, error) {
	pub := message.Publisher(&tracingPublisher{Publisher: t.Publisher, tracer: otel.Tracer(tracerName)})
	sub := t.Subscriber
	if s.Conf.MetricsEnabled {
		builder := metrics.NewPrometheusMetricsBuilder(s.registerer, "adapterflow", "hub")
		var err error
		if pub, err = builder.DecoratePublisher(pub); err != nil {
			return transport.Transport{}, fmt.Errorf("decorate hub publisher: %w", err)
		}
		if sub, err = builder.DecorateSubscriber(sub); err != nil {
			return transport.Transport{}, fmt.Errorf("decorate hub subscriber: %w", err)
		}
	}
	return transport.Transport{Publisher: pub, Subscriber: sub}, nil
}

// tracingPublisher starts a producer span per publish.
type tracingPublisher struct {
	message.Publisher
	tracer trace.Tracer
}

func (p *tracingPublisher) Publish(topic string, msgs ...*message.Message) error {
	for _, msg := range msgs {
		if msg.Metadata.Get(MetadataCorrelationID) == "" {
			msg.Metadata.Set(MetadataCorrelationID, idspkg.CreateULID())
		}
	}
	ctx := context.Background()
	if len(msgs) > 0 {
		ctx = msgs[0].Context()
	}
	_, span := p.tracer.Start(ctx, "Publish "+topic, trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", topic),
		attribute.Int("messaging.batch.message_count", len(msgs)),
	)
	if err := p.Publisher.Publish(topic, msgs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
