package worker

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/routewise/routewise/internal/worker"

// PubSubConfig holds configuration for the Pub/Sub subscriber.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string

	// MaxOutstandingMessages caps unacknowledged messages (default: 10).
	MaxOutstandingMessages int

	// NumGoroutines is the number of receiving goroutines (default: 1).
	NumGoroutines int

	Processor *Processor
	Logger    zerolog.Logger
}

// PubSubSubscriber feeds messages from a subscription to a Processor.
type PubSubSubscriber struct {
	client       *pubsub.Client
	subscriber   *pubsub.Subscriber
	subscription string
	delivery     *delivery
}

// NewPubSubSubscriber connects to Pub/Sub. Call Close when done.
func NewPubSubSubscriber(ctx context.Context, cfg PubSubConfig) (*PubSubSubscriber, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	sub := client.Subscriber(cfg.SubscriptionName)
	sub.ReceiveSettings.MaxOutstandingMessages = 10
	if cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	}
	// Plan jobs can outlive the default ack deadline extension.
	sub.ReceiveSettings.MaxExtension = 10 * time.Minute
	if cfg.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines
	}

	return &PubSubSubscriber{
		client:       client,
		subscriber:   sub,
		subscription: cfg.SubscriptionName,
		delivery:     newDelivery(cfg.Processor, cfg.Logger),
	}, nil
}

// Start receives messages until ctx is done.
func (s *PubSubSubscriber) Start(ctx context.Context) error {
	s.delivery.logger.Info().Str("subscription", s.subscription).Msg("receiving jobs")

	return s.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.delivery.handle(ctx, envelope{
			ID:          msg.ID,
			Data:        msg.Data,
			Attributes:  msg.Attributes,
			PublishTime: msg.PublishTime,
			Attempt:     msg.DeliveryAttempt,
		}, msg)
	})
}

// Close closes the Pub/Sub client.
func (s *PubSubSubscriber) Close() error {
	return s.client.Close()
}

// envelope is the transport-independent view of a received message.
type envelope struct {
	ID          string
	Data        []byte
	Attributes  map[string]string
	PublishTime time.Time

	// Attempt is nil unless the subscription has a dead letter policy.
	Attempt *int
}

type settler interface {
	Ack()
	Nack()
}

// delivery runs one message through the processor and settles it.
type delivery struct {
	processor  *Processor
	logger     zerolog.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func newDelivery(p *Processor, logger zerolog.Logger) *delivery {
	return &delivery{
		processor:  p,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
		propagator: otel.GetTextMapPropagator(),
	}
}

// handle acks completed and discarded jobs and nacks everything else so
// Pub/Sub redelivers it.
func (d *delivery) handle(ctx context.Context, env envelope, s settler) {
	start := time.Now()

	// Publishers may attach a W3C trace context in the attributes.
	ctx = d.propagator.Extract(ctx, propagation.MapCarrier(env.Attributes))
	ctx, span := d.tracer.Start(ctx, "worker.job",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "gcp_pubsub"),
			attribute.String("messaging.message.id", env.ID),
		),
	)
	defer span.End()

	logCtx := d.logger.With().Str("message_id", env.ID)
	if env.Attempt != nil {
		logCtx = logCtx.Int("delivery_attempt", *env.Attempt)
	}
	if !env.PublishTime.IsZero() {
		logCtx = logCtx.Dur("queue_latency", start.Sub(env.PublishTime))
	}
	logger := logCtx.Logger()

	err := d.processor.Process(logger.WithContext(ctx), env.Data)
	switch {
	case err == nil:
		logger.Info().Dur("duration", time.Since(start)).Msg("job completed")
		s.Ack()
	case ShouldAck(err):
		span.SetAttributes(attribute.Bool("worker.job.discarded", true))
		logger.Warn().Err(err).Msg("job discarded")
		s.Ack()
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("job failed, will be redelivered")
		s.Nack()
	}
}
