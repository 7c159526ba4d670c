package billing

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/complykit/complykit/pkg/events"
	"github.com/complykit/complykit/pkg/logger"
)

const tracerName = "github.com/complykit/complykit/svc/billing"

// Option configures the engine services.
type Option func(*options)

type options struct {
	log       *slog.Logger
	now       func() time.Time
	metrics   *Metrics
	publisher events.Publisher
	tracer    trace.Tracer
}

func newOptions(component string, opts []Option) options {
	o := options{
		log:       slog.Default(),
		now:       time.Now,
		publisher: events.Noop{},
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.With(logger.Component(component))
	return o
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock replaces time.Now. Tests use it to pin the refund window and
// expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPublisher sets where domain events go after a commit.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) {
		if p != nil {
			o.publisher = p
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

func (o options) clock() time.Time {
	return o.now().UTC()
}

// Domain event types published after a subscription write commits.
const (
	EventActivated   = "subscription.activated"
	EventRenewed     = "subscription.renewed"
	EventPlanChanged = "subscription.plan_changed"
	EventCancelled   = "subscription.cancelled"
	EventRefunded    = "subscription.refunded"
)

// publish is best effort: the write is already committed and the event
// stream is not the source of truth.
func (o options) publish(ctx context.Context, eventType string, s Subscription) {
	now := o.clock()
	err := o.publisher.Publish(ctx, events.Message{
		Type:       eventType,
		Key:        s.ID.String(),
		OccurredAt: now,
		Payload:    s.View(now),
	})
	if err != nil {
		o.log.WarnContext(ctx, "failed to publish subscription event",
			logger.Error(err),
			logger.EventType(eventType),
			logger.SubscriptionID(s.ID),
		)
	}
}
