package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/subserver/internal/runtime/errors"
	idspkg "github.com/drblury/subserver/internal/runtime/ids"
	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
	metadatapkg "github.com/drblury/subserver/internal/runtime/metadata"
)

// InterceptorFactory constructs a chain builder using the provided service.
// Returning a nil builder leaves the interceptor out of the chain.
type InterceptorFactory func(*Service) (InterceptorBuilder, error)

// InterceptorRegistration describes an interceptor to add to a service chain.
// Set either Interceptor, for a shared stateless instance, or Factory.
type InterceptorRegistration struct {
	Name        string
	Interceptor Interceptor
	Factory     InterceptorFactory
}

// DefaultInterceptors returns the chain installed by NewService.
func DefaultInterceptors() []InterceptorRegistration {
	return []InterceptorRegistration{
		CorrelationIDInterceptor(),
		MessageLoggerInterceptor(nil),
		TracerInterceptor(),
		MetricsInterceptor(),
	}
}

// RegisterInterceptor appends reg to the service chain.
func (s *Service) RegisterInterceptor(reg InterceptorRegistration) error {
	if reg.Name == "" {
		return errspkg.ErrInterceptorNameRequired
	}
	switch {
	case reg.Factory != nil:
		build, err := reg.Factory(s)
		if err != nil {
			return fmt.Errorf("interceptor %s: %w", reg.Name, err)
		}
		if build == nil {
			s.Logger.Debug("Interceptor disabled", loggingpkg.LogFields{"interceptor": reg.Name})
			return nil
		}
		return s.chain.Add(reg.Name, build)
	case reg.Interceptor != nil:
		return s.chain.Add(reg.Name, Static(reg.Interceptor))
	default:
		return errspkg.ErrInterceptorBuilderNil
	}
}

type correlationIDKey struct{}

// CorrelationID returns the correlation id attached to ctx by the
// correlation_id interceptor.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// CorrelationIDInterceptor makes sure every message carries a correlation id,
// minting a ULID when the publisher did not set one.
func CorrelationIDInterceptor() InterceptorRegistration {
	return InterceptorRegistration{
		Name: "correlation_id",
		Interceptor: InterceptorFunc(func(ctx context.Context, _ *Descriptor, msg *message.Message, next Next) error {
			if msg.Metadata == nil {
				msg.Metadata = message.Metadata{}
			}
			id := msg.Metadata.Get(metadatapkg.KeyCorrelationID)
			if id == "" {
				id = idspkg.CreateULID()
				msg.Metadata.Set(metadatapkg.KeyCorrelationID, id)
			}
			return next(context.WithValue(ctx, correlationIDKey{}, id))
		}),
	}
}

// MessageLoggerInterceptor logs the start and the outcome of every message
// with the elapsed time. A nil logger falls back to the service logger.
func MessageLoggerInterceptor(logger loggingpkg.ServiceLogger) InterceptorRegistration {
	return InterceptorRegistration{
		Name: "message_logger",
		Factory: func(s *Service) (InterceptorBuilder, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("message logger requires a logger")
			}
			return func() (Interceptor, error) {
				return &messageLogger{logger: l}, nil
			}, nil
		},
	}
}

type messageLogger struct {
	logger  loggingpkg.ServiceLogger
	started time.Time
}

func (m *messageLogger) Intercept(ctx context.Context, desc *Descriptor, msg *message.Message, next Next) error {
	m.started = time.Now()
	fields := loggingpkg.LogFields{
		"listener":     desc.Name(),
		"message_uuid": msg.UUID,
	}
	m.logger.Info("start", fields)

	err := next(ctx)

	fields["elapsed"] = fmt.Sprintf("%.3f", time.Since(m.started).Seconds())
	if err != nil {
		m.logger.Info("fail", fields)
		return err
	}
	m.logger.Info("done", fields)
	return nil
}

const tracerName = "github.com/drblury/subserver"

// TracerInterceptor wraps processing in an OpenTelemetry span, continuing any
// trace propagated through the message metadata.
func TracerInterceptor() InterceptorRegistration {
	return InterceptorRegistration{
		Name: "tracer",
		Interceptor: InterceptorFunc(func(ctx context.Context, desc *Descriptor, msg *message.Message, next Next) error {
			ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
			ctx, span := otel.Tracer(tracerName).Start(ctx, "subserver.process",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.message.id", msg.UUID),
					attribute.String("messaging.destination.subscription.name", desc.Subscription()),
					attribute.String("subserver.listener", desc.Name()),
					attribute.String("subserver.queue", desc.Queue()),
				),
			)
			defer span.End()

			err := next(ctx)
			if err != nil && !isShutdown(err) {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}),
	}
}

// MetricsInterceptor records processing time per listener and outcome. It is
// left out when metrics are disabled.
func MetricsInterceptor() InterceptorRegistration {
	return InterceptorRegistration{
		Name: "metrics",
		Factory: func(s *Service) (InterceptorBuilder, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}
			stats := s.stats
			return Static(InterceptorFunc(func(ctx context.Context, desc *Descriptor, msg *message.Message, next Next) error {
				started := time.Now()
				err := next(ctx)
				outcome := "success"
				switch {
				case isShutdown(err):
					outcome = "shutdown"
				case err != nil:
					outcome = "failure"
				}
				stats.observe(desc.Name(), outcome, time.Since(started))
				return err
			})), nil
		},
	}
}
