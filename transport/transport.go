// Package transport defines the broker contracts used by subserver listeners.
// Each transport implementation (kafka, rabbitmq, aws, etc.) lives in its own
// sub-package and registers itself with the transport registry.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// ErrUnresolvable is returned by transports that cannot check whether a
// subscription exists. Listeners treat it like any other resolution failure.
var ErrUnresolvable = errors.New("transport: subscription resolution is not supported")

// SubscriptionResolver checks that a named subscription exists on the broker
// before a listener is allowed to join the fleet.
type SubscriptionResolver interface {
	ResolveSubscription(ctx context.Context, name string) error
}

// ResolverFunc adapts a function into a SubscriptionResolver.
type ResolverFunc func(ctx context.Context, name string) error

// ResolveSubscription implements SubscriptionResolver.
func (f ResolverFunc) ResolveSubscription(ctx context.Context, name string) error {
	return f(ctx, name)
}

// Transport combines the broker handles produced by a builder.
type Transport struct {
	Publisher    message.Publisher
	Subscriber   message.Subscriber
	Resolver     SubscriptionResolver
	Capabilities Capabilities
}

// Resolve asks the transport's resolver about a subscription. A transport
// without a resolver cannot vouch for anything, so it fails.
func (t Transport) Resolve(ctx context.Context, name string) error {
	if t.Resolver == nil {
		return fmt.Errorf("%w: %s", ErrUnresolvable, name)
	}
	return t.Resolver.ResolveSubscription(ctx, name)
}

// Close releases the subscriber and the publisher. When both are the same
// pub/sub value it is closed once.
func (t Transport) Close() error {
	var errs []error
	if t.Subscriber != nil {
		errs = append(errs, t.Subscriber.Close())
	}
	if t.Publisher != nil && !sameHandle(t.Publisher, t.Subscriber) {
		errs = append(errs, t.Publisher.Close())
	}
	if closer, ok := t.Resolver.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

func sameHandle(pub message.Publisher, sub message.Subscriber) bool {
	if sub == nil {
		return false
	}
	other, ok := sub.(message.Publisher)
	return ok && any(other) == any(pub)
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports without
// depending on the full config package.
type Config interface {
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string

	// Go CDK; "%s" is replaced by the subscription name.
	GetGoCloudURLTemplate() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
