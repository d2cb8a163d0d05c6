// Package rabbitmq provides a RabbitMQ/AMQP transport for subserver.
// Subscriptions are durable queues shared by every listener consuming them.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/subserver/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

// QueueInspector checks queues without creating them.
type QueueInspector interface {
	InspectQueue(name string) error
	Close() error
}

// InspectorFactory allows overriding the inspection connection for testing.
var InspectorFactory = func(url string) (QueueInspector, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	return &passiveInspector{conn: conn}, nil
}

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build creates a new RabbitMQ transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()

	amqpConfig := amqp.NewDurableQueueConfig(url)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:    publisher,
		Subscriber:   subscriber,
		Resolver:     &queueResolver{url: url, shared: conn},
		Capabilities: transport.RabbitMQCapabilities,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}

type passiveInspector struct {
	conn *amqp091.Connection
}

// InspectQueue passively declares the queue on a throwaway channel. The broker
// closes the channel with 404 when the queue is missing.
func (p *passiveInspector) InspectQueue(name string) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	_, err = ch.QueueDeclarePassive(name, true, false, false, false, nil)
	return err
}

func (p *passiveInspector) Close() error {
	if p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}

// queueResolver owns the inspection connection and the connection shared by
// the publisher and subscriber, which do not close it themselves.
type queueResolver struct {
	url    string
	shared *amqp.ConnectionWrapper

	mu        sync.Mutex
	inspector QueueInspector
}

func (r *queueResolver) ResolveSubscription(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inspector == nil {
		inspector, err := InspectorFactory(r.url)
		if err != nil {
			return fmt.Errorf("rabbitmq: connect: %w", err)
		}
		r.inspector = inspector
	}

	if err := r.inspector.InspectQueue(name); err != nil {
		var amqpErr *amqp091.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp091.NotFound {
			return fmt.Errorf("rabbitmq: queue %q does not exist", name)
		}
		// The connection may be gone; redial on the next attempt.
		_ = r.inspector.Close()
		r.inspector = nil
		return fmt.Errorf("rabbitmq: inspect queue %q: %w", name, err)
	}
	return nil
}

func (r *queueResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.inspector != nil {
		errs = append(errs, r.inspector.Close())
		r.inspector = nil
	}
	if r.shared != nil {
		errs = append(errs, r.shared.Close())
		r.shared = nil
	}
	return errors.Join(errs...)
}
