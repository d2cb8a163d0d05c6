// Package nats provides a NATS transport for subserver. Subscriptions are
// subjects captured by a JetStream stream; listeners share them through a queue
// group.
package nats

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/subserver/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// QueueGroupPrefix names the queue group every listener joins.
const QueueGroupPrefix = "subserver"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

// StreamFinder reports which JetStream stream captures a subject.
type StreamFinder interface {
	StreamForSubject(subject string) (string, error)
	Close()
}

// FinderFactory allows overriding the lookup connection for testing.
var FinderFactory = func(url string) (StreamFinder, error) {
	conn, err := natsgo.Connect(url, natsgo.Name("subserver-resolver"))
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &jetStreamFinder{conn: conn, js: js}, nil
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a new NATS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	marshaler := &nats.NATSMarshaler{}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:       url,
			Marshaler: marshaler,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			QueueGroupPrefix: QueueGroupPrefix,
			Unmarshaler:      marshaler,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:    publisher,
		Subscriber:   subscriber,
		Resolver:     &subjectResolver{url: url},
		Capabilities: transport.NATSCapabilities,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

type jetStreamFinder struct {
	conn *natsgo.Conn
	js   natsgo.JetStreamContext
}

func (j *jetStreamFinder) StreamForSubject(subject string) (string, error) {
	return j.js.StreamNameBySubject(subject)
}

func (j *jetStreamFinder) Close() {
	j.conn.Close()
}

type subjectResolver struct {
	url string

	mu     sync.Mutex
	finder StreamFinder
}

func (r *subjectResolver) ResolveSubscription(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finder == nil {
		finder, err := FinderFactory(r.url)
		if err != nil {
			return fmt.Errorf("nats: connect to %s: %w", r.url, err)
		}
		r.finder = finder
	}

	stream, err := r.finder.StreamForSubject(name)
	if err != nil {
		return fmt.Errorf("nats: no stream captures subject %q: %w", name, err)
	}
	if stream == "" {
		return fmt.Errorf("nats: no stream captures subject %q", name)
	}
	return nil
}

func (r *subjectResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finder != nil {
		r.finder.Close()
		r.finder = nil
	}
	return nil
}
