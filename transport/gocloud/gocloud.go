// Package gocloud provides a Go CDK pub/sub transport for subserver. The
// configured URL template selects the driver: "mem://%s" for the in-process
// broker, "gcppubsub://projects/<project>/subscriptions/%s" for Google Cloud
// Pub/Sub.
package gocloud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/gcppubsub" // registers gcppubsub://
	_ "gocloud.dev/pubsub/mempubsub" // registers mem://

	"github.com/drblury/subserver/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "gocloud"

// DefaultURLTemplate is used when the config leaves the template empty.
const DefaultURLTemplate = "mem://%s"

// UUIDMetadataKey carries the watermill message UUID across the broker.
const UUIDMetadataKey = "subserver_uuid"

// OpenSubscription allows overriding subscription opening for testing.
var OpenSubscription = pubsub.OpenSubscription

// OpenTopic allows overriding topic opening for testing.
var OpenTopic = pubsub.OpenTopic

func init() {
	Register()
}

// Register registers the Go CDK transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.GoCloudCapabilities)
}

// Build creates a new Go CDK transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	template := cfg.GetGoCloudURLTemplate()
	if template == "" {
		template = DefaultURLTemplate
	}
	if !strings.Contains(template, "%s") {
		return transport.Transport{}, fmt.Errorf("gocloud: url template %q has no %%s placeholder", template)
	}

	caps := transport.GoCloudCapabilities
	// Every mem:// subscription receives every message.
	if strings.HasPrefix(template, "mem://") {
		caps.SupportsCompetingConsumers = false
	}

	sub := NewSubscriber(template, logger)
	return transport.Transport{
		Publisher:    NewPublisher(topicTemplate(template), logger),
		Subscriber:   sub,
		Resolver:     sub,
		Capabilities: caps,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.GoCloudCapabilities
}

func topicTemplate(subscriptionTemplate string) string {
	return strings.Replace(subscriptionTemplate, "/subscriptions/", "/topics/", 1)
}

// Subscriber adapts Go CDK subscriptions to watermill's message.Subscriber.
type Subscriber struct {
	template string
	logger   watermill.LoggerAdapter

	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	running sync.WaitGroup
}

// NewSubscriber returns a Subscriber opening subscriptions from template.
func NewSubscriber(template string, logger watermill.LoggerAdapter) *Subscriber {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Subscriber{template: template, logger: logger, closing: make(chan struct{})}
}

func (s *Subscriber) url(name string) string {
	return fmt.Sprintf(s.template, name)
}

// Subscribe opens the subscription and streams its messages until ctx ends.
// Messages already handed out are still settled after ctx ends, until Close.
func (s *Subscriber) Subscribe(ctx context.Context, name string) (<-chan *message.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("gocloud: subscriber is closed")
	}
	s.running.Add(1)
	s.mu.Unlock()

	sub, err := OpenSubscription(ctx, s.url(name))
	if err != nil {
		s.running.Done()
		return nil, fmt.Errorf("gocloud: open subscription %q: %w", name, err)
	}

	out := make(chan *message.Message)
	go s.consume(ctx, name, sub, out)
	return out, nil
}

func (s *Subscriber) consume(ctx context.Context, name string, sub *pubsub.Subscription, out chan<- *message.Message) {
	defer s.running.Done()

	var settling sync.WaitGroup
	defer func() {
		close(out)
		settling.Wait()
		if err := sub.Shutdown(context.Background()); err != nil {
			s.logger.Error("Shutting down subscription failed", err, watermill.LogFields{"subscription": name})
		}
	}()

	for {
		received, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("Receiving from subscription failed", err, watermill.LogFields{"subscription": name})
			}
			return
		}

		msg := toWatermill(received)
		select {
		case out <- msg:
		case <-ctx.Done():
			if received.Nackable() {
				received.Nack()
			}
			return
		}

		settling.Add(1)
		go func() {
			defer settling.Done()
			s.settle(received, msg)
		}()
	}
}

func (s *Subscriber) settle(received *pubsub.Message, msg *message.Message) {
	select {
	case <-msg.Acked():
		received.Ack()
	case <-msg.Nacked():
		if received.Nackable() {
			received.Nack()
		}
	case <-s.closing:
		// Left for the broker to redeliver after its ack deadline.
	}
}

func toWatermill(received *pubsub.Message) *message.Message {
	uuid := received.Metadata[UUIDMetadataKey]
	if uuid == "" {
		uuid = received.LoggableID
	}
	if uuid == "" {
		uuid = watermill.NewUUID()
	}
	msg := message.NewMessage(uuid, received.Body)
	for k, v := range received.Metadata {
		if k != UUIDMetadataKey {
			msg.Metadata.Set(k, v)
		}
	}
	return msg
}

// ResolveSubscription opens and immediately shuts down the subscription.
func (s *Subscriber) ResolveSubscription(ctx context.Context, name string) error {
	sub, err := OpenSubscription(ctx, s.url(name))
	if err != nil {
		return fmt.Errorf("gocloud: subscription %q: %w", name, err)
	}
	return sub.Shutdown(ctx)
}

// Close releases unsettled messages and waits for the receive loops to end.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	s.mu.Unlock()

	s.running.Wait()
	return nil
}

// Publisher adapts Go CDK topics to watermill's message.Publisher.
type Publisher struct {
	template string
	logger   watermill.LoggerAdapter

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	closed bool
}

// NewPublisher returns a Publisher opening topics from template.
func NewPublisher(template string, logger watermill.LoggerAdapter) *Publisher {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Publisher{template: template, logger: logger, topics: make(map[string]*pubsub.Topic)}
}

// Publish sends messages to the named topic, opening it on first use.
func (p *Publisher) Publish(name string, messages ...*message.Message) error {
	topic, err := p.topic(name)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		ctx := msg.Context()
		metadata := make(map[string]string, len(msg.Metadata)+1)
		for k, v := range msg.Metadata {
			metadata[k] = v
		}
		metadata[UUIDMetadataKey] = msg.UUID
		if err := topic.Send(ctx, &pubsub.Message{Body: msg.Payload, Metadata: metadata}); err != nil {
			return fmt.Errorf("gocloud: send to %q: %w", name, err)
		}
	}
	return nil
}

func (p *Publisher) topic(name string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New("gocloud: publisher is closed")
	}
	if topic, ok := p.topics[name]; ok {
		return topic, nil
	}
	topic, err := OpenTopic(context.Background(), fmt.Sprintf(p.template, name))
	if err != nil {
		return nil, fmt.Errorf("gocloud: open topic %q: %w", name, err)
	}
	p.topics[name] = topic
	return topic, nil
}

// Close shuts down every opened topic.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for name, topic := range p.topics {
		if err := topic.Shutdown(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("gocloud: shutdown topic %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
