// Package kafka provides a Kafka transport for subserver. Subscriptions are
// topics consumed by the configured consumer group.
package kafka

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/subserver/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// DefaultConsumerGroup is used when the config leaves the group empty.
const DefaultConsumerGroup = "subserver"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

// TopicLister is the part of sarama.Client used to resolve subscriptions.
type TopicLister interface {
	Topics() ([]string, error)
	RefreshMetadata(topics ...string) error
	Close() error
}

// ClientFactory allows overriding the metadata client creation for testing.
var ClientFactory = func(brokers []string, cfg *sarama.Config) (TopicLister, error) {
	return sarama.NewClient(brokers, cfg)
}

func init() {
	Register()
}

// Register registers the Kafka transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a new Kafka transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	consumerGroup := cfg.GetKafkaConsumerGroup()
	if consumerGroup == "" {
		consumerGroup = DefaultConsumerGroup
	}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         consumerGroup,
			OverwriteSaramaConfig: saramaSubscriberConfig(),
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
		Resolver:     &topicResolver{brokers: brokers},
		Capabilities: transport.KafkaCapabilities,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

// saramaSubscriberConfig starts new consumer groups at the oldest offset so a
// freshly deployed subscriber does not skip the backlog.
func saramaSubscriberConfig() *sarama.Config {
	cfg := kafka.DefaultSaramaSubscriberConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	return cfg
}

// topicResolver lazily opens one metadata client and checks topic existence.
type topicResolver struct {
	brokers []string

	mu     sync.Mutex
	client TopicLister
}

func (r *topicResolver) ResolveSubscription(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		client, err := ClientFactory(r.brokers, sarama.NewConfig())
		if err != nil {
			return fmt.Errorf("kafka: connect to %v: %w", r.brokers, err)
		}
		r.client = client
	}

	if err := r.client.RefreshMetadata(); err != nil {
		return fmt.Errorf("kafka: refresh metadata: %w", err)
	}
	topics, err := r.client.Topics()
	if err != nil {
		return fmt.Errorf("kafka: list topics: %w", err)
	}
	if !slices.Contains(topics, name) {
		return fmt.Errorf("kafka: topic %q does not exist", name)
	}
	return nil
}

func (r *topicResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
