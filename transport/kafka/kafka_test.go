package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/subserver/transport"
	"github.com/drblury/subserver/transport/transporttest"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.SupportsCompetingConsumers)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.KafkaCapabilities, Capabilities())
}

func stubFactories(t *testing.T, pub message.Publisher, sub message.Subscriber) *kafka.SubscriberConfig {
	t.Helper()
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})

	seen := &kafka.SubscriberConfig{}
	PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return pub, nil
	}
	SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		*seen = cfg
		return sub, nil
	}
	return seen
}

func TestBuild(t *testing.T) {
	t.Run("creates transport with mocked factories", func(t *testing.T) {
		pub := &transporttest.Publisher{}
		sub := &transporttest.Subscriber{}
		seen := stubFactories(t, pub, sub)

		cfg := &transporttest.Config{
			KafkaBrokers:       []string{"localhost:9092"},
			KafkaConsumerGroup: "test-group",
		}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Same(t, pub, tr.Publisher)
		assert.Same(t, sub, tr.Subscriber)
		assert.NotNil(t, tr.Resolver)
		assert.Equal(t, []string{"localhost:9092"}, seen.Brokers)
		assert.Equal(t, "test-group", seen.ConsumerGroup)
		require.NotNil(t, seen.OverwriteSaramaConfig)
		assert.Equal(t, sarama.OffsetOldest, seen.OverwriteSaramaConfig.Consumer.Offsets.Initial)
	})

	t.Run("defaults the consumer group", func(t *testing.T) {
		seen := stubFactories(t, &transporttest.Publisher{}, &transporttest.Subscriber{})

		_, err := Build(context.Background(), &transporttest.Config{KafkaBrokers: []string{"k:9092"}}, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Equal(t, DefaultConsumerGroup, seen.ConsumerGroup)
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		originalPub := PublisherFactory
		defer func() { PublisherFactory = originalPub }()
		PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})

	t.Run("closes publisher when subscriber factory fails", func(t *testing.T) {
		pub := &transporttest.Publisher{}
		stubFactories(t, pub, nil)
		SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.Closed)
	})
}

type fakeClient struct {
	topics     []string
	refreshErr error
	closed     bool
}

func (f *fakeClient) Topics() ([]string, error)       { return f.topics, nil }
func (f *fakeClient) RefreshMetadata(...string) error { return f.refreshErr }
func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestTopicResolver(t *testing.T) {
	originalClient := ClientFactory
	defer func() { ClientFactory = originalClient }()

	client := &fakeClient{topics: []string{"orders", "payments"}}
	dials := 0
	ClientFactory = func(brokers []string, cfg *sarama.Config) (TopicLister, error) {
		dials++
		assert.Equal(t, []string{"k:9092"}, brokers)
		return client, nil
	}

	res := &topicResolver{brokers: []string{"k:9092"}}
	ctx := context.Background()

	require.NoError(t, res.ResolveSubscription(ctx, "orders"))
	require.NoError(t, res.ResolveSubscription(ctx, "payments"))
	assert.ErrorContains(t, res.ResolveSubscription(ctx, "missing"), `topic "missing" does not exist`)
	assert.Equal(t, 1, dials, "client is reused")

	client.refreshErr = errors.New("broker down")
	assert.ErrorContains(t, res.ResolveSubscription(ctx, "orders"), "broker down")

	require.NoError(t, res.Close())
	assert.True(t, client.closed)
	require.NoError(t, res.Close())
}

func TestTopicResolverDialFailure(t *testing.T) {
	originalClient := ClientFactory
	defer func() { ClientFactory = originalClient }()
	ClientFactory = func(brokers []string, cfg *sarama.Config) (TopicLister, error) {
		return nil, errors.New("dial refused")
	}

	res := &topicResolver{brokers: []string{"k:9092"}}
	assert.ErrorContains(t, res.ResolveSubscription(context.Background(), "orders"), "dial refused")
}
