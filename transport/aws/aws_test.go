package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
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
	assert.Equal(t, "aws", caps.Name)
	assert.True(t, caps.SupportsCompetingConsumers)
	assert.Equal(t, int64(262144), caps.MaxMessageSize)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.AWSCapabilities, Capabilities())
}

type fakeQueueClient struct {
	urls  map[string]string
	err   error
	input *amazonsqs.GetQueueUrlInput
}

func (f *fakeQueueClient) GetQueueUrl(ctx context.Context, params *amazonsqs.GetQueueUrlInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.GetQueueUrlOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.urls[aws.ToString(params.QueueName)]
	if !ok {
		return nil, &sqstypes.QueueDoesNotExist{Message: aws.String("missing")}
	}
	return &amazonsqs.GetQueueUrlOutput{QueueUrl: aws.String(u)}, nil
}

func stubAWS(t *testing.T) {
	t.Helper()
	originalLoader := DefaultConfigLoader
	originalPub := PublisherFactory
	originalSub := SubscriberFactory
	originalClient := QueueClientFactory
	t.Cleanup(func() {
		DefaultConfigLoader = originalLoader
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
		QueueClientFactory = originalClient
	})
	DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}
}

func TestBuild(t *testing.T) {
	t.Run("creates transport with mocked factories", func(t *testing.T) {
		stubAWS(t)

		pub := &transporttest.Publisher{}
		sub := &transporttest.Subscriber{}
		client := &fakeQueueClient{urls: map[string]string{"orders": "https://sqs/123456789012/orders"}}

		PublisherFactory = func(cfg sqs.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, "eu-central-1", cfg.AWSConfig.Region)
			return pub, nil
		}
		SubscriberFactory = func(cfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Len(t, cfg.OptFns, 1, "custom endpoint is applied")
			return sub, nil
		}
		QueueClientFactory = func(cfg aws.Config, optFns ...func(*amazonsqs.Options)) QueueURLGetter {
			return client
		}

		cfg := &transporttest.Config{
			AWSRegion:    "eu-central-1",
			AWSAccountID: "123456789012",
			AWSEndpoint:  "http://localhost:4566",
		}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Same(t, pub, tr.Publisher)
		assert.Same(t, sub, tr.Subscriber)

		require.NoError(t, tr.Resolve(context.Background(), "orders"))
		assert.Equal(t, "123456789012", aws.ToString(client.input.QueueOwnerAWSAccountId))
		assert.ErrorContains(t, tr.Resolve(context.Background(), "payments"), `queue "payments" does not exist`)
	})

	t.Run("returns error when config loader fails", func(t *testing.T) {
		stubAWS(t)
		DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("config error")
		}

		_, err := Build(context.Background(), &transporttest.Config{AWSRegion: "us-east-1"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "config error")
	})

	t.Run("returns error for an unparsable endpoint", func(t *testing.T) {
		stubAWS(t)

		_, err := Build(context.Background(), &transporttest.Config{AWSEndpoint: "http://[::1"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "failed to parse AWS endpoint")
	})

	t.Run("closes publisher when subscriber factory fails", func(t *testing.T) {
		stubAWS(t)
		pub := &transporttest.Publisher{}
		PublisherFactory = func(cfg sqs.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(cfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), &transporttest.Config{AWSRegion: "us-east-1"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.Closed)
	})
}

func TestQueueResolverReportsAPIErrorCode(t *testing.T) {
	client := &fakeQueueClient{err: &smithy.GenericAPIError{Code: "AccessDenied", Message: "nope"}}
	res := &queueResolver{client: client, accountID: "short"}

	err := res.ResolveSubscription(context.Background(), "orders")
	assert.ErrorContains(t, err, "AccessDenied")
	assert.Nil(t, client.input.QueueOwnerAWSAccountId, "invalid account ids are not sent")
}

func TestResolveAccountAndRegion(t *testing.T) {
	t.Run("uses config values", func(t *testing.T) {
		cfg := &transporttest.Config{AWSAccountID: "123456789012", AWSRegion: "us-west-2"}
		accountID, region := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, "123456789012", accountID)
		assert.Equal(t, "us-west-2", region)
	})

	t.Run("uses fallback region when config region empty", func(t *testing.T) {
		cfg := &transporttest.Config{AWSAccountID: "123456789012"}
		_, region := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, "us-east-1", region)
	})

	t.Run("uses localstack default when endpoint set and account empty", func(t *testing.T) {
		cfg := &transporttest.Config{AWSEndpoint: "http://localhost:4566"}
		accountID, _ := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, localstackAccountID, accountID)
	})

	t.Run("replaces malformed account id for localstack", func(t *testing.T) {
		cfg := &transporttest.Config{AWSEndpoint: "http://localhost:4566", AWSAccountID: "'42'"}
		accountID, _ := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, localstackAccountID, accountID)
	})

	t.Run("returns empty values for nil config", func(t *testing.T) {
		accountID, region := resolveAccountAndRegion(nil, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, "", accountID)
		assert.Equal(t, "us-east-1", region)
	})
}

func TestAwsEndpointURL(t *testing.T) {
	u, err := awsEndpointURL(nil)
	assert.NoError(t, err)
	assert.Nil(t, u)

	u, err = awsEndpointURL(&transporttest.Config{AWSEndpoint: "http://localhost:4566"})
	require.NoError(t, err)
	assert.Equal(t, "localhost:4566", u.Host)
}
