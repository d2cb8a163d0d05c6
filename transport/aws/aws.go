// Package aws provides an Amazon SQS transport for subserver. Subscriptions are
// SQS queue names; every listener on a queue competes for its messages.
package aws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/subserver/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "aws"

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg sqs.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sqs.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return sqs.NewSubscriber(cfg, logger)
}

// QueueURLGetter is the part of the SQS client used to resolve subscriptions.
type QueueURLGetter interface {
	GetQueueUrl(ctx context.Context, params *amazonsqs.GetQueueUrlInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.GetQueueUrlOutput, error)
}

// QueueClientFactory allows overriding the SQS client used for resolution.
var QueueClientFactory = func(cfg aws.Config, optFns ...func(*amazonsqs.Options)) QueueURLGetter {
	return amazonsqs.NewFromConfig(cfg, optFns...)
}

func init() {
	Register()
}

// Register registers the AWS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

// Build creates a new SQS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	awsCfg, err := createAWSConfig(ctx, cfg, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	logger.Info("Created AWS config", watermill.LogFields{
		"region":          awsCfg.Region,
		"custom_endpoint": cfg.GetAWSEndpoint() != "",
	})

	optFns, err := endpointOptions(cfg)
	if err != nil {
		logger.Error("Failed to parse AWS endpoint", err, watermill.LogFields{"endpoint": cfg.GetAWSEndpoint()})
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(sqs.PublisherConfig{
		AWSConfig: *awsCfg,
		OptFns:    optFns,
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(sqs.SubscriberConfig{
		AWSConfig: *awsCfg,
		OptFns:    optFns,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	accountID, _ := resolveAccountAndRegion(cfg, logger, awsCfg.Region)

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
		Resolver: &queueResolver{
			client:    QueueClientFactory(*awsCfg, optFns...),
			accountID: accountID,
		},
		Capabilities: transport.AWSCapabilities,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

func createAWSConfig(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (*aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	region := cfg.GetAWSRegion()
	accessKey := cfg.GetAWSAccessKeyID()
	secretKey := cfg.GetAWSSecretAccessKey()

	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if accessKey != "" && secretKey != "" {
		logger.Info("Using static AWS credentials from config", nil)
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentialsProvider(accessKey, secretKey)))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS default config", err, watermill.LogFields{"requested_region": region})
		return nil, err
	}

	// Some loaders ignore the region option.
	if region != "" {
		awsCfg.Region = region
	}

	return &awsCfg, nil
}

// endpointOptions points the SQS clients at a custom endpoint such as LocalStack.
func endpointOptions(cfg transport.Config) ([]func(*amazonsqs.Options), error) {
	endpoint, err := awsEndpointURL(cfg)
	if err != nil || endpoint == nil {
		return nil, err
	}
	return []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *endpoint},
		}),
	}, nil
}

func resolveAccountAndRegion(cfg transport.Config, logger watermill.LoggerAdapter, fallbackRegion string) (string, string) {
	if cfg == nil {
		return "", fallbackRegion
	}

	accountID := strings.Trim(cfg.GetAWSAccountID(), "\"' ")
	region := cfg.GetAWSRegion()
	if region == "" {
		region = fallbackRegion
	}

	if accountID == "" && useLocalstackEndpoint(cfg) {
		accountID = localstackAccountID
		logger.Info("AWS account ID empty; using LocalStack default", watermill.LogFields{"accountID": accountID})
		return accountID, region
	}

	if accountID != "" && len(accountID) != awsAccountIDLength && useLocalstackEndpoint(cfg) {
		logger.Info("Invalid AWS account ID; falling back to LocalStack default", watermill.LogFields{"accountID": accountID})
		accountID = localstackAccountID
	}

	return accountID, region
}

func useLocalstackEndpoint(cfg transport.Config) bool {
	return cfg != nil && cfg.GetAWSEndpoint() != ""
}

func awsEndpointURL(cfg transport.Config) (*url.URL, error) {
	if cfg == nil || cfg.GetAWSEndpoint() == "" {
		return nil, nil
	}

	parsedURL, err := url.Parse(cfg.GetAWSEndpoint())
	if err != nil {
		return nil, fmt.Errorf("failed to parse AWS endpoint: %w", err)
	}
	return parsedURL, nil
}

func staticCredentialsProvider(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}

type queueResolver struct {
	client    QueueURLGetter
	accountID string
}

func (r *queueResolver) ResolveSubscription(ctx context.Context, name string) error {
	input := &amazonsqs.GetQueueUrlInput{QueueName: aws.String(name)}
	if len(r.accountID) == awsAccountIDLength {
		input.QueueOwnerAWSAccountId = aws.String(r.accountID)
	}

	out, err := r.client.GetQueueUrl(ctx, input)
	if err != nil {
		var missing *sqstypes.QueueDoesNotExist
		if errors.As(err, &missing) {
			return fmt.Errorf("aws: queue %q does not exist", name)
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("aws: resolve queue %q: %s: %w", name, apiErr.ErrorCode(), err)
		}
		return fmt.Errorf("aws: resolve queue %q: %w", name, err)
	}
	if out == nil || aws.ToString(out.QueueUrl) == "" {
		return fmt.Errorf("aws: queue %q has no url", name)
	}
	return nil
}
