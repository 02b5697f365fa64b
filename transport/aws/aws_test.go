package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/adapterflow/internal/runtime/config"
	"github.com/drblury/adapterflow/transport"
	"github.com/drblury/adapterflow/transport/transporttest"
)

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "aws", caps.Name)
	assert.Equal(t, int64(262144), caps.MaxMessageSize)
	assert.Equal(t, transport.AWSCapabilities, Capabilities())
}

func TestTopicName(t *testing.T) {
	assert.Equal(t, "adapterflow-requests", TopicName("adapterflow.requests"))
	assert.Equal(t, "reply_01J-x", TopicName("reply_01J/x"))

	long := TopicName(string(make([]byte, 120)))
	assert.Len(t, long, 80)
}

type captured struct {
	loadOpts  int
	accountID string
	region    string
	pub       sns.PublisherConfig
	sub       sns.SubscriberConfig
	sqs       sqs.SubscriberConfig
}

func stubFactories(t *testing.T, pub message.Publisher, pubErr error, sub message.Subscriber, subErr error) *captured {
	t.Helper()
	originalLoader := DefaultConfigLoader
	originalResolver := TopicResolverFactory
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		DefaultConfigLoader = originalLoader
		TopicResolverFactory = originalResolver
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})

	got := &captured{}
	DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		got.loadOpts = len(opts)
		return aws.Config{Region: "eu-west-1"}, nil
	}
	TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		got.accountID, got.region = accountID, region
		return &sns.GenerateArnTopicResolver{}, nil
	}
	PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		got.pub = cfg
		return pub, pubErr
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		got.sub, got.sqs = cfg, sqsCfg
		return sub, subErr
	}
	return got
}

func TestBuild(t *testing.T) {
	t.Run("renames hub topics", func(t *testing.T) {
		pub, sub := &transporttest.Publisher{}, &transporttest.Subscriber{}
		stubFactories(t, pub, nil, sub, nil)

		cfg := &config.Config{AWSRegion: "us-east-1", AWSAccountID: "123456789012"}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)

		require.NoError(t, tr.Publisher.Publish("adapterflow.requests", message.NewMessage("1", nil)))
		assert.Len(t, pub.Messages("adapterflow-requests"), 1)

		_, err = tr.Subscriber.Subscribe(context.Background(), "adapterflow.reply.01J")
		require.NoError(t, err)
		assert.Equal(t, []string{"adapterflow-reply-01J"}, sub.Topics)

		require.NoError(t, tr.Close())
		assert.True(t, pub.Closed)
		assert.True(t, sub.Closed)
	})

	t.Run("uses config account and region", func(t *testing.T) {
		got := stubFactories(t, &transporttest.Publisher{}, nil, &transporttest.Subscriber{}, nil)

		cfg := &config.Config{
			AWSRegion:          "us-east-1",
			AWSAccountID:       "'123456789012'",
			AWSAccessKeyID:     "key",
			AWSSecretAccessKey: "secret",
		}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)

		assert.Equal(t, 2, got.loadOpts)
		assert.Equal(t, "123456789012", got.accountID)
		assert.Equal(t, "us-east-1", got.region)
		assert.Equal(t, "us-east-1", got.pub.AWSConfig.Region)
		assert.Nil(t, got.pub.OptFns)
		assert.NotNil(t, got.sub.GenerateSqsQueueName)
	})

	t.Run("falls back to loaded region and localstack account", func(t *testing.T) {
		got := stubFactories(t, &transporttest.Publisher{}, nil, &transporttest.Subscriber{}, nil)

		cfg := &config.Config{AWSEndpoint: "http://localhost:4566"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)

		assert.Equal(t, 0, got.loadOpts)
		assert.Equal(t, localstackAccountID, got.accountID)
		assert.Equal(t, "eu-west-1", got.region)
		assert.Len(t, got.pub.OptFns, 1)
		assert.Len(t, got.sub.OptFns, 1)
		assert.Len(t, got.sqs.OptFns, 1)
	})

	t.Run("config loader failure", func(t *testing.T) {
		stubFactories(t, nil, nil, nil, nil)
		DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("no credentials")
		}

		_, err := Build(context.Background(), &config.Config{}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no credentials")
	})

	t.Run("publisher failure", func(t *testing.T) {
		stubFactories(t, nil, errors.New("sns down"), nil, nil)

		_, err := Build(context.Background(), &config.Config{AWSRegion: "us-east-1"}, watermill.NopLogger{})
		require.EqualError(t, err, "sns down")
	})

	t.Run("subscriber failure closes publisher", func(t *testing.T) {
		pub := &transporttest.Publisher{}
		stubFactories(t, pub, nil, nil, errors.New("sqs down"))

		_, err := Build(context.Background(), &config.Config{AWSRegion: "us-east-1"}, watermill.NopLogger{})
		require.EqualError(t, err, "sqs down")
		assert.True(t, pub.Closed)
	})

	t.Run("invalid endpoint", func(t *testing.T) {
		stubFactories(t, nil, nil, nil, nil)

		_, err := Build(context.Background(), &config.Config{AWSEndpoint: "http://[::1"}, watermill.NopLogger{})
		require.Error(t, err)
	})
}

func TestQueueNameFromTopic(t *testing.T) {
	name, err := queueNameFromTopic(context.Background(), "arn:aws:sns:us-east-1:123456789012:adapterflow-requests")
	require.NoError(t, err)
	assert.Equal(t, "adapterflow-requests", name)
}
