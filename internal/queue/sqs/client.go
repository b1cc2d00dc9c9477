package sqs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	envConfig "github.com/shardie-github/castor-sub009/internal/config"
	"github.com/shardie-github/castor-sub009/internal/queue"
)

// Client represents an SQS client for the signal ingestion queue.
type Client struct {
	client *sqs.Client
	config envConfig.SQS
	log    *zap.Logger
}

// NewClient creates a new SQS client.
func NewClient(ctx context.Context, sqsConfig envConfig.SQS, log *zap.Logger) (*Client, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(sqsConfig.Region),
	}

	var clientOpts []func(*sqs.Options)

	// Local development against ElasticMQ.
	if sqsConfig.Endpoint != "" {
		log.Info("Configuring SQS for local development",
			zap.String("endpoint", sqsConfig.Endpoint))
		configOpts = append(configOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))

		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(sqsConfig.Endpoint)
		})
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	sqsClient := sqs.NewFromConfig(cfg, clientOpts...)

	log.Info("SQS client created",
		zap.String("region", sqsConfig.Region),
		zap.String("queue_url", sqsConfig.QueueURL))

	return &Client{
		client: sqsClient,
		config: sqsConfig,
		log:    log,
	}, nil
}

// ReceiveMessages receives messages from SQS.
func (c *Client) ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
	return c.client.ReceiveMessage(ctx, input)
}

// DeleteMessage deletes a message from SQS.
func (c *Client) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
	return c.client.DeleteMessage(ctx, input)
}

// QueueURL returns the configured queue URL.
func (c *Client) QueueURL() string {
	return c.config.QueueURL
}

// PublishSignal publishes one signal envelope to SQS, tagging the message
// with its tenant and source so consumers can route without parsing bodies.
func (c *Client) PublishSignal(ctx context.Context, msg *queue.SignalMessage) error {
	bodyJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	_, err = c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.config.QueueURL),
		MessageBody: aws.String(string(bodyJSON)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Source": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Source),
			},
			"TenantID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.TenantID),
			},
		},
	})
	if err != nil {
		c.log.Error("Failed to send signal to SQS",
			zap.String("source", msg.Source),
			zap.String("tenant_id", msg.TenantID),
			zap.Error(err))
		return fmt.Errorf("failed to send signal to SQS: %w", err)
	}

	c.log.Debug("Signal published to SQS",
		zap.String("source", msg.Source),
		zap.String("tenant_id", msg.TenantID))

	return nil
}
