package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	appconfig "github.com/ordersys/pipeline/internal/config"
	"github.com/ordersys/pipeline/internal/domain"
)

// API is the slice of the SQS client the pipeline uses. Tests inject an
// in-memory implementation.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Connect loads the AWS config for the region and returns a concrete SQS client.
func Connect(ctx context.Context, region string) (API, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

// Client implements domain.Queue on top of a single SQS queue URL.
type Client struct {
	api               API
	queueURL          string
	waitSeconds       int32
	batchSize         int32
	visibilityTimeout int32
}

func NewClient(api API, cfg appconfig.SQS) *Client {
	return &Client{
		api:               api,
		queueURL:          cfg.QueueURL,
		waitSeconds:       clamp(cfg.WaitSeconds, 0, 20),
		batchSize:         clamp(cfg.BatchSize, 1, 10),
		visibilityTimeout: clamp(cfg.VisibilityTimeout, 0, 43200),
	}
}

func (c *Client) Send(ctx context.Context, body []byte, attrs map[string]string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    &c.queueURL,
		MessageBody: aws.String(string(body)),
	}
	if len(attrs) > 0 {
		msgAttrs := map[string]sqstypes.MessageAttributeValue{}
		for k, v := range attrs {
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
		input.MessageAttributes = msgAttrs
	}

	if _, err := c.api.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Receive long-polls for up to the configured batch size. An empty slice with
// a nil error means the poll window elapsed without messages.
func (c *Client) Receive(ctx context.Context) ([]domain.QueueMessage, error) {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    &c.queueURL,
		MaxNumberOfMessages:         c.batchSize,
		WaitTimeSeconds:             c.waitSeconds,
		VisibilityTimeout:           c.visibilityTimeout,
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameApproximateReceiveCount},
		MessageAttributeNames:       []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}

	msgs := make([]domain.QueueMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		qm := domain.QueueMessage{}
		if m.Body != nil {
			qm.Body = []byte(*m.Body)
		}
		if m.ReceiptHandle != nil {
			qm.ReceiptHandle = *m.ReceiptHandle
		}
		if rc, ok := m.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			qm.ReceiveCount, _ = strconv.Atoi(rc)
		}
		msgs = append(msgs, qm)
	}
	return msgs, nil
}

func (c *Client) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.queueURL,
		ReceiptHandle: &receiptHandle,
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Depth returns the approximate number of visible messages.
func (c *Client) Depth(ctx context.Context) (int, error) {
	out, err := c.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       &c.queueURL,
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("get queue attributes: %w", err)
	}
	n, err := strconv.Atoi(out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)])
	if err != nil {
		return 0, fmt.Errorf("parse queue depth: %w", err)
	}
	return n, nil
}

// Ping verifies the queue is reachable and the URL valid.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       &c.queueURL,
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return fmt.Errorf("queue ping: %w", err)
	}
	return nil
}

func clamp(v, lo, hi int) int32 {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return int32(v)
}
