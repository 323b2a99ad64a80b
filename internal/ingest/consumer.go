// Package ingest consumes event envelopes from SQS and appends them to the
// event store. Producers (ad servers, click trackers) enqueue instead of
// calling the HTTP API when they need buffering between traffic spikes and
// the store.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/ignite/adtrack/internal/domain"
	"github.com/ignite/adtrack/internal/pkg/logger"
	"github.com/ignite/adtrack/internal/service/events"
)

// Envelope is the queue message format.
type Envelope struct {
	TenantID    int64            `json:"tenant_id"`
	AggregateID string           `json:"aggregate_id"`
	EventType   domain.EventType `json:"event_type"`
	Payload     map[string]any   `json:"payload"`
}

// Appender persists one validated event.
type Appender interface {
	Append(ctx context.Context, tenantID int64, aggregateID string, eventType domain.EventType, payload map[string]any) (*domain.Event, error)
}

// sqsAPI is the slice of the SQS client the consumer uses.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer long-polls an SQS queue and appends each envelope.
type Consumer struct {
	client   sqsAPI
	queueURL string
	appender Appender
	done     chan struct{}
}

// NewConsumer creates an ingestion consumer for the given queue.
func NewConsumer(client *sqs.Client, queueURL string, appender Appender) *Consumer {
	return newConsumer(client, queueURL, appender)
}

func newConsumer(client sqsAPI, queueURL string, appender Appender) *Consumer {
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		appender: appender,
		done:     make(chan struct{}),
	}
}

// Start begins polling in a background goroutine.
func (c *Consumer) Start(ctx context.Context) {
	logger.Info("SQS event consumer started", "queue", c.queueURL)
	go c.poll(ctx)
}

// Stop terminates the polling loop.
func (c *Consumer) Stop() {
	close(c.done)
}

func (c *Consumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("SQS receive error", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}

		for _, msg := range out.Messages {
			c.handleMessage(ctx, msg)
		}
	}
}

// handleMessage appends one envelope. Undecodable or invalid messages are
// poison: they are deleted so they cannot clog the queue. A store failure
// leaves the message in place for SQS redelivery.
func (c *Consumer) handleMessage(ctx context.Context, msg types.Message) {
	if msg.Body == nil {
		c.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	var env Envelope
	if err := json.Unmarshal([]byte(*msg.Body), &env); err != nil {
		logger.Warn("SQS bad message body", "error", err)
		c.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	_, err := c.appender.Append(ctx, env.TenantID, env.AggregateID, env.EventType, env.Payload)
	if err != nil {
		if errors.Is(err, events.ErrValidation) {
			logger.Warn("SQS invalid event envelope",
				"tenant_id", env.TenantID,
				"aggregate_id", env.AggregateID,
				"event_type", string(env.EventType),
				"error", err)
			c.deleteMessage(ctx, msg.ReceiptHandle)
			return
		}
		logger.Error("SQS append failed, leaving message for redelivery",
			"aggregate_id", env.AggregateID,
			"error", err)
		return
	}

	c.deleteMessage(ctx, msg.ReceiptHandle)
}

func (c *Consumer) deleteMessage(ctx context.Context, handle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		logger.Warn("SQS delete failed", "error", err)
	}
}
