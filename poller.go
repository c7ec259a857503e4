package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// EventProcessor is the single processing entry point both ingestion sources
// feed into.
type EventProcessor interface {
	Process(ctx context.Context, event *Event) error
}

// QueuePoller pulls event batches from the queue on a fixed schedule.
// Messages are deleted only after the processing engine returns success; a
// failed message stays invisible until its visibility timeout expires and is
// then redelivered, giving at-least-once delivery.
type QueuePoller struct {
	client    SQSAPI
	processor EventProcessor
	logger    *zap.Logger
	metrics   MetricsCollector

	queueURL          string
	maxMessages       int32
	waitTimeSeconds   int32
	visibilityTimeout int32
}

// NewQueuePoller creates a poller for the given queue URL.
func NewQueuePoller(client SQSAPI, processor EventProcessor, queueURL string, logger *zap.Logger, metrics MetricsCollector, opts ...PollerOption) *QueuePoller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}
	p := &QueuePoller{
		client:            client,
		processor:         processor,
		logger:            logger,
		metrics:           metrics,
		queueURL:          queueURL,
		maxMessages:       defaultPollMaxMessages,
		waitTimeSeconds:   defaultPollWaitTimeSeconds,
		visibilityTimeout: defaultVisibilityTimeoutSeconds,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll performs one receive-process-acknowledge pass. It is the workFunc of
// a PollWorker; errors returned here are logged by the worker and the next
// tick starts fresh.
func (p *QueuePoller) Poll(ctx context.Context) error {
	start := time.Now()

	out, err := p.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(p.queueURL),
		MaxNumberOfMessages: p.maxMessages,
		WaitTimeSeconds:     p.waitTimeSeconds,
		VisibilityTimeout:   p.visibilityTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	if len(out.Messages) == 0 {
		return nil
	}

	p.logger.Info("Received queue messages", zap.Int("count", len(out.Messages)))
	p.metrics.RecordGauge("poller.batch_size", float64(len(out.Messages)), nil)

	for _, msg := range out.Messages {
		select {
		case <-ctx.Done():
			// Unhandled messages become visible again after the timeout.
			p.logger.Warn("Context cancelled mid-batch, leaving remaining messages", zap.Error(ctx.Err()))
			return ctx.Err()
		default:
		}
		p.handleMessage(ctx, msg)
	}

	p.metrics.RecordDuration("poller.batch_duration", time.Since(start), nil)
	return nil
}

// handleMessage processes one message in isolation: its failure never
// affects the rest of the batch.
func (p *QueuePoller) handleMessage(ctx context.Context, msg types.Message) {
	var event Event
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &event); err != nil {
		p.logger.Error("Failed to decode queue message",
			zap.String("message_id", aws.ToString(msg.MessageId)),
			zap.Error(err))
		p.metrics.IncrementCounter("poller.decode_failed", nil)
		return
	}

	if err := p.processor.Process(ctx, &event); err != nil {
		// No deletion: the visibility timeout redelivers the message.
		p.logger.Error("Failed to process queue message",
			zap.String("event_id", event.ID),
			zap.String("message_id", aws.ToString(msg.MessageId)),
			zap.Error(err))
		p.metrics.IncrementCounter("poller.process_failed", map[string]string{"event_type": event.Type})
		return
	}

	p.deleteMessage(ctx, msg, event.ID)
}

func (p *QueuePoller) deleteMessage(ctx context.Context, msg types.Message, eventID string) {
	_, err := p.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(p.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		// The message will be redelivered; processing must stay idempotent.
		p.logger.Error("Failed to delete processed message",
			zap.String("event_id", eventID),
			zap.Error(err))
		p.metrics.IncrementCounter("poller.delete_failed", nil)
		return
	}
	p.metrics.IncrementCounter("poller.processed", nil)
	p.logger.Debug("Deleted processed message", zap.String("event_id", eventID))
}
