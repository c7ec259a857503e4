package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// DeadLetterRouter converts a permanently failed event into an immutable
// FailedEvent record and writes it to two independent sinks: the durable
// failure store for replay/inspection, and the DLQ notification queue. The
// writes are best-effort with respect to each other; one failing never rolls
// back or blocks the other.
type DeadLetterRouter struct {
	store       FailureStore
	queue       SQSAPI
	dlqQueueURL string
	serviceName string
	logger      *zap.Logger
	metrics     MetricsCollector
}

// NewDeadLetterRouter creates a router. serviceName identifies this process
// in the quarantine records it produces.
func NewDeadLetterRouter(store FailureStore, queue SQSAPI, dlqQueueURL, serviceName string, logger *zap.Logger, metrics MetricsCollector) *DeadLetterRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}
	return &DeadLetterRouter{
		store:       store,
		queue:       queue,
		dlqQueueURL: dlqQueueURL,
		serviceName: serviceName,
		logger:      logger,
		metrics:     metrics,
	}
}

// Quarantine snapshots the event with its failure context and routes it to
// both sinks. An error is returned only when every sink rejected the record,
// meaning the failure context would otherwise be lost.
func (r *DeadLetterRouter) Quarantine(ctx context.Context, event *Event, cause error) error {
	failed := NewFailedEvent(event, cause, r.serviceName)

	r.logger.Error("Quarantining event",
		zap.String("event_id", failed.EventID),
		zap.String("event_type", failed.EventType),
		zap.Int("total_retries", failed.TotalRetries),
		zap.String("failure_reason", failed.FailureReason))

	storeErr := r.writeToStore(ctx, failed)
	queueErr := r.writeToQueue(ctx, failed)

	if storeErr != nil && queueErr != nil {
		r.metrics.IncrementCounter("deadletter.lost", map[string]string{"event_type": failed.EventType})
		return fmt.Errorf("all dead-letter sinks failed for event %s: store: %v; queue: %v", failed.EventID, storeErr, queueErr)
	}

	r.metrics.IncrementCounter("deadletter.quarantined", map[string]string{"event_type": failed.EventType})
	return nil
}

func (r *DeadLetterRouter) writeToStore(ctx context.Context, failed FailedEvent) error {
	if r.store == nil {
		return fmt.Errorf("no failure store configured")
	}
	if err := r.store.SaveFailedEvent(ctx, failed); err != nil {
		r.logger.Error("Failed to write quarantine record to store",
			zap.String("event_id", failed.EventID),
			zap.Error(err))
		r.metrics.IncrementCounter("deadletter.store_failed", nil)
		return err
	}
	return nil
}

// writeToQueue sends the record to the DLQ notification queue. The dedup key
// combines the event ID with the wall clock so repeated quarantines of the
// same event never collide.
func (r *DeadLetterRouter) writeToQueue(ctx context.Context, failed FailedEvent) error {
	if r.queue == nil {
		return fmt.Errorf("no dead-letter queue configured")
	}

	body, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("failed to marshal quarantine record: %w", err)
	}

	dedupID := fmt.Sprintf("%s-%d", failed.EventID, time.Now().UnixMilli())
	_, err = r.queue.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(r.dlqQueueURL),
		MessageBody:            aws.String(string(body)),
		MessageGroupId:         aws.String(failed.EventType),
		MessageDeduplicationId: aws.String(dedupID),
	})
	if err != nil {
		r.logger.Error("Failed to send quarantine record to queue",
			zap.String("event_id", failed.EventID),
			zap.Error(err))
		r.metrics.IncrementCounter("deadletter.queue_failed", nil)
		return err
	}
	return nil
}
