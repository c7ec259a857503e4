package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// KafkaProducer is the stream transport surface used by the publisher. The
// confluent producer satisfies it.
type KafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// Publisher fans a new event out to the stream topic, the queue and the
// notification topic, selecting high-priority routes from the event
// metadata. The three legs are failure-isolated:
//
//   - the Kafka produce is asynchronous; delivery failures are logged by the
//     report loop and never surfaced to the caller,
//   - the SQS send is synchronous and is the durability-critical leg: its
//     failure is returned as *PublishError,
//   - the notification fan-out is best-effort in a background goroutine.
//
// The two transports can diverge in delivery order, and a queue success with
// a stream failure leaves the event on the queue path only. Callers relying
// on per-partition ordering get it from the stream leg alone.
type Publisher struct {
	producer KafkaProducer
	queue    SQSAPI
	notifier Notifier
	logger   *zap.Logger
	metrics  MetricsCollector

	topic                string
	highPriorityTopic    string
	queueURL             string
	highPriorityQueueURL string
}

// NewPublisher creates a publisher and starts the delivery-report loop for
// the asynchronous stream leg.
func NewPublisher(producer KafkaProducer, queue SQSAPI, notifier Notifier, logger *zap.Logger, metrics MetricsCollector, opts ...PublisherOption) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}

	p := &Publisher{
		producer:          producer,
		queue:             queue,
		notifier:          notifier,
		logger:            logger,
		metrics:           metrics,
		topic:             DefaultEventsTopic,
		highPriorityTopic: DefaultHighPriorityTopic,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.producer != nil {
		go p.handleDeliveryReports()
	}

	return p
}

// Publish routes the event to the stream, the queue and the notification
// fan-out. Only a queue failure is returned to the caller.
func (p *Publisher) Publish(ctx context.Context, event *Event) error {
	event.Normalize()
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}

	p.publishToStream(event, body)

	if err := p.sendToQueue(ctx, event, body); err != nil {
		p.metrics.IncrementCounter("publisher.queue_failed", map[string]string{"event_type": event.Type})
		return &PublishError{EventID: event.ID, Err: err}
	}

	p.notifyAsync(event)

	p.metrics.IncrementCounter("publisher.published", map[string]string{"event_type": event.Type})
	return nil
}

// publishToStream enqueues the event on the Kafka producer, keyed by event
// ID for per-partition ordering. Outcomes arrive via delivery reports.
func (p *Publisher) publishToStream(event *Event, body []byte) {
	if p.producer == nil {
		return
	}

	topic := p.topic
	if event.IsHighPriority() {
		topic = p.highPriorityTopic
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.ID),
		Value:          body,
		Headers:        buildKafkaHeaders(event),
		Timestamp:      time.Now(),
	}

	if err := p.producer.Produce(msg, nil); err != nil {
		// Stream leg is best-effort from the caller's perspective.
		p.logger.Error("Failed to enqueue event on stream",
			zap.String("event_id", event.ID),
			zap.String("topic", topic),
			zap.Error(err))
		p.metrics.IncrementCounter("publisher.stream_failed", map[string]string{"event_type": event.Type})
		return
	}

	p.logger.Debug("Enqueued event on stream",
		zap.String("event_id", event.ID),
		zap.String("topic", topic))
}

// sendToQueue performs the synchronous, durability-critical queue send. The
// dedup ID is the event ID and the group ID is the event type, so redundant
// submissions collapse and ordering groups by type.
func (p *Publisher) sendToQueue(ctx context.Context, event *Event, body []byte) error {
	queueURL := p.queueURL
	if event.IsHighPriority() {
		queueURL = p.highPriorityQueueURL
	}

	_, err := p.queue.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(queueURL),
		MessageBody:            aws.String(string(body)),
		MessageGroupId:         aws.String(event.Type),
		MessageDeduplicationId: aws.String(event.ID),
	})
	if err != nil {
		p.logger.Error("Failed to send event to queue",
			zap.String("event_id", event.ID),
			zap.String("queue_url", queueURL),
			zap.Error(err))
		return err
	}

	p.logger.Debug("Sent event to queue",
		zap.String("event_id", event.ID),
		zap.String("queue_url", queueURL))
	return nil
}

// notifyAsync fans the event out to notification subscribers. Failures are
// logged only; this leg never affects the caller's outcome.
func (p *Publisher) notifyAsync(event *Event) {
	if p.notifier == nil {
		return
	}
	subject := "Event Notification: " + event.Type
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal notification payload", zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	go func() {
		if err := p.notifier.Publish(context.Background(), subject, string(body)); err != nil {
			p.logger.Error("Failed to publish event notification",
				zap.String("event_id", event.ID),
				zap.Error(err))
			p.metrics.IncrementCounter("publisher.notify_failed", map[string]string{"event_type": event.Type})
		}
	}()
}

// Close flushes outstanding stream messages and closes the producer.
func (p *Publisher) Close() error {
	if p.producer == nil {
		return nil
	}
	p.logger.Info("Closing stream producer")
	p.producer.Flush(15 * 1000)
	p.producer.Close()
	return nil
}

// handleDeliveryReports consumes the producer's event channel and logs
// delivery failures from the asynchronous stream leg.
func (p *Publisher) handleDeliveryReports() {
	for e := range p.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				p.logger.Error("Stream delivery failed",
					zap.String("topic", topicName(ev)),
					zap.String("key", string(ev.Key)),
					zap.Error(ev.TopicPartition.Error))
				p.metrics.IncrementCounter("publisher.stream_delivery_failed", nil)
			}
		case kafka.Error:
			p.logger.Error("Stream producer error", zap.Error(ev))
		}
	}
}

func topicName(msg *kafka.Message) string {
	if msg.TopicPartition.Topic == nil {
		return ""
	}
	return *msg.TopicPartition.Topic
}

func buildKafkaHeaders(event *Event) []kafka.Header {
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(event.ID)},
		{Key: "event_type", Value: []byte(event.Type)},
	}
	if event.CorrelationID != "" {
		headers = append(headers, kafka.Header{Key: "correlation_id", Value: []byte(event.CorrelationID)})
	}
	if event.Source != "" {
		headers = append(headers, kafka.Header{Key: "source", Value: []byte(event.Source)})
	}
	return headers
}
