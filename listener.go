package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// KafkaConsumer is the stream consumption surface used by the listener. The
// confluent consumer satisfies it.
type KafkaConsumer interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Close() error
}

// StreamListener consumes event records from the stream within a consumer
// group and commits offsets manually, only after the processing engine
// returned success for the record. A failed record's offset is not advanced,
// so it is redelivered on rebalance or restart. Standard and high-priority
// topics get separate listener instances under independent group identities,
// so a backlog on one cannot starve the other.
type StreamListener struct {
	name      string
	consumer  KafkaConsumer
	processor EventProcessor
	logger    *zap.Logger
	metrics   MetricsCollector

	topics      []string
	pollTimeout time.Duration
}

// NewStreamListener creates a listener over the given topics.
func NewStreamListener(name string, consumer KafkaConsumer, processor EventProcessor, topics []string, logger *zap.Logger, metrics MetricsCollector, opts ...ListenerOption) *StreamListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}
	l := &StreamListener{
		name:        name,
		consumer:    consumer,
		processor:   processor,
		logger:      logger,
		metrics:     metrics,
		topics:      topics,
		pollTimeout: defaultStreamPollTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run subscribes and consumes until the context is cancelled. It is the
// runFunc of a StreamWorker.
func (l *StreamListener) Run(ctx context.Context) error {
	if err := l.consumer.SubscribeTopics(l.topics, nil); err != nil {
		return fmt.Errorf("failed to subscribe to %v: %w", l.topics, err)
	}

	l.logger.Info("Stream listener subscribed",
		zap.String("listener", l.name),
		zap.Strings("topics", l.topics))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := l.consumer.ReadMessage(l.pollTimeout)
		if err != nil {
			var kafkaErr kafka.Error
			if errors.As(err, &kafkaErr) && kafkaErr.IsTimeout() {
				continue
			}
			l.logger.Error("Stream read failed",
				zap.String("listener", l.name),
				zap.Error(err))
			l.metrics.IncrementCounter("listener.read_failed", map[string]string{"listener": l.name})
			continue
		}

		l.handleRecord(ctx, msg)
	}
}

// handleRecord processes one record and commits its offset on success only.
func (l *StreamListener) handleRecord(ctx context.Context, msg *kafka.Message) {
	l.logger.Debug("Consumed stream record",
		zap.String("listener", l.name),
		zap.String("key", string(msg.Key)),
		zap.Int32("partition", msg.TopicPartition.Partition),
		zap.Int64("offset", int64(msg.TopicPartition.Offset)))

	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		l.logger.Error("Failed to decode stream record",
			zap.String("listener", l.name),
			zap.String("key", string(msg.Key)),
			zap.Error(err))
		l.metrics.IncrementCounter("listener.decode_failed", map[string]string{"listener": l.name})
		return
	}

	if err := l.processor.Process(ctx, &event); err != nil {
		// Offset not committed: the record redelivers on rebalance/restart.
		l.logger.Error("Failed to process stream record",
			zap.String("listener", l.name),
			zap.String("event_id", event.ID),
			zap.Error(err))
		l.metrics.IncrementCounter("listener.process_failed", map[string]string{"listener": l.name, "event_type": event.Type})
		return
	}

	if _, err := l.consumer.CommitMessage(msg); err != nil {
		// Processing succeeded but the ack was lost; the redelivered record
		// hits the terminal-status guard in the processor.
		l.logger.Error("Failed to commit offset",
			zap.String("listener", l.name),
			zap.String("event_id", event.ID),
			zap.Error(err))
		l.metrics.IncrementCounter("listener.commit_failed", map[string]string{"listener": l.name})
		return
	}

	l.metrics.IncrementCounter("listener.processed", map[string]string{"listener": l.name, "event_type": event.Type})
}
