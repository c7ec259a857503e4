package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPublisher_Publish_StandardPriorityRoutes(t *testing.T) {
	producer := NewMockKafkaProducer()
	queue := &MockSQSClient{}

	producer.On("Produce", mock.MatchedBy(func(msg *kafka.Message) bool {
		return *msg.TopicPartition.Topic == "events"
	}), mock.Anything).Return(nil)
	queue.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
		return aws.ToString(in.QueueUrl) == "queue-url"
	})).Return(&sqs.SendMessageOutput{}, nil)

	publisher := NewPublisher(producer, queue, nil, nil, nil,
		WithQueueURL("queue-url"),
		WithHighPriorityQueueURL("hp-queue-url"),
	)

	event := NewEvent(EventTypeUserCreated, map[string]any{"email": "a@example.com"})
	err := publisher.Publish(context.Background(), event)

	require.NoError(t, err)
	producer.AssertExpectations(t)
	queue.AssertExpectations(t)
}

func TestPublisher_Publish_HighPriorityRoutes(t *testing.T) {
	producer := NewMockKafkaProducer()
	queue := &MockSQSClient{}

	producer.On("Produce", mock.MatchedBy(func(msg *kafka.Message) bool {
		return *msg.TopicPartition.Topic == "high-priority-events"
	}), mock.Anything).Return(nil)
	queue.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
		return aws.ToString(in.QueueUrl) == "hp-queue-url"
	})).Return(&sqs.SendMessageOutput{}, nil)

	publisher := NewPublisher(producer, queue, nil, nil, nil,
		WithQueueURL("queue-url"),
		WithHighPriorityQueueURL("hp-queue-url"),
	)

	event := NewEvent(EventTypeOrderPlaced, map[string]any{"order": "o-1"})
	event.Metadata = map[string]string{"priority": "High"}
	err := publisher.Publish(context.Background(), event)

	require.NoError(t, err)
	producer.AssertExpectations(t)
	queue.AssertExpectations(t)
}

func TestPublisher_Publish_QueueMessageIdentity(t *testing.T) {
	queue := &MockSQSClient{}

	var captured *sqs.SendMessageInput
	queue.On("SendMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*sqs.SendMessageInput)
		}).
		Return(&sqs.SendMessageOutput{}, nil)

	publisher := NewPublisher(nil, queue, nil, nil, nil, WithQueueURL("queue-url"))

	event := NewEvent(EventTypeOrderPlaced, map[string]any{})
	err := publisher.Publish(context.Background(), event)

	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, event.ID, aws.ToString(captured.MessageDeduplicationId))
	assert.Equal(t, event.Type, aws.ToString(captured.MessageGroupId))
}

func TestPublisher_Publish_QueueFailureIsPublishError(t *testing.T) {
	queue := &MockSQSClient{}
	queue.On("SendMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("queue unavailable"))

	publisher := NewPublisher(nil, queue, nil, nil, nil, WithQueueURL("queue-url"))

	event := NewEvent(EventTypeGeneric, map[string]any{})
	err := publisher.Publish(context.Background(), event)

	require.Error(t, err)
	var pubErr *PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, event.ID, pubErr.EventID)
}

func TestPublisher_Publish_StreamFailureDoesNotFailCaller(t *testing.T) {
	producer := NewMockKafkaProducer()
	queue := &MockSQSClient{}

	producer.On("Produce", mock.Anything, mock.Anything).
		Return(errors.New("broker unreachable"))
	queue.On("SendMessage", mock.Anything, mock.Anything).
		Return(&sqs.SendMessageOutput{}, nil)

	publisher := NewPublisher(producer, queue, nil, nil, nil, WithQueueURL("queue-url"))

	err := publisher.Publish(context.Background(), NewEvent(EventTypeGeneric, map[string]any{}))

	assert.NoError(t, err)
}

func TestPublisher_Publish_NotifierFailureDoesNotFailCaller(t *testing.T) {
	queue := &MockSQSClient{}
	notifier := &MockNotifier{}

	queue.On("SendMessage", mock.Anything, mock.Anything).
		Return(&sqs.SendMessageOutput{}, nil)

	notified := make(chan struct{})
	notifier.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { close(notified) }).
		Return(errors.New("topic gone"))

	publisher := NewPublisher(nil, queue, notifier, nil, nil, WithQueueURL("queue-url"))

	err := publisher.Publish(context.Background(), NewEvent(EventTypeGeneric, map[string]any{}))
	require.NoError(t, err)

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("notifier was never invoked")
	}
}

func TestPublisher_Publish_RejectsInvalidEvent(t *testing.T) {
	queue := &MockSQSClient{}
	publisher := NewPublisher(nil, queue, nil, nil, nil, WithQueueURL("queue-url"))

	err := publisher.Publish(context.Background(), &Event{Payload: map[string]any{}})

	assert.Error(t, err)
	queue.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestPublisher_Publish_NormalizesSubmittedEvent(t *testing.T) {
	queue := &MockSQSClient{}
	queue.On("SendMessage", mock.Anything, mock.Anything).
		Return(&sqs.SendMessageOutput{}, nil)

	publisher := NewPublisher(nil, queue, nil, nil, nil, WithQueueURL("queue-url"))

	event := &Event{Type: EventTypeGeneric, Payload: map[string]any{}}
	err := publisher.Publish(context.Background(), event)

	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, StatusPending, event.Status)
	assert.False(t, event.Timestamp.IsZero())
}

func TestPublisher_Close_FlushesProducer(t *testing.T) {
	producer := NewMockKafkaProducer()
	producer.On("Flush", 15000).Return(0)
	producer.On("Close").Return()

	publisher := NewPublisher(producer, &MockSQSClient{}, nil, nil, nil)

	err := publisher.Close()

	require.NoError(t, err)
	producer.AssertExpectations(t)
}
