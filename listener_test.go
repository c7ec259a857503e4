package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func streamRecord(t *testing.T, event *Event) *kafka.Message {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	topic := "events"
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: 7},
		Key:            []byte(event.ID),
		Value:          body,
	}
}

func TestStreamListener_Run_SubscribeFailure(t *testing.T) {
	consumer := &MockKafkaConsumer{}
	consumer.On("SubscribeTopics", []string{"events"}).Return(errors.New("no brokers"))

	listener := NewStreamListener("test", consumer, &MockProcessor{}, []string{"events"}, nil, nil)

	err := listener.Run(context.Background())

	assert.Error(t, err)
}

func TestStreamListener_Run_ProcessesUntilCancelled(t *testing.T) {
	consumer := &MockKafkaConsumer{}
	processor := &MockProcessor{}

	event := NewEvent(EventTypeUserCreated, map[string]any{})
	msg := streamRecord(t, event)

	ctx, cancel := context.WithCancel(context.Background())

	consumer.On("SubscribeTopics", []string{"events"}).Return(nil)
	consumer.On("ReadMessage", mock.Anything).Return(msg, nil).Once()
	consumer.On("ReadMessage", mock.Anything).
		Run(func(args mock.Arguments) { cancel() }).
		Return(nil, kafka.NewError(kafka.ErrTimedOut, "timed out", false)).Once()
	processor.On("Process", mock.Anything, mock.MatchedBy(func(e *Event) bool {
		return e.ID == event.ID
	})).Return(nil)
	consumer.On("CommitMessage", msg).Return([]kafka.TopicPartition{}, nil)

	listener := NewStreamListener("test", consumer, processor, []string{"events"}, nil, nil)

	err := listener.Run(ctx)

	require.NoError(t, err)
	consumer.AssertExpectations(t)
	processor.AssertExpectations(t)
}

func TestStreamListener_HandleRecord_CommitsOnSuccessOnly(t *testing.T) {
	consumer := &MockKafkaConsumer{}
	processor := &MockProcessor{}

	event := NewEvent(EventTypeOrderPlaced, map[string]any{})
	msg := streamRecord(t, event)

	processor.On("Process", mock.Anything, mock.Anything).Return(nil)
	consumer.On("CommitMessage", msg).Return([]kafka.TopicPartition{}, nil)

	listener := NewStreamListener("test", consumer, processor, []string{"events"}, nil, nil)
	listener.handleRecord(context.Background(), msg)

	consumer.AssertCalled(t, "CommitMessage", msg)
}

func TestStreamListener_HandleRecord_NoCommitOnFailure(t *testing.T) {
	consumer := &MockKafkaConsumer{}
	processor := &MockProcessor{}

	event := NewEvent(EventTypeOrderPlaced, map[string]any{})
	msg := streamRecord(t, event)

	processor.On("Process", mock.Anything, mock.Anything).Return(errors.New("handler failed"))

	listener := NewStreamListener("test", consumer, processor, []string{"events"}, nil, nil)
	listener.handleRecord(context.Background(), msg)

	consumer.AssertNotCalled(t, "CommitMessage", mock.Anything)
}

func TestStreamListener_HandleRecord_MalformedRecordSkipsProcessing(t *testing.T) {
	consumer := &MockKafkaConsumer{}
	processor := &MockProcessor{}

	topic := "events"
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic},
		Value:          []byte("{not json"),
	}

	listener := NewStreamListener("test", consumer, processor, []string{"events"}, nil, nil)
	listener.handleRecord(context.Background(), msg)

	processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
	consumer.AssertNotCalled(t, "CommitMessage", mock.Anything)
}

func TestStreamListener_HandleRecord_CommitFailureIsSwallowed(t *testing.T) {
	consumer := &MockKafkaConsumer{}
	processor := &MockProcessor{}

	event := NewEvent(EventTypeGeneric, map[string]any{})
	msg := streamRecord(t, event)

	processor.On("Process", mock.Anything, mock.Anything).Return(nil)
	consumer.On("CommitMessage", msg).Return(nil, errors.New("group rebalancing"))

	listener := NewStreamListener("test", consumer, processor, []string{"events"}, nil, nil)

	assert.NotPanics(t, func() {
		listener.handleRecord(context.Background(), msg)
	})
}
