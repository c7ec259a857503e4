package pipeline

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/mock"
)

// Shared test doubles for the package.

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Save(ctx context.Context, event *Event) (*Event, error) {
	args := m.Called(ctx, event)
	if e := args.Get(0); e != nil {
		return e.(*Event), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) SaveAll(ctx context.Context, events []*Event) ([]*Event, error) {
	args := m.Called(ctx, events)
	if e := args.Get(0); e != nil {
		return e.([]*Event), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) FindByID(ctx context.Context, id string) (*Event, error) {
	args := m.Called(ctx, id)
	if e := args.Get(0); e != nil {
		return e.(*Event), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) FindByType(ctx context.Context, eventType string) ([]Event, error) {
	args := m.Called(ctx, eventType)
	if e := args.Get(0); e != nil {
		return e.([]Event), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) FindByStatus(ctx context.Context, status string) ([]Event, error) {
	args := m.Called(ctx, status)
	if e := args.Get(0); e != nil {
		return e.([]Event), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) FindInTimeRange(ctx context.Context, start, end time.Time) ([]Event, error) {
	args := m.Called(ctx, start, end)
	if e := args.Get(0); e != nil {
		return e.([]Event), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) CountByStatus(ctx context.Context, status string) (int64, error) {
	args := m.Called(ctx, status)
	return args.Get(0).(int64), args.Error(1)
}

type MockFailureStore struct {
	mock.Mock
}

func (m *MockFailureStore) SaveFailedEvent(ctx context.Context, failed FailedEvent) error {
	args := m.Called(ctx, failed)
	return args.Error(0)
}

type MockSQSClient struct {
	mock.Mock
}

func (m *MockSQSClient) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*sqs.SendMessageOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*sqs.ReceiveMessageOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSQSClient) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*sqs.DeleteMessageOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockSNSClient struct {
	mock.Mock
}

func (m *MockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*sns.PublishOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockCloudWatchClient struct {
	mock.Mock
}

func (m *MockCloudWatchClient) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*cloudwatch.PutMetricDataOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Publish(ctx context.Context, subject, message string) error {
	args := m.Called(ctx, subject, message)
	return args.Error(0)
}

type MockQuarantiner struct {
	mock.Mock
}

func (m *MockQuarantiner) Quarantine(ctx context.Context, event *Event, cause error) error {
	args := m.Called(ctx, event, cause)
	return args.Error(0)
}

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Process(ctx context.Context, event *Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type MockMetricSink struct {
	mock.Mock
}

func (m *MockMetricSink) PublishMetric(ctx context.Context, name string, value float64, unit string) error {
	args := m.Called(ctx, name, value, unit)
	return args.Error(0)
}

func (m *MockMetricSink) PublishMetrics(ctx context.Context, data []MetricDatum) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

type MockKafkaProducer struct {
	mock.Mock
	events chan kafka.Event
}

func NewMockKafkaProducer() *MockKafkaProducer {
	return &MockKafkaProducer{events: make(chan kafka.Event)}
}

func (m *MockKafkaProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	args := m.Called(msg, deliveryChan)
	return args.Error(0)
}

func (m *MockKafkaProducer) Events() chan kafka.Event {
	return m.events
}

func (m *MockKafkaProducer) Flush(timeoutMs int) int {
	args := m.Called(timeoutMs)
	return args.Int(0)
}

func (m *MockKafkaProducer) Close() {
	m.Called()
	close(m.events)
}

type MockKafkaConsumer struct {
	mock.Mock
}

func (m *MockKafkaConsumer) SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error {
	args := m.Called(topics)
	return args.Error(0)
}

func (m *MockKafkaConsumer) ReadMessage(timeout time.Duration) (*kafka.Message, error) {
	args := m.Called(timeout)
	if msg := args.Get(0); msg != nil {
		return msg.(*kafka.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockKafkaConsumer) CommitMessage(msg *kafka.Message) ([]kafka.TopicPartition, error) {
	args := m.Called(msg)
	if tp := args.Get(0); tp != nil {
		return tp.([]kafka.TopicPartition), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockKafkaConsumer) Close() error {
	args := m.Called()
	return args.Error(0)
}
