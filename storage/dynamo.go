// Package storage provides the DynamoDB-backed durable stores for the event
// pipeline.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/eventflow/pipeline"
)

const (
	batchWriteChunkSize  = 25
	batchWriteMaxRetries = 3
)

// timestampLayout is a fixed-width RFC3339 variant (nanoseconds always
// padded to nine digits). RFC3339Nano trims trailing fractional zeros, which
// breaks the lexicographic string comparison the range filter relies on;
// fixed-width UTC strings sort exactly like the instants they encode.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DynamoAPI is the client surface the store uses. The concrete DynamoDB
// client satisfies it; tests substitute a mock.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore implements pipeline.Store and pipeline.FailureStore on two
// DynamoDB tables keyed by event ID (events) and by event ID + failure time
// (failed events, so re-quarantines never overwrite).
type DynamoStore struct {
	client      DynamoAPI
	eventsTable string
	failedTable string
	logger      *zap.Logger
}

// NewDynamoStore creates a store over the given tables.
func NewDynamoStore(client DynamoAPI, eventsTable, failedTable string, logger *zap.Logger) *DynamoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoStore{
		client:      client,
		eventsTable: eventsTable,
		failedTable: failedTable,
		logger:      logger,
	}
}

type eventItem struct {
	ID            string            `dynamodbav:"eventId"`
	Type          string            `dynamodbav:"eventType"`
	Timestamp     string            `dynamodbav:"timestamp"`
	Payload       map[string]any    `dynamodbav:"payload"`
	Status        string            `dynamodbav:"status"`
	RetryCount    int               `dynamodbav:"retryCount"`
	CorrelationID string            `dynamodbav:"correlationId,omitempty"`
	Source        string            `dynamodbav:"source,omitempty"`
	Metadata      map[string]string `dynamodbav:"metadata,omitempty"`
	ProcessedAt   *time.Time        `dynamodbav:"processedAt,omitempty"`
	ErrorMessage  string            `dynamodbav:"errorMessage,omitempty"`
	CreatedAt     time.Time         `dynamodbav:"createdAt"`
}

type failedEventItem struct {
	RecordID          string         `dynamodbav:"recordId"`
	EventID           string         `dynamodbav:"eventId"`
	EventType         string         `dynamodbav:"eventType"`
	OriginalTimestamp time.Time      `dynamodbav:"originalTimestamp"`
	FailedAt          time.Time      `dynamodbav:"failedAt"`
	FailureReason     string         `dynamodbav:"failureReason"`
	Diagnostic        string         `dynamodbav:"diagnostic,omitempty"`
	TotalRetries      int            `dynamodbav:"totalRetries"`
	OriginalEvent     pipeline.Event `dynamodbav:"originalEvent"`
	ServiceName       string         `dynamodbav:"serviceName"`
}

func toItem(event *pipeline.Event) eventItem {
	return eventItem{
		ID:            event.ID,
		Type:          event.Type,
		Timestamp:     event.Timestamp.UTC().Format(timestampLayout),
		Payload:       event.Payload,
		Status:        event.Status,
		RetryCount:    event.RetryCount,
		CorrelationID: event.CorrelationID,
		Source:        event.Source,
		Metadata:      event.Metadata,
		ProcessedAt:   event.ProcessedAt,
		ErrorMessage:  event.ErrorMessage,
		CreatedAt:     time.Now().UTC(),
	}
}

func (i eventItem) toEvent() (pipeline.Event, error) {
	var ts time.Time
	if i.Timestamp != "" {
		parsed, err := time.Parse(timestampLayout, i.Timestamp)
		if err != nil {
			return pipeline.Event{}, fmt.Errorf("malformed timestamp on event %s: %w", i.ID, err)
		}
		ts = parsed
	}
	return pipeline.Event{
		ID:            i.ID,
		Type:          i.Type,
		Timestamp:     ts,
		Payload:       i.Payload,
		Status:        i.Status,
		RetryCount:    i.RetryCount,
		CorrelationID: i.CorrelationID,
		Source:        i.Source,
		Metadata:      i.Metadata,
		ProcessedAt:   i.ProcessedAt,
		ErrorMessage:  i.ErrorMessage,
	}, nil
}

// Save writes one event, overwriting any record with the same ID.
func (s *DynamoStore) Save(ctx context.Context, event *pipeline.Event) (*pipeline.Event, error) {
	item, err := attributevalue.MarshalMap(toItem(event))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.eventsTable),
		Item:      item,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save event %s: %w", event.ID, err)
	}
	return event, nil
}

// SaveAll writes events in chunks of 25, retrying unprocessed items.
func (s *DynamoStore) SaveAll(ctx context.Context, events []*pipeline.Event) ([]*pipeline.Event, error) {
	for start := 0; start < len(events); start += batchWriteChunkSize {
		end := start + batchWriteChunkSize
		if end > len(events) {
			end = len(events)
		}
		if err := s.writeChunk(ctx, events[start:end]); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (s *DynamoStore) writeChunk(ctx context.Context, events []*pipeline.Event) error {
	requests := make([]types.WriteRequest, 0, len(events))
	for _, event := range events {
		item, err := attributevalue.MarshalMap(toItem(event))
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
		}
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: item},
		})
	}

	pending := map[string][]types.WriteRequest{s.eventsTable: requests}
	for attempt := 0; len(pending[s.eventsTable]) > 0; attempt++ {
		if attempt >= batchWriteMaxRetries {
			return fmt.Errorf("batch write left %d unprocessed items after %d attempts",
				len(pending[s.eventsTable]), attempt)
		}
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: pending,
		})
		if err != nil {
			return fmt.Errorf("failed to batch write events: %w", err)
		}
		pending = out.UnprocessedItems
	}
	return nil
}

// FindByID returns the event with the given ID or pipeline.ErrEventNotFound.
func (s *DynamoStore) FindByID(ctx context.Context, id string) (*pipeline.Event, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.eventsTable),
		Key: map[string]types.AttributeValue{
			"eventId": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load event %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, pipeline.ErrEventNotFound
	}

	var item eventItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event %s: %w", id, err)
	}
	event, err := item.toEvent()
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// FindByType lists events with the given type.
func (s *DynamoStore) FindByType(ctx context.Context, eventType string) ([]pipeline.Event, error) {
	return s.scanEvents(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.eventsTable),
		FilterExpression: aws.String("eventType = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberS{Value: eventType},
		},
	})
}

// FindByStatus lists events in the given status.
func (s *DynamoStore) FindByStatus(ctx context.Context, status string) ([]pipeline.Event, error) {
	return s.scanEvents(ctx, &dynamodb.ScanInput{
		TableName:                aws.String(s.eventsTable),
		FilterExpression:         aws.String("#s = :s"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: status},
		},
	})
}

// FindInTimeRange lists events created inside [start, end).
func (s *DynamoStore) FindInTimeRange(ctx context.Context, start, end time.Time) ([]pipeline.Event, error) {
	return s.scanEvents(ctx, &dynamodb.ScanInput{
		TableName:                aws.String(s.eventsTable),
		FilterExpression:         aws.String("#ts >= :start AND #ts < :end"),
		ExpressionAttributeNames: map[string]string{"#ts": "timestamp"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":start": &types.AttributeValueMemberS{Value: start.UTC().Format(timestampLayout)},
			":end":   &types.AttributeValueMemberS{Value: end.UTC().Format(timestampLayout)},
		},
	})
}

// CountByStatus counts events in the given status.
func (s *DynamoStore) CountByStatus(ctx context.Context, status string) (int64, error) {
	input := &dynamodb.ScanInput{
		TableName:                aws.String(s.eventsTable),
		Select:                   types.SelectCount,
		FilterExpression:         aws.String("#s = :s"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: status},
		},
	}

	var total int64
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("failed to count events with status %s: %w", status, err)
		}
		total += int64(out.Count)
		if out.LastEvaluatedKey == nil {
			return total, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// SaveFailedEvent writes one quarantine record. The record ID combines the
// event ID and the failure timestamp so records never collide.
func (s *DynamoStore) SaveFailedEvent(ctx context.Context, failed pipeline.FailedEvent) error {
	record := failedEventItem{
		RecordID:          fmt.Sprintf("%s-%d", failed.EventID, failed.FailedAt.UnixMilli()),
		EventID:           failed.EventID,
		EventType:         failed.EventType,
		OriginalTimestamp: failed.OriginalTimestamp,
		FailedAt:          failed.FailedAt,
		FailureReason:     failed.FailureReason,
		Diagnostic:        failed.Diagnostic,
		TotalRetries:      failed.TotalRetries,
		OriginalEvent:     failed.OriginalEvent,
		ServiceName:       failed.ServiceName,
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal quarantine record for %s: %w", failed.EventID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.failedTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save quarantine record for %s: %w", failed.EventID, err)
	}
	return nil
}

func (s *DynamoStore) scanEvents(ctx context.Context, input *dynamodb.ScanInput) ([]pipeline.Event, error) {
	var events []pipeline.Event
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan events: %w", err)
		}

		for _, raw := range out.Items {
			var item eventItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				// A malformed record should not hide the rest of the result.
				s.logger.Error("Failed to unmarshal event record, skipping", zap.Error(err))
				continue
			}
			event, err := item.toEvent()
			if err != nil {
				s.logger.Error("Failed to decode event record, skipping", zap.Error(err))
				continue
			}
			events = append(events, event)
		}

		if out.LastEvaluatedKey == nil {
			return events, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
