package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// IngestionService persists events into the durable store and answers
// queries over it. It satisfies EventProcessor so it can sit behind its own
// stream listener (an independent consumer group on the events topic),
// giving the monitoring loop data regardless of what the business handlers
// do.
type IngestionService struct {
	store   Store
	logger  *zap.Logger
	metrics MetricsCollector
}

// NewIngestionService creates an ingestion service over the store.
func NewIngestionService(store Store, logger *zap.Logger, metrics MetricsCollector) *IngestionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}
	return &IngestionService{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Process persists a consumed event. Part of the EventProcessor contract.
func (s *IngestionService) Process(ctx context.Context, event *Event) error {
	_, err := s.Ingest(ctx, event)
	return err
}

// Ingest saves a single event.
func (s *IngestionService) Ingest(ctx context.Context, event *Event) (*Event, error) {
	start := time.Now()
	saved, err := s.store.Save(ctx, event)
	if err != nil {
		s.metrics.IncrementCounter("ingestion.save_failed", map[string]string{"event_type": event.Type})
		return nil, err
	}
	s.metrics.RecordDuration("ingestion.save_duration", time.Since(start), nil)
	s.logger.Debug("Ingested event", zap.String("event_id", event.ID))
	return saved, nil
}

// IngestBatch saves a batch of events in one store call.
func (s *IngestionService) IngestBatch(ctx context.Context, events []*Event) ([]*Event, error) {
	start := time.Now()
	saved, err := s.store.SaveAll(ctx, events)
	if err != nil {
		s.metrics.IncrementCounter("ingestion.batch_save_failed", nil)
		return nil, err
	}
	s.metrics.RecordDuration("ingestion.batch_save_duration", time.Since(start), nil)
	s.logger.Info("Batch ingested events", zap.Int("count", len(events)))
	return saved, nil
}

// EventByID looks up one event.
func (s *IngestionService) EventByID(ctx context.Context, id string) (*Event, error) {
	return s.store.FindByID(ctx, id)
}

// EventsByType lists events of one type.
func (s *IngestionService) EventsByType(ctx context.Context, eventType string) ([]Event, error) {
	return s.store.FindByType(ctx, eventType)
}

// EventsByStatus lists events in one status.
func (s *IngestionService) EventsByStatus(ctx context.Context, status string) ([]Event, error) {
	return s.store.FindByStatus(ctx, status)
}

// EventsInTimeRange lists events created inside [start, end).
func (s *IngestionService) EventsInTimeRange(ctx context.Context, start, end time.Time) ([]Event, error) {
	return s.store.FindInTimeRange(ctx, start, end)
}

// CountByStatus counts events in one status.
func (s *IngestionService) CountByStatus(ctx context.Context, status string) (int64, error) {
	return s.store.CountByStatus(ctx, status)
}
