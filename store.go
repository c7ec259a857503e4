package pipeline

import (
	"context"
	"errors"
	"time"
)

// ErrEventNotFound is returned by Store.FindByID when no record exists for
// the given event ID.
var ErrEventNotFound = errors.New("event not found")

// Store is the durable record store behind the pipeline. Keys are unique on
// event ID; Save overwrites the record for an already-known ID. The store is
// shared by every consumer loop and must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, event *Event) (*Event, error)
	SaveAll(ctx context.Context, events []*Event) ([]*Event, error)
	FindByID(ctx context.Context, id string) (*Event, error)
	FindByType(ctx context.Context, eventType string) ([]Event, error)
	FindByStatus(ctx context.Context, status string) ([]Event, error)
	FindInTimeRange(ctx context.Context, start, end time.Time) ([]Event, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
}

// FailureStore is the durable dead-letter store. Records are keyed so that
// repeated quarantines of the same event ID never overwrite each other.
type FailureStore interface {
	SaveFailedEvent(ctx context.Context, failed FailedEvent) error
}
