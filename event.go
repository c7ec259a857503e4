package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event statuses. Transitions are monotonic: PENDING -> PROCESSING ->
// {COMPLETED, FAILED}. A retried event re-enters PROCESSING; nothing ever
// goes back to PENDING or leaves a terminal state.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Well-known event types. The processing registry treats these as routing
// keys; unknown types fall through to the generic handler.
const (
	EventTypeUserCreated      = "user.created"
	EventTypeOrderPlaced      = "order.placed"
	EventTypePaymentCompleted = "payment.completed"
	EventTypeGeneric          = "generic.event"
)

const metadataKeyPriority = "priority"

// Event is the unit of work moving through the pipeline.
type Event struct {
	ID            string            `json:"eventId"`
	Type          string            `json:"eventType"`
	Timestamp     time.Time         `json:"timestamp"`
	Payload       map[string]any    `json:"payload"`
	Status        string            `json:"status"`
	RetryCount    int               `json:"retryCount"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Source        string            `json:"source,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	ProcessedAt   *time.Time        `json:"processedAt,omitempty"`
	ErrorMessage  string            `json:"errorMessage,omitempty"`
}

// NewEvent creates a PENDING event, generating an ID and timestamp.
func NewEvent(eventType string, payload map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Status:    StatusPending,
	}
}

// Normalize fills in the generated fields of an externally submitted event
// (ID, timestamp, initial status) without touching anything the caller set.
func (e *Event) Normalize() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
}

// Validate checks required-field presence. Payload schemas are not enforced
// by the pipeline.
func (e *Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("eventType is required")
	}
	if e.Payload == nil {
		return fmt.Errorf("payload is required")
	}
	return nil
}

// IsHighPriority reports whether the event carries the high-priority routing
// flag in its metadata.
func (e *Event) IsHighPriority() bool {
	return strings.EqualFold(e.Metadata[metadataKeyPriority], "high")
}

// IsTerminal reports whether the event has reached COMPLETED or FAILED.
func (e *Event) IsTerminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// BeginProcessing moves the event into PROCESSING. A retried event passes
// through here again; terminal events may not.
func (e *Event) BeginProcessing() error {
	if e.IsTerminal() {
		return fmt.Errorf("event %s: cannot process event in terminal status %s", e.ID, e.Status)
	}
	e.Status = StatusProcessing
	return nil
}

// Complete moves the event to COMPLETED and stamps ProcessedAt exactly once.
// Completing an already-completed event is a no-op.
func (e *Event) Complete() error {
	if e.Status == StatusCompleted {
		return nil
	}
	if e.Status == StatusFailed {
		return fmt.Errorf("event %s: cannot complete a failed event", e.ID)
	}
	e.Status = StatusCompleted
	e.stampProcessedAt()
	return nil
}

// Fail moves the event to FAILED, recording the reason and stamping
// ProcessedAt if this is the first terminal transition.
func (e *Event) Fail(reason string) error {
	if e.Status == StatusCompleted {
		return fmt.Errorf("event %s: cannot fail a completed event", e.ID)
	}
	e.Status = StatusFailed
	e.ErrorMessage = reason
	e.stampProcessedAt()
	return nil
}

// IncrementRetry bumps the retry counter. The counter only ever grows.
func (e *Event) IncrementRetry() {
	e.RetryCount++
}

func (e *Event) stampProcessedAt() {
	if e.ProcessedAt == nil {
		now := time.Now().UTC()
		e.ProcessedAt = &now
	}
}

// FailedEvent is the immutable quarantine record produced when an event
// permanently fails. It embeds a full snapshot of the original event so the
// payload survives even if the source record is later deleted.
type FailedEvent struct {
	EventID           string    `json:"eventId"`
	EventType         string    `json:"eventType"`
	OriginalTimestamp time.Time `json:"originalTimestamp"`
	FailedAt          time.Time `json:"failedAt"`
	FailureReason     string    `json:"failureReason"`
	Diagnostic        string    `json:"diagnostic,omitempty"`
	TotalRetries      int       `json:"totalRetries"`
	OriginalEvent     Event     `json:"originalEvent"`
	ServiceName       string    `json:"serviceName"`
}

// NewFailedEvent snapshots the event and its failure context. cause carries
// the terminal error; serviceName identifies the quarantining component.
func NewFailedEvent(event *Event, cause error, serviceName string) FailedEvent {
	fe := FailedEvent{
		EventID:           event.ID,
		EventType:         event.Type,
		OriginalTimestamp: event.Timestamp,
		FailedAt:          time.Now().UTC(),
		TotalRetries:      event.RetryCount,
		OriginalEvent:     *event,
		ServiceName:       serviceName,
	}
	if cause != nil {
		fe.FailureReason = cause.Error()
		fe.Diagnostic = fmt.Sprintf("%+v", cause)
	}
	return fe
}
