package pipeline

import (
	"errors"
	"fmt"
)

// ErrBreakerOpen marks failures produced by an open circuit breaker rather
// than by the business handler itself.
var ErrBreakerOpen = errors.New("circuit breaker open")

// PermanentError signals that an event will not be retried: either the retry
// budget is exhausted or the breaker short-circuited the call. The event has
// already been routed to quarantine when this is returned.
type PermanentError struct {
	EventID string
	Err     error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("event %s permanently failed: %v", e.EventID, e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err represents a permanent, already-quarantined
// processing failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// PublishError is returned by the Publisher when the durability-critical
// queue send fails. Stream and notification failures never surface this way.
type PublishError struct {
	EventID string
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish event %s: %v", e.EventID, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
