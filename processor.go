package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Quarantiner routes permanently failed events to the dead-letter sinks.
type Quarantiner interface {
	Quarantine(ctx context.Context, event *Event, cause error) error
}

// Processor dispatches events to business handlers behind two layered
// failure controls: a bounded exponential retry and a circuit breaker shared
// across all consumer loops. Terminal outcomes are persisted to the durable
// store; permanent failures are handed to the Quarantiner before Process
// returns.
type Processor struct {
	registry *HandlerRegistry
	store    Store
	dlq      Quarantiner
	logger   *zap.Logger
	metrics  MetricsCollector

	maxAttempts  int
	initialDelay time.Duration
	multiplier   float64
	breaker      *gobreaker.CircuitBreaker
}

// NewProcessor creates a processing engine. The breaker and retry policy are
// configured through options and shared by every caller of Process.
func NewProcessor(registry *HandlerRegistry, store Store, dlq Quarantiner, logger *zap.Logger, metrics MetricsCollector, opts ...ProcessorOption) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}

	options := &processorOptions{
		maxAttempts:        defaultMaxRetryAttempts,
		initialDelay:       defaultInitialRetryDelay,
		multiplier:         defaultRetryBackoffMultiplier,
		breakerWindow:      defaultBreakerWindow,
		breakerCooldown:    defaultBreakerCooldown,
		breakerMinRequests: defaultBreakerMinRequests,
		failureRatio:       defaultBreakerFailureRatio,
	}
	for _, opt := range opts {
		opt(options)
	}

	p := &Processor{
		registry:     registry,
		store:        store,
		dlq:          dlq,
		logger:       logger,
		metrics:      metrics,
		maxAttempts:  options.maxAttempts,
		initialDelay: options.initialDelay,
		multiplier:   options.multiplier,
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "event-processing",
		MaxRequests: 1,
		Interval:    options.breakerWindow,
		Timeout:     options.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < options.breakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= options.failureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.IncrementCounter("processor.breaker_transition", map[string]string{
				"from": from.String(),
				"to":   to.String(),
			})
		},
	})

	return p
}

// Process runs an event through the pipeline. It returns nil on success, a
// *PermanentError when the event was quarantined, and a plain error for
// transient failures that the transport should redeliver.
func (p *Processor) Process(ctx context.Context, event *Event) error {
	start := time.Now()
	defer func() {
		p.metrics.RecordDuration("processor.duration", time.Since(start), map[string]string{"event_type": event.Type})
	}()

	// Redelivered terminal events have already produced their effect; report
	// success so the transport acknowledges and stops redelivering.
	if event.IsTerminal() {
		p.logger.Debug("Skipping redelivered terminal event",
			zap.String("event_id", event.ID),
			zap.String("status", event.Status))
		return nil
	}

	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.processWithRetry(ctx, event)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return p.shortCircuit(ctx, event, err)
	}

	return err
}

// shortCircuit handles a call rejected by an open breaker: the event goes
// straight to quarantine with a distinguished reason, shedding load from the
// failing downstream instead of amplifying it with retries.
func (p *Processor) shortCircuit(ctx context.Context, event *Event, rejection error) error {
	cause := fmt.Errorf("%w: %v", ErrBreakerOpen, rejection)

	p.logger.Error("Circuit breaker rejected event, quarantining",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))
	p.metrics.IncrementCounter("processor.breaker_rejected", map[string]string{"event_type": event.Type})

	if err := event.Fail(cause.Error()); err != nil {
		p.logger.Error("Failed to mark rejected event as failed", zap.String("event_id", event.ID), zap.Error(err))
	}
	p.quarantine(ctx, event, cause)
	p.persist(ctx, event)

	return &PermanentError{EventID: event.ID, Err: cause}
}

func (p *Processor) processWithRetry(ctx context.Context, event *Event) error {
	if err := event.BeginProcessing(); err != nil {
		return err
	}

	p.logger.Info("Processing event",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.Int("retry_count", event.RetryCount))

	handler := p.registry.Resolve(event.Type)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.initialDelay
	policy.Multiplier = p.multiplier
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	operation := func() error {
		err := handler(ctx, event)
		if err == nil {
			return nil
		}

		event.IncrementRetry()
		p.metrics.IncrementCounter("processor.attempt_failed", map[string]string{"event_type": event.Type})
		p.logger.Warn("Processing attempt failed",
			zap.String("event_id", event.ID),
			zap.Int("retry_count", event.RetryCount),
			zap.Int("max_attempts", p.maxAttempts),
			zap.Error(err))

		if event.RetryCount >= p.maxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err != nil {
		// Shutdown mid-backoff is not a processing verdict: leave the event
		// unacknowledged so the transport redelivers it.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("processing interrupted: %w", err)
		}

		if failErr := event.Fail(err.Error()); failErr != nil {
			p.logger.Error("Failed to mark event as failed", zap.String("event_id", event.ID), zap.Error(failErr))
		}
		p.quarantine(ctx, event, err)
		p.persist(ctx, event)
		p.metrics.IncrementCounter("processor.failed", map[string]string{"event_type": event.Type})

		return &PermanentError{EventID: event.ID, Err: err}
	}

	if err := event.Complete(); err != nil {
		return err
	}
	p.persist(ctx, event)
	p.metrics.IncrementCounter("processor.completed", map[string]string{"event_type": event.Type})

	p.logger.Info("Successfully processed event", zap.String("event_id", event.ID))
	return nil
}

func (p *Processor) quarantine(ctx context.Context, event *Event, cause error) {
	if p.dlq == nil {
		p.logger.Error("No dead-letter router configured, dropping failure record",
			zap.String("event_id", event.ID))
		return
	}
	if err := p.dlq.Quarantine(ctx, event, cause); err != nil {
		p.logger.Error("Failed to quarantine event",
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}

func (p *Processor) persist(ctx context.Context, event *Event) {
	if p.store == nil {
		return
	}
	if _, err := p.store.Save(ctx, event); err != nil {
		p.logger.Error("Failed to persist event state",
			zap.String("event_id", event.ID),
			zap.String("status", event.Status),
			zap.Error(err))
	}
}

// BreakerState exposes the breaker's current state for health reporting.
func (p *Processor) BreakerState() gobreaker.State {
	return p.breaker.State()
}
