package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Monitor aggregates pipeline state from the durable store on a fixed
// schedule, publishes the aggregates to the metric sink, and raises alerts
// when thresholds are breached. The only state carried across ticks is the
// previous total event count, used for the throughput delta; alerting itself
// is stateless, so every breached tick fires a new alert.
type Monitor struct {
	store  Store
	sink   MetricSink
	alerts Notifier
	logger *zap.Logger

	interval           time.Duration
	errorRateThreshold float64
	processingCeiling  int64

	prevTotal int64
}

// NewMonitor creates a monitoring loop instance.
func NewMonitor(store Store, sink MetricSink, alerts Notifier, logger *zap.Logger, opts ...MonitorOption) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		store:              store,
		sink:               sink,
		alerts:             alerts,
		logger:             logger,
		interval:           defaultMonitorInterval,
		errorRateThreshold: defaultErrorRateThreshold,
		processingCeiling:  defaultProcessingCeiling,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Interval returns the tick interval the monitor was configured with, so the
// wiring can hand it to a PollWorker unchanged.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Collect performs one monitoring tick: aggregate, publish, alert.
func (m *Monitor) Collect(ctx context.Context) error {
	counts, err := m.collectCounts(ctx)
	if err != nil {
		return err
	}

	recent, err := m.countRecent(ctx)
	if err != nil {
		m.logger.Error("Failed to count recent events", zap.Error(err))
	}

	total := counts[StatusPending] + counts[StatusProcessing] + counts[StatusCompleted] + counts[StatusFailed]
	throughput := float64(total-m.prevTotal) / m.interval.Seconds()
	m.prevTotal = total

	data := []MetricDatum{
		{Name: "TotalEvents", Value: float64(total), Unit: UnitCount},
		{Name: "PendingEvents", Value: float64(counts[StatusPending]), Unit: UnitCount},
		{Name: "ProcessingEvents", Value: float64(counts[StatusProcessing]), Unit: UnitCount},
		{Name: "CompletedEvents", Value: float64(counts[StatusCompleted]), Unit: UnitCount},
		{Name: "FailedEvents", Value: float64(counts[StatusFailed]), Unit: UnitCount},
		{Name: "RecentEvents", Value: float64(recent), Unit: UnitCount},
		{Name: "EventThroughput", Value: throughput, Unit: UnitCountSecond},
	}

	completed := counts[StatusCompleted]
	failed := counts[StatusFailed]
	errorRate := 0.0
	if completed+failed > 0 {
		errorRate = float64(failed) / float64(completed+failed) * 100
		data = append(data, MetricDatum{Name: "ErrorRate", Value: errorRate, Unit: UnitPercent})
	}

	if err := m.sink.PublishMetrics(ctx, data); err != nil {
		m.logger.Error("Failed to publish metrics", zap.Error(err))
	}

	m.checkAlerts(ctx, errorRate, completed+failed, counts[StatusProcessing])

	m.logger.Info("Metrics tick completed",
		zap.Int64("total_events", total),
		zap.Float64("throughput", throughput),
		zap.Float64("error_rate", errorRate))
	return nil
}

func (m *Monitor) collectCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, 4)
	for _, status := range []string{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		n, err := m.store.CountByStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("failed to count events with status %s: %w", status, err)
		}
		counts[status] = n
	}
	return counts, nil
}

func (m *Monitor) countRecent(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	events, err := m.store.FindInTimeRange(ctx, now.Add(-time.Minute), now)
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

func (m *Monitor) checkAlerts(ctx context.Context, errorRate float64, terminalCount, processing int64) {
	if m.alerts == nil {
		return
	}

	if terminalCount > 0 && errorRate > m.errorRateThreshold {
		m.sendAlert(ctx, "High Error Rate",
			fmt.Sprintf("Error rate is %.2f%%, exceeding threshold of %.2f%%", errorRate, m.errorRateThreshold))
	}

	if processing > m.processingCeiling {
		m.sendAlert(ctx, "High Processing Queue",
			fmt.Sprintf("%d events stuck in PROCESSING state", processing))
	}
}

func (m *Monitor) sendAlert(ctx context.Context, subject, message string) {
	m.logger.Warn("Sending alert", zap.String("subject", subject), zap.String("message", message))
	if err := m.alerts.Publish(ctx, subject, message); err != nil {
		m.logger.Error("Failed to send alert", zap.String("subject", subject), zap.Error(err))
	}
}
