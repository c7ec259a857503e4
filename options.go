package pipeline

import "time"

// Default routing destinations, matching the names the rest of the platform
// provisions.
const (
	DefaultEventsTopic       = "events"
	DefaultHighPriorityTopic = "high-priority-events"
)

const (
	defaultMaxRetryAttempts       = 3
	defaultInitialRetryDelay      = 1 * time.Second
	defaultRetryBackoffMultiplier = 2.0

	defaultBreakerWindow       = 1 * time.Minute
	defaultBreakerCooldown     = 30 * time.Second
	defaultBreakerMinRequests  = uint32(10)
	defaultBreakerFailureRatio = 0.5

	// DefaultPollInterval is how often the queue poller ticks.
	DefaultPollInterval             = 1 * time.Second
	defaultPollMaxMessages          = int32(10)
	defaultPollWaitTimeSeconds      = int32(20)
	defaultVisibilityTimeoutSeconds = int32(30)

	defaultStreamPollTimeout = 1 * time.Second

	defaultMonitorInterval    = 1 * time.Minute
	defaultErrorRateThreshold = 10.0
	defaultProcessingCeiling  = int64(100)
)

//
// Processor options
//

type ProcessorOption func(*processorOptions)

type processorOptions struct {
	maxAttempts        int
	initialDelay       time.Duration
	multiplier         float64
	breakerWindow      time.Duration
	breakerCooldown    time.Duration
	breakerMinRequests uint32
	failureRatio       float64
}

// WithMaxRetryAttempts sets how many processing attempts an event gets
// before quarantine.
func WithMaxRetryAttempts(attempts int) ProcessorOption {
	return func(o *processorOptions) {
		o.maxAttempts = attempts
	}
}

// WithInitialRetryDelay sets the delay before the first re-attempt.
func WithInitialRetryDelay(delay time.Duration) ProcessorOption {
	return func(o *processorOptions) {
		o.initialDelay = delay
	}
}

// WithRetryBackoffMultiplier sets the per-attempt delay growth factor.
func WithRetryBackoffMultiplier(multiplier float64) ProcessorOption {
	return func(o *processorOptions) {
		o.multiplier = multiplier
	}
}

// WithBreakerWindow sets the rolling window over which the failure ratio is
// evaluated.
func WithBreakerWindow(window time.Duration) ProcessorOption {
	return func(o *processorOptions) {
		o.breakerWindow = window
	}
}

// WithBreakerCooldown sets how long an open breaker waits before allowing a
// half-open trial call.
func WithBreakerCooldown(cooldown time.Duration) ProcessorOption {
	return func(o *processorOptions) {
		o.breakerCooldown = cooldown
	}
}

// WithBreakerMinRequests sets the minimum calls in the window before the
// failure ratio can trip the breaker.
func WithBreakerMinRequests(n uint32) ProcessorOption {
	return func(o *processorOptions) {
		o.breakerMinRequests = n
	}
}

// WithBreakerFailureRatio sets the failure ratio that opens the breaker.
func WithBreakerFailureRatio(ratio float64) ProcessorOption {
	return func(o *processorOptions) {
		o.failureRatio = ratio
	}
}

//
// Publisher options
//

type PublisherOption func(*Publisher)

// WithEventsTopic overrides the standard-priority stream topic.
func WithEventsTopic(topic string) PublisherOption {
	return func(p *Publisher) {
		p.topic = topic
	}
}

// WithHighPriorityTopic overrides the high-priority stream topic.
func WithHighPriorityTopic(topic string) PublisherOption {
	return func(p *Publisher) {
		p.highPriorityTopic = topic
	}
}

// WithQueueURL sets the standard-priority queue URL.
func WithQueueURL(url string) PublisherOption {
	return func(p *Publisher) {
		p.queueURL = url
	}
}

// WithHighPriorityQueueURL sets the high-priority queue URL.
func WithHighPriorityQueueURL(url string) PublisherOption {
	return func(p *Publisher) {
		p.highPriorityQueueURL = url
	}
}

//
// Queue poller options
//

type PollerOption func(*QueuePoller)

// WithPollMaxMessages caps how many messages one poll requests.
func WithPollMaxMessages(n int32) PollerOption {
	return func(p *QueuePoller) {
		p.maxMessages = n
	}
}

// WithPollWaitTime sets the long-poll wait, in seconds.
func WithPollWaitTime(seconds int32) PollerOption {
	return func(p *QueuePoller) {
		p.waitTimeSeconds = seconds
	}
}

// WithVisibilityTimeout sets the processing window, in seconds, during which
// a received message stays invisible to other consumers.
func WithVisibilityTimeout(seconds int32) PollerOption {
	return func(p *QueuePoller) {
		p.visibilityTimeout = seconds
	}
}

//
// Stream listener options
//

type ListenerOption func(*StreamListener)

// WithStreamPollTimeout sets the blocking-read timeout of the consume loop.
func WithStreamPollTimeout(timeout time.Duration) ListenerOption {
	return func(l *StreamListener) {
		l.pollTimeout = timeout
	}
}

//
// Monitor options
//

type MonitorOption func(*Monitor)

// WithMonitorInterval sets the aggregation tick interval, which also scales
// the throughput delta.
func WithMonitorInterval(interval time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.interval = interval
	}
}

// WithErrorRateThreshold sets the error-rate percentage above which an alert
// fires.
func WithErrorRateThreshold(threshold float64) MonitorOption {
	return func(m *Monitor) {
		m.errorRateThreshold = threshold
	}
}

// WithProcessingCeiling sets the PROCESSING-count ceiling above which the
// stuck-work alert fires.
func WithProcessingCeiling(ceiling int64) MonitorOption {
	return func(m *Monitor) {
		m.processingCeiling = ceiling
	}
}
