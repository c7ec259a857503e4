package pipeline

import (
	"errors"
	"os"
)

// Config carries the deployment-specific wiring for a pipeline process. It
// is read from the environment; everything tunable at runtime beyond this
// goes through component options.
type Config struct {
	ServiceName string

	KafkaBrokers      string
	ConsumerGroup     string
	EventsTopic       string
	HighPriorityTopic string

	EventsQueueURL       string
	HighPriorityQueueURL string
	DLQQueueURL          string

	NotificationTopicARN string
	AlertTopicARN        string

	EventsTable       string
	FailedEventsTable string
	MetricsNamespace  string

	HTTPAddr string
}

// LoadConfig reads the pipeline configuration from the environment.
func LoadConfig() (Config, error) {
	cfg := Config{
		ServiceName:          getenv("SERVICE_NAME", "event-pipeline"),
		KafkaBrokers:         os.Getenv("KAFKA_BROKERS"),
		ConsumerGroup:        getenv("CONSUMER_GROUP", "event-consumer"),
		EventsTopic:          getenv("EVENTS_TOPIC", DefaultEventsTopic),
		HighPriorityTopic:    getenv("HIGH_PRIORITY_TOPIC", DefaultHighPriorityTopic),
		EventsQueueURL:       os.Getenv("EVENTS_QUEUE_URL"),
		HighPriorityQueueURL: os.Getenv("HIGH_PRIORITY_QUEUE_URL"),
		DLQQueueURL:          os.Getenv("DLQ_QUEUE_URL"),
		NotificationTopicARN: os.Getenv("NOTIFICATION_TOPIC_ARN"),
		AlertTopicARN:        os.Getenv("ALERT_TOPIC_ARN"),
		EventsTable:          getenv("EVENTS_TABLE", "events"),
		FailedEventsTable:    getenv("FAILED_EVENTS_TABLE", "failed_events"),
		MetricsNamespace:     getenv("METRICS_NAMESPACE", "EventPipeline"),
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
	}

	if cfg.KafkaBrokers == "" {
		return Config{}, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.EventsQueueURL == "" {
		return Config{}, errors.New("EVENTS_QUEUE_URL is required")
	}
	if cfg.HighPriorityQueueURL == "" {
		cfg.HighPriorityQueueURL = cfg.EventsQueueURL
	}
	if cfg.DLQQueueURL == "" {
		return Config{}, errors.New("DLQ_QUEUE_URL is required")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
