package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/eventflow/pipeline"
	"github.com/eventflow/pipeline/storage"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := pipeline.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Fatal("Failed to load AWS configuration", zap.Error(err))
	}
	sqsClient := sqs.NewFromConfig(awsCfg)
	snsClient := sns.NewFromConfig(awsCfg)
	cwClient := cloudwatch.NewFromConfig(awsCfg)
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	store := storage.NewDynamoStore(dynamoClient, cfg.EventsTable, cfg.FailedEventsTable, logger)
	metrics := pipeline.NewOpenTelemetryMetricsCollector()

	// 1. The publisher: stream + queue + notification fan-out.
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.KafkaBrokers,
		"acks":              "all",
	})
	if err != nil {
		logger.Fatal("Failed to create Kafka producer", zap.Error(err))
	}

	var notifier pipeline.Notifier
	if cfg.NotificationTopicARN != "" {
		notifier = pipeline.NewSNSNotifier(snsClient, cfg.NotificationTopicARN, logger)
	}

	publisher := pipeline.NewPublisher(producer, sqsClient, notifier, logger, metrics,
		pipeline.WithEventsTopic(cfg.EventsTopic),
		pipeline.WithHighPriorityTopic(cfg.HighPriorityTopic),
		pipeline.WithQueueURL(cfg.EventsQueueURL),
		pipeline.WithHighPriorityQueueURL(cfg.HighPriorityQueueURL),
	)
	defer publisher.Close()

	// 2. The processing engine with its handler registry, retry policy and
	// dead-letter route.
	registry := pipeline.NewHandlerRegistry(func(ctx context.Context, event *pipeline.Event) error {
		logger.Info("Handled generic event", zap.String("event_id", event.ID), zap.String("event_type", event.Type))
		return nil
	})
	registry.Register(pipeline.EventTypeUserCreated, func(ctx context.Context, event *pipeline.Event) error {
		logger.Info("Provisioning new user", zap.String("event_id", event.ID))
		return nil
	})
	registry.Register(pipeline.EventTypeOrderPlaced, func(ctx context.Context, event *pipeline.Event) error {
		logger.Info("Reserving order inventory", zap.String("event_id", event.ID))
		return nil
	})
	registry.Register(pipeline.EventTypePaymentCompleted, func(ctx context.Context, event *pipeline.Event) error {
		logger.Info("Reconciling payment", zap.String("event_id", event.ID))
		return nil
	})

	dlq := pipeline.NewDeadLetterRouter(store, sqsClient, cfg.DLQQueueURL, cfg.ServiceName, logger, metrics)
	processor := pipeline.NewProcessor(registry, store, dlq, logger, metrics)

	// 3. Ingestion keeps the durable store current for the monitoring loop,
	// on its own consumer group so it sees every event independently.
	ingestion := pipeline.NewIngestionService(store, logger, metrics)

	// 4. Queue pollers and stream listeners.
	poller := pipeline.NewQueuePoller(sqsClient, processor, cfg.EventsQueueURL, logger, metrics)

	standardConsumer := newConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, logger)
	highPriorityConsumer := newConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup+"-high-priority", logger)
	ingestionConsumer := newConsumer(cfg.KafkaBrokers, "data-ingestion", logger)
	defer standardConsumer.Close()
	defer highPriorityConsumer.Close()
	defer ingestionConsumer.Close()

	standardListener := pipeline.NewStreamListener("event-listener", standardConsumer, processor,
		[]string{cfg.EventsTopic}, logger, metrics)
	highPriorityListener := pipeline.NewStreamListener("high-priority-listener", highPriorityConsumer, processor,
		[]string{cfg.HighPriorityTopic}, logger, metrics)
	ingestionListener := pipeline.NewStreamListener("ingestion-listener", ingestionConsumer, ingestion,
		[]string{cfg.EventsTopic, cfg.HighPriorityTopic}, logger, metrics)

	// 5. The monitoring loop, publishing to CloudWatch and alerting via SNS.
	var alerts pipeline.Notifier
	if cfg.AlertTopicARN != "" {
		alerts = pipeline.NewSNSNotifier(snsClient, cfg.AlertTopicARN, logger)
	}
	sink := pipeline.NewCloudWatchSink(cwClient, cfg.MetricsNamespace, logger)
	monitor := pipeline.NewMonitor(store, sink, alerts, logger)

	workers := []pipeline.Worker{
		pipeline.NewPollWorker("queue_poller", pipeline.DefaultPollInterval, logger, poller.Poll),
		pipeline.NewPollWorker("pipeline_monitor", monitor.Interval(), logger, monitor.Collect),
		pipeline.NewStreamWorker("event_listener", 5*time.Second, logger, standardListener.Run),
		pipeline.NewStreamWorker("high_priority_listener", 5*time.Second, logger, highPriorityListener.Run),
		pipeline.NewStreamWorker("ingestion_listener", 5*time.Second, logger, ingestionListener.Run),
	}
	dispatcher := pipeline.NewDispatcher(logger, workers...)

	// 6. The HTTP ingress.
	mux := http.NewServeMux()
	ingress := pipeline.NewIngressAPI(publisher, sink, cfg.ServiceName, logger)
	ingress.Routes(mux)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		logger.Info("HTTP ingress listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP ingress failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go dispatcher.Start(ctx)
	logger.Info("Pipeline started", zap.String("service", cfg.ServiceName))

	<-ctx.Done()

	logger.Info("Shutdown signal received, stopping pipeline")
	dispatcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP ingress shutdown failed", zap.Error(err))
	}
	logger.Info("Pipeline stopped gracefully")
}

func newConsumer(brokers, group string, logger *zap.Logger) *kafka.Consumer {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"group.id":           group,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		logger.Fatal("Failed to create Kafka consumer",
			zap.String("group", group),
			zap.Error(err))
	}
	return consumer
}
