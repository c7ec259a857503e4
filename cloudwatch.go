package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// Metric units accepted by the sink.
const (
	UnitCount       = "Count"
	UnitPercent     = "Percent"
	UnitCountSecond = "Count/Second"
)

// MetricDatum is one named data point for the metric sink.
type MetricDatum struct {
	Name  string
	Value float64
	Unit  string
}

// MetricSink accepts named numeric data points from the monitoring loop.
type MetricSink interface {
	PublishMetric(ctx context.Context, name string, value float64, unit string) error
	PublishMetrics(ctx context.Context, data []MetricDatum) error
}

// cloudwatchMaxBatchSize is the per-call datum cap of PutMetricData.
const cloudwatchMaxBatchSize = 20

// CloudWatchSink publishes data points to a CloudWatch namespace, splitting
// batches at the API's per-call cap.
type CloudWatchSink struct {
	client    CloudWatchAPI
	namespace string
	logger    *zap.Logger
}

// NewCloudWatchSink creates a sink for the given namespace.
func NewCloudWatchSink(client CloudWatchAPI, namespace string, logger *zap.Logger) *CloudWatchSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloudWatchSink{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// PublishMetric publishes a single data point.
func (s *CloudWatchSink) PublishMetric(ctx context.Context, name string, value float64, unit string) error {
	return s.PublishMetrics(ctx, []MetricDatum{{Name: name, Value: value, Unit: unit}})
}

// PublishMetrics publishes data points in chunks of at most 20.
func (s *CloudWatchSink) PublishMetrics(ctx context.Context, data []MetricDatum) error {
	now := time.Now().UTC()

	for start := 0; start < len(data); start += cloudwatchMaxBatchSize {
		end := start + cloudwatchMaxBatchSize
		if end > len(data) {
			end = len(data)
		}

		batch := make([]types.MetricDatum, 0, end-start)
		for _, d := range data[start:end] {
			batch = append(batch, types.MetricDatum{
				MetricName: aws.String(d.Name),
				Value:      aws.Float64(d.Value),
				Unit:       types.StandardUnit(d.Unit),
				Timestamp:  aws.Time(now),
			})
		}

		_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(s.namespace),
			MetricData: batch,
		})
		if err != nil {
			return fmt.Errorf("failed to publish metric batch: %w", err)
		}
	}

	s.logger.Debug("Published metrics", zap.Int("count", len(data)))
	return nil
}
