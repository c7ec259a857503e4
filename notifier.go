package pipeline

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// Notifier publishes fire-and-forget notifications to downstream
// subscribers. Both the publisher's fan-out leg and the monitoring loop's
// alerts go through this interface.
type Notifier interface {
	Publish(ctx context.Context, subject, message string) error
}

// SNSNotifier publishes to a single SNS topic.
type SNSNotifier struct {
	client   SNSAPI
	topicARN string
	logger   *zap.Logger
}

// NewSNSNotifier creates a notifier bound to the given topic ARN.
func NewSNSNotifier(client SNSAPI, topicARN string, logger *zap.Logger) *SNSNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SNSNotifier{
		client:   client,
		topicARN: topicARN,
		logger:   logger,
	}
}

// Publish sends one notification. Callers on best-effort paths log the error
// and move on; nothing downstream of SNS is durability-critical.
func (n *SNSNotifier) Publish(ctx context.Context, subject, message string) error {
	_, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return err
	}
	n.logger.Debug("Published notification", zap.String("subject", subject))
	return nil
}
